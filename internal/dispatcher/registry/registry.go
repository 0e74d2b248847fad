// Package registry holds the command table consulted by the dispatcher.
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/dshills/magicline/internal/dispatcher/execctx"
	"github.com/dshills/magicline/internal/dispatcher/handler"
	"github.com/dshills/magicline/internal/logging"
)

var validName = regexp.MustCompile(`^\W`)

// Descriptor is one registered command.
type Descriptor struct {
	// Name identifies the command, e.g. "%echo" or "!".
	Name string

	// Matcher decides whether a raw line invokes the command.
	Matcher *regexp.Regexp

	// Handler is either handler.Direct or handler.Named.
	Handler handler.Handler

	// Help is a display string. Defaults to Name.
	Help string

	// Source records where the command came from.
	Source string
}

// Matches reports whether line invokes the command.
func (d *Descriptor) Matches(line string) bool {
	return d.Matcher != nil && d.Matcher.MatchString(line)
}

// DefaultMatcher returns the matcher used when none is supplied: the line
// starts with name, followed by a word boundary.
func DefaultMatcher(name string) *regexp.Regexp {
	pattern := "^" + regexp.QuoteMeta(name)
	if last := name[len(name)-1]; isWordByte(last) {
		pattern += `\b`
	} else {
		// \b after a non-word byte would demand a word byte next
		pattern += `(\s|$)`
	}
	return regexp.MustCompile(pattern)
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

// Option configures a Registry.
type Option func(*Registry)

// WithWorkingDir sets the directory relative module paths resolve against.
func WithWorkingDir(dir string) Option {
	return func(r *Registry) {
		r.workingDir = dir
	}
}

// WithLogger sets the registry logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l.WithComponent("registry")
		}
	}
}

// WithResolver registers a module resolver for a file extension such as ".lua".
func WithResolver(ext string, res ModuleResolver) Option {
	return func(r *Registry) {
		r.resolvers[strings.ToLower(ext)] = res
	}
}

// Registry is an insertion-ordered command table safe for concurrent use.
// Re-registering a name replaces its descriptor in place.
type Registry struct {
	mu         sync.RWMutex
	order      []string
	byName     map[string]*Descriptor
	resolvers  map[string]ModuleResolver
	workingDir string
	logger     *logging.Logger
}

// New creates an empty registry with the declarative module resolvers
// installed.
func New(opts ...Option) *Registry {
	r := &Registry{
		byName:    make(map[string]*Descriptor),
		resolvers: make(map[string]ModuleResolver),
		logger:    logging.Null(),
	}
	for ext, res := range DefaultResolvers() {
		r.resolvers[ext] = res
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates d and stores it, overwriting any descriptor with the
// same name.
func (r *Registry) Register(d Descriptor) error {
	if !validName.MatchString(d.Name) {
		return &ValidationError{Name: d.Name, Err: ErrInvalidName}
	}
	if err := handler.Validate(d.Handler); err != nil {
		return &ValidationError{Name: d.Name, Err: err}
	}
	d.Handler = handler.Normalize(d.Handler)
	if d.Matcher == nil {
		d.Matcher = DefaultMatcher(d.Name)
	}
	if d.Help == "" {
		d.Help = d.Name
	}

	r.mu.Lock()
	if _, exists := r.byName[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.byName[d.Name] = &d
	r.mu.Unlock()

	r.logger.Info("%s", Confirmation(d.Name, d.Handler.Describe()))
	return nil
}

// Confirmation returns the message announcing a registration.
func Confirmation(name, target string) string {
	return fmt.Sprintf("[ added command: '%s' which will call function '%s' ]", name, target)
}

// RegisterNamed registers name as a command that calls the host function
// target with the line's tokens.
func (r *Registry) RegisterNamed(name, target string) error {
	return r.Register(Descriptor{
		Name:    name,
		Handler: handler.NewNamed(target),
		Source:  "addcmd",
	})
}

// RegisterFunc registers a direct handler with an optional matcher pattern.
func (r *Registry) RegisterFunc(name, pattern, help string, fn handler.Func) error {
	d := Descriptor{
		Name:    name,
		Handler: handler.NewDirect(name, fn),
		Help:    help,
		Source:  "builtin",
	}
	if pattern != "" {
		m, err := regexp.Compile(pattern)
		if err != nil {
			return &ValidationError{Name: name, Err: fmt.Errorf("%w: %v", ErrInvalidMatcher, err)}
		}
		d.Matcher = m
	}
	return r.Register(d)
}

// Unregister removes a command. It reports whether the name was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byName[name]; !ok {
		return false
	}
	delete(r.byName, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Lookup returns every descriptor whose matcher accepts line, in
// registration order.
func (r *Registry) Lookup(line string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Descriptor
	for _, name := range r.order {
		d := r.byName[name]
		if d.Matches(line) {
			matches = append(matches, *d)
		}
	}
	return matches
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byName[name]
	if !ok {
		return Descriptor{}, false
	}
	return *d, true
}

// Has returns true if name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byName[name]
	return ok
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Descriptors returns copies of all descriptors in registration order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.byName[name])
	}
	return out
}

// Describe implements execctx.RegistryInterface.
func (r *Registry) Describe() []execctx.CommandInfo {
	descs := r.Descriptors()
	out := make([]execctx.CommandInfo, len(descs))
	for i, d := range descs {
		out[i] = execctx.CommandInfo{Name: d.Name, Help: d.Help, Source: d.Source}
	}
	return out
}

// Count returns the number of registered commands.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Clear removes all commands.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = nil
	r.byName = make(map[string]*Descriptor)
}

// WorkingDir returns the directory relative module paths resolve against.
func (r *Registry) WorkingDir() string {
	return r.workingDir
}

// Load implements execctx.RegistryInterface.
func (r *Registry) Load(ctx context.Context, path string) (int, error) {
	return r.BulkLoad(ctx, path)
}

// BulkLoad resolves the module at path and registers each instruction it
// exports, returning the number applied. Every instruction must have
// command "add"; the kinds are checked before anything is registered.
func (r *Registry) BulkLoad(ctx context.Context, path string) (int, error) {
	full := r.resolvePath(path)

	res, ok := r.resolverFor(full)
	if !ok {
		return 0, &LoadError{Path: full, Err: ErrNoResolver}
	}

	insts, err := res.Resolve(ctx, full)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			return 0, err
		}
		return 0, &LoadError{Path: full, Err: err}
	}

	for i, inst := range insts {
		if inst.Command != CommandAdd {
			return 0, &LoadError{
				Path:   full,
				Reason: fmt.Sprintf("instruction %d has command %q", i, inst.Command),
				Err:    ErrUnknownInstruction,
			}
		}
	}

	applied := 0
	for i, inst := range insts {
		d, err := inst.Descriptor(full)
		if err == nil {
			err = r.Register(d)
		}
		if err != nil {
			return applied, &LoadError{Path: full, Reason: fmt.Sprintf("instruction %d", i), Err: err}
		}
		applied++
	}

	r.logger.Debug("loaded %d instructions from %s", applied, full)
	return applied, nil
}

func (r *Registry) resolvePath(path string) string {
	if filepath.IsAbs(path) || r.workingDir == "" {
		return path
	}
	return filepath.Join(r.workingDir, path)
}

func (r *Registry) resolverFor(path string) (ModuleResolver, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resolvers[strings.ToLower(filepath.Ext(path))]
	return res, ok
}

// SetResolver installs or replaces the resolver for ext.
func (r *Registry) SetResolver(ext string, res ModuleResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[strings.ToLower(ext)] = res
}
