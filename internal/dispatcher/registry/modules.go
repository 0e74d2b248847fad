package registry

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/pelletier/go-toml/v2"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/dshills/magicline/internal/dispatcher/handler"
)

// CommandAdd is the only instruction kind a module may export.
const CommandAdd = "add"

// Instruction is one record exported by a command module.
type Instruction struct {
	// Command is the instruction kind; must be "add".
	Command string

	// Name is the command name to register.
	Name string

	// Target names a host function (Named handler).
	Target string

	// Matcher is an optional regular expression overriding the default.
	Matcher string

	// Help is an optional display string.
	Help string

	// Handler, when set, takes precedence over Target. Only code-backed
	// modules can supply it.
	Handler handler.Handler
}

// Descriptor converts the instruction to a descriptor tagged with source.
func (inst Instruction) Descriptor(source string) (Descriptor, error) {
	d := Descriptor{
		Name:    inst.Name,
		Handler: inst.Handler,
		Help:    inst.Help,
		Source:  source,
	}
	if d.Handler == nil && inst.Target != "" {
		d.Handler = handler.NewNamed(inst.Target)
	}
	if inst.Matcher != "" {
		m, err := regexp.Compile(inst.Matcher)
		if err != nil {
			return Descriptor{}, &ValidationError{Name: inst.Name, Err: fmt.Errorf("%w: %v", ErrInvalidMatcher, err)}
		}
		d.Matcher = m
	}
	return d, nil
}

// ModuleResolver loads the instruction sequence exported by a module.
type ModuleResolver interface {
	Resolve(ctx context.Context, path string) ([]Instruction, error)
}

// ResolverFunc adapts a function to the ModuleResolver interface.
type ResolverFunc func(ctx context.Context, path string) ([]Instruction, error)

// Resolve implements ModuleResolver.
func (f ResolverFunc) Resolve(ctx context.Context, path string) ([]Instruction, error) {
	return f(ctx, path)
}

// Decoder parses module file contents into instructions.
type Decoder func(data []byte) ([]Instruction, error)

// FileResolver reads a module from disk and decodes it.
type FileResolver struct {
	Decode Decoder
}

// Resolve implements ModuleResolver.
func (f FileResolver) Resolve(ctx context.Context, path string) ([]Instruction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Reason: "cannot resolve module", Err: err}
	}
	insts, err := f.Decode(data)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return insts, nil
}

// DefaultResolvers returns the declarative resolvers keyed by extension.
func DefaultResolvers() map[string]ModuleResolver {
	yamlRes := FileResolver{Decode: DecodeYAML}
	return map[string]ModuleResolver{
		".toml": FileResolver{Decode: DecodeTOML},
		".yaml": yamlRes,
		".yml":  yamlRes,
		".json": FileResolver{Decode: DecodeJSON},
	}
}

// instructionRecord is the on-disk shape shared by the TOML and YAML formats.
type instructionRecord struct {
	Command string `toml:"command" yaml:"command"`
	Name    string `toml:"name" yaml:"name"`
	Target  string `toml:"target" yaml:"target"`
	Matcher string `toml:"matcher" yaml:"matcher"`
	Help    string `toml:"help" yaml:"help"`
}

func (rec instructionRecord) instruction() Instruction {
	return Instruction{
		Command: rec.Command,
		Name:    rec.Name,
		Target:  rec.Target,
		Matcher: rec.Matcher,
		Help:    rec.Help,
	}
}

// DecodeTOML parses an [[instruction]] array of tables:
//
//	[[instruction]]
//	command = "add"
//	name = "%hi"
//	target = "greet"
func DecodeTOML(data []byte) ([]Instruction, error) {
	var doc struct {
		Instruction *[]instructionRecord `toml:"instruction"`
	}
	if err := toml.Unmarshal(data, &doc); err != nil {
		var derr *toml.DecodeError
		if errors.As(err, &derr) {
			row, col := derr.Position()
			return nil, fmt.Errorf("toml line %d column %d: %w", row, col, err)
		}
		return nil, fmt.Errorf("toml: %w", err)
	}
	if doc.Instruction == nil {
		return nil, ErrNotSequence
	}
	out := make([]Instruction, len(*doc.Instruction))
	for i, rec := range *doc.Instruction {
		out[i] = rec.instruction()
	}
	return out, nil
}

// DecodeYAML parses a top-level YAML sequence of instruction mappings.
func DecodeYAML(data []byte) ([]Instruction, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("yaml: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.SequenceNode {
		return nil, ErrNotSequence
	}
	var recs []instructionRecord
	if err := doc.Content[0].Decode(&recs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotSequence, err)
	}
	out := make([]Instruction, len(recs))
	for i, rec := range recs {
		out[i] = rec.instruction()
	}
	return out, nil
}

// DecodeJSON parses a top-level JSON array of instruction objects.
func DecodeJSON(data []byte) ([]Instruction, error) {
	data = bytes.TrimSpace(data)
	if !gjson.ValidBytes(data) {
		return nil, errors.New("json: invalid document")
	}
	root := gjson.ParseBytes(data)
	if !root.IsArray() {
		return nil, ErrNotSequence
	}

	var out []Instruction
	var bad error
	index := 0
	root.ForEach(func(_, value gjson.Result) bool {
		if !value.IsObject() {
			bad = fmt.Errorf("%w: element %d is not an object", ErrNotSequence, index)
			return false
		}
		index++
		out = append(out, Instruction{
			Command: value.Get("command").String(),
			Name:    value.Get("name").String(),
			Target:  value.Get("target").String(),
			Matcher: value.Get("matcher").String(),
			Help:    value.Get("help").String(),
		})
		return true
	})
	if bad != nil {
		return nil, bad
	}
	return out, nil
}
