package dispatcher

import (
	"context"
	"strings"
	"time"

	"github.com/dshills/magicline/internal/dispatcher/execctx"
	"github.com/dshills/magicline/internal/dispatcher/handler"
	"github.com/dshills/magicline/internal/dispatcher/registry"
	"github.com/dshills/magicline/internal/scanner"
)

// Rewrite interprets src in rewrite mode: each magic line is replaced by the
// code fragment its handler returns and code lines pass through untouched.
// The output has the same number of lines as src. When several commands
// match a line they all run in registration order and the last fragment
// wins. Nothing is executed apart from handler side effects such as
// registrations.
func (d *Dispatcher) Rewrite(ctx context.Context, src string) (string, error) {
	_, _, codegen := d.collaborators()
	if codegen == nil {
		return "", ErrNoCodegen
	}

	ectx := d.buildContext(ctx, execctx.ModeRewrite)
	lines := scanner.Lines(src)
	out := make([]string, len(lines))

	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		matches := d.registry.Lookup(line)
		if len(matches) == 0 {
			if err := checkUnknown(scanner.Command(scanner.Tokenize(line)), i+1); err != nil {
				return "", err
			}
			out[i] = line
			continue
		}

		replacement := line
		for _, desc := range matches {
			fragment, err := d.rewriteLine(ctx, ectx.WithLine(line, i+1), desc)
			if err != nil {
				return "", &HandlerError{Command: desc.Name, Line: i + 1, Source: line, Err: err}
			}
			replacement = fragment
		}
		out[i] = singleLine(replacement)
	}

	return strings.Join(out, "\n"), nil
}

// rewriteLine produces the replacement fragment for one descriptor,
// awaiting deferred handler results.
func (d *Dispatcher) rewriteLine(ctx context.Context, ectx *execctx.ExecutionContext, desc registry.Descriptor) (string, error) {
	tokens := scanner.Tokenize(ectx.Line)
	began := time.Now()

	var r handler.Result
	switch h := desc.Handler.(type) {
	case handler.Direct:
		r = d.executeWithRecovery(desc.Name, func() handler.Result {
			return h.Invoke(tokens, ectx)
		})
	case handler.Named:
		r = handler.Code(h.CallExpr(ectx.Codegen, ectx.Exprs(tokens)))
	default:
		r = handler.Errorf("%w: %T", ErrUnsupportedHandler, desc.Handler)
	}
	r = d.observe(desc.Name, began, r)

	select {
	case <-r.Done():
	case <-ctx.Done():
		return "", ctx.Err()
	}
	r = r.Settle()
	if r.IsError() {
		return "", r.Error
	}
	return fragmentOf(r), nil
}

func fragmentOf(r handler.Result) string {
	if r.Code != "" {
		return r.Code
	}
	if s, ok := r.Value.(string); ok {
		return s
	}
	return ""
}

// singleLine folds a multi-line fragment onto one line so the output keeps
// the input's line numbering.
func singleLine(fragment string) string {
	if !strings.Contains(fragment, "\n") {
		return fragment
	}
	parts := strings.Split(fragment, "\n")
	kept := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "; ")
}
