package dispatcher

import (
	"context"
	"strings"
	"time"

	"github.com/dshills/magicline/internal/dispatcher/execctx"
	"github.com/dshills/magicline/internal/dispatcher/handler"
	"github.com/dshills/magicline/internal/dispatcher/registry"
	"github.com/dshills/magicline/internal/scanner"
	"github.com/dshills/magicline/internal/subst"
)

// Execute interprets src in execute mode and returns the block's pending
// result. Code lines are buffered until the next magic line or the end of
// the block and then handed to the executor; magic lines invoke every
// matching handler in registration order. Whenever the pending result is
// deferred, the rest of the scan is chained onto it, so side effects happen
// in source order and later lookups see commands registered by earlier lines.
func (d *Dispatcher) Execute(ctx context.Context, src string) handler.Result {
	s := &sequencer{
		d:     d,
		ctx:   ctx,
		ectx:  d.buildContext(ctx, execctx.ModeExecute),
		lines: scanner.Lines(src),
	}
	return s.step(0, handler.NoOp())
}

// sequencer carries the scan state of one execute-mode block. Only one
// goroutine touches it at a time: continuations run strictly after the
// deferred result they were chained onto has settled.
type sequencer struct {
	d     *Dispatcher
	ctx   context.Context
	ectx  *execctx.ExecutionContext
	lines []string

	code      []string
	codeStart int
}

// step resumes scanning at line i once pending has settled.
func (s *sequencer) step(i int, pending handler.Result) handler.Result {
	if pending.IsAsync() {
		return pending.Then(func(r handler.Result) handler.Result {
			return s.step(i, r)
		})
	}
	if pending.IsError() {
		return pending
	}

	for ; i < len(s.lines); i++ {
		if err := s.ctx.Err(); err != nil {
			return handler.Error(err)
		}

		line := s.lines[i]
		matches := s.d.registry.Lookup(line)
		if len(matches) == 0 {
			if err := checkUnknown(scanner.Command(scanner.Tokenize(line)), i+1); err != nil {
				return handler.Error(err)
			}
			s.buffer(i, line)
			continue
		}

		pending = s.flush(pending)
		if pending.IsError() {
			return pending
		}
		return s.apply(i, matches, pending)
	}

	return s.flush(pending)
}

// apply invokes the remaining matches for line i in order, then resumes the
// scan at the next line.
func (s *sequencer) apply(i int, matches []registry.Descriptor, pending handler.Result) handler.Result {
	if pending.IsAsync() {
		return pending.Then(func(r handler.Result) handler.Result {
			return s.apply(i, matches, r)
		})
	}
	if pending.IsError() {
		return pending
	}
	if len(matches) == 0 {
		return s.step(i+1, pending)
	}
	return s.apply(i, matches[1:], s.invoke(i, matches[0]))
}

func (s *sequencer) buffer(i int, line string) {
	if len(s.code) == 0 {
		s.codeStart = i + 1
	}
	s.code = append(s.code, line)
}

// flush hands buffered code to the executor. pending must be settled.
func (s *sequencer) flush(pending handler.Result) handler.Result {
	if len(s.code) == 0 {
		return pending
	}
	code := strings.Join(s.code, "\n")
	start := s.codeStart
	s.code = s.code[:0]

	// blank-only runs have nothing to execute
	if strings.TrimSpace(code) == "" {
		return pending
	}

	executor, _, _ := s.d.collaborators()
	if executor == nil {
		return handler.Error(&CodeError{Line: start, Err: ErrNoExecutor})
	}

	began := time.Now()
	r := s.d.executeWithRecovery(codeMetricName, func() handler.Result {
		v, err := executor.Execute(s.ctx, code)
		if err != nil {
			return handler.Error(err)
		}
		return handler.SuccessWithValue(v)
	})
	r = r.MapError(func(err error) error { return &CodeError{Line: start, Err: err} })
	return s.d.observe(codeMetricName, began, r)
}

// invoke calls one descriptor's handler for line i.
func (s *sequencer) invoke(i int, desc registry.Descriptor) handler.Result {
	line := s.lines[i]
	ectx := s.ectx.WithLine(line, i+1)
	tokens := scanner.Tokenize(line)
	began := time.Now()

	_, evaluator, codegen := s.d.collaborators()
	args, err := subst.SubstituteAll(s.ctx, tokens, evaluator)

	var r handler.Result
	switch {
	case err != nil:
		r = handler.Error(err)
	default:
		r = s.d.executeWithRecovery(desc.Name, func() handler.Result {
			return s.call(ectx, desc, args, codegen)
		})
	}

	s.d.logger.Debug("line %d: %s -> %s", i+1, desc.Name, r.Status)

	r = r.MapError(func(err error) error {
		return &HandlerError{Command: desc.Name, Line: i + 1, Source: line, Err: err}
	})
	return s.d.observe(desc.Name, began, r)
}

func (s *sequencer) call(ectx *execctx.ExecutionContext, desc registry.Descriptor, args []string, codegen execctx.CodegenInterface) handler.Result {
	switch h := desc.Handler.(type) {
	case handler.Direct:
		return h.Invoke(args, ectx)
	case handler.Named:
		if codegen == nil {
			return handler.Error(ErrNoCodegen)
		}
		quoted := make([]string, len(args))
		for j, a := range args {
			quoted[j] = codegen.Quote(a)
		}
		if ectx.Executor == nil {
			return handler.Error(ErrNoExecutor)
		}
		v, err := ectx.Executor.Execute(s.ctx, h.CallExpr(codegen, quoted))
		if err != nil {
			return handler.Error(err)
		}
		return handler.SuccessWithValue(v)
	default:
		return handler.Errorf("%w: %T", ErrUnsupportedHandler, desc.Handler)
	}
}
