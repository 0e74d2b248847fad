package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ResultStatus indicates the outcome of a handler or of a folded block.
type ResultStatus uint8

const (
	// StatusOK indicates successful execution.
	StatusOK ResultStatus = iota
	// StatusNoOp indicates nothing was done.
	StatusNoOp
	// StatusError indicates an error occurred.
	StatusError
	// StatusAsync indicates the result settles later.
	StatusAsync
	// StatusCancelled indicates the wait was cancelled before settlement.
	StatusCancelled
)

// String returns a string representation of the status.
func (s ResultStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNoOp:
		return "no-op"
	case StatusError:
		return "error"
	case StatusAsync:
		return "async"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is a pending result: either settled (ok, no-op, error) or deferred
// (async) until the computation behind it finishes. The zero value is a
// settled success with no value.
type Result struct {
	// Status indicates the result status.
	Status ResultStatus

	// Value is the settled value, if any.
	Value any

	// Code is replacement source text returned in rewrite mode.
	Code string

	// Error contains any error that occurred.
	Error error

	// Message is an optional status message for display.
	Message string

	future *future
}

type future struct {
	done chan struct{}
	once sync.Once
	res  Result
}

func (f *future) settle(r Result) {
	f.once.Do(func() {
		f.res = r
		close(f.done)
	})
}

// IsOK returns true if the result settled successfully.
func (r Result) IsOK() bool {
	return r.Status == StatusOK || r.Status == StatusNoOp
}

// IsError returns true if the result settled with an error.
func (r Result) IsError() bool {
	return r.Status == StatusError || r.Status == StatusCancelled
}

// IsAsync returns true if the result has not necessarily settled yet.
func (r Result) IsAsync() bool {
	return r.Status == StatusAsync && r.future != nil
}

// Success creates a successful result.
func Success() Result {
	return Result{Status: StatusOK}
}

// SuccessWithValue creates a successful result carrying v.
func SuccessWithValue(v any) Result {
	return Result{Status: StatusOK, Value: v}
}

// SuccessWithMessage creates a successful result with a message.
func SuccessWithMessage(msg string) Result {
	return Result{Status: StatusOK, Message: msg}
}

// Code creates a successful rewrite-mode result carrying replacement text.
func Code(fragment string) Result {
	return Result{Status: StatusOK, Code: fragment, Value: fragment}
}

// NoOp creates an empty result.
func NoOp() Result {
	return Result{Status: StatusNoOp}
}

// Error creates an error result.
func Error(err error) Result {
	if err == nil {
		err = errors.New("handler: unknown error")
	}
	return Result{Status: StatusError, Error: err}
}

// Errorf creates an error result with a formatted message.
func Errorf(format string, args ...any) Result {
	return Error(fmt.Errorf(format, args...))
}

// Defer runs fn on its own goroutine and returns a deferred result that
// settles with fn's result. A deferred result returned by fn is flattened.
func Defer(fn func() Result) Result {
	f := &future{done: make(chan struct{})}
	go func() {
		var res Result
		defer func() {
			if p := recover(); p != nil {
				res = Errorf("handler: deferred computation panicked: %v", p)
			}
			f.settle(res)
		}()
		res = fn().Settle()
	}()
	return Result{Status: StatusAsync, future: f}
}

// Await returns a deferred result that settles when ch delivers: a nil
// error resolves, anything else (or a closed channel) rejects.
func Await(ch <-chan error) Result {
	return Defer(func() Result {
		err, ok := <-ch
		if !ok {
			return Success()
		}
		if err != nil {
			return Error(err)
		}
		return Success()
	})
}

// Settle blocks until r has settled and returns the settled result.
func (r Result) Settle() Result {
	for r.IsAsync() {
		<-r.future.done
		r = r.future.res
	}
	return r
}

// Done returns a channel closed once r has settled. Settled results return
// an already-closed channel.
func (r Result) Done() <-chan struct{} {
	if r.IsAsync() {
		return r.future.done
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Then folds next onto r. A settled success runs next immediately; a
// settled error propagates without running next; a deferred result yields
// a new deferred result that runs next only after r settles successfully.
func (r Result) Then(next func(Result) Result) Result {
	if r.IsAsync() {
		return Defer(func() Result {
			settled := r.Settle()
			if settled.IsError() {
				return settled
			}
			return next(settled)
		})
	}
	if r.IsError() {
		return r
	}
	return next(r)
}

// MapError rewrites the error of r, once settled, with fn.
func (r Result) MapError(fn func(error) error) Result {
	if r.IsAsync() {
		return Defer(func() Result {
			return r.Settle().MapError(fn)
		})
	}
	if r.IsError() && r.Error != nil {
		r.Error = fn(r.Error)
	}
	return r
}

// Wait blocks until r settles or ctx is done and returns the final value
// and error.
func (r Result) Wait(ctx context.Context) (any, error) {
	for r.IsAsync() {
		select {
		case <-r.future.done:
			r = r.future.res
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.IsError() {
		return r.Value, r.Error
	}
	return r.Value, nil
}

// WithMessage returns the result with a message set.
func (r Result) WithMessage(msg string) Result {
	r.Message = msg
	return r
}

// WithValue returns the result with a value set.
func (r Result) WithValue(v any) Result {
	r.Value = v
	return r
}
