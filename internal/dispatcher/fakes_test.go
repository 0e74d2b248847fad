package dispatcher_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	"github.com/dshills/magicline/internal/dispatcher"
	"github.com/dshills/magicline/internal/dispatcher/registry"
)

// recorder collects observable side effects in order.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// fakeExecutor records code it is asked to run and fails on any "error(" call.
type fakeExecutor struct {
	rec *recorder
}

func (e *fakeExecutor) Execute(_ context.Context, code string) (any, error) {
	e.rec.add("exec:" + code)
	if strings.Contains(code, "error(") {
		return nil, errors.New("runtime error")
	}
	return code, nil
}

// fakeEvaluator sums integer expressions and looks up names in vars.
type fakeEvaluator struct {
	vars map[string]string
}

func (e fakeEvaluator) Evaluate(_ context.Context, expr string) (string, error) {
	if v, ok := e.vars[expr]; ok {
		return v, nil
	}
	sum := 0
	for _, p := range strings.Split(expr, "+") {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return "", errors.New("undefined: " + expr)
		}
		sum += n
	}
	return strconv.Itoa(sum), nil
}

type fakeGen struct{}

func (fakeGen) Quote(s string) string                 { return strconv.Quote(s) }
func (fakeGen) Stringify(expr string) string          { return "tostring(" + expr + ")" }
func (fakeGen) Concat(exprs ...string) string         { return strings.Join(exprs, " .. ") }
func (fakeGen) Call(fn string, args ...string) string { return fn + "(" + strings.Join(args, ", ") + ")" }
func (fakeGen) Print(exprs ...string) string          { return "print(" + strings.Join(exprs, " .. \" \" .. ") + ")" }
func (fakeGen) ErrorPrint(msg string) string          { return "magic.error(" + strconv.Quote(msg) + ")" }

func newTestDispatcher(cfg dispatcher.Config) (*dispatcher.Dispatcher, *recorder) {
	rec := &recorder{}
	d := dispatcher.New(cfg, registry.New())
	d.SetExecutor(&fakeExecutor{rec: rec})
	d.SetEvaluator(fakeEvaluator{vars: map[string]string{}})
	d.SetCodegen(fakeGen{})
	return d, rec
}
