package scenario

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"github.com/liuxd6825/autowait/errext/exitcodes"
	"github.com/liuxd6825/autowait/log"
)

// Evaluator runs eval predicates on a goja runtime. Step results are
// exposed as `result`, results saved with `as` under their name.
type Evaluator struct {
	mu      sync.Mutex
	runtime *goja.Runtime
	logger  *log.Logger
}

// NewEvaluator returns an Evaluator with console.log wired to the logger.
func NewEvaluator(logger *log.Logger) *Evaluator {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	e := &Evaluator{runtime: goja.New(), logger: logger}
	e.runtime.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	e.setupConsole()
	return e
}

func (e *Evaluator) setupConsole() {
	logf := func(level string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			args := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				args[i] = arg.String()
			}
			msg := strings.Join(args, " ")
			switch level {
			case "error":
				e.logger.Errorf("Scenario:console", "%s", msg)
			case "warn":
				e.logger.Warnf("Scenario:console", "%s", msg)
			default:
				e.logger.Infof("Scenario:console", "%s", msg)
			}
			return goja.Undefined()
		}
	}
	console := e.runtime.NewObject()
	_ = console.Set("log", logf("log"))
	_ = console.Set("warn", logf("warn"))
	_ = console.Set("error", logf("error"))
	_ = e.runtime.Set("console", console)
}

// Set binds a value to a global name.
func (e *Evaluator) Set(name string, value any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.runtime.Set(name, value); err != nil {
		return fmt.Errorf("setting %q: %w", name, err)
	}
	return nil
}

// Check evaluates expr with result bound and reports whether the value is
// truthy.
func (e *Evaluator) Check(expr string, result any) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.runtime.Set("result", result); err != nil {
		return false, fmt.Errorf("binding result: %w", err)
	}
	v, err := e.runtime.RunString(expr)
	if err != nil {
		return false, &EvalError{Expr: expr, Err: err}
	}
	return v.ToBoolean(), nil
}

// EvalError is a JavaScript exception thrown by an eval predicate.
type EvalError struct {
	Expr string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluating %q: %v", e.Expr, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// ExitCode implements errext.HasExitCode.
func (e *EvalError) ExitCode() exitcodes.ExitCode { return exitcodes.ScriptException }
