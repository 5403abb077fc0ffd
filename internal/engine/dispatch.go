package engine

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Dispatcher validates and executes tool calls against a ToolRegistry.
type Dispatcher struct {
	tools   *ToolRegistry
	timeout time.Duration
}

func NewDispatcher(tools *ToolRegistry, timeout time.Duration) *Dispatcher {
	return &Dispatcher{tools: tools, timeout: timeout}
}

// ToolExecution is the outcome of one dispatched call. Failures are carried
// in Err rather than returned so they can be logged and shown to the model.
type ToolExecution struct {
	Output   ToolOutput
	Summary  string
	Success  bool
	Err      error
	Duration time.Duration
}

// Execute runs call and returns its output. Unknown tools and invalid
// arguments yield *ToolValidationError; failures while running yield
// *ToolExecutionError or *ToolTimeoutError.
//
// A started tool is detached from ctx cancellation and bounded only by the
// dispatcher timeout, so its result can always be recorded.
func (d *Dispatcher) Execute(ctx context.Context, call ToolCall, tc ToolContext) (ToolOutput, error) {
	tool, ok := d.tools.Get(call.Name)
	if !ok {
		return nil, &ToolValidationError{ToolName: call.Name, Unknown: true}
	}
	if err := tool.ValidateArgs(call.Args); err != nil {
		return nil, err
	}

	runCtx := context.WithoutCancel(ctx)
	if d.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, d.timeout)
		defer cancel()
	}

	type outcome struct {
		out ToolOutput
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := tool.Fn(runCtx, tc, normalizeArgs(call.Args))
		done <- outcome{out: out, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) && runCtx.Err() != nil {
				return nil, &ToolTimeoutError{ToolName: call.Name, Timeout: d.timeout}
			}
			return nil, &ToolExecutionError{ToolName: call.Name, Err: o.err}
		}
		if o.out == nil {
			return nil, &ToolExecutionError{ToolName: call.Name, Err: errors.New("tool returned no result")}
		}
		return o.out, nil
	case <-runCtx.Done():
		return nil, &ToolTimeoutError{ToolName: call.Name, Timeout: d.timeout}
	}
}

// Dispatch executes call and folds every failure into the returned
// ToolExecution.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall, tc ToolContext) ToolExecution {
	start := time.Now()
	out, err := d.Execute(ctx, call, tc)
	exec := ToolExecution{Output: out, Err: err, Duration: time.Since(start)}
	if err != nil {
		exec.Summary = "Error: " + err.Error()
		return exec
	}

	tool, _ := d.tools.Get(call.Name)
	exec.Success = true
	exec.Summary = tool.FormatResult(out)
	return exec
}
