// Package sandbox runs untrusted JavaScript snippets in a fresh, time- and
// memory-bounded runtime and returns whatever they printed.
//
// Every call gets its own goja runtime with no host bindings beyond a
// console object and print. There is no require, no timers, no filesystem
// or network access, and nothing survives between calls. Faults never
// escape Run: they are folded into an "Error: <message>" output string.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"runtime/metrics"
	"strings"
	"time"

	"github.com/dop251/goja"
)

const (
	// DefaultTimeout bounds a single run when Options.Timeout is zero.
	DefaultTimeout = time.Second
	// DefaultMaxOutput caps captured output when Options.MaxOutput is zero.
	DefaultMaxOutput = 64 << 10
	// DefaultMaxMemory bounds heap growth during a run when
	// Options.MaxMemory is zero.
	DefaultMaxMemory = 64 << 20

	maxCallStackSize   = 4096
	memoryPollInterval = 2 * time.Millisecond
	heapMetric         = "/memory/classes/heap/objects:bytes"
)

var (
	errOutputLimit = errors.New("output limit exceeded")
	errMemoryLimit = errors.New("memory limit exceeded")
)

// Runner executes a code snippet and returns its captured output.
// Implementations must be safe for concurrent use.
type Runner interface {
	Run(ctx context.Context, code string) string
}

// Options configures a JSRunner.
type Options struct {
	Timeout   time.Duration
	MaxOutput int
	MaxMemory int
}

// JSRunner runs snippets on goja.
type JSRunner struct {
	timeout   time.Duration
	maxOutput int
	maxMemory uint64
}

// Compile-time check that JSRunner implements Runner.
var _ Runner = (*JSRunner)(nil)

// NewJSRunner returns a JSRunner, filling zero options with defaults.
func NewJSRunner(opts Options) *JSRunner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxOutput <= 0 {
		opts.MaxOutput = DefaultMaxOutput
	}
	if opts.MaxMemory <= 0 {
		opts.MaxMemory = DefaultMaxMemory
	}
	return &JSRunner{timeout: opts.Timeout, maxOutput: opts.MaxOutput, maxMemory: uint64(opts.MaxMemory)}
}

// Timeout reports the wall-clock bound applied to each run.
func (r *JSRunner) Timeout() time.Duration { return r.timeout }

// Run executes code in a new runtime. The run is interrupted when the
// timeout elapses, when ctx is cancelled, when output exceeds the cap, or
// when the heap grows past the memory bound.
func (r *JSRunner) Run(ctx context.Context, code string) (out string) {
	defer func() {
		if p := recover(); p != nil {
			out = fmt.Sprintf("Error: %v", p)
		}
	}()

	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)
	capture := &output{max: r.maxOutput}
	capture.onOverflow = func() { vm.Interrupt(errOutputLimit) }
	if err := install(vm, capture); err != nil {
		return "Error: " + err.Error()
	}

	timer := time.AfterFunc(r.timeout, func() {
		vm.Interrupt(fmt.Errorf("execution timed out after %s", r.timeout))
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
	defer stop()
	defer guardMemory(vm, r.maxMemory)()

	_, err := vm.RunString(code)
	if capture.overflowed {
		return "Error: " + errOutputLimit.Error()
	}
	if err != nil {
		return "Error: " + faultMessage(err)
	}
	return capture.String()
}

// install binds console.{log,info,warn,error,debug} and print to capture.
func install(vm *goja.Runtime, capture *output) error {
	emit := func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = formatValue(arg)
		}
		capture.write(strings.Join(parts, " "))
		return goja.Undefined()
	}

	console := vm.NewObject()
	for _, name := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(name, emit); err != nil {
			return fmt.Errorf("bind console.%s: %w", name, err)
		}
	}
	if err := vm.Set("console", console); err != nil {
		return fmt.Errorf("bind console: %w", err)
	}
	if err := vm.Set("print", emit); err != nil {
		return fmt.Errorf("bind print: %w", err)
	}
	return nil
}

// formatValue renders plain objects and arrays as JSON and everything else
// with JavaScript string conversion.
func formatValue(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(v); !isFn && obj.ClassName() != "Error" {
			if b, err := json.Marshal(obj); err == nil {
				return string(b)
			}
		}
	}
	return v.String()
}

// guardMemory interrupts vm once the heap has grown more than limit bytes
// past its size at the call. Growth is process-wide, so a crossing is
// confirmed after a collection before the run is stopped. The returned
// func stops the watchdog.
func guardMemory(vm *goja.Runtime, limit uint64) (stop func()) {
	base := heapObjects()
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(memoryPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
			}
			if heapObjects() <= base+limit {
				continue
			}
			runtime.GC()
			if heapObjects() > base+limit {
				vm.Interrupt(errMemoryLimit)
				return
			}
		}
	}()
	return func() { close(done) }
}

// heapObjects reports bytes held by heap objects, live or not yet swept.
func heapObjects() uint64 {
	sample := []metrics.Sample{{Name: heapMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

// faultMessage extracts a readable message from a goja run error.
func faultMessage(err error) string {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause.Error()
		}
		return fmt.Sprint(interrupted.Value())
	}

	var overflow *goja.StackOverflowError
	if errors.As(err, &overflow) {
		return "maximum call stack size exceeded"
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		val := exc.Value()
		if obj, ok := val.(*goja.Object); ok {
			if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
				name := obj.Get("name")
				if name != nil && !goja.IsUndefined(name) && name.String() != "Error" {
					return name.String() + ": " + msg.String()
				}
				return msg.String()
			}
		}
		if val != nil {
			return val.String()
		}
	}
	return err.Error()
}

// output accumulates captured lines up to max bytes.
type output struct {
	lines      []string
	size       int
	max        int
	overflowed bool
	onOverflow func()
}

func (o *output) write(line string) {
	if o.overflowed {
		return
	}
	n := len(line)
	if len(o.lines) > 0 {
		n++
	}
	if o.size+n > o.max {
		o.overflowed = true
		o.onOverflow()
		return
	}
	o.size += n
	o.lines = append(o.lines, line)
}

func (o *output) String() string { return strings.Join(o.lines, "\n") }
