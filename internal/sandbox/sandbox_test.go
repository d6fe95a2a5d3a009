package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRun_Output(t *testing.T) {
	r := NewJSRunner(Options{})
	for _, tc := range []struct {
		name string
		code string
		want string
	}{
		{"empty", "", ""},
		{"single log", `console.log("hello")`, "hello"},
		{"print", `print(1)`, "1"},
		{"multiple args", `console.log("a", 1, true, null, undefined)`, "a 1 true null undefined"},
		{"call order", `console.log(1); console.warn(2); console.error(3); print(4)`, "1\n2\n3\n4"},
		{"object as json", `console.log({a: 1, b: [1, 2]})`, `{"a":1,"b":[1,2]}`},
		{"array as json", `console.log([1, "x"])`, `[1,"x"]`},
		{"expression value is not output", `1 + 1`, ""},
		{"loop", `for (let i = 0; i < 3; i++) console.log(i)`, "0\n1\n2"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if got := r.Run(context.Background(), tc.code); got != tc.want {
				t.Errorf("Run(%q) = %q, want %q", tc.code, got, tc.want)
			}
		})
	}
}

func TestRun_Faults(t *testing.T) {
	r := NewJSRunner(Options{})
	for _, tc := range []struct {
		name    string
		code    string
		wantSub string
	}{
		{"thrown error", `throw new Error("boom")`, "boom"},
		{"thrown string", `throw "bad"`, "bad"},
		{"reference error", `undefinedVariable.x`, "ReferenceError"},
		{"type error", `null.x`, "TypeError"},
		{"syntax error", `let = ;`, "SyntaxError"},
		{"output before throw is dropped", `console.log("before"); throw new Error("after")`, "after"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Run(context.Background(), tc.code)
			if !strings.HasPrefix(got, "Error: ") {
				t.Fatalf("Run(%q) = %q, want Error: prefix", tc.code, got)
			}
			if !strings.Contains(got, tc.wantSub) {
				t.Errorf("Run(%q) = %q, want it to contain %q", tc.code, got, tc.wantSub)
			}
		})
	}
}

func TestRun_InfiniteLoopTimesOut(t *testing.T) {
	r := NewJSRunner(Options{Timeout: 100 * time.Millisecond})

	start := time.Now()
	got := r.Run(context.Background(), `while (true) {}`)
	elapsed := time.Since(start)

	if got != "Error: execution timed out after 100ms" {
		t.Fatalf("got %q", got)
	}
	if elapsed > time.Second {
		t.Fatalf("run took %s, want close to 100ms", elapsed)
	}
}

func TestRun_ContextCancel(t *testing.T) {
	r := NewJSRunner(Options{Timeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	got := r.Run(ctx, `for (;;) {}`)
	if !strings.HasPrefix(got, "Error: ") || !strings.Contains(got, "deadline exceeded") {
		t.Fatalf("got %q", got)
	}
}

func TestRun_OutputLimit(t *testing.T) {
	r := NewJSRunner(Options{MaxOutput: 32})
	for _, code := range []string{
		`for (;;) console.log("spam")`,
		`console.log("x".repeat(100))`,
	} {
		if got := r.Run(context.Background(), code); got != "Error: output limit exceeded" {
			t.Errorf("Run(%q) = %q", code, got)
		}
	}
}

func TestRun_MemoryLimit(t *testing.T) {
	r := NewJSRunner(Options{Timeout: 5 * time.Second, MaxMemory: 16 << 20})

	start := time.Now()
	got := r.Run(context.Background(), `var s = "x"; for (;;) s = s + s`)
	elapsed := time.Since(start)

	if got != "Error: memory limit exceeded" {
		t.Fatalf("got %q", got)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("run took %s, want it stopped well before the 5s timeout", elapsed)
	}

	if got := r.Run(context.Background(), `print("x".repeat(1024).length)`); got != "1024" {
		t.Fatalf("run after a memory fault = %q", got)
	}
}

func TestRun_DeepRecursion(t *testing.T) {
	r := NewJSRunner(Options{Timeout: 5 * time.Second})
	got := r.Run(context.Background(), `function f(n) { return f(n + 1) + 1 } f(0)`)
	if got != "Error: maximum call stack size exceeded" {
		t.Fatalf("got %q", got)
	}
	if got := r.Run(context.Background(), `function f(n) { return n ? f(n - 1) + 1 : 0 } print(f(1000))`); got != "1000" {
		t.Fatalf("bounded recursion = %q", got)
	}
}

func TestRun_NoHostAccess(t *testing.T) {
	r := NewJSRunner(Options{})
	for _, code := range []string{
		`require("fs")`,
		`process.exit(1)`,
		`setTimeout(function() {}, 0)`,
		`fetch("http://example.com")`,
	} {
		if got := r.Run(context.Background(), code); !strings.HasPrefix(got, "Error: ") {
			t.Errorf("Run(%q) = %q, want an error", code, got)
		}
	}
}

func TestRun_NoStateBetweenCalls(t *testing.T) {
	r := NewJSRunner(Options{})
	if got := r.Run(context.Background(), `globalThis.leak = 42; console.log(leak)`); got != "42" {
		t.Fatalf("first run = %q", got)
	}
	if got := r.Run(context.Background(), `console.log(typeof leak)`); got != "undefined" {
		t.Fatalf("second run saw state from the first: %q", got)
	}
	if got := r.Run(context.Background(), `console.log = null; print("x")`); got != "x" {
		t.Fatalf("third run = %q", got)
	}
	if got := r.Run(context.Background(), `console.log("restored")`); got != "restored" {
		t.Fatalf("console mutation leaked into next run: %q", got)
	}
}

func TestRun_Concurrent(t *testing.T) {
	r := NewJSRunner(Options{Timeout: 2 * time.Second})
	var wg sync.WaitGroup
	errs := make(chan string, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprint(i * 2)
			if got := r.Run(context.Background(), fmt.Sprintf("print(%d * 2)", i)); got != want {
				errs <- fmt.Sprintf("run %d = %q, want %q", i, got, want)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestNewJSRunner_Defaults(t *testing.T) {
	r := NewJSRunner(Options{})
	if r.Timeout() != DefaultTimeout {
		t.Errorf("Timeout = %s, want %s", r.Timeout(), DefaultTimeout)
	}
	if r.maxOutput != DefaultMaxOutput {
		t.Errorf("maxOutput = %d, want %d", r.maxOutput, DefaultMaxOutput)
	}
	if r.maxMemory != DefaultMaxMemory {
		t.Errorf("maxMemory = %d, want %d", r.maxMemory, DefaultMaxMemory)
	}
}
