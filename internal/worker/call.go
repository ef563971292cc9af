package worker

import (
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/me/threadpool/pkg/artifact"
	"github.com/me/threadpool/pkg/task"
)

// MemoryGlobal is the name a bound memory is visible under in JavaScript.
const MemoryGlobal = "memory"

// Call instantiates mod in env's runtime and calls fn, one of the
// functions mod declares at its top level, with args. The result is
// exported to a Go value.
func Call(env task.Env, mod *artifact.Module, fn string, args ...any) (any, error) {
	exports, err := env.Instantiate(mod)
	if err != nil {
		return nil, err
	}

	rt := env.Runtime()
	callable, ok := goja.AssertFunction(exports.Get(fn))
	if !ok {
		return nil, fmt.Errorf("module %s does not define function %q", mod.Name, fn)
	}

	values := make([]goja.Value, len(args))
	for i, arg := range args {
		values[i] = rt.ToValue(arg)
	}
	res, err := callable(exports, values...)
	if err != nil {
		return nil, fmt.Errorf("call %s.%s: %w", mod.Name, fn, err)
	}
	return res.Export(), nil
}

// Eval runs script in env's runtime and exports its completion value.
func Eval(env task.Env, name, script string) (any, error) {
	res, err := env.Runtime().RunScript(name, script)
	if err != nil {
		return nil, fmt.Errorf("eval %s: %w", name, err)
	}
	return res.Export(), nil
}

// BindMemory exposes mem to env's runtime as the ArrayBuffer global
// "memory". The buffer aliases mem, so writes are visible to every worker
// bound to the same memory.
func BindMemory(env task.Env, mem *artifact.Memory) error {
	rt := env.Runtime()
	if mem == nil {
		return rt.Set(MemoryGlobal, goja.Undefined())
	}
	return rt.Set(MemoryGlobal, rt.NewArrayBuffer(mem.Bytes()))
}

// InterruptAfter stops whatever script env's runtime is executing once d
// has passed. Call the returned func when the task finishes.
func InterruptAfter(env task.Env, d time.Duration) (stop func()) {
	rt := env.Runtime()
	var (
		mu      sync.Mutex
		stopped bool
	)
	t := time.AfterFunc(d, func() {
		mu.Lock()
		defer mu.Unlock()
		if !stopped {
			rt.Interrupt(fmt.Sprintf("task exceeded %s", d))
		}
	})
	return func() {
		mu.Lock()
		stopped = true
		mu.Unlock()
		t.Stop()
	}
}
