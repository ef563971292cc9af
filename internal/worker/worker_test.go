package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/me/threadpool/internal/logging"
	"github.com/me/threadpool/internal/scheduler"
	"github.com/me/threadpool/pkg/artifact"
	"github.com/me/threadpool/pkg/task"
)

func discardLogger() *slog.Logger {
	return logging.NewLoggerWithWriter(slog.LevelError, "text", io.Discard)
}

// testPool starts a scheduler backed by real workers and returns its
// channel. Everything is torn down when the test ends.
func testPool(t *testing.T, capacity int) (*scheduler.Channel, *Spawner) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	sp := NewSpawner(ctx, discardLogger())
	ch, err := scheduler.Spawn(ctx, scheduler.Config{Capacity: capacity}, sp, discardLogger())
	if err != nil {
		t.Fatalf("scheduler.Spawn: %v", err)
	}
	t.Cleanup(func() {
		ch.Close()
		cancel()
		sp.Wait()
	})
	return ch, sp
}

func compile(t *testing.T, name, src string) *artifact.Module {
	t.Helper()
	mod, err := artifact.Compile(name, src)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return mod
}

type result struct {
	value any
	err   error
}

func wait[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for task")
		panic("unreachable")
	}
}

// waitFor polls the scheduler until cond holds for a snapshot.
func waitFor(t *testing.T, ch *scheduler.Channel, cond func(scheduler.Snapshot) bool) scheduler.Snapshot {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		snap, err := ch.Inspect(context.Background())
		if err != nil {
			t.Fatalf("Inspect: %v", err)
		}
		if cond(snap) {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met, last snapshot %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAsyncTask_RunsOnNewWorker(t *testing.T) {
	ch, _ := testPool(t, 1)
	out := make(chan uint32, 1)

	if err := ch.SpawnAsync(func(_ context.Context, env task.Env) {
		out <- env.WorkerID()
	}); err != nil {
		t.Fatalf("SpawnAsync: %v", err)
	}

	id := wait(t, out)
	snap := waitFor(t, ch, func(s scheduler.Snapshot) bool { return s.Workers() == 1 })
	if !slices.Equal(snap.Idle, []uint32{id}) || len(snap.Busy) != 0 {
		t.Errorf("snapshot = %+v, want worker #%d idle", snap, id)
	}
}

func TestModuleTask_CallsFunction(t *testing.T) {
	ch, _ := testPool(t, 2)
	mod := compile(t, "math.js", "function add(a, b) { return a + b; }")
	out := make(chan result, 1)

	err := ch.SpawnWithModule(mod, func(_ context.Context, env task.Env, m *artifact.Module) {
		v, err := Call(env, m, "add", 2, 3)
		out <- result{v, err}
	})
	if err != nil {
		t.Fatalf("SpawnWithModule: %v", err)
	}

	res := wait(t, out)
	if res.err != nil {
		t.Fatalf("Call: %v", res.err)
	}
	if res.value != int64(5) {
		t.Errorf("add(2, 3) = %v (%T), want 5", res.value, res.value)
	}
}

func TestCall_MissingFunction(t *testing.T) {
	ch, _ := testPool(t, 1)
	mod := compile(t, "empty.js", "var x = 1;")
	out := make(chan result, 1)

	ch.SpawnWithModule(mod, func(_ context.Context, env task.Env, m *artifact.Module) {
		v, err := Call(env, m, "run")
		out <- result{v, err}
	})

	if res := wait(t, out); res.err == nil {
		t.Fatal("expected error for missing function")
	}
}

func TestInstantiate_RunsProgramOnce(t *testing.T) {
	ch, _ := testPool(t, 1)
	mod := compile(t, "counter.js", "globalThis.loads = (globalThis.loads || 0) + 1; function count() { return globalThis.loads; }")
	out := make(chan result, 2)

	for i := 0; i < 2; i++ {
		ch.SpawnWithModule(mod, func(_ context.Context, env task.Env, m *artifact.Module) {
			v, err := Call(env, m, "count")
			out <- result{v, err}
		})
	}

	for i := 0; i < 2; i++ {
		res := wait(t, out)
		if res.err != nil || res.value != int64(1) {
			t.Errorf("count() = %v, %v; want 1 (program instantiated once)", res.value, res.err)
		}
	}
}

// callOn runs fn from mod as a module task and waits for the result.
func callOn(t *testing.T, ch *scheduler.Channel, mod *artifact.Module, fn string) result {
	t.Helper()
	out := make(chan result, 1)
	err := ch.SpawnWithModule(mod, func(_ context.Context, env task.Env, m *artifact.Module) {
		v, err := Call(env, m, fn)
		out <- result{v, err}
	})
	if err != nil {
		t.Fatalf("SpawnWithModule: %v", err)
	}
	return wait(t, out)
}

func TestModules_SameFunctionNameOnOneWorker(t *testing.T) {
	ch, _ := testPool(t, 1)
	a := compile(t, "a.js", "var tag = 'A'; function run() { return tag; }")
	b := compile(t, "b.js", "var tag = 'B'; function run() { return tag; }")

	var got []any
	for _, mod := range []*artifact.Module{a, b, a, b} {
		res := callOn(t, ch, mod, "run")
		if res.err != nil {
			t.Fatalf("%s run: %v", mod.Name, res.err)
		}
		got = append(got, res.value)
	}
	if want := []any{"A", "B", "A", "B"}; !slices.Equal(got, want) {
		t.Errorf("results for modules [a b a b] = %v, want %v", got, want)
	}
}

func TestModules_ScriptCannotReplaceModuleFunction(t *testing.T) {
	ch, _ := testPool(t, 1)
	mod := compile(t, "a.js", "function run() { return 'module'; }")

	if res := callOn(t, ch, mod, "run"); res.err != nil || res.value != "module" {
		t.Fatalf("run() = %v, %v; want module", res.value, res.err)
	}

	out := make(chan result, 1)
	ch.SpawnBlocking(func(_ context.Context, env task.Env) {
		v, err := Eval(env, "script.js", "function run() { return 'script'; } run()")
		out <- result{v, err}
	})
	if res := wait(t, out); res.err != nil || res.value != "script" {
		t.Fatalf("script = %v, %v; want script", res.value, res.err)
	}

	if res := callOn(t, ch, mod, "run"); res.err != nil || res.value != "module" {
		t.Errorf("run() after script = %v, %v; want module", res.value, res.err)
	}
}

func TestModules_DoNotLeakGlobals(t *testing.T) {
	ch, _ := testPool(t, 1)
	mod := compile(t, "lib.js", "function helper() { return 1; } var state = 2;")
	if res := callOn(t, ch, mod, "helper"); res.err != nil {
		t.Fatalf("helper: %v", res.err)
	}

	out := make(chan result, 1)
	ch.SpawnAsync(func(_ context.Context, env task.Env) {
		v, err := Eval(env, "globals.js", "typeof helper + ' ' + typeof state")
		out <- result{v, err}
	})
	if res := wait(t, out); res.err != nil || res.value != "undefined undefined" {
		t.Errorf("globals after module = %v, %v; want undefined undefined", res.value, res.err)
	}
}

// TestBlockingTask_ReportsBusy checks the cooperative status protocol: the
// worker is busy while the task runs and idle afterwards.
func TestBlockingTask_ReportsBusy(t *testing.T) {
	ch, _ := testPool(t, 1)
	release := make(chan struct{})
	started := make(chan uint32, 1)

	err := ch.SpawnBlocking(func(_ context.Context, env task.Env) {
		started <- env.WorkerID()
		<-release
	})
	if err != nil {
		t.Fatalf("SpawnBlocking: %v", err)
	}

	id := wait(t, started)
	waitFor(t, ch, func(s scheduler.Snapshot) bool {
		return slices.Equal(s.Busy, []uint32{id})
	})

	close(release)
	waitFor(t, ch, func(s scheduler.Snapshot) bool {
		return slices.Equal(s.Idle, []uint32{id}) && len(s.Busy) == 0
	})
}

func TestBlockingTask_GrowsPool(t *testing.T) {
	ch, _ := testPool(t, 2)
	release := make(chan struct{})
	defer close(release)
	started := make(chan uint32, 2)

	block := func(_ context.Context, env task.Env) {
		started <- env.WorkerID()
		<-release
	}

	ch.SpawnBlocking(block)
	first := wait(t, started)
	waitFor(t, ch, func(s scheduler.Snapshot) bool { return len(s.Busy) == 1 })

	ch.SpawnBlocking(block)
	second := wait(t, started)
	if first == second {
		t.Errorf("second blocking task ran on busy worker #%d, want a new worker", first)
	}
}

func TestCachedModule_ReplayedToNewWorker(t *testing.T) {
	ch, _ := testPool(t, 1)
	mod := compile(t, "lib.js", "function double(x) { return 2 * x; }")
	if err := ch.CacheModule(mod); err != nil {
		t.Fatalf("CacheModule: %v", err)
	}

	out := make(chan result, 1)
	ch.SpawnAsync(func(_ context.Context, env task.Env) {
		m, ok := env.Module(mod.Hash)
		if !ok {
			out <- result{err: errors.New("module not in worker cache")}
			return
		}
		v, err := Call(env, m, "double", 21)
		out <- result{v, err}
	})

	res := wait(t, out)
	if res.err != nil {
		t.Fatal(res.err)
	}
	if res.value != int64(42) {
		t.Errorf("double(21) = %v, want 42", res.value)
	}
}

func TestCachedModule_BroadcastToExistingWorker(t *testing.T) {
	ch, _ := testPool(t, 1)

	ready := make(chan struct{})
	ch.SpawnAsync(func(context.Context, task.Env) { close(ready) })
	wait(t, ready)

	mod := compile(t, "late.js", "function late() { return 'late'; }")
	ch.CacheModule(mod)

	out := make(chan bool, 1)
	ch.SpawnAsync(func(_ context.Context, env task.Env) {
		_, ok := env.Module(mod.Hash)
		out <- ok
	})
	if !wait(t, out) {
		t.Error("existing worker did not receive the cache update")
	}
}

func TestMemoryTask_SharedBuffer(t *testing.T) {
	ch, _ := testPool(t, 2)
	mod := compile(t, "mem.js", `
		function store(i, v) { new Uint8Array(memory)[i] = v; return memory.byteLength; }
		function load(i) { return new Uint8Array(memory)[i]; }
	`)
	mem, err := artifact.NewMemory(1)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}

	run := func(fn string, args ...any) result {
		out := make(chan result, 1)
		ch.SpawnWithModuleAndMemory(mod, mem, func(_ context.Context, env task.Env, m *artifact.Module, mm *artifact.Memory) {
			if err := BindMemory(env, mm); err != nil {
				out <- result{err: err}
				return
			}
			v, err := Call(env, m, fn, args...)
			out <- result{v, err}
		})
		return wait(t, out)
	}

	res := run("store", 3, 7)
	if res.err != nil {
		t.Fatalf("store: %v", res.err)
	}
	if res.value != int64(artifact.PageSize) {
		t.Errorf("byteLength = %v, want %d", res.value, artifact.PageSize)
	}
	if mem.Bytes()[3] != 7 {
		t.Errorf("Go view of memory[3] = %d, want 7", mem.Bytes()[3])
	}

	res = run("load", 3)
	if res.err != nil || res.value != int64(7) {
		t.Errorf("load(3) = %v, %v; want 7", res.value, res.err)
	}
}

func TestPanickingTask_WorkerSurvives(t *testing.T) {
	ch, _ := testPool(t, 1)

	ch.SpawnBlocking(func(context.Context, task.Env) { panic("boom") })

	out := make(chan result, 1)
	ch.SpawnBlocking(func(_ context.Context, env task.Env) {
		v, err := Eval(env, "after.js", "1 + 1")
		out <- result{v, err}
	})

	res := wait(t, out)
	if res.err != nil || res.value != int64(2) {
		t.Errorf("eval after panic = %v, %v; want 2", res.value, res.err)
	}
	waitFor(t, ch, func(s scheduler.Snapshot) bool { return len(s.Busy) == 0 && len(s.Idle) == 1 })
}

func TestContextCancel_InterruptsScript(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	sp := NewSpawner(ctx, discardLogger())
	schedCtx, stopScheduler := context.WithCancel(context.Background())
	defer stopScheduler()
	ch, err := scheduler.Spawn(schedCtx, scheduler.Config{Capacity: 1}, sp, discardLogger())
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer ch.Close()

	started := make(chan struct{})
	out := make(chan error, 1)
	ch.SpawnBlocking(func(_ context.Context, env task.Env) {
		close(started)
		_, err := Eval(env, "spin.js", "while (true) {}")
		out <- err
	})

	wait(t, started)
	cancel()

	err = wait(t, out)
	var interrupted *goja.InterruptedError
	if !errors.As(err, &interrupted) {
		t.Errorf("err = %v, want InterruptedError", err)
	}
	sp.Wait()

	status := ch.Clone()
	defer status.Close()
	if _, err := sp.Spawn(99, status); err == nil {
		t.Error("Spawn after cancel should fail")
	}
}

func TestConsole_Available(t *testing.T) {
	ch, _ := testPool(t, 1)
	out := make(chan result, 1)
	ch.SpawnAsync(func(_ context.Context, env task.Env) {
		v, err := Eval(env, "console.js", "console.log('hello', 1); 'ok'")
		out <- result{v, err}
	})
	if res := wait(t, out); res.err != nil || res.value != "ok" {
		t.Errorf("console.log script = %v, %v", res.value, res.err)
	}
}

func TestInterruptAfter_StopsLongScript(t *testing.T) {
	ch, _ := testPool(t, 1)
	out := make(chan result, 1)

	ch.SpawnBlocking(func(_ context.Context, env task.Env) {
		stop := InterruptAfter(env, 20*time.Millisecond)
		defer stop()
		v, err := Eval(env, "spin.js", "while (true) {}")
		out <- result{v, err}
	})

	res := wait(t, out)
	var interrupted *goja.InterruptedError
	if !errors.As(res.err, &interrupted) {
		t.Fatalf("err = %v, want InterruptedError", res.err)
	}

	// The runtime is usable again for the next task.
	ch.SpawnBlocking(func(_ context.Context, env task.Env) {
		v, err := Eval(env, "next.js", "'fine'")
		out <- result{v, err}
	})
	if res := wait(t, out); res.err != nil || res.value != "fine" {
		t.Errorf("next task = %v, %v", res.value, res.err)
	}
}
