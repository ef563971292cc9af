package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/me/threadpool/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return openStore(t, ":memory:")
}

func openStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(path, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleTask(id string) *model.Task {
	return &model.Task{
		ID:        id,
		Kind:      model.TaskKindModule,
		State:     model.TaskStateQueued,
		Module:    "ab12",
		Function:  "add",
		Args:      []any{1.0, 2.0},
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestSaveModule_InsertOrIgnore(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	mod := &model.Module{Hash: "ff00", Name: "a.js", Source: "var a;", CreatedAt: time.Now().UTC()}

	created, err := st.SaveModule(ctx, mod)
	if err != nil || !created {
		t.Fatalf("first SaveModule = %v, %v; want true", created, err)
	}

	dup := *mod
	dup.Name = "renamed.js"
	created, err = st.SaveModule(ctx, &dup)
	if err != nil || created {
		t.Fatalf("second SaveModule = %v, %v; want false", created, err)
	}

	got, err := st.GetModule(ctx, "ff00")
	if err != nil {
		t.Fatalf("GetModule: %v", err)
	}
	if got.Name != "a.js" || got.Source != "var a;" {
		t.Errorf("stored module = %+v, want the first write", got)
	}
}

func TestGetModule_Missing(t *testing.T) {
	st := testStore(t)
	got, err := st.GetModule(context.Background(), "nope")
	if err != nil || got != nil {
		t.Errorf("GetModule(missing) = %v, %v; want nil, nil", got, err)
	}
}

func TestListModules_HashOrder(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	for _, h := range []string{"cc", "aa", "bb"} {
		if _, err := st.SaveModule(ctx, &model.Module{Hash: h, Name: h + ".js", Source: "1", CreatedAt: time.Now()}); err != nil {
			t.Fatal(err)
		}
	}

	mods, err := st.ListModules(ctx)
	if err != nil {
		t.Fatalf("ListModules: %v", err)
	}
	var got []string
	for _, m := range mods {
		got = append(got, m.Hash)
	}
	if len(got) != 3 || got[0] != "aa" || got[1] != "bb" || got[2] != "cc" {
		t.Errorf("hashes = %v, want [aa bb cc]", got)
	}
}

func TestTask_CreateGet(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	task := sampleTask("task_1")

	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	got, err := st.GetTask(ctx, "task_1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Kind != model.TaskKindModule || got.State != model.TaskStateQueued || got.Function != "add" {
		t.Errorf("got %+v", got)
	}
	if len(got.Args) != 2 || got.Args[1] != 2.0 {
		t.Errorf("Args = %v, want [1 2]", got.Args)
	}
	if !got.CreatedAt.Equal(task.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, task.CreatedAt)
	}
	if got.Result != nil || got.StartedAt != nil {
		t.Errorf("fresh task has result %v, started %v", got.Result, got.StartedAt)
	}

	missing, err := st.GetTask(ctx, "task_none")
	if err != nil || missing != nil {
		t.Errorf("GetTask(missing) = %v, %v", missing, err)
	}
}

func TestUpdateTask_Lifecycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	task := sampleTask("task_1")
	st.CreateTask(ctx, task)

	now := time.Now().UTC()
	task.State = model.TaskStateRunning
	task.WorkerID = 7
	task.StartedAt = &now
	if err := st.UpdateTask(ctx, task); err != nil {
		t.Fatalf("to RUNNING: %v", err)
	}

	task.State = model.TaskStateSuccess
	task.Result = map[string]any{"sum": 3}
	task.CompletedAt = &now
	if err := st.UpdateTask(ctx, task); err != nil {
		t.Fatalf("to SUCCESS: %v", err)
	}

	got, _ := st.GetTask(ctx, "task_1")
	if got.State != model.TaskStateSuccess || got.WorkerID != 7 {
		t.Errorf("got state %s worker %d", got.State, got.WorkerID)
	}
	res, ok := got.Result.(map[string]any)
	if !ok || res["sum"] != 3.0 {
		t.Errorf("Result = %#v, want sum 3", got.Result)
	}
	if got.StartedAt == nil || got.CompletedAt == nil {
		t.Error("timestamps not stored")
	}
}

func TestUpdateTask_InvalidTransition(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	task := sampleTask("task_1")
	st.CreateTask(ctx, task)

	task.State = model.TaskStateSuccess
	err := st.UpdateTask(ctx, task)
	var bad *model.InvalidTransitionError
	if !errors.As(err, &bad) {
		t.Fatalf("err = %v, want InvalidTransitionError", err)
	}
	if bad.From != model.TaskStateQueued {
		t.Errorf("From = %s, want QUEUED", bad.From)
	}
}

func TestUpdateTask_NotFound(t *testing.T) {
	st := testStore(t)
	if err := st.UpdateTask(context.Background(), sampleTask("ghost")); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

func TestListTasks_PageAndFilter(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Now().UTC()
	for i, id := range []string{"t1", "t2", "t3"} {
		task := sampleTask(id)
		task.CreatedAt = base.Add(time.Duration(i) * time.Second)
		st.CreateTask(ctx, task)
	}
	running := sampleTask("t2")
	running.State = model.TaskStateRunning
	if err := st.UpdateTask(ctx, running); err != nil {
		t.Fatal(err)
	}

	page, total, err := st.ListTasks(ctx, model.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if total != 3 || len(page) != 2 || page[0].ID != "t3" {
		t.Errorf("page = %d items (first %q), total %d; want 2 newest-first of 3", len(page), page[0].ID, total)
	}

	filtered, total, err := st.ListTasks(ctx, model.ListOptions{State: model.TaskStateRunning})
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 || len(filtered) != 1 || filtered[0].ID != "t2" {
		t.Errorf("RUNNING filter = %v (total %d), want [t2]", filtered, total)
	}
}

func TestFailUnfinished(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	st.CreateTask(ctx, sampleTask("queued"))
	done := sampleTask("done")
	st.CreateTask(ctx, done)
	done.State = model.TaskStateFailed
	st.UpdateTask(ctx, done)

	n, err := st.FailUnfinished(ctx, "restarted")
	if err != nil {
		t.Fatalf("FailUnfinished: %v", err)
	}
	if n != 1 {
		t.Errorf("failed %d tasks, want 1", n)
	}
	got, _ := st.GetTask(ctx, "queued")
	if got.State != model.TaskStateFailed || got.Error != "restarted" || got.CompletedAt == nil {
		t.Errorf("queued task after restart = %+v", got)
	}
}

// TestUpdateTask_ConcurrentFileDB drives a file database the way a busy
// pool does: every worker records RUNNING then SUCCESS at the same time,
// through two stores sharing the file.
func TestUpdateTask_ConcurrentFileDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.db")
	stores := []*SQLiteStore{openStore(t, path), openStore(t, path)}
	ctx := context.Background()

	const n = 32
	for i := 0; i < n; i++ {
		if err := stores[0].CreateTask(ctx, sampleTask(fmt.Sprintf("task_%02d", i))); err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			st := stores[i%len(stores)]
			task := sampleTask(fmt.Sprintf("task_%02d", i))
			started := time.Now().UTC()
			task.State = model.TaskStateRunning
			task.WorkerID = uint32(i%4 + 1)
			task.StartedAt = &started
			if err := st.UpdateTask(ctx, task); err != nil {
				errs <- fmt.Errorf("%s RUNNING: %w", task.ID, err)
				return
			}
			done := time.Now().UTC()
			task.State = model.TaskStateSuccess
			task.Result = float64(i)
			task.CompletedAt = &done
			if err := st.UpdateTask(ctx, task); err != nil {
				errs <- fmt.Errorf("%s SUCCESS: %w", task.ID, err)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	tasks, total, err := stores[1].ListTasks(ctx, model.ListOptions{Limit: n, State: model.TaskStateSuccess})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if total != n || len(tasks) != n {
		t.Errorf("SUCCESS tasks = %d (total %d), want %d", len(tasks), total, n)
	}
}

func TestDSN(t *testing.T) {
	tests := map[string]string{
		":memory:":       ":memory:?_pragma=busy_timeout(5000)&_txlock=immediate",
		"/var/lib/tp.db": "/var/lib/tp.db?_pragma=busy_timeout(5000)&_txlock=immediate",
		"tp.db?mode=rwc": "tp.db?mode=rwc&_pragma=busy_timeout(5000)&_txlock=immediate",
	}
	for in, want := range tests {
		if got := dsn(in); got != want {
			t.Errorf("dsn(%q) = %q, want %q", in, got, want)
		}
	}
}
