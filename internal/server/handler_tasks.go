package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/me/threadpool/internal/config"
	"github.com/me/threadpool/internal/worker"
	"github.com/me/threadpool/pkg/artifact"
	"github.com/me/threadpool/pkg/model"
	"github.com/me/threadpool/pkg/task"
)

type createTaskRequest struct {
	Kind        model.TaskKind `json:"kind"`
	Script      string         `json:"script"`
	Module      string         `json:"module"`
	Function    string         `json:"function"`
	Args        []any          `json:"args"`
	MemoryPages int            `json:"memory_pages"`
}

// validate checks req and resolves its module. Field errors are collected
// rather than reported one at a time.
func (s *Server) validate(req *createTaskRequest) (*artifact.Module, []model.FieldError) {
	var errs []model.FieldError
	if !req.Kind.Valid() {
		errs = append(errs, model.FieldError{Field: "kind", Message: "must be script, blocking, module or memory"})
		return nil, errs
	}

	if !req.Kind.NeedsModule() {
		if req.Script == "" {
			errs = append(errs, model.FieldError{Field: "script", Message: "required"})
		}
		return nil, errs
	}

	var mod *artifact.Module
	if hash, err := artifact.ParseHash(req.Module); err != nil {
		errs = append(errs, model.FieldError{Field: "module", Message: "must be a module hash"})
	} else if m, ok := s.module(hash); !ok {
		errs = append(errs, model.FieldError{Field: "module", Message: "module is not registered"})
	} else {
		mod = m
		req.Module = hash.String()
	}
	if req.Function == "" {
		errs = append(errs, model.FieldError{Field: "function", Message: "required"})
	}
	if req.Kind == model.TaskKindMemory {
		if req.MemoryPages == 0 {
			req.MemoryPages = 1
		}
		if limit := s.maxMemoryPages(); req.MemoryPages < 1 || req.MemoryPages > limit {
			errs = append(errs, model.FieldError{
				Field:   "memory_pages",
				Message: fmt.Sprintf("must be between 1 and %d", limit),
			})
		}
	}
	return mod, errs
}

// maxMemoryPages is the configured per-task memory limit. Memory is
// allocated on the request goroutine, so it is never left unbounded.
func (s *Server) maxMemoryPages() int {
	n := s.config.MaxMemoryPages
	if n < 1 {
		return config.DefaultMaxMemoryPages
	}
	return min(n, artifact.MaxPages)
}

// handleCreateTask records a task and hands it to the pool. The response
// carries the QUEUED record; poll GET /tasks/{id} for the outcome.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req createTaskRequest
	if apiErr := decodeBody(w, r, &req); apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	mod, errs := s.validate(&req)
	if len(errs) > 0 {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid task", errs...))
		return
	}

	rec := &model.Task{
		ID:          "task_" + uuid.New().String(),
		Kind:        req.Kind,
		State:       model.TaskStateQueued,
		Script:      req.Script,
		Module:      req.Module,
		Function:    req.Function,
		Args:        req.Args,
		MemoryPages: req.MemoryPages,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.CreateTask(r.Context(), rec); err != nil {
		respondInternal(w, reqID, err)
		return
	}

	if err := s.submit(*rec, mod); err != nil {
		s.logger.Error("task submission failed", "task_id", rec.ID, "error", err)
		rec.State = model.TaskStateFailed
		rec.Error = err.Error()
		s.record(rec)
		s.tasks.Finish(string(rec.Kind), string(rec.State), -1)
		respondError(w, reqID, http.StatusServiceUnavailable,
			&model.APIError{Code: model.ErrUnavailable, Message: err.Error()})
		return
	}

	s.tasks.Submit(string(rec.Kind))
	s.logger.Debug("task submitted", "task_id", rec.ID, "kind", rec.Kind)
	respondCreated(w, reqID, rec)
}

// submit sends t to the pool as the scheduler message its kind maps to.
// The closures own their copy of t.
func (s *Server) submit(t model.Task, mod *artifact.Module) error {
	switch t.Kind {
	case model.TaskKindScript:
		return s.pool.SpawnAsync(func(_ context.Context, env task.Env) {
			s.execute(t, env, func() (any, error) {
				return worker.Eval(env, t.ID, t.Script)
			})
		})
	case model.TaskKindBlocking:
		return s.pool.SpawnBlocking(func(_ context.Context, env task.Env) {
			s.execute(t, env, func() (any, error) {
				return worker.Eval(env, t.ID, t.Script)
			})
		})
	case model.TaskKindModule:
		return s.pool.SpawnWithModule(mod, func(_ context.Context, env task.Env, m *artifact.Module) {
			s.execute(t, env, func() (any, error) {
				return worker.Call(env, m, t.Function, t.Args...)
			})
		})
	case model.TaskKindMemory:
		mem, err := artifact.NewMemory(t.MemoryPages)
		if err != nil {
			return err
		}
		return s.pool.SpawnWithModuleAndMemory(mod, mem, func(_ context.Context, env task.Env, m *artifact.Module, mm *artifact.Memory) {
			s.execute(t, env, func() (any, error) {
				if err := worker.BindMemory(env, mm); err != nil {
					return nil, err
				}
				return worker.Call(env, m, t.Function, t.Args...)
			})
		})
	}
	return fmt.Errorf("unknown task kind %q", t.Kind)
}

// execute runs fn on a worker and records the task's progress.
func (s *Server) execute(t model.Task, env task.Env, fn func() (any, error)) {
	started := time.Now().UTC()
	t.State = model.TaskStateRunning
	t.WorkerID = env.WorkerID()
	t.StartedAt = &started
	s.record(&t)

	stop := func() {}
	if d := s.config.TaskTimeout; d > 0 {
		stop = worker.InterruptAfter(env, d)
	}
	v, err := func() (v any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("task panicked: %v", p)
			}
		}()
		return fn()
	}()
	stop()

	if err == nil {
		if _, jerr := json.Marshal(v); jerr != nil {
			err = fmt.Errorf("result is not JSON serializable: %w", jerr)
		}
	}

	done := time.Now().UTC()
	t.CompletedAt = &done
	if err != nil {
		t.State = model.TaskStateFailed
		t.Error = err.Error()
	} else {
		t.State = model.TaskStateSuccess
		t.Result = v
	}
	s.tasks.Finish(string(t.Kind), string(t.State), done.Sub(started).Seconds())
	s.record(&t)
}

// record persists t, logging failures. Workers have nobody to return the
// error to.
func (s *Server) record(t *model.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.UpdateTask(ctx, t); err != nil {
		s.logger.Error("failed to record task", "task_id", t.ID, "state", t.State, "error", err)
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	tasks, total, err := s.store.ListTasks(r.Context(), opts)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if tasks == nil {
		tasks = []*model.Task{}
	}
	opts.Clamp()
	respondList(w, reqID, tasks, opts.Paginate(len(tasks), total))
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	t, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if t == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("task", id))
		return
	}
	respondOK(w, reqID, t)
}

// listOptions parses ?limit, ?offset and ?state.
func listOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()
	var errs []model.FieldError

	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &opts.Limit}, {"offset", &opts.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, model.FieldError{Field: p.name, Message: "must be an integer"})
			continue
		}
		*p.dst = n
	}
	if v := q.Get("state"); v != "" {
		st, ok := model.ParseTaskState(v)
		if !ok {
			errs = append(errs, model.FieldError{Field: "state", Message: "unknown task state"})
		}
		opts.State = st
	}

	if len(errs) > 0 {
		return opts, model.NewValidationError("invalid query", errs...)
	}
	return opts, nil
}
