// Package store persists module sources and task records.
package store

import (
	"context"

	"github.com/me/threadpool/pkg/model"
)

// Store defines the persistence layer behind the HTTP API.
type Store interface {
	// Modules are content-addressed and never change once written.
	SaveModule(ctx context.Context, mod *model.Module) (bool, error)
	GetModule(ctx context.Context, hash string) (*model.Module, error)
	ListModules(ctx context.Context) ([]*model.Module, error)

	// Task records
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, opts model.ListOptions) ([]*model.Task, int, error)
	UpdateTask(ctx context.Context, task *model.Task) error
	FailUnfinished(ctx context.Context, reason string) (int64, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
