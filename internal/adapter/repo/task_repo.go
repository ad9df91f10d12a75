package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"sunrunner/internal/domain"
	"sunrunner/internal/infra"
	"sunrunner/internal/sqlinline"
)

// TaskRepositoryPG implements domain.TaskStore over the shared queue table.
type TaskRepositoryPG struct {
	runner infra.SQLExecutor
}

// NewTaskRepository creates a task repository backed by PostgreSQL.
func NewTaskRepository(runner infra.SQLExecutor) *TaskRepositoryPG {
	return &TaskRepositoryPG{runner: runner}
}

// ListOnePending returns the oldest PENDING task, or nil when none exists.
func (r *TaskRepositoryPG) ListOnePending(ctx context.Context) (*domain.Task, error) {
	task, err := scanTask(r.runner.QueryRow(ctx, sqlinline.QListOnePendingTask))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, errors.Join(domain.ErrStoreUnavailable, err)
	}
	return task, nil
}

// TryLock claims the task via a conditional update. A nil result means
// another worker changed the status first.
func (r *TaskRepositoryPG) TryLock(ctx context.Context, id int64) (*domain.Task, error) {
	task, err := scanTask(r.runner.QueryRow(ctx, sqlinline.QTryLockTask, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, nil
		}
		return nil, errors.Join(domain.ErrStoreUnavailable, err)
	}
	return task, nil
}

// Finalize writes the task's next status, outcome log and payload.
func (r *TaskRepositoryPG) Finalize(ctx context.Context, id int64, status domain.TaskStatus, resultLog string, data domain.UserData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode user data: %w", err)
	}
	if _, err := r.runner.Exec(ctx, sqlinline.QFinalizeTask, id, status, resultLog, raw); err != nil {
		return errors.Join(domain.ErrStoreUnavailable, err)
	}
	return nil
}

// SaveUserData persists the payload without touching status or log.
func (r *TaskRepositoryPG) SaveUserData(ctx context.Context, id int64, data domain.UserData) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode user data: %w", err)
	}
	if _, err := r.runner.Exec(ctx, sqlinline.QSaveTaskUserData, id, raw); err != nil {
		return errors.Join(domain.ErrStoreUnavailable, err)
	}
	return nil
}

func scanTask(row interface{ Scan(dest ...any) error }) (*domain.Task, error) {
	var (
		task      domain.Task
		rawData   []byte
		resultLog *string
	)
	if err := row.Scan(&task.ID, &task.Status, &rawData, &resultLog); err != nil {
		return nil, err
	}
	if len(rawData) > 0 {
		if err := json.Unmarshal(rawData, &task.UserData); err != nil {
			return nil, fmt.Errorf("decode user data: %w", err)
		}
	}
	if resultLog != nil {
		task.ResultLog = *resultLog
	}
	return &task, nil
}

var _ domain.TaskStore = (*TaskRepositoryPG)(nil)
