package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/taskdeck/taskdeck/internal/model"
)

// ErrTaskNotFound covers both a missing id and an id owned by someone else.
// The two cases are deliberately indistinguishable.
var ErrTaskNotFound = errors.New("task not found")

// CreateTask inserts a new task into the database.
func (r *Repository) CreateTask(ctx context.Context, task *model.Task) error {
	query := `
		INSERT INTO tasks (id, owner_id, title, description, completed, tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.OwnerID,
		task.Title,
		task.Description,
		task.Completed,
		pq.Array(task.Tags),
		task.CreatedAt,
		task.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// GetTask retrieves a task by id, scoped to the owner.
// A task owned by a different identity yields ErrTaskNotFound.
func (r *Repository) GetTask(ctx context.Context, ownerID, id string) (*model.Task, error) {
	query := `
		SELECT id, owner_id, title, description, completed, tags, created_at, updated_at
		FROM tasks
		WHERE id = $1 AND owner_id = $2
	`

	var task *model.Task
	err := readWithRetry(ctx, func() error {
		var scanErr error
		task, scanErr = scanTask(r.pool.QueryRow(ctx, query, id, ownerID))
		return scanErr
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return task, nil
}

// ListTasks retrieves all tasks owned by ownerID, ordered by creation time
// with id as the tie-breaker so repeated lists are stable.
func (r *Repository) ListTasks(ctx context.Context, ownerID string) ([]*model.Task, error) {
	query := `
		SELECT id, owner_id, title, description, completed, tags, created_at, updated_at
		FROM tasks
		WHERE owner_id = $1
		ORDER BY created_at ASC, id ASC
	`

	var tasks []*model.Task
	err := readWithRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx, query, ownerID)
		if err != nil {
			return err
		}
		defer rows.Close()

		tasks = tasks[:0]
		for rows.Next() {
			task, err := scanTask(rows)
			if err != nil {
				return fmt.Errorf("failed to scan task: %w", err)
			}
			tasks = append(tasks, task)
		}
		return rows.Err()
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	return tasks, nil
}

// UpdateTask applies a partial update to a task, scoped to the owner.
// The whole patch is a single conditional UPDATE so concurrent updates to
// the same id serialize at the row.
func (r *Repository) UpdateTask(ctx context.Context, ownerID, id string, patch model.TaskPatch) (*model.Task, error) {
	query := `
		UPDATE tasks
		SET title       = COALESCE($3, title),
		    description = COALESCE($4, description),
		    completed   = COALESCE($5, completed),
		    tags        = COALESCE($6, tags),
		    updated_at  = NOW()
		WHERE id = $1 AND owner_id = $2
		RETURNING id, owner_id, title, description, completed, tags, created_at, updated_at
	`

	var tags any
	if patch.Tags != nil {
		tags = pq.Array(*patch.Tags)
	}

	task, err := scanTask(r.pool.QueryRow(ctx, query,
		id,
		ownerID,
		patch.Title,
		patch.Description,
		patch.Completed,
		tags,
	))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to update task: %w", err)
	}

	return task, nil
}

// DeleteTask removes a task, scoped to the owner. Deletion is not
// idempotent: a second delete of the same id reports ErrTaskNotFound.
func (r *Repository) DeleteTask(ctx context.Context, ownerID, id string) error {
	query := `DELETE FROM tasks WHERE id = $1 AND owner_id = $2`

	result, err := r.pool.Exec(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrTaskNotFound
	}

	return nil
}

// scanTask scans a single row into a Task model.
func scanTask(row pgx.Row) (*model.Task, error) {
	var task model.Task
	var tags []string

	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Title,
		&task.Description,
		&task.Completed,
		pq.Array(&tags),
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Tags = tags
	return &task, nil
}
