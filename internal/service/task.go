package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"github.com/taskdeck/taskdeck/internal/metrics"
	"github.com/taskdeck/taskdeck/internal/model"
	"github.com/taskdeck/taskdeck/internal/repository"
)

// Task validation errors.
var (
	ErrTitleRequired      = errors.New("title is required")
	ErrTitleTooLong       = errors.New("title exceeds maximum length")
	ErrDescriptionTooLong = errors.New("description exceeds maximum length")
	ErrTagInvalid         = errors.New("invalid tag")
	ErrTooManyTags        = errors.New("too many tags")

	// ErrTaskNotFound covers both a task that does not exist and a task
	// owned by someone else; callers must not be able to tell the two
	// apart.
	ErrTaskNotFound = errors.New("task not found")
)

// TaskStore is the persistence surface the task service operates on.
// Every method takes the owner explicitly; there is no unscoped access.
type TaskStore interface {
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, ownerID, id string) (*model.Task, error)
	ListTasks(ctx context.Context, ownerID string) ([]*model.Task, error)
	UpdateTask(ctx context.Context, ownerID, id string, patch model.TaskPatch) (*model.Task, error)
	DeleteTask(ctx context.Context, ownerID, id string) error
}

// TaskService handles task business logic.
type TaskService struct {
	store   TaskStore
	metrics metrics.Recorder
	now     func() time.Time
}

// NewTaskService creates a new TaskService.
func NewTaskService(store TaskStore, recorder metrics.Recorder) *TaskService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &TaskService{
		store:   store,
		metrics: recorder,
		now:     time.Now,
	}
}

// CreateTaskInput defines input for creating a task.
type CreateTaskInput struct {
	Title       string
	Description string
	Tags        []string
}

// CreateTask creates a task owned by the given identity.
func (s *TaskService) CreateTask(ctx context.Context, identity *model.Identity, input CreateTaskInput) (*model.Task, error) {
	title, err := validateTitle(input.Title)
	if err != nil {
		return nil, err
	}
	if err := validateDescription(input.Description); err != nil {
		return nil, err
	}
	tags, err := normalizeTags(input.Tags)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	task := &model.Task{
		ID:          ulid.Make().String(),
		OwnerID:     identity.UserID,
		Title:       title,
		Description: input.Description,
		Completed:   false,
		Tags:        tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.metrics.IncTaskCreated()

	return task, nil
}

// GetTask retrieves one of the identity's tasks by ID.
func (s *TaskService) GetTask(ctx context.Context, identity *model.Identity, id string) (*model.Task, error) {
	task, err := s.store.GetTask(ctx, identity.UserID, id)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return task, nil
}

// ListTasks returns all of the identity's tasks in creation order.
func (s *TaskService) ListTasks(ctx context.Context, identity *model.Identity) ([]*model.Task, error) {
	tasks, err := s.store.ListTasks(ctx, identity.UserID)
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// UpdateTaskInput defines a partial update. Nil fields are left unchanged.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	Completed   *bool
	Tags        *[]string
}

// UpdateTask applies a partial update to one of the identity's tasks and
// returns the updated task.
func (s *TaskService) UpdateTask(ctx context.Context, identity *model.Identity, id string, input UpdateTaskInput) (*model.Task, error) {
	patch := model.TaskPatch{
		Description: input.Description,
		Completed:   input.Completed,
	}

	if input.Title != nil {
		title, err := validateTitle(*input.Title)
		if err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	if input.Description != nil {
		if err := validateDescription(*input.Description); err != nil {
			return nil, err
		}
	}
	if input.Tags != nil {
		tags, err := normalizeTags(*input.Tags)
		if err != nil {
			return nil, err
		}
		patch.Tags = &tags
	}

	// Nothing to change; still confirm the task exists and is the caller's.
	if patch.IsEmpty() {
		return s.GetTask(ctx, identity, id)
	}

	task, err := s.store.UpdateTask(ctx, identity.UserID, id, patch)
	if err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("update task: %w", err)
	}

	s.metrics.IncTaskUpdated()

	return task, nil
}

// DeleteTask removes one of the identity's tasks.
func (s *TaskService) DeleteTask(ctx context.Context, identity *model.Identity, id string) error {
	if err := s.store.DeleteTask(ctx, identity.UserID, id); err != nil {
		if errors.Is(err, repository.ErrTaskNotFound) {
			return ErrTaskNotFound
		}
		return fmt.Errorf("delete task: %w", err)
	}

	s.metrics.IncTaskDeleted()

	return nil
}

// validateTitle trims and bounds the title. Returns the trimmed value.
func validateTitle(title string) (string, error) {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return "", ErrTitleRequired
	}
	if utf8.RuneCountInString(trimmed) > model.MaxTitleLength {
		return "", ErrTitleTooLong
	}
	return trimmed, nil
}

func validateDescription(description string) error {
	if utf8.RuneCountInString(description) > model.MaxDescriptionLength {
		return ErrDescriptionTooLong
	}
	return nil
}

// normalizeTags trims, deduplicates, and bounds tags. Order of first
// occurrence is preserved. Returns a non-nil slice so the stored value
// is always a valid array.
func normalizeTags(tags []string) ([]string, error) {
	normalized := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))

	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" || utf8.RuneCountInString(trimmed) > model.MaxTagLength {
			return nil, ErrTagInvalid
		}
		if _, dup := seen[trimmed]; dup {
			continue
		}
		seen[trimmed] = struct{}{}
		normalized = append(normalized, trimmed)
	}

	if len(normalized) > model.MaxTagsPerTask {
		return nil, ErrTooManyTags
	}

	return normalized, nil
}
