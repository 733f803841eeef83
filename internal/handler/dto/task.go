package dto

import (
	"time"

	"github.com/taskdeck/taskdeck/internal/model"
)

// CreateTaskRequest represents the request body for creating a task.
type CreateTaskRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// UpdateTaskRequest represents a partial update. Absent fields are left
// unchanged; explicit nulls are not distinguished from absence.
type UpdateTaskRequest struct {
	Title       *string   `json:"title,omitempty"`
	Description *string   `json:"description,omitempty"`
	Completed   *bool     `json:"completed,omitempty"`
	Tags        *[]string `json:"tags,omitempty"`
}

// TaskResponse represents a task in API responses.
type TaskResponse struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskListResponse represents the caller's full task list.
type TaskListResponse struct {
	Data []TaskResponse `json:"data"`
}

// ToTaskResponse converts a Task model to TaskResponse DTO.
// The owner is implied by the authenticated caller and never serialized.
func ToTaskResponse(task *model.Task) *TaskResponse {
	tags := task.Tags
	if tags == nil {
		tags = []string{}
	}
	return &TaskResponse{
		ID:          task.ID,
		Title:       task.Title,
		Description: task.Description,
		Completed:   task.Completed,
		Tags:        tags,
		CreatedAt:   task.CreatedAt,
		UpdatedAt:   task.UpdatedAt,
	}
}

// ToTaskListResponse converts a slice of Task models to TaskListResponse.
func ToTaskListResponse(tasks []*model.Task) *TaskListResponse {
	responses := make([]TaskResponse, len(tasks))
	for i, task := range tasks {
		responses[i] = *ToTaskResponse(task)
	}
	return &TaskListResponse{Data: responses}
}
