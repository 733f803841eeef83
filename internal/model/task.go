// Package model defines domain entities for the application.
package model

import "time"

// Task field limits enforced at the service layer.
const (
	MaxTitleLength       = 500
	MaxDescriptionLength = 4000
	MaxTagLength         = 50
	MaxTagsPerTask       = 20
)

// Task represents a single to-do item. A task belongs to exactly one owner;
// ownership is fixed at creation and never transferable.
type Task struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"-"` // Resolved server-side, never client-settable
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Completed   bool      `json:"completed"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskPatch carries a partial update. Nil fields are left unchanged.
type TaskPatch struct {
	Title       *string
	Description *string
	Completed   *bool
	Tags        *[]string
}

// IsEmpty returns true if the patch changes nothing.
func (p *TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Completed == nil && p.Tags == nil
}
