package types

import "time"

// TaskType is the declared kind of a task, mapped by the coordinator's
// routing table to a target agent type.
type TaskType string

const (
	TaskAnalyze       TaskType = "analyze"
	TaskReview        TaskType = "review"
	TaskGenerate      TaskType = "generate"
	TaskRefactor      TaskType = "refactor"
	TaskResearch      TaskType = "research"
	TaskReviewChanges TaskType = "review-changes"
)

// Task is a single unit of work submitted for routing.
type Task struct {
	ID           string         `json:"id"`
	Type         TaskType       `json:"type"`
	Priority     int            `json:"priority"`
	Payload      any            `json:"payload"`
	Requirements []string       `json:"requirements,omitempty"`
	Deadline     *time.Time     `json:"deadline,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// TaskContext carries caller-scoped context values alongside a task.
type TaskContext map[string]any
