package domain

import "time"

// ResourceClass identifies the admission pool a job passes through.
type ResourceClass string

const (
	ResourceImage ResourceClass = "image"
	ResourceVideo ResourceClass = "video"
)

// JobStatus enumerates generation job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusGenerating JobStatus = "generating"
	JobStatusComplete   JobStatus = "complete"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusError
}

// GenerationJob tracks one call to a generative service for one shot.
type GenerationJob struct {
	ID         string
	Class      ResourceClass
	ShotID     int64
	Status     JobStatus
	ResultPath *string
	Error      *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
