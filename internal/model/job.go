package model

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle state of a transcription job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// EngineName selects which speech-to-text provider processes a job
type EngineName string

const (
	EngineEboo   EngineName = "eboo"
	EngineVira   EngineName = "vira"
	EngineScribe EngineName = "scribe"
)

// Job represents one user's request to transcribe one audio file
type Job struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	Title           *string    `json:"title,omitempty"`
	Engine          EngineName `json:"engine"`
	AudioPath       string     `json:"audio_path"`
	Status          Status     `json:"status"`
	Transcript      *string    `json:"transcript,omitempty"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	CancelRequested bool       `json:"cancel_requested"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
}

// IsTerminal reports whether a status admits no further transitions.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition enforces the allowed state machine edges.
// pending may go to processing (admission) or straight to cancelled
// (queued job deleted before it ever ran); processing only ends in a
// terminal state.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusCancelled
	case StatusProcessing:
		return to.IsTerminal()
	default:
		return false
	}
}

// ValidEngine reports whether name is one of the supported providers.
func ValidEngine(name EngineName) bool {
	switch name {
	case EngineEboo, EngineVira, EngineScribe:
		return true
	default:
		return false
	}
}
