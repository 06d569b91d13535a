package models

import (
	"time"

	"github.com/google/uuid"
)

// Stage identifies a pipeline stage in the audit trail.
type Stage string

const (
	StageUpload   Stage = "upload"
	StageParse    Stage = "parse"
	StageClassify Stage = "classify"
	StagePack     Stage = "pack" // chunking + indexing
	StageExtract  Stage = "extract"
	StageValidate Stage = "validate"
	StageLink     Stage = "link" // entity resolution
	StageStaging  Stage = "stage"
	StageClarify  Stage = "clarify"
	StageCommit   Stage = "commit"
	StageError    Stage = "error"
)

// IsValid returns true for a known stage.
func (s Stage) IsValid() bool {
	switch s {
	case StageUpload, StageParse, StageClassify, StagePack, StageExtract,
		StageValidate, StageLink, StageStaging, StageClarify, StageCommit,
		StageError:
		return true
	default:
		return false
	}
}

// EventStatus is the outcome recorded for a stage attempt.
type EventStatus string

const (
	EventStart EventStatus = "start"
	EventOK    EventStatus = "ok"
	EventRetry EventStatus = "retry"
	EventFail  EventStatus = "fail"
)

// IsTerminal returns true if the status closes a stage attempt. A start
// event without a matching terminal event marks an interrupted run.
func (s EventStatus) IsTerminal() bool {
	return s == EventOK || s == EventRetry || s == EventFail
}

// IngestEvent is one append-only audit record. Events for a document are
// monotonically ordered and form a complete replayable history of every
// attempt, which is what makes the pipeline restartable after a crash.
type IngestEvent struct {
	ID         uuid.UUID      `json:"id"`
	DocumentID uuid.UUID      `json:"document_id"`
	Stage      Stage          `json:"stage"`
	Status     EventStatus    `json:"status"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
