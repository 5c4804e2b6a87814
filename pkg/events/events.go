// Package events defines the messages exchanged between the API and the workers over the event bus.
package events

import (
	"time"

	"github.com/dukex/canvasflow/pkg/models"
)

type EventType string

// Topic carries every run event.
const Topic = "canvasflow.runs"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	RunRequestedEvent       EventType = "run.requested"
	RunCancelRequestedEvent EventType = "run.cancel_requested"
	RunFinishedEvent        EventType = "run.finished"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NewBaseEvent stamps a new event of eventType.
func NewBaseEvent(id string, eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         id,
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
	}
}

// RunRequested asks a worker to execute a graph for an already created
// PENDING run. The graph travels with the event so edits to a saved workflow
// do not affect queued runs.
type RunRequested struct {
	BaseEvent

	RunID         string        `json:"run_id"`
	Nodes         []models.Node `json:"nodes"`
	Edges         []models.Edge `json:"edges"`
	StrictHandles bool          `json:"strict_handles,omitempty"`
}

func (e RunRequested) GetType() EventType {
	return RunRequestedEvent
}

// RunCancelRequested asks the worker executing RunID to stop it.
type RunCancelRequested struct {
	BaseEvent

	RunID  string `json:"run_id"`
	Reason string `json:"reason,omitempty"`
}

func (e RunCancelRequested) GetType() EventType {
	return RunCancelRequestedEvent
}

// RunFinished reports the terminal status of a run.
type RunFinished struct {
	BaseEvent

	RunID    string           `json:"run_id"`
	Status   models.RunStatus `json:"status"`
	Error    string           `json:"error,omitempty"`
	Duration time.Duration    `json:"duration"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}
