package model

import "time"

// JobStatus represents the lifecycle state of a pipeline job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusStopped   JobStatus = "stopped"
)

// IsTerminal reports whether no further transitions are possible.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusStopped:
		return true
	}
	return false
}

// EventType names the change that produced a snapshot.
type EventType string

const (
	EventQueued       EventType = "queued"
	EventStarted      EventType = "started"
	EventStepStart    EventType = "step_start"
	EventProgress     EventType = "progress"
	EventStepComplete EventType = "step_complete"
	EventCompleted    EventType = "completed"
	EventFailed       EventType = "failed"
	EventStopped      EventType = "stopped"
)

// Material reports whether the event must always reach subscribers.
// Only progress ticks may be throttled.
func (e EventType) Material() bool {
	return e != EventProgress
}

// Final reports whether the event finalizes a job.
func (e EventType) Final() bool {
	switch e {
	case EventCompleted, EventFailed, EventStopped:
		return true
	}
	return false
}

// StepProgress holds per-step sub-counts for a job.
type StepProgress struct {
	Step      Step `json:"step"`
	Total     int  `json:"total"`
	Processed int  `json:"processed"`
	Succeeded int  `json:"succeeded"`
	Failed    int  `json:"failed"`
}

// Snapshot is a by-value view of a job at one point in time. Seq increases
// with every state change so observers can discard stale snapshots.
type Snapshot struct {
	ID             string         `json:"job_id" yaml:"job_id"`
	UploadID       int64          `json:"upload_id" yaml:"upload_id"`
	Steps          []Step         `json:"steps" yaml:"steps"`
	Status         JobStatus      `json:"status" yaml:"status"`
	Event          EventType      `json:"event" yaml:"event"`
	CurrentStep    Step           `json:"current_step,omitempty" yaml:"current_step,omitempty"`
	TotalItems     int            `json:"total_items" yaml:"total_items"`
	ProcessedItems int            `json:"processed_items" yaml:"processed_items"`
	Percent        float64        `json:"progress" yaml:"progress"`
	StepProgress   []StepProgress `json:"step_progress" yaml:"step_progress"`
	StopRequested  bool           `json:"stop_requested" yaml:"stop_requested"`
	Error          string         `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt      time.Time      `json:"started_at" yaml:"started_at"`
	FinishedAt     *time.Time     `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	Seq            uint64         `json:"seq" yaml:"seq"`
}

// Newer reports whether s supersedes prev.
func (s Snapshot) Newer(prev Snapshot) bool {
	return s.Seq > prev.Seq
}
