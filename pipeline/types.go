package pipeline

import (
	"context"
	"strings"
	"time"
)

// ExecutionStatus is the state of a pipeline execution as reported by the orchestration service.
type ExecutionStatus int

const (
	StatusExecuting ExecutionStatus = iota
	StatusStopping
	StatusSucceeded
	StatusFailed
	StatusStopped
)

func (s ExecutionStatus) String() string {
	switch s {
	case StatusExecuting:
		return "Executing"
	case StatusStopping:
		return "Stopping"
	case StatusSucceeded:
		return "Succeeded"
	case StatusFailed:
		return "Failed"
	case StatusStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether polling must stop once s is observed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusStopped
}

// ParseStatus maps a service status label onto ExecutionStatus. Labels the
// runner does not know are treated as still executing.
func ParseStatus(label string) ExecutionStatus {
	switch strings.ToLower(strings.ReplaceAll(label, "_", "")) {
	case "succeeded":
		return StatusSucceeded
	case "failed", "timedout":
		return StatusFailed
	case "stopped", "aborted":
		return StatusStopped
	case "stopping":
		return StatusStopping
	default:
		return StatusExecuting
	}
}

// Tag is a key/value pair attached to the pipeline resource.
type Tag struct {
	Key   string `json:"Key" yaml:"Key"`
	Value string `json:"Value" yaml:"Value"`
}

// MergeTags returns base with extra applied on top. A key present in both keeps
// its position from base and takes its value from extra.
func MergeTags(base, extra []Tag) []Tag {
	merged := make([]Tag, 0, len(base)+len(extra))
	index := make(map[string]int, len(base)+len(extra))
	for _, group := range [][]Tag{base, extra} {
		for _, tag := range group {
			if i, ok := index[tag.Key]; ok {
				merged[i].Value = tag.Value
				continue
			}
			index[tag.Key] = len(merged)
			merged = append(merged, tag)
		}
	}
	return merged
}

// Step is one step record of an execution.
type Step struct {
	Name          string
	Status        string
	StartTime     time.Time
	EndTime       time.Time
	FailureReason string
}

// Duration is zero until the step has both timestamps.
func (s Step) Duration() time.Duration {
	if s.StartTime.IsZero() || s.EndTime.IsZero() {
		return 0
	}
	return s.EndTime.Sub(s.StartTime)
}

// ExecutionDescription is the result of describing an execution.
type ExecutionDescription struct {
	Arn           string
	Status        ExecutionStatus
	FailureReason string
}

// UpsertAction records whether an upsert created or updated the pipeline.
type UpsertAction string

const (
	ActionCreated UpsertAction = "created"
	ActionUpdated UpsertAction = "updated"
)

// UpsertResult acknowledges a create-or-update. Response holds the raw service
// output and is only ever printed.
type UpsertResult struct {
	PipelineArn string       `json:"PipelineArn"`
	Action      UpsertAction `json:"Action"`
	Response    any          `json:"Response,omitempty"`
}

// UpsertRequest carries the arguments of Definition.Upsert.
type UpsertRequest struct {
	RoleArn     string
	Description string
	Tags        []Tag
}

// Definition is a pipeline definition bound to an orchestration service.
type Definition interface {
	Name() string
	// Definition returns the JSON document of the pipeline.
	Definition() (string, error)
	Upsert(ctx context.Context, req UpsertRequest) (*UpsertResult, error)
	// Start always starts a new execution.
	Start(ctx context.Context) (Execution, error)
}

// Execution is a handle on one run of a Definition.
type Execution interface {
	Arn() string
	Describe(ctx context.Context) (*ExecutionDescription, error)
	ListSteps(ctx context.Context) ([]Step, error)
}

// Backend binds definition documents to an orchestration service.
type Backend interface {
	Definition(name, document string) Definition
}
