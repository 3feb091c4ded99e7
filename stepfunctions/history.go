package stepfunctions

import (
	"strings"
	"time"

	"pipeline-runner/pipeline"
)

// historyEvent is the part of an execution history event the runner needs,
// from either GetExecutionHistory or CloudWatch Logs.
type historyEvent struct {
	Type      string
	Name      string
	Error     string
	Timestamp time.Time
}

// Step status labels as reported in the step table.
const (
	stepExecuting = "Executing"
	stepSucceeded = "Succeeded"
	stepFailed    = "Failed"
	stepStopped   = "Stopped"
)

// parseStatus maps an sfn execution status. PENDING_REDRIVE is a failed
// execution that may be redriven later.
func parseStatus(status string) pipeline.ExecutionStatus {
	if status == "PENDING_REDRIVE" {
		return pipeline.StatusFailed
	}
	return pipeline.ParseStatus(status)
}

// executionStatus derives the execution status from its history.
func executionStatus(events []historyEvent) (pipeline.ExecutionStatus, string) {
	status, reason := pipeline.StatusExecuting, ""
	for _, ev := range events {
		switch ev.Type {
		case "ExecutionSucceeded":
			status = pipeline.StatusSucceeded
		case "ExecutionFailed", "ExecutionTimedOut":
			status, reason = pipeline.StatusFailed, ev.Error
		case "ExecutionAborted":
			status, reason = pipeline.StatusStopped, ev.Error
		}
	}
	return status, reason
}

// foldSteps turns state entered/exited events into ordered steps. A state
// entered again before it exits (Map iterations, Parallel branches) opens
// another step; exits close the oldest open step of that name. Steps still
// open when the execution ends take the execution's outcome.
func foldSteps(events []historyEvent) []pipeline.Step {
	var steps []pipeline.Step
	open := make(map[string][]int)

	closeOpen := func(status, reason string, at time.Time) {
		for name, indexes := range open {
			for _, i := range indexes {
				steps[i].Status = status
				steps[i].EndTime = at
				steps[i].FailureReason = reason
			}
			delete(open, name)
		}
	}

	for _, ev := range events {
		switch {
		case strings.HasSuffix(ev.Type, "StateEntered"):
			open[ev.Name] = append(open[ev.Name], len(steps))
			steps = append(steps, pipeline.Step{Name: ev.Name, Status: stepExecuting, StartTime: ev.Timestamp})
		case strings.HasSuffix(ev.Type, "StateExited"):
			pending := open[ev.Name]
			if len(pending) == 0 {
				continue
			}
			i := pending[0]
			steps[i].Status = stepSucceeded
			steps[i].EndTime = ev.Timestamp
			if len(pending) == 1 {
				delete(open, ev.Name)
			} else {
				open[ev.Name] = pending[1:]
			}
		case ev.Type == "ExecutionFailed" || ev.Type == "ExecutionTimedOut":
			closeOpen(stepFailed, ev.Error, ev.Timestamp)
		case ev.Type == "ExecutionAborted":
			closeOpen(stepStopped, ev.Error, ev.Timestamp)
		}
	}
	return steps
}
