package stepfunctions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/cockroachdb/errors"

	"pipeline-runner/pipeline"
)

// Execution is a state machine execution.
type Execution struct {
	svc             *Service
	arn             string
	stateMachineArn string
	express         bool
	logGroup        string
	startTime       time.Time
}

func (e *Execution) Arn() string { return e.arn }

func (e *Execution) Describe(ctx context.Context) (*pipeline.ExecutionDescription, error) {
	if e.express {
		events, err := e.expressEvents(ctx)
		if err != nil {
			return nil, err
		}
		status, reason := executionStatus(events)
		return &pipeline.ExecutionDescription{Arn: e.arn, Status: status, FailureReason: reason}, nil
	}

	out, err := e.svc.sfnClient.DescribeExecution(ctx, &sfn.DescribeExecutionInput{
		ExecutionArn: aws.String(e.arn),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to describe execution %s", e.arn)
	}
	return &pipeline.ExecutionDescription{
		Arn:           e.arn,
		Status:        parseStatus(string(out.Status)),
		FailureReason: failureReason(aws.ToString(out.Error), aws.ToString(out.Cause)),
	}, nil
}

func (e *Execution) ListSteps(ctx context.Context) ([]pipeline.Step, error) {
	var events []historyEvent
	var err error
	if e.express {
		events, err = e.expressEvents(ctx)
	} else {
		events, err = e.standardEvents(ctx)
	}
	if err != nil {
		return nil, err
	}
	return foldSteps(events), nil
}

func (e *Execution) standardEvents(ctx context.Context) ([]historyEvent, error) {
	var events []historyEvent
	input := &sfn.GetExecutionHistoryInput{
		ExecutionArn: aws.String(e.arn),
	}

	paginator := sfn.NewGetExecutionHistoryPaginator(e.svc.sfnClient, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get execution history of %s", e.arn)
		}
		for _, ev := range page.Events {
			he := historyEvent{Type: string(ev.Type), Timestamp: aws.ToTime(ev.Timestamp)}
			switch {
			case ev.StateEnteredEventDetails != nil:
				he.Name = aws.ToString(ev.StateEnteredEventDetails.Name)
			case ev.StateExitedEventDetails != nil:
				he.Name = aws.ToString(ev.StateExitedEventDetails.Name)
			case ev.ExecutionFailedEventDetails != nil:
				he.Error = failureReason(aws.ToString(ev.ExecutionFailedEventDetails.Error), aws.ToString(ev.ExecutionFailedEventDetails.Cause))
			case ev.ExecutionTimedOutEventDetails != nil:
				he.Error = failureReason(aws.ToString(ev.ExecutionTimedOutEventDetails.Error), aws.ToString(ev.ExecutionTimedOutEventDetails.Cause))
			case ev.ExecutionAbortedEventDetails != nil:
				he.Error = failureReason(aws.ToString(ev.ExecutionAbortedEventDetails.Error), aws.ToString(ev.ExecutionAbortedEventDetails.Cause))
			}
			events = append(events, he)
		}
	}
	return events, nil
}

// expressLogEvent is one Step Functions log record as written to CloudWatch Logs.
type expressLogEvent struct {
	Type         string `json:"type"`
	ExecutionArn string `json:"execution_arn"`
	Details      struct {
		Name  string `json:"name"`
		Error string `json:"error"`
		Cause string `json:"cause"`
	} `json:"details"`
}

// expressEvents reads the execution's history back from CloudWatch Logs.
// Express workflows have no history API, so logging must be enabled on the
// state machine.
func (e *Execution) expressEvents(ctx context.Context) ([]historyEvent, error) {
	if e.logGroup == "" {
		group, err := e.svc.logGroupName(ctx, e.stateMachineArn)
		if err != nil {
			return nil, err
		}
		e.logGroup = group
	}

	input := &cloudwatchlogs.FilterLogEventsInput{
		LogGroupName:  aws.String(e.logGroup),
		FilterPattern: aws.String(fmt.Sprintf(`{ $.execution_arn = "%s" }`, e.arn)),
	}
	if !e.startTime.IsZero() {
		input.StartTime = aws.Int64(e.startTime.UnixMilli())
	}

	var events []historyEvent
	paginator := cloudwatchlogs.NewFilterLogEventsPaginator(e.svc.logsClient, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to query CloudWatch Logs group %s", e.logGroup)
		}
		for _, ev := range page.Events {
			var rec expressLogEvent
			if err := json.Unmarshal([]byte(aws.ToString(ev.Message)), &rec); err != nil {
				continue
			}
			if rec.ExecutionArn != e.arn {
				continue
			}
			events = append(events, historyEvent{
				Type:      rec.Type,
				Name:      rec.Details.Name,
				Error:     failureReason(rec.Details.Error, rec.Details.Cause),
				Timestamp: time.UnixMilli(aws.ToInt64(ev.Timestamp)).UTC(),
			})
		}
	}
	return events, nil
}

func failureReason(errName, cause string) string {
	switch {
	case errName == "":
		return cause
	case cause == "":
		return errName
	default:
		return errName + ": " + cause
	}
}
