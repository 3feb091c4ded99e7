// Package stepfunctions binds pipeline definitions to AWS Step Functions
// state machines. Standard workflow executions are followed through the
// execution history API; Express workflow executions through the CloudWatch
// Logs group configured on the state machine.
package stepfunctions

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/cockroachdb/errors"

	"pipeline-runner/pipeline"
)

// SFNAPI is the subset of the Step Functions client used by the runner.
type SFNAPI interface {
	CreateStateMachine(ctx context.Context, params *sfn.CreateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.CreateStateMachineOutput, error)
	UpdateStateMachine(ctx context.Context, params *sfn.UpdateStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.UpdateStateMachineOutput, error)
	ListStateMachines(ctx context.Context, params *sfn.ListStateMachinesInput, optFns ...func(*sfn.Options)) (*sfn.ListStateMachinesOutput, error)
	DescribeStateMachine(ctx context.Context, params *sfn.DescribeStateMachineInput, optFns ...func(*sfn.Options)) (*sfn.DescribeStateMachineOutput, error)
	TagResource(ctx context.Context, params *sfn.TagResourceInput, optFns ...func(*sfn.Options)) (*sfn.TagResourceOutput, error)
	StartExecution(ctx context.Context, params *sfn.StartExecutionInput, optFns ...func(*sfn.Options)) (*sfn.StartExecutionOutput, error)
	DescribeExecution(ctx context.Context, params *sfn.DescribeExecutionInput, optFns ...func(*sfn.Options)) (*sfn.DescribeExecutionOutput, error)
	GetExecutionHistory(ctx context.Context, params *sfn.GetExecutionHistoryInput, optFns ...func(*sfn.Options)) (*sfn.GetExecutionHistoryOutput, error)
}

// LogsAPI is the subset of the CloudWatch Logs client used for Express workflows.
type LogsAPI interface {
	FilterLogEvents(ctx context.Context, params *cloudwatchlogs.FilterLogEventsInput, optFns ...func(*cloudwatchlogs.Options)) (*cloudwatchlogs.FilterLogEventsOutput, error)
}

type Service struct {
	sfnClient  SFNAPI
	logsClient LogsAPI
	smType     types.StateMachineType
}

// NewService builds a service from an AWS config. smType is STANDARD or EXPRESS.
func NewService(cfg aws.Config, smType string) *Service {
	return NewServiceWithAPI(sfn.NewFromConfig(cfg), cloudwatchlogs.NewFromConfig(cfg), smType)
}

func NewServiceWithAPI(sfnClient SFNAPI, logsClient LogsAPI, smType string) *Service {
	t := types.StateMachineTypeStandard
	if strings.EqualFold(smType, string(types.StateMachineTypeExpress)) {
		t = types.StateMachineTypeExpress
	}
	return &Service{sfnClient: sfnClient, logsClient: logsClient, smType: t}
}

// Definition implements pipeline.Backend. document is an Amazon States Language definition.
func (s *Service) Definition(name, document string) pipeline.Definition {
	return &StateMachine{svc: s, name: name, document: document}
}

// findStateMachine returns the ARN of the state machine called name.
func (s *Service) findStateMachine(ctx context.Context, name string) (string, error) {
	paginator := sfn.NewListStateMachinesPaginator(s.sfnClient, &sfn.ListStateMachinesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", errors.Wrap(err, "failed to list state machines")
		}
		for _, sm := range page.StateMachines {
			if aws.ToString(sm.Name) == name {
				return aws.ToString(sm.StateMachineArn), nil
			}
		}
	}
	return "", errors.Newf("state machine %s not found", name)
}

// logGroupName returns the CloudWatch Logs group an Express state machine logs to.
func (s *Service) logGroupName(ctx context.Context, stateMachineArn string) (string, error) {
	result, err := s.sfnClient.DescribeStateMachine(ctx, &sfn.DescribeStateMachineInput{
		StateMachineArn: aws.String(stateMachineArn),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to describe state machine %s", stateMachineArn)
	}

	if result.LoggingConfiguration == nil || len(result.LoggingConfiguration.Destinations) == 0 {
		return "", errors.Newf("logging not enabled for Express Workflow %s", aws.ToString(result.Name))
	}
	dest := result.LoggingConfiguration.Destinations[0].CloudWatchLogsLogGroup
	if dest == nil || dest.LogGroupArn == nil {
		return "", errors.Newf("no CloudWatch Log Group configured for %s", aws.ToString(result.Name))
	}
	return logGroupFromArn(*dest.LogGroupArn)
}

// logGroupFromArn extracts the group name from
// arn:aws:logs:region:account:log-group:NAME[:*].
func logGroupFromArn(arn string) (string, error) {
	parts := strings.SplitN(arn, ":log-group:", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", errors.Newf("malformed log group ARN %s", arn)
	}
	return strings.Split(parts[1], ":")[0], nil
}
