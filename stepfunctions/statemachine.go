package stepfunctions

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sfn/types"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"pipeline-runner/pipeline"
)

// StateMachine is a state machine definition keyed by its name.
type StateMachine struct {
	svc      *Service
	name     string
	document string
	arn      string
}

func (m *StateMachine) Name() string { return m.name }

func (m *StateMachine) Definition() (string, error) {
	if err := validateDefinition(m.document); err != nil {
		return "", err
	}
	return m.document, nil
}

// Upsert creates the state machine, or updates it and its tags when one with
// the same name exists. A description publishes a new version carrying it.
func (m *StateMachine) Upsert(ctx context.Context, req pipeline.UpsertRequest) (*pipeline.UpsertResult, error) {
	if err := validateDefinition(m.document); err != nil {
		return nil, err
	}

	created, err := m.svc.sfnClient.CreateStateMachine(ctx, &sfn.CreateStateMachineInput{
		Name:               aws.String(m.name),
		Definition:         aws.String(m.document),
		RoleArn:            aws.String(req.RoleArn),
		Type:               m.svc.smType,
		Tags:               toTags(req.Tags),
		Publish:            req.Description != "",
		VersionDescription: optionalString(req.Description),
	})
	if err == nil {
		m.arn = aws.ToString(created.StateMachineArn)
		return &pipeline.UpsertResult{
			PipelineArn: m.arn,
			Action:      pipeline.ActionCreated,
			Response: map[string]string{
				"StateMachineArn":        m.arn,
				"StateMachineVersionArn": aws.ToString(created.StateMachineVersionArn),
			},
		}, nil
	}
	var exists *types.StateMachineAlreadyExists
	if !errors.As(err, &exists) {
		return nil, errors.Wrapf(err, "failed to create state machine %s", m.name)
	}

	arn, err := m.svc.findStateMachine(ctx, m.name)
	if err != nil {
		return nil, err
	}
	updated, err := m.svc.sfnClient.UpdateStateMachine(ctx, &sfn.UpdateStateMachineInput{
		StateMachineArn:    aws.String(arn),
		Definition:         aws.String(m.document),
		RoleArn:            aws.String(req.RoleArn),
		Publish:            req.Description != "",
		VersionDescription: optionalString(req.Description),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to update state machine %s", arn)
	}
	if len(req.Tags) > 0 {
		if _, err := m.svc.sfnClient.TagResource(ctx, &sfn.TagResourceInput{
			ResourceArn: aws.String(arn),
			Tags:        toTags(req.Tags),
		}); err != nil {
			return nil, errors.Wrapf(err, "failed to tag state machine %s", arn)
		}
	}

	m.arn = arn
	return &pipeline.UpsertResult{
		PipelineArn: arn,
		Action:      pipeline.ActionUpdated,
		Response: map[string]string{
			"StateMachineArn":        arn,
			"StateMachineVersionArn": aws.ToString(updated.StateMachineVersionArn),
			"RevisionId":             aws.ToString(updated.RevisionId),
		},
	}, nil
}

// Start begins a new execution with a unique name.
func (m *StateMachine) Start(ctx context.Context) (pipeline.Execution, error) {
	if m.arn == "" {
		arn, err := m.svc.findStateMachine(ctx, m.name)
		if err != nil {
			return nil, err
		}
		m.arn = arn
	}

	out, err := m.svc.sfnClient.StartExecution(ctx, &sfn.StartExecutionInput{
		StateMachineArn: aws.String(m.arn),
		Name:            aws.String(uuid.NewString()),
		Input:           aws.String("{}"),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start state machine %s", m.arn)
	}
	return &Execution{
		svc:             m.svc,
		arn:             aws.ToString(out.ExecutionArn),
		stateMachineArn: m.arn,
		express:         m.svc.smType == types.StateMachineTypeExpress,
		startTime:       aws.ToTime(out.StartDate),
	}, nil
}

// validateDefinition checks that an Amazon States Language document names a
// StartAt state that it defines.
func validateDefinition(definition string) error {
	var aslDef struct {
		StartAt string                            `json:"StartAt"`
		States  map[string]map[string]interface{} `json:"States"`
	}
	if err := json.Unmarshal([]byte(definition), &aslDef); err != nil {
		return errors.Wrap(err, "failed to unmarshal ASL definition")
	}
	if aslDef.StartAt == "" || len(aslDef.States) == 0 {
		return errors.New("ASL definition needs StartAt and at least one state")
	}
	if _, ok := aslDef.States[aslDef.StartAt]; !ok {
		return errors.Newf("StartAt state %q is not defined", aslDef.StartAt)
	}
	return nil
}

func toTags(tags []pipeline.Tag) []types.Tag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]types.Tag, 0, len(tags))
	for _, t := range tags {
		out = append(out, types.Tag{Key: aws.String(t.Key), Value: aws.String(t.Value)})
	}
	return out
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
