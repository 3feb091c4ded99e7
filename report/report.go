// Package report renders the operator-facing output of a pipeline run: the
// definition about to be applied, the service acknowledgements, the status
// after each poll and the final step table.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"

	"pipeline-runner/pipeline"
)

// PrettyJSON re-indents a JSON document with sorted object keys. Numbers are
// kept as their original literals so the output parses back to the same value.
func PrettyJSON(raw string) (string, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return "", errors.Wrap(err, "failed to parse definition")
	}
	if dec.More() {
		return "", errors.New("failed to parse definition: trailing data after document")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", errors.Wrap(err, "failed to render definition")
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n")), nil
}

// Reporter writes progress lines for a single run.
type Reporter struct {
	w io.Writer
}

func New(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Definition prints the definition that is about to be upserted.
func (r *Reporter) Definition(name, raw string) error {
	pretty, err := PrettyJSON(raw)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.w, "###### Creating/updating pipeline %s with the following definition:\n", name)
	fmt.Fprintln(r.w, pretty)
	return nil
}

func (r *Reporter) UpsertResponse(result *pipeline.UpsertResult) {
	fmt.Fprintln(r.w, "\n###### Created/Updated pipeline: Response received:")
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(r.w, "%+v\n", *result)
		return
	}
	fmt.Fprintln(r.w, string(data))
}

func (r *Reporter) ExecutionStarted(arn string) {
	fmt.Fprintf(r.w, "\n###### Execution started with PipelineExecutionArn: %s\n", arn)
}

func (r *Reporter) Status(status pipeline.ExecutionStatus) {
	fmt.Fprintf(r.w, "\n###### Pipeline status is %s\n", status)
}

func (r *Reporter) Waiting(maxWait time.Duration) {
	fmt.Fprintf(r.w, "Waiting for the execution to finish (up to %s)...\n", maxWait)
}

func (r *Reporter) Stopped() {
	fmt.Fprintln(r.w, "\n###### Execution Stopped...")
}

// Steps prints the execution steps as a table.
func (r *Reporter) Steps(steps []pipeline.Step) {
	fmt.Fprintln(r.w, "\n###### Execution step details:")
	table := tablewriter.NewWriter(r.w)
	table.SetHeader([]string{"Step", "Status", "Start Time", "End Time", "Duration", "Failure Reason"})
	for _, step := range steps {
		duration := "N/A"
		if d := step.Duration(); d > 0 {
			duration = d.String()
		}
		table.Append([]string{
			step.Name,
			step.Status,
			formatTime(step.StartTime),
			formatTime(step.EndTime),
			duration,
			step.FailureReason,
		})
	}
	table.Render()
}

func (r *Reporter) FinalStatus(status pipeline.ExecutionStatus) {
	r.Status(status)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}
