package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Conversion job statuses. queued and running are transient; succeeded and
// failed are terminal.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// Conversion sub-step names recorded in the outcome report
const (
	StepDispatch      = "workflow_dispatch"
	StepWorkflowWait  = "workflow_wait"
	StepToolLookup    = "tool_lookup"
	StepCategoryLinks = "category_links"
	StepMarkConverted = "mark_converted"
	StepNotifyEmail   = "notify_email"
)

// StepOutcome records whether one conversion sub-step succeeded
type StepOutcome struct {
	Step   string `json:"step"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// OutcomeReport is the ordered list of sub-step outcomes for a conversion job.
// Auxiliary sub-steps (category links, email) can fail without failing the
// job; the report is how those partial failures stay visible to operators.
type OutcomeReport []StepOutcome

// Value implements driver.Valuer
func (o OutcomeReport) Value() (driver.Value, error) {
	if o == nil {
		return nil, nil
	}
	return json.Marshal(o)
}

// Scan implements sql.Scanner
func (o *OutcomeReport) Scan(src interface{}) error {
	if src == nil {
		*o = nil
		return nil
	}
	data, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T into OutcomeReport", src)
	}
	return json.Unmarshal(data, o)
}

// ConversionJob tracks one asynchronous attempt to turn an approved intake
// into a published tool via the external build workflow
type ConversionJob struct {
	ID                 string        `db:"id" json:"id"`
	IntakeID           string        `db:"intake_id" json:"intake_id"`
	Status             string        `db:"status" json:"status"`
	WorkflowConclusion *string       `db:"workflow_conclusion" json:"workflow_conclusion,omitempty"`
	ToolID             *string       `db:"tool_id" json:"tool_id,omitempty"`
	Outcome            OutcomeReport `db:"outcome" json:"outcome,omitempty"`
	Error              *string       `db:"error" json:"error,omitempty"`
	RequestedBy        string        `db:"requested_by" json:"requested_by"`
	CreatedAt          time.Time     `db:"created_at" json:"created_at"`
	StartedAt          *time.Time    `db:"started_at" json:"started_at,omitempty"`
	FinishedAt         *time.Time    `db:"finished_at" json:"finished_at,omitempty"`
}
