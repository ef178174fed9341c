package schema

import "encoding/json"

// Graph is the JSON-serializable workflow graph: triggers and jobs connected
// by conditional edges. Slice order is significant: edge firing and start-node
// resolution are order-preserving with respect to it.
type Graph struct {
	Jobs     []Job     `json:"jobs"`
	Triggers []Trigger `json:"triggers"`
	Edges    []Edge    `json:"edges"`
}

// Job is an executable node in the graph. Body is opaque code handed to the
// external job executor; the engine never interprets it.
type Job struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Adaptor      string `json:"adaptor,omitempty"`
	Body         string `json:"body,omitempty"`
	CredentialID string `json:"credential_id,omitempty"`
	Enabled      bool   `json:"enabled"`
}

// TriggerType enumerates the kinds of triggers.
type TriggerType string

const (
	TriggerTypeWebhook TriggerType = "webhook"
	TriggerTypeCron    TriggerType = "cron"
	TriggerTypeManual  TriggerType = "manual"
)

// Trigger is an entry node in the graph.
type Trigger struct {
	ID             string      `json:"id"`
	Type           TriggerType `json:"type"`
	CronExpression string      `json:"cron_expression,omitempty"`
	Enabled        bool        `json:"enabled"`
}

// ConditionType enumerates the edge firing conditions.
type ConditionType string

const (
	ConditionAlways       ConditionType = "always"
	ConditionOnSuccess    ConditionType = "on_success"
	ConditionOnFailure    ConditionType = "on_failure"
	ConditionJSExpression ConditionType = "js_expression"
)

// Edge connects a trigger or a job to a target job. The source columns mirror
// the stored shape, where both may be set on malformed records; use Source()
// for the normalized classification.
type Edge struct {
	ID                  string        `json:"id"`
	SourceTriggerID     string        `json:"source_trigger_id,omitempty"`
	SourceJobID         string        `json:"source_job_id,omitempty"`
	TargetJobID         string        `json:"target_job_id,omitempty"`
	ConditionType       ConditionType `json:"condition_type"`
	ConditionExpression string        `json:"condition_expression,omitempty"`
	Enabled             bool          `json:"enabled"`
}

// EdgeSourceKind tags the EdgeSource union.
type EdgeSourceKind int

const (
	// SourceNone marks an edge with no source at all (structurally incomplete).
	SourceNone EdgeSourceKind = iota
	// SourceTrigger marks an edge originating at a trigger.
	SourceTrigger
	// SourceJob marks an edge originating at a job.
	SourceJob
)

// EdgeSource is the tagged union of an edge's origin: exactly one of a trigger
// or a job. Dual-set records are normalized at this boundary rather than
// propagated into traversal logic.
type EdgeSource struct {
	Kind EdgeSourceKind
	ID   string
}

// Source classifies the edge's origin. When both source columns are set
// (malformed data), the trigger takes precedence.
func (e Edge) Source() EdgeSource {
	if e.SourceTriggerID != "" {
		return EdgeSource{Kind: SourceTrigger, ID: e.SourceTriggerID}
	}
	if e.SourceJobID != "" {
		return EdgeSource{Kind: SourceJob, ID: e.SourceJobID}
	}
	return EdgeSource{Kind: SourceNone}
}

// WorkflowPayload is the save-request shape accepted by the snapshot manager.
// Positions are display metadata, opaque to the engine.
type WorkflowPayload struct {
	Name      string          `json:"name,omitempty"`
	Graph     Graph           `json:"graph"`
	Positions json.RawMessage `json:"positions,omitempty"`
}
