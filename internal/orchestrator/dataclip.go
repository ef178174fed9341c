package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"github.com/loomery/loom/internal/redaction"
	"github.com/loomery/loom/pkg/schema"
)

// ReadRequest describes a dataclip view. RunID and StepID select the
// redaction viewpoint; Query is an optional jq filter applied before
// redaction; IfNoneMatch short-circuits unchanged reads.
type ReadRequest struct {
	DataclipID  string `json:"dataclip_id"`
	RunID       string `json:"run_id,omitempty"`
	StepID      string `json:"step_id,omitempty"`
	Query       string `json:"query,omitempty"`
	IfNoneMatch string `json:"if_none_match,omitempty"`
}

// ReadResult is a redacted dataclip view. When NotModified is set the body is
// omitted; the token alone tells the caller their cached copy is current.
type ReadResult struct {
	Body        string `json:"body,omitempty"`
	Token       string `json:"token"`
	NotModified bool   `json:"not_modified,omitempty"`
}

// ReadDataclip renders a dataclip for display. The stored body is never
// mutated: filtering and masking are computed fresh per view.
func (o *Orchestrator) ReadDataclip(ctx context.Context, req ReadRequest) (*ReadResult, error) {
	dc, err := o.store.GetDataclip(ctx, req.DataclipID)
	if err != nil {
		return nil, err
	}
	if dc.WipedAt != nil {
		return nil, schema.NewErrorf(schema.ErrCodeDataclipWiped,
			"dataclip %q has been wiped", dc.ID).
			WithDetails(map[string]any{"wiped_at": dc.WipedAt})
	}

	body := dc.Body
	if req.Query != "" {
		body, err = o.filterBody(ctx, body, req.Query)
		if err != nil {
			return nil, err
		}
	}

	var text string
	if req.RunID != "" && req.StepID != "" {
		text, err = o.redactForStep(ctx, body, req.RunID, req.StepID)
	} else {
		text, err = redaction.Redact(body, nil)
	}
	if err != nil {
		return nil, err
	}

	token := viewToken(text)
	if req.IfNoneMatch != "" && req.IfNoneMatch == token {
		return &ReadResult{Token: token, NotModified: true}, nil
	}
	return &ReadResult{Body: text, Token: token}, nil
}

// filterBody applies a jq expression to the dataclip body.
func (o *Orchestrator) filterBody(ctx context.Context, body json.RawMessage, query string) (json.RawMessage, error) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"jq filter requires a JSON object body: %s", err.Error()).WithCause(err)
	}
	out, err := o.jq.Evaluate(ctx, query, parsed)
	if err != nil {
		return nil, err
	}
	filtered, err := json.Marshal(out)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution,
			"encode filtered body: %s", err.Error()).WithCause(err)
	}
	return filtered, nil
}

// redactForStep masks the body from the viewpoint of one step of a run.
func (o *Orchestrator) redactForStep(ctx context.Context, body json.RawMessage, runID, stepID string) (string, error) {
	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return "", err
	}
	snap, err := o.store.GetSnapshot(ctx, run.SnapshotID)
	if err != nil {
		return "", err
	}
	steps, err := o.store.ListRunSteps(ctx, runID)
	if err != nil {
		return "", err
	}
	return o.redactor.RedactForView(ctx, body, redaction.ViewContext{
		Steps:           steps,
		Jobs:            snap.Graph.Jobs,
		ViewpointStepID: stepID,
	})
}

// viewToken derives the conditional-read token from the rendered view text.
// FNV-1a over the redacted output: equal views produce equal tokens, and the
// token reveals nothing the view itself does not.
func viewToken(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%016x", h.Sum64())
}
