// Package redaction masks credential secret values in displayed dataclips.
// Redaction is order-aware: only secrets belonging to jobs whose steps started
// at or before the viewed step are in scope; a later job's secret must not be
// treated as already exposed by an earlier step's output.
package redaction

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/loomery/loom/internal/store"
	"github.com/loomery/loom/pkg/schema"
)

// SecretSource resolves the scalar secret values of a credential.
// Satisfied by secrets.Vault.
type SecretSource interface {
	ScalarValues(ctx context.Context, credentialID string) ([]string, error)
}

// Engine computes redacted views of dataclip bodies. It never mutates stored
// payloads; every view is computed fresh.
type Engine struct {
	secrets SecretSource
}

// NewEngine creates a redaction engine backed by the given secret source.
func NewEngine(secrets SecretSource) *Engine {
	return &Engine{secrets: secrets}
}

// ViewContext describes the viewpoint from which a dataclip is displayed.
type ViewContext struct {
	// Steps is the run's step list, ordered by started_at with ties broken
	// by insertion order (the order ListRunSteps returns).
	Steps []*store.Step
	// Jobs is the bound snapshot's job list, carrying credential references.
	Jobs []schema.Job
	// ViewpointStepID is the step whose output is being viewed.
	ViewpointStepID string
}

// SecretsInScope returns the union of scalar leaf values of every credential
// attached to jobs whose steps started at or before the viewpoint step.
// Secrets are returned longest-first, ready for MaskLine.
func (e *Engine) SecretsInScope(ctx context.Context, vc ViewContext) ([]string, error) {
	idx := -1
	for i, st := range vc.Steps {
		if st.ID == vc.ViewpointStepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "step %q not part of the run", vc.ViewpointStepID)
	}

	credByJob := make(map[string]string, len(vc.Jobs))
	for _, j := range vc.Jobs {
		if j.CredentialID != "" {
			credByJob[j.ID] = j.CredentialID
		}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, st := range vc.Steps[:idx+1] {
		credID, ok := credByJob[st.JobID]
		if !ok {
			continue
		}
		if _, done := seen[credID]; done {
			continue
		}
		seen[credID] = struct{}{}

		values, err := e.secrets.ScalarValues(ctx, credID)
		if err != nil {
			return nil, err
		}
		out = append(out, values...)
	}

	// Longest-first so overlapping secrets mask cleanly.
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out, nil
}

// Redact renders the body in its display text form and masks every in-scope
// secret, line by line. The stored dataclip is untouched.
func Redact(body json.RawMessage, secrets []string) (string, error) {
	text, err := displayText(body)
	if err != nil {
		return "", err
	}
	if len(secrets) == 0 {
		return text, nil
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = MaskLine(line, secrets)
	}
	return strings.Join(lines, "\n"), nil
}

// RedactForView is the full view path: compute the in-scope secret set, then
// mask the body.
func (e *Engine) RedactForView(ctx context.Context, body json.RawMessage, vc ViewContext) (string, error) {
	secrets, err := e.SecretsInScope(ctx, vc)
	if err != nil {
		return "", err
	}
	return Redact(body, secrets)
}

// displayText pretty-prints a JSON body for viewing. Numbers keep their
// literal form so the masker sees the same text the credential recorded.
// Non-JSON bodies are displayed verbatim.
func displayText(body json.RawMessage) (string, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return string(body), nil
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
