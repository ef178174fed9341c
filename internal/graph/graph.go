// Package graph provides pure, stateless traversal over a snapshot's jobs,
// triggers, and edges. Nothing here touches storage; all functions are
// order-preserving with respect to the input edge list.
package graph

import (
	"github.com/loomery/loom/pkg/schema"
)

// Model wraps a graph with ID indexes for O(1) node lookup. The underlying
// slices are never mutated, so a Model can be shared across runs.
type Model struct {
	g        schema.Graph
	jobs     map[string]int // job ID → index into g.Jobs
	triggers map[string]int // trigger ID → index into g.Triggers
}

// New builds a Model over the given graph. Duplicate IDs keep the first
// occurrence; validation of duplicates is the validator's concern.
func New(g schema.Graph) *Model {
	m := &Model{
		g:        g,
		jobs:     make(map[string]int, len(g.Jobs)),
		triggers: make(map[string]int, len(g.Triggers)),
	}
	for i, j := range g.Jobs {
		if _, ok := m.jobs[j.ID]; !ok {
			m.jobs[j.ID] = i
		}
	}
	for i, t := range g.Triggers {
		if _, ok := m.triggers[t.ID]; !ok {
			m.triggers[t.ID] = i
		}
	}
	return m
}

// Job returns the job with the given ID, if present.
func (m *Model) Job(id string) (schema.Job, bool) {
	i, ok := m.jobs[id]
	if !ok {
		return schema.Job{}, false
	}
	return m.g.Jobs[i], true
}

// Trigger returns the trigger with the given ID, if present.
func (m *Model) Trigger(id string) (schema.Trigger, bool) {
	i, ok := m.triggers[id]
	if !ok {
		return schema.Trigger{}, false
	}
	return m.g.Triggers[i], true
}

// Jobs returns the graph's jobs in declaration order.
func (m *Model) Jobs() []schema.Job { return m.g.Jobs }

// Triggers returns the graph's triggers in declaration order.
func (m *Model) Triggers() []schema.Trigger { return m.g.Triggers }

// Edges returns the graph's edges in declaration order.
func (m *Model) Edges() []schema.Edge { return m.g.Edges }

// OutgoingEdgesFromJob returns the enabled edges whose source is the given
// job, in edge list order.
func (m *Model) OutgoingEdgesFromJob(jobID string) []schema.Edge {
	var out []schema.Edge
	for _, e := range m.g.Edges {
		if !e.Enabled {
			continue
		}
		if src := e.Source(); src.Kind == schema.SourceJob && src.ID == jobID {
			out = append(out, e)
		}
	}
	return out
}

// OutgoingEdgesFromTrigger returns the enabled edges whose source is the
// given trigger, in edge list order.
func (m *Model) OutgoingEdgesFromTrigger(triggerID string) []schema.Edge {
	var out []schema.Edge
	for _, e := range m.g.Edges {
		if !e.Enabled {
			continue
		}
		if src := e.Source(); src.Kind == schema.SourceTrigger && src.ID == triggerID {
			out = append(out, e)
		}
	}
	return out
}

// IncomingEdges returns every edge targeting the given job, from either a
// trigger or a job source, in edge list order. Disabled edges are included:
// parent classification is structural, not conditional.
func (m *Model) IncomingEdges(jobID string) []schema.Edge {
	var in []schema.Edge
	for _, e := range m.g.Edges {
		if e.TargetJobID == jobID {
			in = append(in, e)
		}
	}
	return in
}

// IsEntryJob reports whether the job is a valid chain head: at least one
// incoming trigger edge and zero incoming job edges. A job fed by both a
// trigger and a job is not an entry job.
func (m *Model) IsEntryJob(jobID string) bool {
	hasTrigger := false
	for _, e := range m.IncomingEdges(jobID) {
		switch e.Source().Kind {
		case schema.SourceJob:
			return false
		case schema.SourceTrigger:
			hasTrigger = true
		}
	}
	return hasTrigger
}

// FindGhostEdges partitions edges into valid and ghost sets. A ghost edge is
// one whose target job ID does not resolve against jobs. Edges with an empty
// target are structurally incomplete but not dangling, so they are valid.
// The partition is exact: len(valid)+len(ghost) == len(edges), disjoint IDs.
func FindGhostEdges(edges []schema.Edge, jobs []schema.Job) (valid, ghost []schema.Edge) {
	known := make(map[string]struct{}, len(jobs))
	for _, j := range jobs {
		known[j.ID] = struct{}{}
	}
	for _, e := range edges {
		if e.TargetJobID == "" {
			valid = append(valid, e)
			continue
		}
		if _, ok := known[e.TargetJobID]; ok {
			valid = append(valid, e)
		} else {
			ghost = append(ghost, e)
		}
	}
	return valid, ghost
}

// RemoveGhostEdges returns the edges that survive ghost filtering.
// Complement of the ghost set returned by FindGhostEdges.
func RemoveGhostEdges(edges []schema.Edge, jobs []schema.Job) []schema.Edge {
	valid, _ := FindGhostEdges(edges, jobs)
	return valid
}

// StartInput selects the start node for a run: exactly one of JobID or
// TriggerID must be set.
type StartInput struct {
	JobID     string
	TriggerID string
}

// ResolveStartNode resolves the first job of a run. Given a job ID, that job
// is the start regardless of its position in the graph. Given a trigger ID,
// the target of the trigger's first outgoing edge (in edge list order) is the
// start; a trigger with no connected job fails with NO_CONNECTED_JOB.
func (m *Model) ResolveStartNode(in StartInput) (schema.Job, error) {
	switch {
	case in.JobID != "":
		job, ok := m.Job(in.JobID)
		if !ok {
			return schema.Job{}, schema.NewErrorf(schema.ErrCodeNotFound, "job %q not found", in.JobID)
		}
		return job, nil

	case in.TriggerID != "":
		if _, ok := m.Trigger(in.TriggerID); !ok {
			return schema.Job{}, schema.NewErrorf(schema.ErrCodeNotFound, "trigger %q not found", in.TriggerID)
		}
		for _, e := range m.OutgoingEdgesFromTrigger(in.TriggerID) {
			if job, ok := m.Job(e.TargetJobID); ok {
				return job, nil
			}
		}
		return schema.Job{}, schema.NewErrorf(schema.ErrCodeNoConnectedJob,
			"trigger %q has no connected job", in.TriggerID)

	default:
		return schema.Job{}, schema.NewError(schema.ErrCodeValidation, "start input requires a job_id or trigger_id")
	}
}
