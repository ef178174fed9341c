package validation

import (
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/loomery/loom/pkg/schema"
)

// validateSemantic performs semantic analysis on the workflow graph.
// Checks: unique node and edge IDs, edge source/target references, edge
// condition coherence, cron expression parseability, trigger wiring.
func validateSemantic(g *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	jobIDs := make(map[string]bool, len(g.Jobs))
	for i, j := range g.Jobs {
		path := fmt.Sprintf("graph.jobs[%d]", i)
		if jobIDs[j.ID] {
			result.AddError(path+".id", schema.ErrCodeValidation,
				fmt.Sprintf("duplicate job id %q", j.ID))
			continue
		}
		jobIDs[j.ID] = true
	}

	triggerIDs := make(map[string]bool, len(g.Triggers))
	for i := range g.Triggers {
		path := fmt.Sprintf("graph.triggers[%d]", i)
		validateTrigger(&g.Triggers[i], path, triggerIDs, jobIDs, result)
	}

	edgeIDs := make(map[string]bool, len(g.Edges))
	for i := range g.Edges {
		path := fmt.Sprintf("graph.edges[%d]", i)
		validateEdge(&g.Edges[i], path, edgeIDs, jobIDs, triggerIDs, result)
	}

	validateTriggerWiring(g, result)
	validateEntryParents(g, result)

	return result
}

// validateTrigger checks a single trigger: ID uniqueness (including collisions
// with job IDs, since edge sources address both namespaces) and cron expression
// validity for cron triggers.
func validateTrigger(t *schema.Trigger, path string, triggerIDs, jobIDs map[string]bool, result *schema.ValidationResult) {
	if triggerIDs[t.ID] {
		result.AddError(path+".id", schema.ErrCodeValidation,
			fmt.Sprintf("duplicate trigger id %q", t.ID))
		return
	}
	triggerIDs[t.ID] = true

	if jobIDs[t.ID] {
		result.AddError(path+".id", schema.ErrCodeValidation,
			fmt.Sprintf("trigger id %q collides with a job id", t.ID))
	}

	switch t.Type {
	case schema.TriggerTypeCron:
		if t.CronExpression == "" {
			result.AddError(path+".cron_expression", schema.ErrCodeValidation,
				"cron trigger requires a cron_expression")
		} else if _, err := cron.ParseStandard(t.CronExpression); err != nil {
			result.AddError(path+".cron_expression", schema.ErrCodeValidation,
				fmt.Sprintf("invalid cron expression %q: %v", t.CronExpression, err))
		}
	default:
		if t.CronExpression != "" {
			result.AddWarning(path+".cron_expression", schema.ErrCodeValidation,
				fmt.Sprintf("cron_expression is ignored for %s triggers", t.Type))
		}
	}
}

// validateEdge checks a single edge: ID uniqueness, source and target
// references, and condition coherence.
func validateEdge(e *schema.Edge, path string, edgeIDs, jobIDs, triggerIDs map[string]bool, result *schema.ValidationResult) {
	if edgeIDs[e.ID] {
		result.AddError(path+".id", schema.ErrCodeValidation,
			fmt.Sprintf("duplicate edge id %q", e.ID))
		return
	}
	edgeIDs[e.ID] = true

	// Source classification. Dual-set records are tolerated at runtime with
	// trigger precedence, so flag them as a warning rather than an error.
	if e.SourceTriggerID != "" && e.SourceJobID != "" {
		result.AddWarning(path, schema.ErrCodeValidation,
			"edge has both trigger and job sources; the trigger source takes precedence")
	}

	switch src := e.Source(); src.Kind {
	case schema.SourceNone:
		result.AddError(path, schema.ErrCodeValidation, "edge has no source")
	case schema.SourceTrigger:
		if !triggerIDs[src.ID] {
			result.AddError(path+".source_trigger_id", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent trigger %q", src.ID))
		}
	case schema.SourceJob:
		if !jobIDs[src.ID] {
			result.AddError(path+".source_job_id", schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent job %q", src.ID))
		}
	}

	// A missing target is valid (the edge is inert); a target pointing at a
	// job that does not exist is a ghost edge, skipped at runtime.
	if e.TargetJobID != "" && !jobIDs[e.TargetJobID] {
		result.AddWarning(path+".target_job_id", schema.ErrCodeValidation,
			fmt.Sprintf("ghost edge: references non-existent job %q (skipped at runtime)", e.TargetJobID))
	}

	switch e.ConditionType {
	case schema.ConditionJSExpression:
		if e.ConditionExpression == "" {
			result.AddError(path+".condition_expression", schema.ErrCodeValidation,
				"js_expression edge requires a condition_expression")
		}
	default:
		if e.ConditionExpression != "" {
			result.AddWarning(path+".condition_expression", schema.ErrCodeValidation,
				fmt.Sprintf("condition_expression is ignored for %s edges", e.ConditionType))
		}
	}
}

// validateTriggerWiring warns about disabled triggers that still carry enabled
// outgoing edges. The edges never fire while the trigger is disabled.
func validateTriggerWiring(g *schema.Graph, result *schema.ValidationResult) {
	disabled := make(map[string]bool)
	for _, t := range g.Triggers {
		if !t.Enabled {
			disabled[t.ID] = true
		}
	}
	if len(disabled) == 0 {
		return
	}

	for i, e := range g.Edges {
		src := e.Source()
		if src.Kind == schema.SourceTrigger && e.Enabled && disabled[src.ID] {
			result.AddWarning(fmt.Sprintf("graph.edges[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("edge %q originates at disabled trigger %q and never fires", e.ID, src.ID))
		}
	}
}

// validateEntryParents warns about jobs fed by both a trigger and another job.
// Such jobs run with trigger input on some activations and upstream output on
// others, which is usually an authoring mistake.
func validateEntryParents(g *schema.Graph, result *schema.ValidationResult) {
	fromTrigger := make(map[string]bool)
	fromJob := make(map[string]bool)
	for _, e := range g.Edges {
		if e.TargetJobID == "" {
			continue
		}
		switch e.Source().Kind {
		case schema.SourceTrigger:
			fromTrigger[e.TargetJobID] = true
		case schema.SourceJob:
			fromJob[e.TargetJobID] = true
		}
	}

	for i, j := range g.Jobs {
		if fromTrigger[j.ID] && fromJob[j.ID] {
			result.AddWarning(fmt.Sprintf("graph.jobs[%d]", i), schema.ErrCodeValidation,
				fmt.Sprintf("job %q has both trigger and job parents", j.ID))
		}
	}
}
