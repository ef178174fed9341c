package validation

import (
	"fmt"
	"sort"

	"github.com/loomery/loom/pkg/schema"
)

// validateTopology performs graph analysis on job-to-job edges:
// cycle detection (Kahn's algorithm) and trigger-reachability (BFS from
// trigger-fed jobs). Runs after semantic validation, so edge references are
// known to resolve.
func validateTopology(g *schema.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	jobIDs := make(map[string]bool, len(g.Jobs))
	for _, j := range g.Jobs {
		jobIDs[j.ID] = true
	}

	// downstream[id] = jobs fed by job id; roots = jobs fed by a trigger.
	downstream := make(map[string][]string, len(g.Jobs))
	inDegree := make(map[string]int, len(g.Jobs))
	for id := range jobIDs {
		inDegree[id] = 0
	}
	triggerFed := make(map[string]bool)

	for _, e := range g.Edges {
		if e.TargetJobID == "" || !jobIDs[e.TargetJobID] {
			continue
		}
		switch src := e.Source(); src.Kind {
		case schema.SourceTrigger:
			triggerFed[e.TargetJobID] = true
		case schema.SourceJob:
			if !jobIDs[src.ID] {
				continue
			}
			downstream[src.ID] = append(downstream[src.ID], e.TargetJobID)
			inDegree[e.TargetJobID]++
		}
	}

	// Kahn's algorithm for cycle detection over job-to-job edges.
	queue := make([]string, 0, len(jobIDs))
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	visited := 0
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range downstream[node] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if visited != len(jobIDs) {
		result.AddError("graph.edges", schema.ErrCodeValidation,
			"workflow contains a job cycle")
		return result // cycle makes reachability analysis meaningless
	}

	// Reachability: BFS from trigger-fed jobs through job-to-job edges.
	// A workflow without any trigger edges is all-manual; skip the check.
	if len(triggerFed) == 0 {
		return result
	}

	reachable := make(map[string]bool, len(jobIDs))
	bfsQueue := make([]string, 0, len(triggerFed))
	for id := range triggerFed {
		reachable[id] = true
		bfsQueue = append(bfsQueue, id)
	}

	for len(bfsQueue) > 0 {
		node := bfsQueue[0]
		bfsQueue = bfsQueue[1:]
		for _, next := range downstream[node] {
			if !reachable[next] {
				reachable[next] = true
				bfsQueue = append(bfsQueue, next)
			}
		}
	}

	for i, j := range g.Jobs {
		if !reachable[j.ID] {
			result.AddWarning(fmt.Sprintf("graph.jobs[%d]", i),
				schema.ErrCodeValidation,
				fmt.Sprintf("job %q is not reachable from any trigger; only manual starts can run it", j.ID))
		}
	}

	return result
}
