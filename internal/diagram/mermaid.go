// Package diagram renders workflow graphs as Mermaid flowcharts.
package diagram

import (
	"fmt"
	"strings"

	"github.com/loomery/loom/pkg/schema"
)

// RenderMermaid renders a workflow graph as a Mermaid flowchart string.
// Triggers are stadium nodes, jobs rectangles. Disabled edges are dashed,
// and a ghost target is rendered as a placeholder node so broken wiring is
// visible in the picture.
func RenderMermaid(title string, g schema.Graph) string {
	var b strings.Builder

	b.WriteString("graph TD\n")
	if title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", title))
	}

	jobs := make(map[string]schema.Job, len(g.Jobs))
	for _, j := range g.Jobs {
		jobs[j.ID] = j
		b.WriteString(fmt.Sprintf("    %s[%q]\n", safeID(j.ID), jobLabel(j)))
	}
	for _, t := range g.Triggers {
		b.WriteString(fmt.Sprintf("    %s([%q])\n", safeID(t.ID), triggerLabel(t)))
	}

	ghosts := make(map[string]bool)
	for _, e := range g.Edges {
		src := e.Source()
		if src.Kind == schema.SourceNone || e.TargetJobID == "" {
			continue
		}
		target := safeID(e.TargetJobID)
		if _, ok := jobs[e.TargetJobID]; !ok && !ghosts[e.TargetJobID] {
			ghosts[e.TargetJobID] = true
			b.WriteString(fmt.Sprintf("    %s[%q]\n", target, e.TargetJobID+" (missing)"))
		}

		arrow := "-->"
		if !e.Enabled {
			arrow = "-.->"
		}
		label := edgeLabel(e)
		if label != "" {
			label = fmt.Sprintf("|%s|", label)
		}
		b.WriteString(fmt.Sprintf("    %s %s%s %s\n", safeID(src.ID), arrow, label, target))
	}

	b.WriteString("\n")
	b.WriteString("    classDef trigger fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef disabled fill:#6b6b6b,stroke:#4a4a4a,color:#ddd\n")
	b.WriteString("    classDef ghost fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	for _, t := range g.Triggers {
		b.WriteString(fmt.Sprintf("    class %s trigger\n", safeID(t.ID)))
	}
	for _, j := range g.Jobs {
		if !j.Enabled {
			b.WriteString(fmt.Sprintf("    class %s disabled\n", safeID(j.ID)))
		}
	}
	for id := range ghosts {
		b.WriteString(fmt.Sprintf("    class %s ghost\n", safeID(id)))
	}

	return b.String()
}

func jobLabel(j schema.Job) string {
	if j.Name != "" {
		return j.Name
	}
	return j.ID
}

func triggerLabel(t schema.Trigger) string {
	label := string(t.Type)
	if t.Type == schema.TriggerTypeCron && t.CronExpression != "" {
		label += " " + t.CronExpression
	}
	return label
}

func edgeLabel(e schema.Edge) string {
	switch e.ConditionType {
	case schema.ConditionAlways:
		return ""
	case schema.ConditionJSExpression:
		return e.ConditionExpression
	default:
		return string(e.ConditionType)
	}
}

// safeID converts a node ID to a Mermaid-safe identifier.
func safeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}
