package diagram

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/loomery/loom/pkg/schema"
)

func sampleGraph() schema.Graph {
	return schema.Graph{
		Jobs: []schema.Job{
			{ID: "extract", Name: "Extract", Enabled: true},
			{ID: "load", Name: "Load", Enabled: true},
		},
		Triggers: []schema.Trigger{
			{ID: "hook", Type: schema.TriggerTypeWebhook, Enabled: true},
		},
		Edges: []schema.Edge{
			{ID: "e1", SourceTriggerID: "hook", TargetJobID: "extract",
				ConditionType: schema.ConditionAlways, Enabled: true},
			{ID: "e2", SourceJobID: "extract", TargetJobID: "load",
				ConditionType: schema.ConditionOnSuccess, Enabled: true},
		},
	}
}

func TestRenderMermaid(t *testing.T) {
	out := RenderMermaid("sync-patients", sampleGraph())

	assert.True(t, strings.HasPrefix(out, "graph TD\n"))
	assert.Contains(t, out, "%% sync-patients")
	assert.Contains(t, out, `extract["Extract"]`)
	assert.Contains(t, out, `hook(["webhook"])`)
	assert.Contains(t, out, "hook --> extract")
	assert.Contains(t, out, "extract -->|on_success| load")
	assert.Contains(t, out, "class hook trigger")
}

func TestRenderMermaid_CronLabel(t *testing.T) {
	g := sampleGraph()
	g.Triggers[0] = schema.Trigger{
		ID: "tick", Type: schema.TriggerTypeCron, CronExpression: "0 2 * * *", Enabled: true,
	}
	g.Edges[0].SourceTriggerID = "tick"

	out := RenderMermaid("", g)
	assert.Contains(t, out, `tick(["cron 0 2 * * *"])`)
}

func TestRenderMermaid_DisabledEdgeDashed(t *testing.T) {
	g := sampleGraph()
	g.Edges[1].Enabled = false

	out := RenderMermaid("", g)
	assert.Contains(t, out, "extract -.->|on_success| load")
}

func TestRenderMermaid_GhostTarget(t *testing.T) {
	g := sampleGraph()
	g.Edges[1].TargetJobID = "deleted-job"

	out := RenderMermaid("", g)
	assert.Contains(t, out, `deleted_job["deleted-job (missing)"]`)
	assert.Contains(t, out, "class deleted_job ghost")
}

func TestRenderMermaid_JSExpressionLabel(t *testing.T) {
	g := sampleGraph()
	g.Edges[1].ConditionType = schema.ConditionJSExpression
	g.Edges[1].ConditionExpression = "rows > 5"

	out := RenderMermaid("", g)
	assert.Contains(t, out, "extract -->|rows > 5| load")
}

func TestRenderMermaid_SafeIDs(t *testing.T) {
	g := schema.Graph{
		Jobs: []schema.Job{{ID: "my.job-1", Enabled: true}},
	}
	out := RenderMermaid("", g)
	assert.Contains(t, out, `my_job_1["my.job-1"]`)
}
