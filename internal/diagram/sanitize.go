package diagram

import (
	t "codemapper/internal/types"
)

// PlaceholderMermaid substitutes for diagrams whose text went missing
// during enrichment.
const PlaceholderMermaid = "flowchart TD\n    empty[\"No diagram content available\"]"

// Sanitize enforces the post-enrichment invariants: diagram text is never
// empty, insights are capped, and nodes/edges are always arrays. The
// operation is idempotent.
func Sanitize(d t.DiagramPayload) t.DiagramPayload {
	if d.Mermaid == "" {
		d.Mermaid = PlaceholderMermaid
	}
	if len(d.Insights) > t.MaxInsights {
		d.Insights = d.Insights[:t.MaxInsights]
	}
	if d.Nodes == nil {
		d.Nodes = []t.DiagramNode{}
	}
	if d.Edges == nil {
		d.Edges = []t.DiagramEdge{}
	}
	if d.Insights == nil {
		d.Insights = []string{}
	}
	return d
}

// SanitizeAll applies Sanitize to every diagram in place of the input slice.
func SanitizeAll(ds []t.DiagramPayload) []t.DiagramPayload {
	out := make([]t.DiagramPayload, len(ds))
	for i, d := range ds {
		out[i] = Sanitize(d)
	}
	return out
}
