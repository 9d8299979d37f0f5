package diagram

import (
	"fmt"
	"strings"

	t "codemapper/internal/types"
)

// renderFlowchart turns a structured graph into Mermaid flowchart text.
func renderFlowchart(nodes []t.DiagramNode, edges []t.DiagramEdge) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")
	if len(nodes) == 0 {
		b.WriteString("    empty[\"No components detected\"]\n")
		return strings.TrimRight(b.String(), "\n")
	}
	for _, n := range nodes {
		fmt.Fprintf(&b, "    %s[\"%s\"]\n", mermaidID(n.ID), escapeLabel(n.Label))
		if n.Style != "" {
			fmt.Fprintf(&b, "    style %s %s\n", mermaidID(n.ID), n.Style)
		}
	}
	for _, e := range edges {
		if e.Label != "" {
			fmt.Fprintf(&b, "    %s -->|%s| %s\n", mermaidID(e.From), escapeLabel(e.Label), mermaidID(e.To))
		} else {
			fmt.Fprintf(&b, "    %s --> %s\n", mermaidID(e.From), mermaidID(e.To))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderSequence renders caller/callee pairs as a Mermaid sequence diagram.
func renderSequence(edges []t.DiagramEdge) string {
	var b strings.Builder
	b.WriteString("sequenceDiagram\n")
	if len(edges) == 0 {
		b.WriteString("    Note over system: no interactions detected\n")
		return strings.TrimRight(b.String(), "\n")
	}
	for _, e := range edges {
		label := e.Label
		if label == "" {
			label = "calls"
		}
		fmt.Fprintf(&b, "    %s->>%s: %s\n", mermaidID(e.From), mermaidID(e.To), escapeLabel(label))
	}
	return strings.TrimRight(b.String(), "\n")
}

func mermaidID(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "node"
	}
	return b.String()
}

func escapeLabel(s string) string {
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
