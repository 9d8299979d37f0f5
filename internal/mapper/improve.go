package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"codemapper/internal/cache"
	"codemapper/internal/diagram"
	"codemapper/internal/llm"
	t "codemapper/internal/types"
)

// highlightStyle is the Mermaid style directive applied to matched nodes.
const highlightStyle = "fill:#fde68a,stroke:#b45309,stroke-width:2px"

// ImproveEngine applies instruction-driven highlight transforms to a single
// cached diagram. The transform is pure: it always recomputes from the
// pristine cached diagram, so repeated calls with the same instruction
// yield equivalent output and never compound. When an AI backend is
// configured, an enrichment pass rewrites the description and insights
// after the heuristic transform.
type ImproveEngine struct {
	Store *cache.Store
	LLM   llm.Client // nil means heuristic-only improvements
}

// Improve looks up the mapping's diagram by id and returns an improved copy.
// The cached original is never mutated.
func (e *ImproveEngine) Improve(ctx context.Context, mappingID, diagramID, instruction string) (*t.DiagramPayload, error) {
	cctx, ok, err := e.Store.Context(ctx, mappingID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: mapping %q", ErrNotFound, mappingID)
	}

	var src *t.DiagramPayload
	for i := range cctx.Diagrams {
		if cctx.Diagrams[i].ID == diagramID {
			src = &cctx.Diagrams[i]
			break
		}
	}
	if src == nil {
		return nil, fmt.Errorf("%w: diagram %q in mapping %q", ErrNotFound, diagramID, mappingID)
	}

	out := applyInstruction(*src, instruction)

	if e.LLM != nil && strings.TrimSpace(instruction) != "" {
		enriched, cost := e.enrich(ctx, out, instruction)
		out = enriched
		if err := e.Store.RecordCost(ctx, cost); err != nil {
			log.Printf("improve: record cost: %v", err)
		}
	}
	return &out, nil
}

const improvePrompt = `You are a diagram editor. Rewrite the diagram's description and
insights so they reflect the user's instruction. Keep them factual to the
diagram's nodes and edges.

Return STRICT JSON ONLY:
{"description":"string","insights":["string"]}`

// enrich asks the AI backend for a sharper description and insight set.
// Any failure leaves the heuristic output untouched at zero cost.
func (e *ImproveEngine) enrich(ctx context.Context, d t.DiagramPayload, instruction string) (t.DiagramPayload, t.CostDelta) {
	input := map[string]any{"diagram": d, "instruction": instruction}
	raw, usage, err := e.LLM.GenerateJSON(ctx, improvePrompt, input)
	if err != nil {
		return d, t.CostDelta{}
	}
	var out struct {
		Description string   `json:"description"`
		Insights    []string `json:"insights"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || strings.TrimSpace(out.Description) == "" {
		return d, t.CostDelta{}
	}

	d.Description = out.Description
	if len(out.Insights) > 0 {
		// The provenance line written by applyInstruction stays first.
		insights := []string{fmt.Sprintf("Applied instruction: %s", instruction)}
		for _, in := range out.Insights {
			if s := strings.TrimSpace(in); s != "" && !containsString(insights, s) {
				insights = append(insights, s)
			}
		}
		if len(insights) > t.MaxInsights {
			insights = insights[:t.MaxInsights]
		}
		d.Insights = insights
	}
	return diagram.Sanitize(d), llm.EstimateCost(usage)
}

// applyInstruction is the pure transform. An empty instruction returns a
// sanitized clone with no highlight or provenance changes.
func applyInstruction(d t.DiagramPayload, instruction string) t.DiagramPayload {
	out := d.Clone()
	needle := strings.ToLower(strings.TrimSpace(instruction))
	if needle == "" {
		return diagram.Sanitize(out)
	}

	for i := range out.Nodes {
		n := &out.Nodes[i]
		if strings.Contains(strings.ToLower(n.Label+" "+n.Insight), needle) {
			n.Style = highlightStyle
			sentence := fmt.Sprintf("Highlighted for instruction %q.", instruction)
			if !strings.Contains(n.Insight, sentence) {
				if n.Insight != "" {
					n.Insight += " "
				}
				n.Insight += sentence
			}
		}
	}

	provenance := fmt.Sprintf("Applied instruction: %s", instruction)
	if !containsString(out.Insights, provenance) {
		out.Insights = append([]string{provenance}, out.Insights...)
		if len(out.Insights) > t.MaxInsights {
			out.Insights = out.Insights[:t.MaxInsights]
		}
	}

	suffix := fmt.Sprintf(" (improved: %s)", instruction)
	if !strings.HasSuffix(out.Title, suffix) {
		out.Title += suffix
	}

	return diagram.Regenerate(out)
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
