package mapper

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"codemapper/internal/cache"
	"codemapper/internal/diagram"
	"codemapper/internal/llm"
	t "codemapper/internal/types"
)

// degradedAnswer is the canned reply when no AI backend is configured.
// A supported mode, not an error path.
const degradedAnswer = "AI answering is not configured on this deployment. " +
	"The most relevant diagrams for your question are attached; their insights are the best available summary."

// askKeywords and askPhrases trip the wants-focus detector: cheap pattern
// matching decides whether to regenerate the selected diagrams visually,
// without a second AI round-trip for the regeneration itself.
var (
	askKeywords = []string{"focus", "regenerate", "refine", "deep-dive", "drill"}
	askPhrases  = []string{"deep dive", "payment flow", "auth flow", "data flow"}
)

// AskEngine answers free-text questions against cached mapping artifacts.
// It never re-ingests.
type AskEngine struct {
	Store *cache.Store
	LLM   llm.Client // nil means canned degraded answers
}

// Ask ranks the mapping's diagrams against the question, optionally calls
// the AI backend, and optionally attaches regenerated diagrams. A missing
// or expired mapping is a hard failure: there is no corpus to reason over.
func (e *AskEngine) Ask(ctx context.Context, mappingID, question string) (*t.AskResponse, error) {
	cctx, ok, err := e.Store.Context(ctx, mappingID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: mapping %q", ErrNotFound, mappingID)
	}

	selected := rankDiagrams(cctx.Diagrams, question)

	resp := &t.AskResponse{Citations: []string{}}
	resp.Answer, resp.Citations, resp.Cost = e.answer(ctx, cctx.Summary, selected, question)

	if wantsFocus(question) {
		regen := make([]t.DiagramPayload, 0, len(selected))
		for _, d := range selected {
			regen = append(regen, diagram.Regenerate(d))
		}
		resp.RegeneratedDiagrams = regen
	}

	if err := e.Store.RecordCost(ctx, resp.Cost); err != nil {
		log.Printf("ask: record cost: %v", err)
	}
	return resp, nil
}

// rankDiagrams scores each diagram's text haystack by question-term
// substring hits and returns the top 3 scorers, or the first 2 diagrams
// unconditionally when nothing scored, so Ask always has some context.
func rankDiagrams(diagrams []t.DiagramPayload, question string) []t.DiagramPayload {
	terms := strings.Fields(strings.ToLower(question))

	type scored struct {
		d     t.DiagramPayload
		score int
		pos   int
	}
	ranked := make([]scored, 0, len(diagrams))
	for i, d := range diagrams {
		hay := diagramHaystack(d)
		score := 0
		for _, term := range terms {
			if strings.Contains(hay, term) {
				score++
			}
		}
		ranked = append(ranked, scored{d: d, score: score, pos: i})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	var out []t.DiagramPayload
	for _, r := range ranked {
		if r.score <= 0 {
			break
		}
		out = append(out, r.d)
		if len(out) >= 3 {
			break
		}
	}
	if len(out) == 0 {
		for i := 0; i < len(diagrams) && i < 2; i++ {
			out = append(out, diagrams[i])
		}
	}
	return out
}

func diagramHaystack(d t.DiagramPayload) string {
	var b strings.Builder
	b.WriteString(d.Title)
	b.WriteByte(' ')
	b.WriteString(d.Description)
	for _, in := range d.Insights {
		b.WriteByte(' ')
		b.WriteString(in)
	}
	for _, n := range d.Nodes {
		b.WriteByte(' ')
		b.WriteString(n.Label)
		b.WriteByte(' ')
		b.WriteString(n.Insight)
	}
	return strings.ToLower(b.String())
}

func wantsFocus(question string) bool {
	q := strings.ToLower(question)
	for _, p := range askPhrases {
		if strings.Contains(q, p) {
			return true
		}
	}
	for _, kw := range askKeywords {
		for _, word := range strings.FieldsFunc(q, func(r rune) bool {
			return r == ' ' || r == ',' || r == '.' || r == '?' || r == '!'
		}) {
			if word == kw {
				return true
			}
		}
	}
	return false
}

const askPrompt = `You are a codebase guide. Answer the user's question using the
repository summary and the selected diagrams. Cite diagram ids you relied on.

Return STRICT JSON ONLY:
{"answer":"string","citations":["diagram-id"]}`

func (e *AskEngine) answer(ctx context.Context, summary string, selected []t.DiagramPayload, question string) (string, []string, t.CostDelta) {
	if e.LLM == nil {
		return degradedAnswer, []string{}, t.CostDelta{}
	}
	input := map[string]any{"summary": summary, "diagrams": selected, "question": question}
	raw, usage, err := e.LLM.GenerateJSON(ctx, askPrompt, input)
	if err != nil {
		return degradedAnswer, []string{}, t.CostDelta{}
	}
	var out struct {
		Answer    string   `json:"answer"`
		Citations []string `json:"citations"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || strings.TrimSpace(out.Answer) == "" {
		return degradedAnswer, []string{}, t.CostDelta{}
	}
	if out.Citations == nil {
		out.Citations = []string{}
	}
	return out.Answer, out.Citations, llm.EstimateCost(usage)
}
