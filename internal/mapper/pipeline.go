package mapper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"

	"codemapper/internal/cache"
	"codemapper/internal/diagram"
	"codemapper/internal/ingest"
	"codemapper/internal/llm"
	t "codemapper/internal/types"
)

// ErrNotFound covers unknown/expired mapping ids and absent diagram ids.
// The caller is instructed to remap; there is no partial degradation.
var ErrNotFound = errors.New("mapper: not found, remap the codebase")

// MaxFocusAreas caps the normalized focus list.
const MaxFocusAreas = 6

// focusAllowList is the fixed set of caller-selectable focus areas. It
// mirrors the diagram kinds.
var focusAllowList = func() map[string]bool {
	m := make(map[string]bool, len(t.AllDiagramKinds))
	for _, k := range t.AllDiagramKinds {
		m[string(k)] = true
	}
	return m
}()

// ProgressSink receives progress lines as the pipeline emits them, in
// addition to the trace returned in the response. Used by the watch
// endpoint; may be nil.
type ProgressSink func(line string)

// Pipeline orchestrates ingest, seed diagrams, enrichment passes, cache
// write and cost recording. AI enrichment is best-effort: a mapping request
// never fails solely because augmentation failed.
type Pipeline struct {
	Ingestor *ingest.Ingestor
	Builder  diagram.Builder
	Store    *cache.Store
	LLM      llm.Client // nil means every enrichment call degrades

	// SelfCritique enables the second refinement pass.
	SelfCritique bool
}

type trace struct {
	lines []string
	sink  ProgressSink
}

func (tr *trace) log(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	tr.lines = append(tr.lines, line)
	if tr.sink != nil {
		tr.sink(line)
	}
}

// NormalizeFocus intersects the input with the allow-list, dedupes, and
// caps the result.
func NormalizeFocus(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, f := range in {
		f = strings.ToLower(strings.TrimSpace(f))
		if f == "" || !focusAllowList[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
		if len(out) >= MaxFocusAreas {
			break
		}
	}
	return out
}

// Map runs the full pipeline for one request. The rate-limit gate has
// already run by the time Map is called.
func (p *Pipeline) Map(ctx context.Context, req t.MapRequest, sink ProgressSink) (*t.MapResponse, error) {
	tr := &trace{sink: sink}

	focus := NormalizeFocus(req.FocusAreas)
	tr.log("normalized focus areas: %v", focus)

	model, cleanup, err := p.Ingestor.Ingest(ctx, ingest.Request{
		RepoURL:      req.RepoURL,
		AuthToken:    req.AuthToken,
		ArchiveBytes: req.ArchiveBytes,
		ArchiveName:  req.ArchiveName,
	})
	if err != nil {
		return nil, err
	}
	defer cleanup()
	tr.log("ingested %s (%d files, commit %s)", model.RepoName, len(model.Files), model.Commit[:8])

	key := cache.Key(model.Commit, model.RepoName, focus)
	if entry, ok, err := p.Store.Get(ctx, key); err != nil {
		return nil, err
	} else if ok {
		resp := entry.Response
		resp.CacheHit = true
		tr.log("loaded cached mapping %s", entry.MappingID)
		resp.ProgressLogs = append([]string(nil), tr.lines...)
		return &resp, nil
	}
	tr.log("cache miss for key %s", key)

	diagrams := p.Builder.Build(model, focus)
	tr.log("built %d seed diagrams", len(diagrams))

	summary := Summarize(model)

	var cost t.CostDelta
	diagrams, cost = p.refine(ctx, tr, "initial", summary, diagrams, cost)
	if p.SelfCritique {
		diagrams, cost = p.refine(ctx, tr, "self-critique", summary, diagrams, cost)
	} else {
		tr.log("self-critique pass disabled")
	}

	diagrams = diagram.SanitizeAll(diagrams)

	mappingID := uuid.NewString()
	resp := &t.MapResponse{
		MappingID:    mappingID,
		CacheKey:     key,
		CacheHit:     false,
		ProgressLogs: tr.lines,
		Summary:      summary,
		Diagrams:     diagrams,
		Cost:         cost,
	}

	entry := cache.Entry{
		CacheKey:   key,
		MappingID:  mappingID,
		CreatedAt:  model.RetrievedAt,
		FocusAreas: focus,
		Response:   *resp,
	}
	cctx := cache.Context{
		MappingID: mappingID,
		CacheKey:  key,
		RepoName:  model.RepoName,
		Summary:   summary,
		Diagrams:  diagrams,
		CreatedAt: model.RetrievedAt,
	}
	if err := p.Store.Put(ctx, entry, cctx); err != nil {
		return nil, err
	}
	if err := p.Store.RecordCost(ctx, cost); err != nil {
		log.Printf("mapper: record cost: %v", err)
	}
	tr.log("persisted mapping %s", mappingID)
	resp.ProgressLogs = tr.lines
	return resp, nil
}

const refinePrompt = `You are a software architecture reviewer.
Refine the provided diagrams using the repository summary. Keep every diagram's id and kind.
Improve titles, descriptions, mermaid text, node insights and the insight lists.

Return STRICT JSON ONLY:
{"diagrams":[{"id":"string","kind":"string","title":"string","description":"string","mermaid":"string","nodes":[],"edges":[],"insights":[]}]}`

// refine runs one enrichment pass. On any failure (no backend, non-success
// response, unparsable reply) it falls back to the input diagrams with zero
// recorded cost for the pass.
func (p *Pipeline) refine(ctx context.Context, tr *trace, pass, summary string, diagrams []t.DiagramPayload, cost t.CostDelta) ([]t.DiagramPayload, t.CostDelta) {
	if p.LLM == nil {
		tr.log("refinement pass %q skipped: no AI backend configured", pass)
		return diagrams, cost
	}

	input := map[string]any{"summary": summary, "diagrams": diagrams}
	raw, usage, err := p.LLM.GenerateJSON(ctx, refinePrompt, input)
	if err != nil {
		tr.log("refinement pass %q degraded: %v", pass, err)
		return diagrams, cost
	}
	var out struct {
		Diagrams []t.DiagramPayload `json:"diagrams"`
	}
	if err := json.Unmarshal(raw, &out); err != nil || len(out.Diagrams) == 0 {
		tr.log("refinement pass %q degraded: malformed reply", pass)
		return diagrams, cost
	}
	tr.log("refinement pass %q applied (%d diagrams)", pass, len(out.Diagrams))
	return out.Diagrams, cost.Add(llm.EstimateCost(usage))
}
