package mapper

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"codemapper/internal/cache"
	"codemapper/internal/llm"
	typ "codemapper/internal/types"
)

func seedMapping(tt *testing.T, store *cache.Store) string {
	tt.Helper()
	diagrams := []typ.DiagramPayload{
		{
			ID:    "diag-arch",
			Kind:  typ.DiagramArchitecture,
			Title: "Architecture - clinic",
			Nodes: []typ.DiagramNode{
				{ID: "api", Label: "API routes"},
				{ID: "db", Label: "Database", Insight: "Prisma client over Postgres."},
			},
			Edges:    []typ.DiagramEdge{{From: "api", To: "db"}},
			Insights: []string{"Monolithic Next.js app."},
			Mermaid:  "flowchart TD\n    api --> db\n",
		},
		{
			ID:    "diag-flow",
			Kind:  typ.DiagramDataFlow,
			Title: "Data flow - clinic",
			Nodes: []typ.DiagramNode{
				{ID: "billing", Label: "Billing route", Insight: "Handles payment charges."},
			},
			Edges:    []typ.DiagramEdge{},
			Insights: []string{"Payment requests flow through the billing route."},
			Mermaid:  "flowchart TD\n",
		},
	}

	now := time.Now().UTC()
	entry := cache.Entry{
		CacheKey:  "testkey",
		MappingID: "map-1",
		CreatedAt: now,
		Response:  typ.MapResponse{MappingID: "map-1", Diagrams: diagrams},
	}
	cctx := cache.Context{
		MappingID: "map-1",
		CacheKey:  "testkey",
		RepoName:  "clinic",
		Summary:   "Repository: clinic",
		Diagrams:  diagrams,
		CreatedAt: now,
	}
	if err := store.Put(context.Background(), entry, cctx); err != nil {
		tt.Fatalf("seed mapping: %v", err)
	}
	return "map-1"
}

func TestAskUnknownMappingFails(tt *testing.T) {
	e := &AskEngine{Store: newTestStore(tt)}
	if _, err := e.Ask(context.Background(), "nope", "anything"); !errors.Is(err, ErrNotFound) {
		tt.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAskDegradedAnswerWithoutBackend(tt *testing.T) {
	store := newTestStore(tt)
	id := seedMapping(tt, store)
	e := &AskEngine{Store: store}

	resp, err := e.Ask(context.Background(), id, "where is the database?")
	if err != nil {
		tt.Fatalf("ask: %v", err)
	}
	if resp.Answer != degradedAnswer {
		tt.Fatalf("answer = %q, want canned degraded answer", resp.Answer)
	}
	if len(resp.Citations) != 0 {
		tt.Fatalf("degraded answer carried citations: %v", resp.Citations)
	}
	if !resp.Cost.IsZero() {
		tt.Fatalf("degraded answer recorded cost %+v", resp.Cost)
	}
}

func TestAskPaymentFlowTriggersRegeneration(tt *testing.T) {
	store := newTestStore(tt)
	id := seedMapping(tt, store)
	e := &AskEngine{Store: store}

	resp, err := e.Ask(context.Background(), id, "what handles payment flow?")
	if err != nil {
		tt.Fatalf("ask: %v", err)
	}
	if len(resp.RegeneratedDiagrams) == 0 {
		tt.Fatal("phrase match did not trigger regeneration")
	}
	found := false
	for _, d := range resp.RegeneratedDiagrams {
		if d.ID == "diag-flow" {
			found = true
			if d.Mermaid == "" {
				tt.Fatal("regenerated diagram has empty mermaid text")
			}
		}
	}
	if !found {
		tt.Fatal("payment diagram missing from regenerated set")
	}
}

func TestAskPlainQuestionSkipsRegeneration(tt *testing.T) {
	store := newTestStore(tt)
	id := seedMapping(tt, store)
	e := &AskEngine{Store: store}

	resp, err := e.Ask(context.Background(), id, "where is the database?")
	if err != nil {
		tt.Fatalf("ask: %v", err)
	}
	if resp.RegeneratedDiagrams != nil {
		tt.Fatalf("plain question regenerated diagrams: %v", resp.RegeneratedDiagrams)
	}
}

func TestAskUsesBackendAnswer(tt *testing.T) {
	store := newTestStore(tt)
	id := seedMapping(tt, store)
	fake := &llm.FakeClient{
		Reply:     json.RawMessage(`{"answer":"The Prisma client in lib/db talks to Postgres.","citations":["diag-arch"]}`),
		FakeUsage: llm.Usage{PromptTokens: 500, CompletionTokens: 60},
	}
	e := &AskEngine{Store: store, LLM: fake}

	resp, err := e.Ask(context.Background(), id, "where is the database?")
	if err != nil {
		tt.Fatalf("ask: %v", err)
	}
	if !strings.Contains(resp.Answer, "Prisma") {
		tt.Fatalf("backend answer not used: %q", resp.Answer)
	}
	if !reflect.DeepEqual(resp.Citations, []string{"diag-arch"}) {
		tt.Fatalf("citations = %v", resp.Citations)
	}
	if resp.Cost.RequestCount != 1 {
		tt.Fatalf("cost = %+v, want one recorded request", resp.Cost)
	}
}

func TestRankDiagramsFallsBackToFirstTwo(tt *testing.T) {
	diagrams := []typ.DiagramPayload{
		{ID: "a", Title: "alpha"},
		{ID: "b", Title: "beta"},
		{ID: "c", Title: "gamma"},
	}
	got := rankDiagrams(diagrams, "zzzz qqqq")
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		tt.Fatalf("fallback selection = %v", got)
	}
}

func TestImproveHighlightsMatchingNodes(tt *testing.T) {
	store := newTestStore(tt)
	id := seedMapping(tt, store)
	e := &ImproveEngine{Store: store}

	d, err := e.Improve(context.Background(), id, "diag-arch", "database")
	if err != nil {
		tt.Fatalf("improve: %v", err)
	}
	var db, api *typ.DiagramNode
	for i := range d.Nodes {
		switch d.Nodes[i].ID {
		case "db":
			db = &d.Nodes[i]
		case "api":
			api = &d.Nodes[i]
		}
	}
	if db == nil || db.Style == "" {
		tt.Fatalf("matching node not highlighted: %+v", d.Nodes)
	}
	if !strings.Contains(db.Insight, "database") {
		tt.Fatalf("no explanatory sentence on matching node: %q", db.Insight)
	}
	if api == nil || api.Style != "" {
		tt.Fatalf("non-matching node was modified: %+v", api)
	}
	if !strings.HasPrefix(d.Insights[0], "Applied instruction:") {
		tt.Fatalf("provenance insight missing: %v", d.Insights)
	}
	if !strings.HasSuffix(d.Title, "(improved: database)") {
		tt.Fatalf("title provenance suffix missing: %q", d.Title)
	}
	if !strings.Contains(d.Mermaid, "style") {
		tt.Fatalf("mermaid not re-rendered with style line:\n%s", d.Mermaid)
	}
}

func TestImprovePurity(tt *testing.T) {
	store := newTestStore(tt)
	id := seedMapping(tt, store)
	e := &ImproveEngine{Store: store}

	first, err := e.Improve(context.Background(), id, "diag-arch", "database")
	if err != nil {
		tt.Fatalf("first improve: %v", err)
	}
	second, err := e.Improve(context.Background(), id, "diag-arch", "database")
	if err != nil {
		tt.Fatalf("second improve: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		tt.Fatalf("repeated improve diverged:\n%+v\n%+v", first, second)
	}
	if strings.Count(second.Title, "(improved:") != 1 {
		tt.Fatalf("title suffix compounded: %q", second.Title)
	}

	// The cached original stays pristine.
	cctx, ok, err := store.Context(context.Background(), id)
	if err != nil || !ok {
		tt.Fatalf("context lookup: ok=%v err=%v", ok, err)
	}
	for _, d := range cctx.Diagrams {
		if strings.Contains(d.Title, "improved") {
			tt.Fatalf("cached diagram mutated: %q", d.Title)
		}
		for _, n := range d.Nodes {
			if n.Style != "" {
				tt.Fatalf("cached node mutated: %+v", n)
			}
		}
	}
}

func TestImproveUsesBackendEnrichment(tt *testing.T) {
	store := newTestStore(tt)
	id := seedMapping(tt, store)
	fake := &llm.FakeClient{
		Reply:     json.RawMessage(`{"description":"Database access concentrated behind the Prisma layer.","insights":["All reads and writes go through lib/db.","The API routes never open raw connections."]}`),
		FakeUsage: llm.Usage{PromptTokens: 800, CompletionTokens: 90},
	}
	e := &ImproveEngine{Store: store, LLM: fake}

	d, err := e.Improve(context.Background(), id, "diag-arch", "database")
	if err != nil {
		tt.Fatalf("improve: %v", err)
	}
	if fake.Calls != 1 {
		tt.Fatalf("backend called %d times, want 1", fake.Calls)
	}
	if !strings.Contains(d.Description, "Prisma layer") {
		tt.Fatalf("backend description not applied: %q", d.Description)
	}
	if !strings.HasPrefix(d.Insights[0], "Applied instruction:") {
		tt.Fatalf("provenance insight lost after enrichment: %v", d.Insights)
	}
	if !containsString(d.Insights, "All reads and writes go through lib/db.") {
		tt.Fatalf("backend insight missing: %v", d.Insights)
	}

	ledger, err := store.Ledger(context.Background())
	if err != nil {
		tt.Fatalf("ledger: %v", err)
	}
	if ledger.Total.RequestCount != 1 {
		tt.Fatalf("ledger total = %+v, want one recorded request", ledger.Total)
	}
}

func TestImproveDegradesOnBackendFailure(tt *testing.T) {
	store := newTestStore(tt)
	id := seedMapping(tt, store)

	heuristic := &ImproveEngine{Store: store}
	want, err := heuristic.Improve(context.Background(), id, "diag-arch", "database")
	if err != nil {
		tt.Fatalf("heuristic improve: %v", err)
	}

	failing := &ImproveEngine{Store: store, LLM: &llm.FakeClient{Err: errors.New("backend down")}}
	got, err := failing.Improve(context.Background(), id, "diag-arch", "database")
	if err != nil {
		tt.Fatalf("improve with failing backend: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		tt.Fatalf("failing backend changed the heuristic output:\n%+v\n%+v", want, got)
	}

	ledger, err := store.Ledger(context.Background())
	if err != nil {
		tt.Fatalf("ledger: %v", err)
	}
	if !ledger.Total.IsZero() {
		tt.Fatalf("failed enrichment recorded cost %+v", ledger.Total)
	}
}

func TestImproveUnknownDiagramFails(tt *testing.T) {
	store := newTestStore(tt)
	id := seedMapping(tt, store)
	e := &ImproveEngine{Store: store}

	if _, err := e.Improve(context.Background(), id, "missing", "anything"); !errors.Is(err, ErrNotFound) {
		tt.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestImproveEmptyInstructionIsIdentity(tt *testing.T) {
	store := newTestStore(tt)
	id := seedMapping(tt, store)
	e := &ImproveEngine{Store: store}

	d, err := e.Improve(context.Background(), id, "diag-arch", "   ")
	if err != nil {
		tt.Fatalf("improve: %v", err)
	}
	if strings.Contains(d.Title, "improved") {
		tt.Fatalf("empty instruction changed the title: %q", d.Title)
	}
	for _, n := range d.Nodes {
		if n.Style != "" {
			tt.Fatalf("empty instruction styled a node: %+v", n)
		}
	}
}
