package mapper

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"codemapper/internal/cache"
	"codemapper/internal/diagram"
	"codemapper/internal/ingest"
	"codemapper/internal/llm"
	typ "codemapper/internal/types"
)

// zipBytes writes entries in sorted order so identical inputs always
// produce identical archive bytes, and therefore one commit surrogate.
func zipBytes(tt *testing.T, files map[string]string) []byte {
	tt.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			tt.Fatalf("create %s: %v", name, err)
		}
		if _, err := w.Write([]byte(files[name])); err != nil {
			tt.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		tt.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func newTestStore(tt *testing.T) *cache.Store {
	tt.Helper()
	backend, err := cache.NewFileBackend(filepath.Join(tt.TempDir(), "cache.json"))
	if err != nil {
		tt.Fatalf("file backend: %v", err)
	}
	store, err := cache.NewStore(backend, cache.DefaultTTL)
	if err != nil {
		tt.Fatalf("store: %v", err)
	}
	return store
}

func newTestPipeline(tt *testing.T, client llm.Client) *Pipeline {
	tt.Helper()
	return &Pipeline{
		Ingestor: ingest.NewIngestor(),
		Builder:  diagram.NewTemplateBuilder(),
		Store:    newTestStore(tt),
		LLM:      client,
	}
}

func uploadRequest(tt *testing.T) typ.MapRequest {
	tt.Helper()
	return typ.MapRequest{
		ArchiveBytes: zipBytes(tt, map[string]string{
			"clinic/pages/api/patients.ts": "import { db } from '../../lib/db'\nexport default function handler() {}\n",
			"clinic/pages/api/billing.ts":  "import { charge } from '../../lib/payments'\nexport default function handler() {}\n",
			"clinic/lib/payments.ts":       "// payment flow entry point\nexport function charge() {}\n",
			"clinic/lib/db.ts":             "import { PrismaClient } from '@prisma/client'\n",
			"clinic/package.json":          `{"dependencies":{"next":"14.0.0"}}`,
		}),
		ArchiveName: "clinic.zip",
		FocusAreas:  []string{"data_flow", "security_privacy"},
	}
}

func TestNormalizeFocus(tt *testing.T) {
	got := NormalizeFocus([]string{" Data_Flow ", "data_flow", "bogus", "sequence", ""})
	want := []string{"data_flow", "sequence"}
	if !reflect.DeepEqual(got, want) {
		tt.Fatalf("normalized focus = %v, want %v", got, want)
	}

	all := make([]string, 0, len(typ.AllDiagramKinds))
	for _, k := range typ.AllDiagramKinds {
		all = append(all, string(k))
	}
	if got := NormalizeFocus(all); len(got) != MaxFocusAreas {
		tt.Fatalf("focus list not capped: got %d areas", len(got))
	}
}

func TestMapWithoutAIBackend(tt *testing.T) {
	p := newTestPipeline(tt, nil)

	resp, err := p.Map(context.Background(), uploadRequest(tt), nil)
	if err != nil {
		tt.Fatalf("map: %v", err)
	}
	if resp.CacheHit {
		tt.Fatal("first run reported a cache hit")
	}
	if len(resp.Diagrams) != len(typ.AllDiagramKinds) {
		tt.Fatalf("got %d diagrams, want %d", len(resp.Diagrams), len(typ.AllDiagramKinds))
	}
	if !resp.Cost.IsZero() {
		tt.Fatalf("cost without AI backend = %+v, want zero", resp.Cost)
	}

	// Without a backend the diagrams are exactly the sanitized seeds.
	seen := make(map[typ.DiagramKind]bool)
	for _, d := range resp.Diagrams {
		seen[d.Kind] = true
		if d.Mermaid == "" || d.Nodes == nil || d.Edges == nil || d.Insights == nil {
			tt.Fatalf("diagram %s not sanitized: %+v", d.Kind, d)
		}
	}
	for _, k := range typ.AllDiagramKinds {
		if !seen[k] {
			tt.Fatalf("missing diagram kind %s", k)
		}
	}

	// Diagrams match the heuristic seeds exactly: no enrichment ran.
	req := uploadRequest(tt)
	model, cleanup, err := p.Ingestor.Ingest(context.Background(), ingest.Request{
		ArchiveBytes: req.ArchiveBytes,
		ArchiveName:  req.ArchiveName,
	})
	if err != nil {
		tt.Fatalf("re-ingest: %v", err)
	}
	defer cleanup()
	seeds := diagram.SanitizeAll(p.Builder.Build(model, NormalizeFocus(req.FocusAreas)))
	if !reflect.DeepEqual(resp.Diagrams, seeds) {
		tt.Fatalf("diagrams diverge from seeds:\n%+v\n%+v", resp.Diagrams, seeds)
	}

	again, err := p.Map(context.Background(), uploadRequest(tt), nil)
	if err != nil {
		tt.Fatalf("second map: %v", err)
	}
	if !again.CacheHit {
		tt.Fatal("second identical run was not served from cache")
	}
	if again.MappingID != resp.MappingID {
		tt.Fatalf("cache hit changed mapping id: %s vs %s", again.MappingID, resp.MappingID)
	}
}

func TestMapDegradesOnMalformedReply(tt *testing.T) {
	fake := &llm.FakeClient{
		Reply:     json.RawMessage(`{"diagrams": "not an array"`),
		FakeUsage: llm.Usage{PromptTokens: 100, CompletionTokens: 50},
	}
	p := newTestPipeline(tt, fake)

	resp, err := p.Map(context.Background(), uploadRequest(tt), nil)
	if err != nil {
		tt.Fatalf("map: %v", err)
	}
	if fake.Calls == 0 {
		tt.Fatal("AI backend was never called")
	}
	if !resp.Cost.IsZero() {
		tt.Fatalf("degraded pass recorded cost %+v, want zero", resp.Cost)
	}
	if len(resp.Diagrams) != len(typ.AllDiagramKinds) {
		tt.Fatalf("degraded run lost diagrams: got %d", len(resp.Diagrams))
	}
}

func TestMapAppliesRefinedDiagrams(tt *testing.T) {
	refined := []typ.DiagramPayload{{
		ID:       "d1",
		Kind:     typ.DiagramArchitecture,
		Title:    "Refined architecture",
		Mermaid:  "flowchart TD\n    a --> b\n",
		Insights: []string{"refined"},
	}}
	reply, err := json.Marshal(map[string]any{"diagrams": refined})
	if err != nil {
		tt.Fatalf("marshal reply: %v", err)
	}
	fake := &llm.FakeClient{
		Reply:     json.RawMessage(reply),
		FakeUsage: llm.Usage{PromptTokens: 2000, CompletionTokens: 800},
	}
	p := newTestPipeline(tt, fake)

	resp, err := p.Map(context.Background(), uploadRequest(tt), nil)
	if err != nil {
		tt.Fatalf("map: %v", err)
	}
	if len(resp.Diagrams) != 1 || resp.Diagrams[0].Title != "Refined architecture" {
		tt.Fatalf("refined diagrams not applied: %+v", resp.Diagrams)
	}
	if resp.Cost.IsZero() || resp.Cost.RequestCount != 1 {
		tt.Fatalf("cost = %+v, want a single recorded request", resp.Cost)
	}
	if resp.Cost.PromptTokens != 2000 || resp.Cost.CompletionTokens != 800 {
		tt.Fatalf("token counts not carried: %+v", resp.Cost)
	}
}

func TestMapSelfCritiqueRunsSecondPass(tt *testing.T) {
	fake := &llm.FakeClient{Err: context.DeadlineExceeded}
	p := newTestPipeline(tt, fake)
	p.SelfCritique = true

	if _, err := p.Map(context.Background(), uploadRequest(tt), nil); err != nil {
		tt.Fatalf("map: %v", err)
	}
	if fake.Calls != 2 {
		tt.Fatalf("got %d AI calls, want 2 (initial + self-critique)", fake.Calls)
	}
}

func TestMapEmitsProgress(tt *testing.T) {
	p := newTestPipeline(tt, nil)

	var streamed []string
	resp, err := p.Map(context.Background(), uploadRequest(tt), func(line string) {
		streamed = append(streamed, line)
	})
	if err != nil {
		tt.Fatalf("map: %v", err)
	}
	if len(resp.ProgressLogs) == 0 {
		tt.Fatal("no progress logs in response")
	}
	if !reflect.DeepEqual(streamed, resp.ProgressLogs) {
		tt.Fatalf("sink lines diverge from response logs:\n%v\n%v", streamed, resp.ProgressLogs)
	}
}

func TestSummarizeIsBounded(tt *testing.T) {
	model := &typ.RepositoryModel{
		RepoName:  "big-repo",
		Commit:    "abcdef1234567890abcdef1234567890abcdef12",
		Languages: []string{"typescript"},
	}
	for i := 0; i < 500; i++ {
		model.Modules = append(model.Modules, typ.ModuleSummary{Name: "m", FileCount: 1})
		model.Routes = append(model.Routes, typ.RouteRef{Path: "/api/x", File: "x.ts"})
	}
	s := Summarize(model)
	if len(s) > 8*1024 {
		tt.Fatalf("summary grew with repo size: %d bytes", len(s))
	}
}
