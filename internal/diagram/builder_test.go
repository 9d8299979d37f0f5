package diagram

import (
	"strings"
	"testing"
	"time"

	t "codemapper/internal/types"
)

func sampleModel() *t.RepositoryModel {
	return &t.RepositoryModel{
		RepoName: "acme/webapp",
		Source:   t.SourceGitHub,
		Commit:   "abcdef1234567890abcdef1234567890abcdef12",
		Files: []t.RepoFile{
			{Path: "pages/api/patients.ts", Ext: ".ts", Language: "TypeScript", Imports: []string{"next", "lib/db"}},
			{Path: "lib/db.ts", Ext: ".ts", Language: "TypeScript", Imports: []string{"@prisma/client"}},
			{Path: "prisma/schema.prisma", Ext: ".prisma", Language: "Prisma"},
			{Path: "lib/auth.ts", Ext: ".ts", Language: "TypeScript"},
		},
		Languages:  []string{"TypeScript", "Prisma"},
		Frameworks: []string{"Next.js"},
		Routes: []t.RouteRef{
			{Kind: "api", Path: "/api/patients", File: "pages/api/patients.ts"},
		},
		Modules: []t.ModuleSummary{
			{Name: "pages", FileCount: 1, MainLang: "TypeScript"},
			{Name: "lib", FileCount: 2, MainLang: "TypeScript"},
			{Name: "prisma", FileCount: 1, MainLang: "Prisma"},
		},
		AgentLinks:  []t.AgentLink{{From: "triage", To: "scheduler", Via: "queue"}},
		RetrievedAt: time.Now(),
	}
}

func TestBuildProducesAllKinds(tt *testing.T) {
	b := NewTemplateBuilder()
	ds := b.Build(sampleModel(), []string{"data_flow"})

	if len(ds) != len(t.AllDiagramKinds) {
		tt.Fatalf("got %d diagrams, want %d", len(ds), len(t.AllDiagramKinds))
	}
	seen := make(map[t.DiagramKind]bool)
	for _, d := range ds {
		seen[d.Kind] = true
		if d.Mermaid == "" {
			tt.Fatalf("%s: empty mermaid", d.Kind)
		}
		if d.Nodes == nil || d.Edges == nil || d.Insights == nil {
			tt.Fatalf("%s: nil collections after sanitize", d.Kind)
		}
		if len(d.Insights) > t.MaxInsights {
			tt.Fatalf("%s: %d insights", d.Kind, len(d.Insights))
		}
	}
	for _, kind := range t.AllDiagramKinds {
		if !seen[kind] {
			tt.Fatalf("missing kind %s", kind)
		}
	}
}

func TestBuildAgentDiagramUsesLinks(tt *testing.T) {
	b := NewTemplateBuilder()
	ds := b.Build(sampleModel(), nil)
	for _, d := range ds {
		if d.Kind != t.DiagramAgentComms {
			continue
		}
		if len(d.Nodes) != 2 || len(d.Edges) != 1 {
			tt.Fatalf("agent graph nodes=%d edges=%d", len(d.Nodes), len(d.Edges))
		}
		if !strings.Contains(d.Mermaid, "queue") {
			tt.Fatalf("edge label missing from mermaid:\n%s", d.Mermaid)
		}
		return
	}
	tt.Fatalf("agent diagram not found")
}

func TestSanitizeIdempotent(tt *testing.T) {
	d := t.DiagramPayload{
		ID:       "x",
		Kind:     t.DiagramArchitecture,
		Insights: []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"},
	}
	once := Sanitize(d)
	twice := Sanitize(once)

	if once.Mermaid != PlaceholderMermaid {
		tt.Fatalf("placeholder not substituted")
	}
	if len(once.Insights) != t.MaxInsights {
		tt.Fatalf("insights not capped: %d", len(once.Insights))
	}
	if len(twice.Insights) != len(once.Insights) || twice.Mermaid != once.Mermaid {
		tt.Fatalf("sanitize is not idempotent")
	}
	if twice.Nodes == nil || twice.Edges == nil {
		tt.Fatalf("arrays must stay present")
	}
}

func TestRegenerateIsPure(tt *testing.T) {
	b := NewTemplateBuilder()
	ds := b.Build(sampleModel(), nil)
	orig := ds[0]
	origEdges := len(orig.Edges)

	re := Regenerate(orig)
	if re.Mermaid == "" {
		tt.Fatalf("regenerated mermaid empty")
	}
	if len(orig.Edges) != origEdges {
		tt.Fatalf("regenerate mutated its input")
	}
}
