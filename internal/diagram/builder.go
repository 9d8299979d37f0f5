package diagram

import (
	"fmt"
	"strings"

	t "codemapper/internal/types"
)

// Builder produces seed diagrams from a repository model. Seed diagrams
// come from static analysis alone, prior to any AI enhancement.
type Builder interface {
	Build(model *t.RepositoryModel, focusAreas []string) []t.DiagramPayload
}

// TemplateBuilder is the heuristic default: one diagram per fixed kind,
// assembled from model signals.
type TemplateBuilder struct{}

func NewTemplateBuilder() *TemplateBuilder { return &TemplateBuilder{} }

// Build emits every fixed diagram kind in generation order. Focus areas
// shape emphasis (an extra insight line), not the set of kinds.
func (b *TemplateBuilder) Build(model *t.RepositoryModel, focusAreas []string) []t.DiagramPayload {
	focus := make(map[string]bool, len(focusAreas))
	for _, f := range focusAreas {
		focus[strings.ToLower(strings.TrimSpace(f))] = true
	}

	out := make([]t.DiagramPayload, 0, len(t.AllDiagramKinds))
	for _, kind := range t.AllDiagramKinds {
		d := b.buildKind(model, kind)
		if focus[string(kind)] {
			d.Insights = append([]string{"Focus area requested by the caller."}, d.Insights...)
		}
		out = append(out, Sanitize(d))
	}
	return out
}

func (b *TemplateBuilder) buildKind(model *t.RepositoryModel, kind t.DiagramKind) t.DiagramPayload {
	d := t.DiagramPayload{
		ID:    fmt.Sprintf("%s-%s", kind, shortID(model.Commit)),
		Kind:  kind,
		Title: titleFor(kind, model.RepoName),
	}
	switch kind {
	case t.DiagramArchitecture, t.DiagramComponent:
		d.Nodes, d.Edges = moduleGraph(model)
		d.Description = "Top-level modules and their inferred relationships."
	case t.DiagramDataFlow:
		d.Nodes, d.Edges = dataFlowGraph(model)
		d.Description = "How requests and data move through the detected routes."
	case t.DiagramDependency:
		d.Nodes, d.Edges = dependencyGraph(model)
		d.Description = "Most referenced external imports."
	case t.DiagramDeployment:
		d.Nodes, d.Edges = deploymentGraph(model)
		d.Description = "Deployment and pipeline signals found in configuration."
	case t.DiagramSequence:
		d.Nodes, d.Edges = sequenceGraph(model)
		d.Mermaid = renderSequence(d.Edges)
		d.Description = "Representative request sequence."
	case t.DiagramSecurityPrivacy:
		d.Nodes, d.Edges = securityGraph(model)
		d.Description = "Files that look auth- or privacy-relevant."
	case t.DiagramAgentComms:
		d.Nodes, d.Edges = agentGraph(model)
		d.Description = "Declared agent-to-agent communication links."
	}
	if d.Mermaid == "" {
		d.Mermaid = renderFlowchart(d.Nodes, d.Edges)
	}
	d.Insights = append(d.Insights, insightsFor(model, kind)...)
	return d
}

// Regenerate re-renders a cached diagram's text from its structured graph.
// Used by the Ask wants-focus path: a cheap visual refresh without a second
// AI round-trip.
func Regenerate(d t.DiagramPayload) t.DiagramPayload {
	out := d.Clone()
	if out.Kind == t.DiagramSequence {
		out.Mermaid = renderSequence(out.Edges)
	} else {
		out.Mermaid = renderFlowchart(out.Nodes, out.Edges)
	}
	return Sanitize(out)
}

func titleFor(kind t.DiagramKind, repo string) string {
	label := strings.ReplaceAll(string(kind), "_", " ")
	if label != "" {
		label = strings.ToUpper(label[:1]) + label[1:]
	}
	return fmt.Sprintf("%s - %s", label, repo)
}

func moduleGraph(model *t.RepositoryModel) ([]t.DiagramNode, []t.DiagramEdge) {
	var nodes []t.DiagramNode
	var edges []t.DiagramEdge
	for _, m := range model.Modules {
		nodes = append(nodes, t.DiagramNode{
			ID:      "mod_" + m.Name,
			Label:   m.Name,
			Kind:    "module",
			Insight: fmt.Sprintf("%d files, mostly %s", m.FileCount, orUnknown(m.MainLang)),
		})
	}
	// Cross-module edges from import targets that name another module.
	names := make(map[string]bool, len(model.Modules))
	for _, m := range model.Modules {
		names[m.Name] = true
	}
	seen := make(map[string]bool)
	for _, f := range model.Files {
		from := topDir(f.Path)
		for _, imp := range f.Imports {
			for name := range names {
				if name == from || !strings.Contains(imp, name) {
					continue
				}
				key := from + "->" + name
				if seen[key] {
					continue
				}
				seen[key] = true
				edges = append(edges, t.DiagramEdge{From: "mod_" + from, To: "mod_" + name, Label: "imports"})
			}
		}
	}
	return nodes, edges
}

func dataFlowGraph(model *t.RepositoryModel) ([]t.DiagramNode, []t.DiagramEdge) {
	nodes := []t.DiagramNode{{ID: "client", Label: "Client", Kind: "actor"}}
	var edges []t.DiagramEdge
	count := 0
	for _, r := range model.Routes {
		if r.Kind != "api" {
			continue
		}
		id := "api_" + mermaidID(r.Path)
		nodes = append(nodes, t.DiagramNode{ID: id, Label: r.Path, Kind: "api", Insight: "handled by " + r.File})
		edges = append(edges, t.DiagramEdge{From: "client", To: id, Label: "request"})
		count++
		if count >= 12 {
			break
		}
	}
	if hasDataStore(model) {
		nodes = append(nodes, t.DiagramNode{ID: "db", Label: "Database", Kind: "store"})
		for _, n := range nodes {
			if n.Kind == "api" {
				edges = append(edges, t.DiagramEdge{From: n.ID, To: "db", Label: "reads/writes"})
			}
		}
	}
	return nodes, edges
}

func dependencyGraph(model *t.RepositoryModel) ([]t.DiagramNode, []t.DiagramEdge) {
	counts := make(map[string]int)
	for _, f := range model.Files {
		for _, imp := range f.Imports {
			if strings.HasPrefix(imp, ".") || strings.HasPrefix(imp, "/") {
				continue
			}
			counts[imp]++
		}
	}
	repoNode := t.DiagramNode{ID: "repo", Label: model.RepoName, Kind: "root"}
	nodes := []t.DiagramNode{repoNode}
	var edges []t.DiagramEdge
	for _, imp := range topKeys(counts, 10) {
		id := "dep_" + mermaidID(imp)
		nodes = append(nodes, t.DiagramNode{
			ID:      id,
			Label:   imp,
			Kind:    "dependency",
			Insight: fmt.Sprintf("imported by %d files", counts[imp]),
		})
		edges = append(edges, t.DiagramEdge{From: "repo", To: id, Label: "depends on"})
	}
	return nodes, edges
}

func deploymentGraph(model *t.RepositoryModel) ([]t.DiagramNode, []t.DiagramEdge) {
	nodes := []t.DiagramNode{{ID: "source", Label: "Source tree", Kind: "source"}}
	var edges []t.DiagramEdge
	for _, sig := range model.Deployment {
		id := "dep_" + mermaidID(sig)
		nodes = append(nodes, t.DiagramNode{ID: id, Label: sig, Kind: "deployment"})
		edges = append(edges, t.DiagramEdge{From: "source", To: id, Label: "deployed via"})
	}
	return nodes, edges
}

func sequenceGraph(model *t.RepositoryModel) ([]t.DiagramNode, []t.DiagramEdge) {
	nodes := []t.DiagramNode{
		{ID: "client", Label: "Client"},
		{ID: "server", Label: "Server"},
	}
	var edges []t.DiagramEdge
	count := 0
	for _, r := range model.Routes {
		if r.Kind != "api" {
			continue
		}
		edges = append(edges, t.DiagramEdge{From: "client", To: "server", Label: r.Path})
		count++
		if count >= 8 {
			break
		}
	}
	if hasDataStore(model) {
		nodes = append(nodes, t.DiagramNode{ID: "db", Label: "Database"})
		edges = append(edges, t.DiagramEdge{From: "server", To: "db", Label: "query"})
	}
	return nodes, edges
}

func securityGraph(model *t.RepositoryModel) ([]t.DiagramNode, []t.DiagramEdge) {
	var nodes []t.DiagramNode
	var edges []t.DiagramEdge
	for _, f := range model.Files {
		lower := strings.ToLower(f.Path)
		if !strings.Contains(lower, "auth") && !strings.Contains(lower, "login") &&
			!strings.Contains(lower, "token") && !strings.Contains(lower, "session") {
			continue
		}
		id := "sec_" + mermaidID(f.Path)
		nodes = append(nodes, t.DiagramNode{ID: id, Label: f.Path, Kind: "security", Insight: "authentication-related file"})
		if len(nodes) >= 10 {
			break
		}
	}
	return nodes, edges
}

func agentGraph(model *t.RepositoryModel) ([]t.DiagramNode, []t.DiagramEdge) {
	seen := make(map[string]bool)
	var nodes []t.DiagramNode
	var edges []t.DiagramEdge
	add := func(name string) {
		if seen[name] {
			return
		}
		seen[name] = true
		nodes = append(nodes, t.DiagramNode{ID: "agent_" + mermaidID(name), Label: name, Kind: "agent"})
	}
	for _, l := range model.AgentLinks {
		add(l.From)
		add(l.To)
		edges = append(edges, t.DiagramEdge{
			From:  "agent_" + mermaidID(l.From),
			To:    "agent_" + mermaidID(l.To),
			Label: l.Via,
		})
	}
	return nodes, edges
}

func insightsFor(model *t.RepositoryModel, kind t.DiagramKind) []string {
	var out []string
	if len(model.Languages) > 0 {
		out = append(out, "Primary language: "+model.Languages[0]+".")
	}
	if kind == t.DiagramDeployment && len(model.Deployment) == 0 {
		out = append(out, "No deployment configuration detected.")
	}
	if kind == t.DiagramAgentComms && len(model.AgentLinks) == 0 {
		out = append(out, "No declared agent links; this view is empty by design of the heuristic.")
	}
	if model.Truncated {
		out = append(out, fmt.Sprintf("Analysis bounded to the first %d eligible files.", len(model.Files)))
	}
	return out
}

func hasDataStore(model *t.RepositoryModel) bool {
	for _, f := range model.Files {
		if f.Ext == ".sql" || f.Ext == ".prisma" {
			return true
		}
	}
	return false
}

func topDir(path string) string {
	if i := strings.IndexByte(path, '/'); i >= 0 {
		return path[:i]
	}
	return "."
}

func topKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	// Highest count first, name as tiebreak, for stable output.
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if counts[keys[j]] > counts[keys[i]] || (counts[keys[j]] == counts[keys[i]] && keys[j] < keys[i]) {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	if len(keys) > n {
		keys = keys[:n]
	}
	return keys
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func shortID(commit string) string {
	if len(commit) > 8 {
		return commit[:8]
	}
	return commit
}
