package mapper

import (
	"fmt"
	"strings"

	t "codemapper/internal/types"
)

const (
	summarySampleModules = 8
	summarySampleRoutes  = 10
	summarySampleLinks   = 6
)

// Summarize renders the model into a small fixed-field text block. This
// summary, never the raw file tree, is what goes to the AI backend, so
// prompt size is bounded independent of repository size.
func Summarize(model *t.RepositoryModel) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s (%s)\n", model.RepoName, model.Source)
	fmt.Fprintf(&b, "Commit surrogate: %s\n", model.Commit)
	fmt.Fprintf(&b, "Languages: %s\n", joinOr(model.Languages, "unknown"))
	fmt.Fprintf(&b, "Frameworks: %s\n", joinOr(model.Frameworks, "none detected"))
	fmt.Fprintf(&b, "Analyzed files: %d (truncated: %v, oversize skipped: %d)\n",
		len(model.Files), model.Truncated, model.SkippedBig)

	if len(model.Modules) > 0 {
		b.WriteString("Modules:\n")
		for i, m := range model.Modules {
			if i >= summarySampleModules {
				fmt.Fprintf(&b, "  ... and %d more\n", len(model.Modules)-i)
				break
			}
			fmt.Fprintf(&b, "  - %s (%d files, %s)\n", m.Name, m.FileCount, m.MainLang)
		}
	}
	if len(model.Routes) > 0 {
		b.WriteString("Routes:\n")
		for i, r := range model.Routes {
			if i >= summarySampleRoutes {
				fmt.Fprintf(&b, "  ... and %d more\n", len(model.Routes)-i)
				break
			}
			fmt.Fprintf(&b, "  - [%s] %s\n", r.Kind, r.Path)
		}
	}
	if len(model.AgentLinks) > 0 {
		b.WriteString("Agent links:\n")
		for i, l := range model.AgentLinks {
			if i >= summarySampleLinks {
				fmt.Fprintf(&b, "  ... and %d more\n", len(model.AgentLinks)-i)
				break
			}
			fmt.Fprintf(&b, "  - %s -> %s (%s)\n", l.From, l.To, l.Via)
		}
	}
	if len(model.Deployment) > 0 {
		fmt.Fprintf(&b, "Deployment signals: %s\n", strings.Join(model.Deployment, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

func joinOr(vals []string, fallback string) string {
	if len(vals) == 0 {
		return fallback
	}
	return strings.Join(vals, ", ")
}
