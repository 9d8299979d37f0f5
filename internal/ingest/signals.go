package ingest

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"codemapper/internal/safeio"
	t "codemapper/internal/types"
)

// Derived signals are best-effort hints, not ground truth. They feed the
// model summary and the heuristic diagram builder.

var manifestFrameworks = map[string][]string{
	"package.json": {
		"next", "react", "express", "fastify", "vue", "svelte", "nestjs", "@nestjs/core",
	},
	"go.mod": {
		"github.com/gin-gonic/gin", "github.com/go-chi/chi", "github.com/gofiber/fiber", "github.com/labstack/echo",
	},
	"requirements.txt": {
		"django", "flask", "fastapi",
	},
}

var frameworkLabels = map[string]string{
	"next": "Next.js", "react": "React", "express": "Express", "fastify": "Fastify",
	"vue": "Vue", "svelte": "Svelte", "nestjs": "NestJS", "@nestjs/core": "NestJS",
	"github.com/gin-gonic/gin": "Gin", "github.com/go-chi/chi": "chi",
	"github.com/gofiber/fiber": "Fiber", "github.com/labstack/echo": "Echo",
	"django": "Django", "flask": "Flask", "fastapi": "FastAPI",
}

func detectFrameworks(fsys *safeio.SafeFS, files []t.RepoFile) []string {
	found := make(map[string]struct{})
	for _, f := range files {
		base := filepath.Base(f.Path)
		needles, ok := manifestFrameworks[base]
		if !ok {
			continue
		}
		raw, err := fsys.SafeReadFile(f.Path)
		if err != nil {
			continue
		}
		content := strings.ToLower(string(raw))
		for _, needle := range needles {
			if strings.Contains(content, needle) {
				found[frameworkLabels[needle]] = struct{}{}
			}
		}
	}
	// Path heuristics: a pages/ or app/ tree alongside package.json reads
	// as Next.js even when the manifest scan missed it.
	hasPkg := false
	hasPagesDir := false
	for _, f := range files {
		if filepath.Base(f.Path) == "package.json" {
			hasPkg = true
		}
		if strings.HasPrefix(f.Path, "pages/") || strings.HasPrefix(f.Path, "app/") ||
			strings.HasPrefix(f.Path, "src/pages/") || strings.HasPrefix(f.Path, "src/app/") {
			hasPagesDir = true
		}
	}
	if hasPkg && hasPagesDir {
		found["Next.js"] = struct{}{}
	}

	out := make([]string, 0, len(found))
	for fw := range found {
		out = append(out, fw)
	}
	sort.Strings(out)
	return out
}

// deploymentFiles maps known configuration files to pipeline signals.
var deploymentFiles = map[string]string{
	"Dockerfile":         "docker",
	"docker-compose.yml": "docker-compose",
	"vercel.json":        "vercel",
	"fly.toml":           "fly.io",
	"Procfile":           "heroku",
	"netlify.toml":       "netlify",
}

func detectDeployment(files []t.RepoFile) []string {
	found := make(map[string]struct{})
	for _, f := range files {
		if sig, ok := deploymentFiles[filepath.Base(f.Path)]; ok {
			found[sig] = struct{}{}
		}
		if strings.HasPrefix(f.Path, ".github/workflows/") {
			found["github-actions"] = struct{}{}
		}
	}
	out := make([]string, 0, len(found))
	for s := range found {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// detectRoutes infers page and API routes from Next.js-style file layout.
func detectRoutes(files []t.RepoFile) []t.RouteRef {
	var out []t.RouteRef
	for _, f := range files {
		rel := strings.TrimPrefix(f.Path, "src/")
		switch {
		case strings.HasPrefix(rel, "pages/api/") || strings.HasPrefix(rel, "app/api/"):
			out = append(out, t.RouteRef{Kind: "api", Path: routePath(rel), File: f.Path})
		case strings.HasPrefix(rel, "pages/") || strings.HasPrefix(rel, "app/"):
			if isPageFile(rel) {
				out = append(out, t.RouteRef{Kind: "page", Path: routePath(rel), File: f.Path})
			}
		}
	}
	return out
}

func isPageFile(rel string) bool {
	switch filepath.Ext(rel) {
	case ".js", ".jsx", ".ts", ".tsx", ".vue", ".svelte":
	default:
		return false
	}
	base := filepath.Base(rel)
	if strings.HasPrefix(base, "_") || base == "layout.tsx" || base == "layout.js" {
		return false
	}
	return true
}

func routePath(rel string) string {
	p := rel
	p = strings.TrimPrefix(p, "pages")
	p = strings.TrimPrefix(p, "app")
	p = strings.TrimSuffix(p, filepath.Ext(p))
	p = strings.TrimSuffix(p, "/index")
	p = strings.TrimSuffix(p, "/page")
	p = strings.TrimSuffix(p, "/route")
	if p == "" {
		p = "/"
	}
	return p
}

// reAgentLink matches from/to(/via) triples inside the agents config file.
// Approximate; a structural JSON parse can replace it behind detectAgentLinks.
var reAgentLink = regexp.MustCompile(`"from"\s*:\s*"([^"]+)"\s*,\s*"to"\s*:\s*"([^"]+)"(?:\s*,\s*"via"\s*:\s*"([^"]+)")?`)

// agentConfigName is the one configuration file the link extractor reads.
const agentConfigName = "agents.config.json"

func detectAgentLinks(fsys *safeio.SafeFS, files []t.RepoFile) []t.AgentLink {
	var out []t.AgentLink
	for _, f := range files {
		if filepath.Base(f.Path) != agentConfigName {
			continue
		}
		raw, err := fsys.SafeReadFile(f.Path)
		if err != nil {
			continue
		}
		for _, m := range reAgentLink.FindAllStringSubmatch(string(raw), -1) {
			out = append(out, t.AgentLink{From: m[1], To: m[2], Via: m[3]})
		}
	}
	return out
}
