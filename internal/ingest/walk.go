package ingest

import (
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"codemapper/internal/safeio"
	t "codemapper/internal/types"
)

// Resource bounds for model construction.
const (
	MaxAnalyzedFiles = 160
	MaxFileBytes     = 200 * 1024
	MaxImports       = 24
	MaxSnippetLines  = 12
	MaxSnippetBytes  = 1200
)

// skipDirs is the fixed ignore set: version control, build output and
// dependency directories.
var skipDirs = map[string]bool{
	".git": true, ".hg": true, ".svn": true,
	"node_modules": true, "vendor": true, "target": true,
	"build": true, "dist": true, ".next": true, ".cache": true,
	"__pycache__": true, ".venv": true, "coverage": true,
}

// allowedExts is the fixed extension allow-list. Files named "Dockerfile"
// are allowed regardless of extension.
var allowedExts = map[string]bool{
	".go": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".py": true, ".rb": true, ".java": true, ".kt": true, ".rs": true,
	".c": true, ".h": true, ".cpp": true, ".hpp": true, ".cs": true,
	".php": true, ".swift": true, ".scala": true, ".vue": true, ".svelte": true,
	".md": true, ".json": true, ".yml": true, ".yaml": true, ".toml": true,
	".sql": true, ".sh": true, ".prisma": true, ".graphql": true, ".proto": true,
	".html": true, ".css": true, ".scss": true,
}

var extLanguage = map[string]string{
	".go": "Go", ".js": "JavaScript", ".jsx": "JavaScript",
	".ts": "TypeScript", ".tsx": "TypeScript", ".py": "Python",
	".rb": "Ruby", ".java": "Java", ".kt": "Kotlin", ".rs": "Rust",
	".c": "C", ".h": "C", ".cpp": "C++", ".hpp": "C++", ".cs": "C#",
	".php": "PHP", ".swift": "Swift", ".scala": "Scala",
	".vue": "Vue", ".svelte": "Svelte", ".sql": "SQL", ".sh": "Shell",
	".prisma": "Prisma", ".graphql": "GraphQL", ".proto": "Protobuf",
}

var reImports = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^\s*import\s+(?:[\w{},*\s]+\s+from\s+)?['"]([^'"]+)['"]`),
	regexp.MustCompile(`(?m)require\(\s*['"]([^'"]+)['"]\s*\)`),
	regexp.MustCompile(`(?m)^\s*(?:import|from)\s+([\w.]+)`),
	regexp.MustCompile(`(?m)^\s*(?:import\s+)?"([\w./-]+)"\s*$`),
	regexp.MustCompile(`(?m)^\s*#include\s+[<"]([^>"]+)[>"]`),
}

// buildModel walks the extracted tree and assembles the bounded model.
// filepath.WalkDir visits entries in lexical order, which keeps collection
// deterministic once the global file cap halts it.
func buildModel(root, repoName string, source t.SourceKind, commit string) (*t.RepositoryModel, error) {
	fsys, err := safeio.NewSafeFS(root)
	if err != nil {
		return nil, err
	}

	model := &t.RepositoryModel{
		RepoName:    repoName,
		Source:      source,
		Commit:      commit,
		Root:        fsys.Root(),
		RetrievedAt: time.Now().UTC(),
	}

	err = filepath.WalkDir(fsys.Root(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(model.Files) >= MaxAnalyzedFiles {
			model.Truncated = true
			return filepath.SkipAll
		}

		rel, relErr := filepath.Rel(fsys.Root(), path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		ext := strings.ToLower(filepath.Ext(rel))
		if !allowedExts[ext] && filepath.Base(rel) != "Dockerfile" {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if info.Size() > MaxFileBytes {
			// Full exclusion, never truncation.
			model.SkippedBig++
			return nil
		}

		raw, readErr := fsys.SafeReadFile(rel)
		if readErr != nil {
			return nil
		}
		model.Files = append(model.Files, t.RepoFile{
			Path:     rel,
			Ext:      ext,
			Language: extLanguage[ext],
			Size:     info.Size(),
			Imports:  extractImports(string(raw)),
			Snippet:  extractSnippet(string(raw)),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	model.Languages = detectLanguages(model.Files)
	model.Modules = summarizeModules(model.Files)
	model.Routes = detectRoutes(model.Files)
	model.Frameworks = detectFrameworks(fsys, model.Files)
	model.Deployment = detectDeployment(model.Files)
	model.AgentLinks = detectAgentLinks(fsys, model.Files)
	return model, nil
}

// extractImports collects a deduplicated, capped list of import/require
// targets via pattern matching. Approximate by design.
func extractImports(src string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, re := range reImports {
		for _, m := range re.FindAllStringSubmatch(src, -1) {
			target := strings.TrimSpace(m[1])
			if target == "" {
				continue
			}
			if _, dup := seen[target]; dup {
				continue
			}
			seen[target] = struct{}{}
			out = append(out, target)
			if len(out) >= MaxImports {
				return out
			}
		}
	}
	return out
}

// extractSnippet keeps the first non-blank lines, bounded in lines and
// bytes. Used both for UI display and as compact prompt context.
func extractSnippet(src string) string {
	var kept []string
	for _, line := range strings.Split(src, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		kept = append(kept, strings.TrimRight(line, "\r"))
		if len(kept) >= MaxSnippetLines {
			break
		}
	}
	snippet := strings.Join(kept, "\n")
	if len(snippet) > MaxSnippetBytes {
		// Back the cut off to a rune boundary so the snippet stays valid UTF-8.
		cut := MaxSnippetBytes
		for cut > 0 && !utf8.RuneStart(snippet[cut]) {
			cut--
		}
		snippet = snippet[:cut]
	}
	return snippet
}

func detectLanguages(files []t.RepoFile) []string {
	counts := make(map[string]int)
	for _, f := range files {
		if f.Language != "" {
			counts[f.Language]++
		}
	}
	langs := make([]string, 0, len(counts))
	for l := range counts {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool {
		if counts[langs[i]] != counts[langs[j]] {
			return counts[langs[i]] > counts[langs[j]]
		}
		return langs[i] < langs[j]
	})
	return langs
}

func summarizeModules(files []t.RepoFile) []t.ModuleSummary {
	type agg struct {
		count int
		langs map[string]int
	}
	byDir := make(map[string]*agg)
	for _, f := range files {
		dir := "."
		if i := strings.IndexByte(f.Path, '/'); i >= 0 {
			dir = f.Path[:i]
		}
		a := byDir[dir]
		if a == nil {
			a = &agg{langs: make(map[string]int)}
			byDir[dir] = a
		}
		a.count++
		if f.Language != "" {
			a.langs[f.Language]++
		}
	}

	names := make([]string, 0, len(byDir))
	for n := range byDir {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make([]t.ModuleSummary, 0, len(names))
	for _, n := range names {
		a := byDir[n]
		main := ""
		best := 0
		for l, c := range a.langs {
			if c > best || (c == best && l < main) {
				main, best = l, c
			}
		}
		out = append(out, t.ModuleSummary{Name: n, FileCount: a.count, MainLang: main})
	}
	return out
}
