package types

import "time"

// SourceKind tells where a repository snapshot came from.
type SourceKind string

const (
	SourceGitHub SourceKind = "github"
	SourceUpload SourceKind = "upload"
)

// RepoFile is one analyzed file inside a RepositoryModel.
// Snippet and Imports are bounded at ingestion time.
type RepoFile struct {
	Path     string   `json:"path"`
	Ext      string   `json:"ext"`
	Language string   `json:"language,omitempty"`
	Size     int64    `json:"size"`
	Imports  []string `json:"imports,omitempty"`
	Snippet  string   `json:"snippet,omitempty"`
}

// RouteRef is a page or API route inferred from file paths.
type RouteRef struct {
	Kind string `json:"kind"` // page|api
	Path string `json:"path"`
	File string `json:"file"`
}

// ModuleSummary describes one top-level source directory.
type ModuleSummary struct {
	Name      string `json:"name"`
	FileCount int    `json:"file_count"`
	MainLang  string `json:"main_lang,omitempty"`
}

// AgentLink is a heuristic agent-to-agent communication hint.
type AgentLink struct {
	From string `json:"from"`
	To   string `json:"to"`
	Via  string `json:"via,omitempty"`
}

// RepositoryModel is the bounded structural model built once per mapping
// request. It is ephemeral; only its derivatives survive in the cache.
type RepositoryModel struct {
	RepoName    string          `json:"repo_name"`
	Source      SourceKind      `json:"source"`
	Commit      string          `json:"commit"` // content-hash surrogate, not a VCS id
	Root        string          `json:"-"`
	Files       []RepoFile      `json:"files"`
	Languages   []string        `json:"languages,omitempty"`
	Frameworks  []string        `json:"frameworks,omitempty"`
	Routes      []RouteRef      `json:"routes,omitempty"`
	Modules     []ModuleSummary `json:"modules,omitempty"`
	AgentLinks  []AgentLink     `json:"agent_links,omitempty"`
	Deployment  []string        `json:"deployment,omitempty"`
	SkippedBig  int             `json:"skipped_big"`
	Truncated   bool            `json:"truncated"`
	RetrievedAt time.Time       `json:"retrieved_at"`
}

// CostDelta is one AI usage increment. An all-zero delta is a no-op.
type CostDelta struct {
	RequestCount     int     `json:"request_count"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// IsZero reports whether recording the delta would change nothing.
func (c CostDelta) IsZero() bool {
	return c.RequestCount == 0 && c.PromptTokens == 0 && c.CompletionTokens == 0 && c.EstimatedCostUSD == 0
}

// Add returns the component-wise sum of two deltas.
func (c CostDelta) Add(o CostDelta) CostDelta {
	return CostDelta{
		RequestCount:     c.RequestCount + o.RequestCount,
		PromptTokens:     c.PromptTokens + o.PromptTokens,
		CompletionTokens: c.CompletionTokens + o.CompletionTokens,
		EstimatedCostUSD: c.EstimatedCostUSD + o.EstimatedCostUSD,
	}
}

// MapRequest is the external Map operation input. Exactly one of RepoURL or
// ArchiveBytes must be effectively present.
type MapRequest struct {
	RepoURL      string   `json:"repo_url,omitempty"`
	AuthToken    string   `json:"auth_token,omitempty"`
	ArchiveBytes []byte   `json:"archive_bytes,omitempty"`
	ArchiveName  string   `json:"archive_name,omitempty"`
	FocusAreas   []string `json:"focus_areas,omitempty"`
}

// MapResponse is the Map operation output.
type MapResponse struct {
	MappingID    string           `json:"mapping_id"`
	CacheKey     string           `json:"cache_key"`
	CacheHit     bool             `json:"cache_hit"`
	ProgressLogs []string         `json:"progress_logs"`
	Summary      string           `json:"summary"`
	Diagrams     []DiagramPayload `json:"diagrams"`
	Cost         CostDelta        `json:"cost"`
}

// AskResponse is the Ask operation output.
type AskResponse struct {
	Answer              string           `json:"answer"`
	Citations           []string         `json:"citations"`
	RegeneratedDiagrams []DiagramPayload `json:"regenerated_diagrams,omitempty"`
	Cost                CostDelta        `json:"cost"`
}
