package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	t "codemapper/internal/types"
)

var (
	// ErrInvalidInput covers malformed requests: no source, both sources,
	// or a repo URL that does not look like owner/repo.
	ErrInvalidInput = errors.New("ingest: invalid input")
	// ErrTimeout classifies deadline expiry on metadata or archive fetches
	// so callers can react differently from other upstream failures.
	ErrTimeout = errors.New("ingest: upstream timeout")
)

// UpstreamError carries the originating status of a failed hosting-API call.
type UpstreamError struct {
	Op     string
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("ingest: %s failed with status %d", e.Op, e.Status)
}

// ArchiveSink optionally retains raw archive bytes keyed by the commit
// surrogate. Failures are logged by the caller, never fatal.
type ArchiveSink interface {
	Put(ctx context.Context, key string, content []byte) error
}

// Ingestor resolves a GitHub URL or an uploaded archive into a bounded
// RepositoryModel. Network calls run under per-call timeouts.
type Ingestor struct {
	HTTP            *http.Client
	APIBase         string // override for tests; defaults to https://api.github.com
	MetadataTimeout time.Duration
	DownloadTimeout time.Duration
	Archives        ArchiveSink // optional
}

// Request carries exactly one of RepoURL or ArchiveBytes.
type Request struct {
	RepoURL      string
	AuthToken    string
	ArchiveBytes []byte
	ArchiveName  string
}

// NewIngestor returns an ingestor with default timeouts.
func NewIngestor() *Ingestor {
	return &Ingestor{
		HTTP:            &http.Client{Timeout: 90 * time.Second},
		MetadataTimeout: 15 * time.Second,
		DownloadTimeout: 60 * time.Second,
	}
}

// Ingest builds the model and returns a cleanup func that removes the
// extraction directory. The cleanup func is non-nil whenever err is nil and
// must be deferred by the caller; it is safe to call more than once.
func (ing *Ingestor) Ingest(ctx context.Context, req Request) (*t.RepositoryModel, func(), error) {
	hasURL := strings.TrimSpace(req.RepoURL) != ""
	hasBytes := len(req.ArchiveBytes) > 0
	if hasURL == hasBytes {
		return nil, nil, fmt.Errorf("%w: exactly one of repo_url or archive_bytes is required", ErrInvalidInput)
	}

	var (
		archive  []byte
		repoName string
		source   t.SourceKind
		err      error
	)
	if hasURL {
		source = t.SourceGitHub
		archive, repoName, err = ing.fetchGitHubArchive(ctx, req.RepoURL, req.AuthToken)
		if err != nil {
			return nil, nil, err
		}
	} else {
		source = t.SourceUpload
		archive = req.ArchiveBytes
		repoName = uploadRepoName(req.ArchiveName)
	}

	commit := commitSurrogate(archive)
	if ing.Archives != nil {
		if err := ing.Archives.Put(ctx, commit, archive); err != nil {
			// Retention is best-effort; the mapping proceeds without it.
			log.Printf("ingest: archive retention failed: %v", err)
		}
	}

	root, cleanup, err := extractArchive(archive)
	if err != nil {
		return nil, nil, err
	}

	model, err := buildModel(root, repoName, source, commit)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return model, cleanup, nil
}

func uploadRepoName(archiveName string) string {
	name := strings.TrimSpace(archiveName)
	name = strings.TrimSuffix(name, ".zip")
	if name == "" {
		name = "uploaded-archive"
	}
	return name
}
