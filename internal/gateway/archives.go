package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"codemapper/internal/blob"
)

// ArchiveReader is the retention-store surface the gateway consumes.
// *blob.ArchiveStore satisfies it; tests substitute an in-memory fake.
type ArchiveReader interface {
	Get(ctx context.Context, commit string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
	GetURL(ctx context.Context, commit string) (string, error)
}

// HandleArchives serves the retained-archive surface. Without a commit
// query parameter it lists retained commit surrogates; with one it returns
// a presigned download link.
func (s *Handlers) HandleArchives(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	if s.Archives == nil {
		writeError(w, http.StatusServiceUnavailable, "archive retention not configured")
		return
	}

	if commit := strings.TrimSpace(r.URL.Query().Get("commit")); commit != "" {
		url, err := s.Archives.GetURL(r.Context(), commit)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"commit": commit, "url": url})
		return
	}

	commits, err := s.Archives.List(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	if commits == nil {
		commits = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"commits": commits})
}

// resolveArchivedCommit loads a retained archive so a mapping can be rerun
// (different focus areas, expired cache) without re-upload or re-download.
func (s *Handlers) resolveArchivedCommit(ctx context.Context, body *mapBody) (int, error) {
	if s.Archives == nil {
		return http.StatusServiceUnavailable, errors.New("archive retention not configured")
	}
	raw, err := s.Archives.Get(ctx, body.ArchivedCommit)
	if errors.Is(err, blob.ErrNotFound) {
		return http.StatusNotFound, err
	}
	if err != nil {
		return http.StatusBadGateway, err
	}
	body.ArchiveBytes = raw
	body.ArchiveName = body.ArchivedCommit + ".zip"
	return 0, nil
}
