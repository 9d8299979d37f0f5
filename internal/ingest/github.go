package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
)

// reGitHubURL matches https://github.com/owner/repo with an optional
// /tree/branch suffix. Anything else is an InvalidInput failure.
var reGitHubURL = regexp.MustCompile(`^https?://github\.com/([\w.-]+)/([\w.-]+?)(?:\.git)?(?:/tree/([^/?#]+))?/?(?:[?#].*)?$`)

// ParseGitHubURL splits a repository URL into owner, repo and an optional
// embedded branch.
func ParseGitHubURL(raw string) (owner, repo, branch string, err error) {
	m := reGitHubURL.FindStringSubmatch(strings.TrimSpace(raw))
	if m == nil {
		return "", "", "", fmt.Errorf("%w: unrecognized github url %q", ErrInvalidInput, raw)
	}
	return m[1], m[2], m[3], nil
}

func (ing *Ingestor) apiBase() string {
	if strings.TrimSpace(ing.APIBase) != "" {
		return strings.TrimRight(ing.APIBase, "/")
	}
	return "https://api.github.com"
}

// fetchGitHubArchive resolves the branch (repo metadata lookup when the URL
// does not embed one) and downloads its zipball.
func (ing *Ingestor) fetchGitHubArchive(ctx context.Context, rawURL, authToken string) ([]byte, string, error) {
	owner, repo, branch, err := ParseGitHubURL(rawURL)
	if err != nil {
		return nil, "", err
	}

	if branch == "" {
		branch, err = ing.defaultBranch(ctx, owner, repo, authToken)
		if err != nil {
			return nil, "", err
		}
	}

	archive, err := ing.downloadZipball(ctx, owner, repo, branch, authToken)
	if err != nil {
		return nil, "", err
	}
	return archive, owner + "/" + repo, nil
}

func (ing *Ingestor) defaultBranch(ctx context.Context, owner, repo, authToken string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, ing.MetadataTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/repos/%s/%s", ing.apiBase(), owner, repo)
	body, err := ing.doGet(ctx, "repository metadata", url, authToken)
	if err != nil {
		return "", err
	}
	var meta struct {
		DefaultBranch string `json:"default_branch"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("ingest: decode repository metadata: %w", err)
	}
	if strings.TrimSpace(meta.DefaultBranch) == "" {
		return "main", nil
	}
	return meta.DefaultBranch, nil
}

func (ing *Ingestor) downloadZipball(ctx context.Context, owner, repo, branch, authToken string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, ing.DownloadTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/repos/%s/%s/zipball/%s", ing.apiBase(), owner, repo, branch)
	return ing.doGet(ctx, "archive download", url, authToken)
}

func (ing *Ingestor) doGet(ctx context.Context, op, url, authToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if strings.TrimSpace(authToken) != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(authToken))
	}

	resp, err := ing.HTTP.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, op)
		}
		return nil, fmt.Errorf("ingest: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &UpstreamError{Op: op, Status: resp.StatusCode}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrTimeout, op)
		}
		return nil, fmt.Errorf("ingest: %s: %w", op, err)
	}
	return body, nil
}
