package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sort"
	"testing"

	"codemapper/internal/blob"
	typ "codemapper/internal/types"
)

// fakeArchives is an in-memory ArchiveReader.
type fakeArchives struct {
	objects map[string][]byte
}

func (f *fakeArchives) Get(_ context.Context, commit string) ([]byte, error) {
	raw, ok := f.objects[commit]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return raw, nil
}

func (f *fakeArchives) List(_ context.Context) ([]string, error) {
	commits := make([]string, 0, len(f.objects))
	for c := range f.objects {
		commits = append(commits, c)
	}
	sort.Strings(commits)
	return commits, nil
}

func (f *fakeArchives) GetURL(_ context.Context, commit string) (string, error) {
	return "https://archives.test/" + commit + ".zip", nil
}

func getPath(tt *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	tt.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestArchiveListAndURL(tt *testing.T) {
	h := newTestHandlers(tt)
	h.Archives = &fakeArchives{objects: map[string][]byte{
		"aaa111": []byte("zip-a"),
		"bbb222": []byte("zip-b"),
	}}
	mux := NewMux(h)

	rec := getPath(tt, mux, "/api/archives")
	if rec.Code != http.StatusOK {
		tt.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Commits []string `json:"commits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		tt.Fatalf("decode list: %v", err)
	}
	if !reflect.DeepEqual(list.Commits, []string{"aaa111", "bbb222"}) {
		tt.Fatalf("commits = %v", list.Commits)
	}

	rec = getPath(tt, mux, "/api/archives?commit=aaa111")
	if rec.Code != http.StatusOK {
		tt.Fatalf("url status = %d", rec.Code)
	}
	var link struct {
		Commit string `json:"commit"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &link); err != nil {
		tt.Fatalf("decode link: %v", err)
	}
	if link.Commit != "aaa111" || link.URL == "" {
		tt.Fatalf("link = %+v", link)
	}
}

func TestArchivesNotConfigured(tt *testing.T) {
	mux := NewMux(newTestHandlers(tt))
	if rec := getPath(tt, mux, "/api/archives"); rec.Code != http.StatusServiceUnavailable {
		tt.Fatalf("status = %d, want 503", rec.Code)
	}
	rec := postJSON(tt, mux, "/api/map", map[string]string{"archived_commit": "aaa111"})
	if rec.Code != http.StatusServiceUnavailable {
		tt.Fatalf("map status = %d, want 503", rec.Code)
	}
}

func TestMapFromRetainedArchive(tt *testing.T) {
	archive := zipBytes(tt, map[string]string{
		"repo/src/index.ts": "import express from 'express'\n",
		"repo/package.json": `{"dependencies":{"express":"4"}}`,
	})
	h := newTestHandlers(tt)
	h.Archives = &fakeArchives{objects: map[string][]byte{"aaa111": archive}}
	mux := NewMux(h)

	rec := postJSON(tt, mux, "/api/map", map[string]any{
		"archived_commit": "aaa111",
		"focus_areas":     []string{"dependency"},
	})
	if rec.Code != http.StatusOK {
		tt.Fatalf("map status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp typ.MapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		tt.Fatalf("decode response: %v", err)
	}
	if len(resp.Diagrams) != len(typ.AllDiagramKinds) {
		tt.Fatalf("got %d diagrams", len(resp.Diagrams))
	}
}

func TestMapFromUnknownArchiveIs404(tt *testing.T) {
	h := newTestHandlers(tt)
	h.Archives = &fakeArchives{objects: map[string][]byte{}}
	mux := NewMux(h)

	rec := postJSON(tt, mux, "/api/map", map[string]string{"archived_commit": "missing"})
	if rec.Code != http.StatusNotFound {
		tt.Fatalf("status = %d, want 404", rec.Code)
	}
}
