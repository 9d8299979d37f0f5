package gateway

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"codemapper/internal/cache"
	"codemapper/internal/ingest"
	"codemapper/internal/mapper"
	"codemapper/internal/ratelimit"
	t "codemapper/internal/types"
)

// Handlers wires the HTTP surface to the pipeline and engines.
type Handlers struct {
	Pipeline *mapper.Pipeline
	Ask      *mapper.AskEngine
	Improve  *mapper.ImproveEngine
	Limiter  *ratelimit.Limiter
	Store    *cache.Store
	Hub      *ProgressHub
	Archives ArchiveReader // optional retention store
}

type errorBody struct {
	Error        string `json:"error"`
	RetryAfterMs int64  `json:"retryAfterMs,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("gateway: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// gate applies the rate limiter; a denial answers the request itself.
func (s *Handlers) gate(w http.ResponseWriter, r *http.Request, action ratelimit.Action) bool {
	d := s.Limiter.Consume(clientID(r), action)
	if d.Allowed {
		return true
	}
	w.Header().Set("Retry-After", strconv.FormatInt(int64((d.RetryAfter+time.Second-1)/time.Second), 10))
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error:        "rate limit exceeded",
		RetryAfterMs: d.RetryAfter.Milliseconds(),
	})
	return false
}

// mapStatus translates pipeline errors into HTTP statuses. Upstream
// problems (GitHub unreachable, timeout, non-2xx) surface as 502 so the
// client can distinguish them from its own bad input.
func mapStatus(err error) int {
	var upstream *ingest.UpstreamError
	switch {
	case errors.Is(err, ingest.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, mapper.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrTimeout), errors.As(err, &upstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type mapBody struct {
	t.MapRequest
	// WatchID attaches this mapping's progress stream to /api/watch.
	WatchID string `json:"watch_id,omitempty"`
	// ArchivedCommit maps a retained archive instead of a fresh source.
	ArchivedCommit string `json:"archived_commit,omitempty"`
}

func (s *Handlers) HandleMap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if !s.gate(w, r, ratelimit.ActionMap) {
		return
	}

	var body mapBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.ArchivedCommit != "" {
		if status, err := s.resolveArchivedCommit(r.Context(), &body); err != nil {
			writeError(w, status, err.Error())
			return
		}
	}

	var sink mapper.ProgressSink
	if body.WatchID != "" && s.Hub != nil {
		watchID := body.WatchID
		sink = func(line string) { s.Hub.Publish(watchID, line) }
		defer s.Hub.Close(watchID)
	}

	resp, err := s.Pipeline.Map(r.Context(), body.MapRequest, sink)
	if err != nil {
		log.Printf("gateway: map: %v", err)
		writeError(w, mapStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type askBody struct {
	MappingID string `json:"mapping_id"`
	Question  string `json:"question"`
}

func (s *Handlers) HandleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if !s.gate(w, r, ratelimit.ActionAsk) {
		return
	}

	var body askBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.MappingID == "" || body.Question == "" {
		writeError(w, http.StatusBadRequest, "mapping_id and question are required")
		return
	}

	resp, err := s.Ask.Ask(r.Context(), body.MappingID, body.Question)
	if err != nil {
		writeError(w, mapStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type improveBody struct {
	MappingID   string `json:"mapping_id"`
	DiagramID   string `json:"diagram_id"`
	Instruction string `json:"instruction,omitempty"`
}

func (s *Handlers) HandleImprove(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if !s.gate(w, r, ratelimit.ActionImprove) {
		return
	}

	var body improveBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.MappingID == "" || body.DiagramID == "" {
		writeError(w, http.StatusBadRequest, "mapping_id and diagram_id are required")
		return
	}

	d, err := s.Improve.Improve(r.Context(), body.MappingID, body.DiagramID, body.Instruction)
	if err != nil {
		writeError(w, mapStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleCost reports the all-time and per-day AI spend ledger.
func (s *Handlers) HandleCost(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}
	ledger, err := s.Store.Ledger(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

// NewMux assembles the route table with CORS applied.
func NewMux(h *Handlers) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/map", h.HandleMap)
	mux.HandleFunc("/api/ask", h.HandleAsk)
	mux.HandleFunc("/api/improve", h.HandleImprove)
	mux.HandleFunc("/api/health", h.HandleHealth)
	mux.HandleFunc("/api/cost", h.HandleCost)
	mux.HandleFunc("/api/archives", h.HandleArchives)
	mux.HandleFunc("/api/watch", h.HandleWatch)

	return CORS(mux)
}
