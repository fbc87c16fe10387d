package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/subgraph-volume/internal/models"
	"github.com/subgraph-volume/internal/service"
	"github.com/subgraph-volume/internal/types"
)

const dayLayout = "2006-01-02"

// HealthResponse reports service status
type HealthResponse struct {
	Status       string              `json:"status"`
	Service      string              `json:"service"`
	Version      int                 `json:"version"`
	Chains       []types.ChainID     `json:"chains"`
	Dependencies map[string]string   `json:"dependencies,omitempty"`
	Stats        *service.FetchStats `json:"stats"`
}

// StartResponse reports the first day with volume of a chain
type StartResponse struct {
	Chain          types.ChainID `json:"chain"`
	StartTimestamp int64         `json:"startTimestamp"`
	StartDay       string        `json:"startDay"`
}

// HistoryResponse lists stored daily volumes
type HistoryResponse struct {
	Chain types.ChainID         `json:"chain"`
	From  string                `json:"from"`
	To    string                `json:"to"`
	Days  []*models.DailyVolume `json:"days"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	info := s.volumeService.Info()
	resp := HealthResponse{
		Status:  "healthy",
		Service: "subgraph-volume",
		Version: info.Version,
		Chains:  info.Chains,
		Stats:   s.volumeService.Stats(),
	}

	if len(s.dependencies) > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		names := make([]string, 0, len(s.dependencies))
		for name := range s.dependencies {
			names = append(names, name)
		}
		sort.Strings(names)

		resp.Dependencies = make(map[string]string, len(names))
		for _, name := range names {
			if err := s.dependencies[name](ctx); err != nil {
				resp.Dependencies[name] = err.Error()
				resp.Status = "degraded"
				continue
			}
			resp.Dependencies[name] = "ok"
		}
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

// handleGetAdapters handles GET /api/adapters
func (s *Server) handleGetAdapters(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.volumeService.Info())
}

// handleGetVolume handles GET /api/volume/{chain}?timestamp=
// The timestamp defaults to now.
func (s *Server) handleGetVolume(w http.ResponseWriter, r *http.Request) {
	chain := types.NormalizeChainID(mux.Vars(r)["chain"])

	timestamp := s.now().Unix()
	if raw := r.URL.Query().Get("timestamp"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "timestamp must be Unix seconds", map[string]interface{}{
				"timestamp": raw,
			})
			return
		}
		timestamp = parsed
	}

	result, err := s.volumeService.Fetch(r.Context(), chain, timestamp)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleGetStart handles GET /api/volume/{chain}/start
func (s *Server) handleGetStart(w http.ResponseWriter, r *http.Request) {
	chain := types.NormalizeChainID(mux.Vars(r)["chain"])

	start, err := s.volumeService.Start(r.Context(), chain)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, StartResponse{
		Chain:          chain,
		StartTimestamp: start,
		StartDay:       time.Unix(start, 0).UTC().Format(dayLayout),
	})
}

// handleGetHistory handles GET /api/volume/{chain}/history?from=&to=
// Both bounds are required and accept YYYY-MM-DD or Unix seconds.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	chain := types.NormalizeChainID(mux.Vars(r)["chain"])
	query := r.URL.Query()

	fromStr := query.Get("from")
	toStr := query.Get("to")
	if fromStr == "" || toStr == "" {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "from and to query parameters are required", nil)
		return
	}

	from, err := parseDay(fromStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "from must be YYYY-MM-DD or Unix seconds", map[string]interface{}{"from": fromStr})
		return
	}
	to, err := parseDay(toStr)
	if err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "to must be YYYY-MM-DD or Unix seconds", map[string]interface{}{"to": toStr})
		return
	}

	days, err := s.volumeService.History(r.Context(), chain, from, to)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, HistoryResponse{
		Chain: chain,
		From:  from.Format(dayLayout),
		To:    to.Format(dayLayout),
		Days:  days,
	})
}

// parseDay parses a UTC day or a Unix timestamp
func parseDay(value string) (time.Time, error) {
	if t, err := time.Parse(dayLayout, value); err == nil {
		return t.UTC(), nil
	}
	secs, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(secs, 0).UTC(), nil
}
