// internal/api/handlers.go
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/harborline/meridian/internal/balancer"
	"github.com/harborline/meridian/internal/region"
)

// errUpstreamFailure stands in for a failed upstream request reported over
// the results endpoint.
var errUpstreamFailure = errors.New("upstream request failed")

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startTime).Seconds(),
		"current_region": s.failover.GetCurrentRegion().String(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type selectRequest struct {
	RequestType string `json:"request_type"`
	ClientIP    string `json:"client_ip,omitempty"`
}

type selectResponse struct {
	Region      string `json:"region"`
	RequestType string `json:"request_type"`
}

// handleSelect assigns a serving region for one request. An empty body is
// treated as a general request from the caller's own address.
func (s *Server) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	ip := req.ClientIP
	if ip == "" {
		ip = clientIP(r)
	}

	reqType := balancer.ParseRequestType(req.RequestType)
	selected := s.balancer.SelectRegion(reqType, ip)

	s.writeJSON(w, http.StatusOK, selectResponse{
		Region:      selected.String(),
		RequestType: string(reqType),
	})
}

type resultRequest struct {
	Region    string  `json:"region"`
	LatencyMS float64 `json:"latency_ms"`
	Error     bool    `json:"error"`
}

// handleResult reports the outcome of a request previously assigned by the
// select endpoint.
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	var req resultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	reg, err := region.Parse(req.Region)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.LatencyMS < 0 {
		s.writeError(w, http.StatusBadRequest, "latency_ms must be non-negative")
		return
	}

	var reqErr error
	if req.Error {
		reqErr = errUpstreamFailure
	}
	s.balancer.RecordResult(reg, time.Duration(req.LatencyMS*float64(time.Millisecond)), reqErr)

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"regions":  s.balancer.GetStatus(),
		"failover": s.failover.GetStatus(),
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// regionPerformance extends the balancer's performance snapshot with the
// predictive score used during selection.
type regionPerformance struct {
	balancer.RegionPerformance
	PredictedScore float64 `json:"predicted_score"`
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	perf := s.balancer.GetPerformance()
	out := make([]regionPerformance, 0, len(perf))
	for _, p := range perf {
		reg, err := region.Parse(p.Region)
		if err != nil {
			continue
		}
		out = append(out, regionPerformance{
			RegionPerformance: p,
			PredictedScore:    s.balancer.PredictedScore(reg),
		})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"regions": out})
}

func (s *Server) handleCost(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"regions": s.balancer.GetCostReport(),
	})
}

func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"weights": weightsByName(s.balancer.GetWeights()),
	})
}

func (s *Server) handleSetWeight(w http.ResponseWriter, r *http.Request) {
	reg, err := region.Parse(chi.URLParam(r, "region"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var body struct {
		Weight *float64 `json:"weight"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Weight == nil {
		s.writeError(w, http.StatusBadRequest, "weight required")
		return
	}

	if err := s.balancer.SetWeight(reg, *body.Weight); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"region":  reg.String(),
		"weights": weightsByName(s.balancer.GetWeights()),
	})
}

func (s *Server) handleQuarantine(w http.ResponseWriter, r *http.Request) {
	reg, err := region.Parse(chi.URLParam(r, "region"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.balancer.QuarantineRegion(reg); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"region":      reg.String(),
		"quarantined": true,
	})
}

func (s *Server) handleFailoverStatus(w http.ResponseWriter, r *http.Request) {
	status := s.failover.GetStatus()
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			status.RecentEvents = s.failover.GetEvents(n)
		}
	}
	s.writeJSON(w, http.StatusOK, status)
}

// handleRecover attempts a manual return to service after the controller
// has run out of failover targets.
func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	if err := s.failover.Recover(r.Context()); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.failover.GetStatus())
}

func weightsByName(weights map[region.Region]float64) map[string]float64 {
	out := make(map[string]float64, len(weights))
	for reg, weight := range weights {
		out[reg.String()] = weight
	}
	return out
}
