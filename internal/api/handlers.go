package api

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/cache"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/resilience"
	"github.com/sells-group/saferoute/internal/scorer"
)

// Admin invalidation scopes beyond those carried on the wire.
const scopeKey = "key"

// health reports degraded while the cell store circuit is open.
func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok"}
	if s.breaker != nil {
		state := s.breaker.State()
		body["store"] = state.String()
		if state == resilience.CircuitOpen {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	if s.snapshots != nil {
		body["cache"] = s.snapshots.Stats()
	}
	writeJSON(w, status, body)
}

func (s *Server) scoreRoute(w http.ResponseWriter, r *http.Request) {
	var req scorer.RouteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	res, err := s.scorer.ScoreRoute(r.Context(), req)
	if err != nil {
		s.writeScoringError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// compareResponse wraps ranked candidates.
type compareResponse struct {
	Routes        []model.RouteComparison `json:"routes"`
	RecommendedID string                  `json:"recommended_id,omitempty"`
}

func (s *Server) compareRoutes(w http.ResponseWriter, r *http.Request) {
	var req scorer.CompareRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ranked, err := s.scorer.CompareRoutes(r.Context(), req)
	if err != nil {
		s.writeScoringError(w, r, err)
		return
	}
	resp := compareResponse{Routes: ranked}
	for _, rc := range ranked {
		if rc.IsRecommended {
			resp.RecommendedID = rc.ID
			break
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	req, err := s.parseSnapshotQuery(r)
	if err != nil {
		s.writeScoringError(w, r, err)
		return
	}

	var key string
	if s.snapshots != nil {
		key = cache.Key(req.BBox, *req.LookbackMonths, req.TimeOfDay)
		if snap := s.snapshots.Get(key); snap != nil {
			w.Header().Set("X-Cache", "hit")
			writeJSON(w, http.StatusOK, snap)
			return
		}
	}

	snap, err := s.scorer.Snapshot(r.Context(), req)
	if err != nil {
		s.writeScoringError(w, r, err)
		return
	}
	if s.snapshots != nil {
		s.snapshots.Put(key, snap)
		w.Header().Set("X-Cache", "miss")
	}
	writeJSON(w, http.StatusOK, snap)
}

// parseSnapshotQuery reads bbox, lookback_months and time_of_day. The
// lookback and time filter are normalized so equivalent queries share a
// cache key.
func (s *Server) parseSnapshotQuery(r *http.Request) (scorer.SnapshotRequest, error) {
	q := r.URL.Query()
	var req scorer.SnapshotRequest

	raw := q.Get("bbox")
	if raw == "" {
		return req, model.NewInputError("bbox", "is required")
	}
	bbox, err := model.ParseBBox(raw)
	if err != nil {
		return req, err
	}
	req.BBox = bbox

	lookback := s.scorer.Config().LookbackMonths
	if v := q.Get("lookback_months"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, model.NewInputError("lookback_months", "%q is not an integer", v)
		}
		if n < scorer.MinLookbackMonths || n > scorer.MaxLookbackMonths {
			return req, model.NewInputError("lookback_months", "%d is outside [%d, %d]", n, scorer.MinLookbackMonths, scorer.MaxLookbackMonths)
		}
		lookback = n
	}
	req.LookbackMonths = &lookback

	bucket, err := model.ParseTimeBucket(q.Get("time_of_day"))
	if err != nil {
		return req, err
	}
	req.TimeOfDay = string(bucket)
	return req, nil
}

// invalidateRequest selects what to drop. Month is "YYYY-MM"; Key is a
// snapshot cache key.
type invalidateRequest struct {
	Scope string `json:"scope"`
	Month string `json:"month,omitempty"`
	Key   string `json:"key,omitempty"`
}

func (s *Server) adminInvalidate(w http.ResponseWriter, r *http.Request) {
	if s.cfg.AdminToken == "" {
		writeError(w, http.StatusForbidden, "forbidden", "admin endpoints are disabled", "")
		return
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin token", "")
		return
	}

	var req invalidateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var err error
	switch req.Scope {
	case cache.ScopeAll:
		if s.invalidator != nil {
			err = s.invalidator.InvalidateAll(r.Context())
		}
	case cache.ScopeMonth:
		month, perr := model.ParseMonth(req.Month)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "month must be YYYY-MM", "month")
			return
		}
		if s.invalidator != nil {
			err = s.invalidator.InvalidateMonth(r.Context(), month)
		}
	case scopeKey:
		if req.Key == "" {
			writeError(w, http.StatusBadRequest, "invalid_parameter", "key is required", "key")
			return
		}
		if s.snapshots != nil {
			s.snapshots.InvalidateKey(req.Key)
		}
	default:
		writeError(w, http.StatusBadRequest, "invalid_parameter", "scope must be all, month or key", "scope")
		return
	}
	if err != nil {
		s.log.Error("invalidation failed", zap.String("scope", req.Scope), zap.Error(err))
		writeError(w, http.StatusBadGateway, "invalidation_failed", "invalidation was not delivered to every target", "")
		return
	}

	s.log.Info("cache invalidated", zap.String("scope", req.Scope), zap.String("month", req.Month))
	body := map[string]any{"status": "ok", "scope": req.Scope}
	if s.snapshots != nil {
		body["cache"] = s.snapshots.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}
