package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/arana198/mission-control-sub011/lib/errors"
	"github.com/arana198/mission-control-sub011/lib/gateway"
	"github.com/arana198/mission-control-sub011/lib/metrics"
	"github.com/arana198/mission-control-sub011/lib/validation"
	"github.com/arana198/mission-control-sub011/version"
)

// maxCallBody bounds the params body of an on-demand call.
const maxCallBody = 1 << 20

// HealthResponse is the body of GET /healthz.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// CallResponse is the body of a successful on-demand call.
type CallResponse struct {
	GatewayID string          `json:"gatewayId"`
	Method    string          `json:"method"`
	Result    json.RawMessage `json:"result"`
	Duration  string          `json:"duration"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: version.Version,
		Uptime:  s.backend.Uptime().Round(time.Second).String(),
	})
}

func (s *Server) handlePoolStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.PoolStats())
}

func (s *Server) handlePoolClear(w http.ResponseWriter, r *http.Request) {
	before := s.backend.PoolStats().Entries
	s.backend.ClearPool()
	s.logger.Info("pool cleared", "closed", before)
	s.writeJSON(w, http.StatusOK, map[string]int{"closed": before})
}

func (s *Server) handleBreakers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.BreakerStats())
}

func (s *Server) handleGateways(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.backend.Snapshots())
}

func (s *Server) handleGateway(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	snap, ok := s.backend.Snapshot(id)
	if !ok {
		s.writeAppError(w, fmt.Errorf("%w: %s", apperrors.ErrGatewayNotFound, id))
		return
	}
	s.writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGatewayCall(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	method := chi.URLParam(r, "method")

	if err := validation.All(
		func() error { return validation.GatewayID("id", id) },
		func() error { return validation.Method("method", method) },
	); err != nil {
		s.writeAppError(w, err)
		return
	}

	if ok, wait := s.callLimiter.Check(id); !ok {
		metrics.RateLimitRejections.Inc()
		w.Header().Set("Retry-After", retryAfterSeconds(wait))
		s.writeAppError(w, fmt.Errorf("%w: calls to gateway %s", apperrors.ErrRateLimited, id))
		return
	}

	var params json.RawMessage
	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallBody+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, apperrors.CodeInvalidParams, "read body: "+err.Error())
		return
	}
	if len(body) > maxCallBody {
		s.writeError(w, http.StatusRequestEntityTooLarge, apperrors.CodeInvalidParams, "params too large")
		return
	}
	if len(body) > 0 {
		if !json.Valid(body) {
			s.writeError(w, http.StatusBadRequest, apperrors.CodeInvalidParams, "params must be valid JSON")
			return
		}
		params = body
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.callTimeout)
	defer cancel()

	start := time.Now()
	var result json.RawMessage
	var callParams any
	if params != nil {
		callParams = params
	}
	if err := s.backend.Call(ctx, id, method, callParams, &result); err != nil {
		s.logger.Warn("gateway call failed", "gateway", id, "method", method, "error", err)
		s.writeCallError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, CallResponse{
		GatewayID: id,
		Method:    method,
		Result:    result,
		Duration:  time.Since(start).String(),
	})
}

// writeCallError maps a call failure onto an HTTP status. Errors answered by
// the gateway itself keep the gateway's code.
func (s *Server) writeCallError(w http.ResponseWriter, err error) {
	var gwErr *gateway.Error
	if errors.As(err, &gwErr) {
		s.writeError(w, http.StatusBadGateway, gwErr.Code, gwErr.Message)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: gateway call", apperrors.ErrTimeout)
	}
	s.writeAppError(w, err)
}

// writeAppError classifies err through the error sentinels. Unclassified
// errors are reported as internal without their details.
func (s *Server) writeAppError(w http.ResponseWriter, err error) {
	appErr := apperrors.FromSentinel(err)
	s.writeError(w, statusForCode(appErr.Code), appErr.Code, appErr.SafeMessage())
}

// statusForCode maps application error codes to HTTP status codes.
func statusForCode(code int) int {
	switch code {
	case apperrors.CodeNotFound:
		return http.StatusNotFound
	case apperrors.CodeInvalidParams:
		return http.StatusBadRequest
	case apperrors.CodeRateLimited:
		return http.StatusTooManyRequests
	case apperrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case apperrors.CodeTimeout:
		return http.StatusGatewayTimeout
	case apperrors.CodeConnection, apperrors.CodeAuthRequired:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
