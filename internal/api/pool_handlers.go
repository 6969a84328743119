package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/p-arndt/sandkastendb/internal/pool"
)

type poolConfigView struct {
	MaxActive                 int    `json:"max_active"`
	MaxTotal                  int    `json:"max_total"`
	MaxIdle                   int    `json:"max_idle"`
	MinIdle                   int    `json:"min_idle"`
	MaxWaitMs                 int64  `json:"max_wait_ms"`
	WhenExhausted             string `json:"when_exhausted"`
	TimeBetweenEvictionRunsMs int64  `json:"time_between_eviction_runs_ms"`
	MinEvictableIdleTimeMs    int64  `json:"min_evictable_idle_time_ms"`
	TestWhileIdle             bool   `json:"test_while_idle"`
	LIFO                      bool   `json:"lifo"`
	MaxValidationAttempts     int    `json:"max_validation_attempts"`
	LoginTimeoutMs            int64  `json:"login_timeout_ms"`
}

type poolResponse struct {
	Config poolConfigView `json:"config"`
	Active int            `json:"active"`
	Idle   int            `json:"idle"`
	Keys   int            `json:"keys"`
}

// poolUpdateRequest is a partial update: nil fields keep their value.
type poolUpdateRequest struct {
	MaxActive                 *int    `json:"max_active"`
	MaxTotal                  *int    `json:"max_total"`
	MaxIdle                   *int    `json:"max_idle"`
	MinIdle                   *int    `json:"min_idle"`
	MaxWaitMs                 *int64  `json:"max_wait_ms"`
	WhenExhausted             *string `json:"when_exhausted"`
	TimeBetweenEvictionRunsMs *int64  `json:"time_between_eviction_runs_ms"`
	MinEvictableIdleTimeMs    *int64  `json:"min_evictable_idle_time_ms"`
	TestWhileIdle             *bool   `json:"test_while_idle"`
	LIFO                      *bool   `json:"lifo"`
	MaxValidationAttempts     *int    `json:"max_validation_attempts"`
	LoginTimeoutMs            *int64  `json:"login_timeout_ms"`
}

func (s *Server) poolConfigView() poolConfigView {
	cfg := s.sandboxes.PoolConfig()
	return poolConfigView{
		MaxActive:                 cfg.MaxActive,
		MaxTotal:                  cfg.MaxTotal,
		MaxIdle:                   cfg.MaxIdle,
		MinIdle:                   cfg.MinIdle,
		MaxWaitMs:                 toMs(cfg.MaxWait),
		WhenExhausted:             string(cfg.WhenExhausted),
		TimeBetweenEvictionRunsMs: toMs(cfg.TimeBetweenEvictionRuns),
		MinEvictableIdleTimeMs:    toMs(cfg.MinEvictableIdleTime),
		TestWhileIdle:             cfg.TestWhileIdle,
		LIFO:                      cfg.LIFO,
		MaxValidationAttempts:     cfg.MaxValidationAttempts,
		LoginTimeoutMs:            toMs(s.sandboxes.LoginTimeout()),
	}
}

// toMs renders a duration in milliseconds, keeping -1 for "unbounded".
func toMs(d time.Duration) int64 {
	if d < 0 {
		return -1
	}
	return d.Milliseconds()
}

func fromMs(ms int64) time.Duration {
	if ms < 0 {
		return -1
	}
	return time.Duration(ms) * time.Millisecond
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, poolResponse{
		Config: s.poolConfigView(),
		Active: s.sandboxes.NumActive(),
		Idle:   s.sandboxes.NumIdle(),
		Keys:   len(s.sandboxes.Stats()),
	})
}

func (s *Server) handleUpdatePoolConfig(w http.ResponseWriter, r *http.Request) {
	var req poolUpdateRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeValidationError(w, "invalid json: "+err.Error(), nil)
		return
	}
	if err := validatePoolUpdate(req); err != nil {
		writeValidationError(w, err.Error(), nil)
		return
	}

	s.sandboxes.UpdatePool(func(c *pool.Config) {
		if req.MaxActive != nil {
			c.MaxActive = *req.MaxActive
		}
		if req.MaxTotal != nil {
			c.MaxTotal = *req.MaxTotal
		}
		if req.MaxIdle != nil {
			c.MaxIdle = *req.MaxIdle
		}
		if req.MinIdle != nil {
			c.MinIdle = *req.MinIdle
		}
		if req.MaxWaitMs != nil {
			c.MaxWait = fromMs(*req.MaxWaitMs)
		}
		if req.WhenExhausted != nil {
			c.WhenExhausted = pool.WhenExhausted(*req.WhenExhausted)
		}
		if req.TimeBetweenEvictionRunsMs != nil {
			c.TimeBetweenEvictionRuns = fromMs(*req.TimeBetweenEvictionRunsMs)
		}
		if req.MinEvictableIdleTimeMs != nil {
			c.MinEvictableIdleTime = fromMs(*req.MinEvictableIdleTimeMs)
		}
		if req.TestWhileIdle != nil {
			c.TestWhileIdle = *req.TestWhileIdle
		}
		if req.LIFO != nil {
			c.LIFO = *req.LIFO
		}
		if req.MaxValidationAttempts != nil {
			c.MaxValidationAttempts = *req.MaxValidationAttempts
		}
	})
	if req.LoginTimeoutMs != nil {
		s.sandboxes.SetLoginTimeout(time.Duration(*req.LoginTimeoutMs) * time.Millisecond)
	}

	view := s.poolConfigView()
	s.requestLogger(r).Info("pool config updated", zap.Any("config", view))
	writeJSON(w, http.StatusOK, view)
}
