package akosha

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// HybridSync tries transports in priority order, cloud before HTTP, and
// returns the first success. A forced method disables fallback.
type HybridSync struct {
	cfg     Config
	methods []Method
}

// NewHybridSync assembles the orchestrator. Nil methods are dropped, so a
// caller without cloud credentials passes nil for the cloud method.
func NewHybridSync(cfg Config, cloud, httpMethod Method) *HybridSync {
	h := &HybridSync{cfg: cfg}
	for _, m := range []Method{cloud, httpMethod} {
		if m != nil {
			h.methods = append(h.methods, m)
		}
	}
	return h
}

// Sync ships the batch. With force_method set, only that transport is
// attempted; otherwise each available transport is tried in order and the
// first success wins. When everything fails the error is a *HybridSyncError
// carrying each transport's failure.
func (h *HybridSync) Sync(ctx context.Context, batch Batch) (*Result, error) {
	if !h.cfg.Enabled {
		return nil, ErrSyncDisabled
	}
	if batch.Empty() {
		return &Result{Method: "none", Success: true}, nil
	}

	candidates := h.methods
	if h.cfg.ForceMethod != "" {
		candidates = nil
		for _, m := range h.methods {
			if m.Name() == h.cfg.ForceMethod {
				candidates = []Method{m}
				break
			}
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("forced method %q is not configured", h.cfg.ForceMethod)
		}
	} else if !h.cfg.EnableFallback && len(candidates) > 1 {
		candidates = candidates[:1]
	}

	hybridErr := &HybridSyncError{}
	for _, m := range candidates {
		if !m.Available(ctx) {
			log.Debug().Str("method", m.Name()).Msg("Sync method unavailable, trying next")
			metrics().attempts.WithLabelValues(m.Name(), "unavailable").Inc()
			hybridErr.Errors = append(hybridErr.Errors, MethodError{Method: m.Name(), Err: fmt.Errorf("unavailable")})
			continue
		}
		result, err := h.syncWithTimeout(ctx, m, batch)
		if err == nil {
			metrics().attempts.WithLabelValues(m.Name(), "success").Inc()
			metrics().bytesTransferred.WithLabelValues(m.Name()).Add(float64(result.BytesTransferred))
			return result, nil
		}
		log.Warn().Err(err).Str("method", m.Name()).Msg("Sync method failed")
		metrics().attempts.WithLabelValues(m.Name(), "failure").Inc()
		hybridErr.Errors = append(hybridErr.Errors, MethodError{Method: m.Name(), Err: err})
	}
	if len(hybridErr.Errors) == 0 {
		hybridErr.Errors = append(hybridErr.Errors, MethodError{Method: "none", Err: fmt.Errorf("no sync methods configured")})
	}
	return nil, hybridErr
}

// syncWithTimeout bounds one transport attempt by the configured upload
// timeout.
func (h *HybridSync) syncWithTimeout(ctx context.Context, m Method, batch Batch) (*Result, error) {
	if timeout := h.cfg.UploadTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return m.Sync(ctx, batch)
}
