package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stanstork/notification-api/internal/config"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	db     pinger
	cfg    *config.Config
	logger zerolog.Logger
	now    func() time.Time
}

func NewHealthHandler(db pinger, cfg *config.Config, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:     db,
		cfg:    cfg,
		logger: logger.With().Str("handler", "health").Logger(),
		now:    time.Now,
	}
}

// HealthCheck pings the store, bounded by database.health_timeout.
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	timeout := h.cfg.Database.HealthTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	timestamp := h.now().UTC().Format(time.RFC3339Nano)
	if err := h.db.PingContext(ctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.New("DB timeout")
		}
		h.logger.Error().Err(err).Msg("Health check failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":    "error",
			"error":     err.Error(),
			"timestamp": timestamp,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "ok",
		"timestamp":   timestamp,
		"environment": h.cfg.Environment,
	})
}

// DebugEnv reports which configuration the process resolved, without secrets.
func (h *HealthHandler) DebugEnv(w http.ResponseWriter, r *http.Request) {
	prefix := "undefined"
	if url := h.cfg.Database.URL; url != "" {
		if len(url) > 20 {
			url = url[:20]
		}
		prefix = url + "..."
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"environment":       h.cfg.Environment,
		"port":              h.cfg.ServerPort,
		"hasDatabaseUrl":    h.cfg.Database.URL != "",
		"databaseUrlPrefix": prefix,
		"frontendUrls":      h.cfg.FrontendURLs,
		"timestamp":         h.now().UTC().Format(time.RFC3339Nano),
	})
}
