package correlator

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/patelrital/Blink-Detector/internal/platform/metrics"
	"github.com/patelrital/Blink-Detector/internal/seriallink"
)

// actuationCommands are the device commands accepted over HTTP; they are
// routed through the serial link but are otherwise outside the pipeline's
// concern.
var actuationCommands = map[string]byte{
	"b": seriallink.CmdBuzzer,
	"m": seriallink.CmdMotor,
	"c": seriallink.CmdCalLED,
	"d": seriallink.CmdDisplay,
}

// Handler exposes correlator HTTP endpoints using go-chi.
type Handler struct {
	c       *Correlator
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler for the given Correlator. Metrics may be nil
// to disable metric recording (e.g. in tests).
func NewHandler(c *Correlator, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{c: c, log: log, metrics: m}
}

// GetStatus handles GET /api/v1/status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.c.Status()); err != nil {
		h.log.Error("status encode failed", slog.String("error", err.Error()))
	}
}

// SendCommand handles POST /api/v1/commands/{code}: routes a device
// actuation command through the serial link.
func (h *Handler) SendCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	code, ok := actuationCommands[chi.URLParam(r, "code")]
	if !ok {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := h.c.SendCommand(code); err != nil {
		switch {
		case errors.Is(err, seriallink.ErrClosed):
			h.log.Info("command rejected, link closed", slog.String("command", string(code)))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		default:
			h.log.Error("command failed",
				slog.String("command", string(code)), slog.String("error", err.Error()))
			w.WriteHeader(http.StatusBadGateway)
			return
		}
	}

	h.log.Debug("command routed", slog.String("command", string(code)))
	w.WriteHeader(http.StatusAccepted)
}
