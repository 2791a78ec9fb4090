package realtime

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	domainerrors "github.com/barcodedrop/barcodedrop-server/internal/errors"
	"github.com/barcodedrop/barcodedrop-server/internal/http/response"
	"github.com/barcodedrop/barcodedrop-server/internal/normalize"
)

// Handler upgrades GET /watch/{user} to a WebSocket and attaches it to the
// Registry. The connection outlives the request; the Registry owns it.
type Handler struct {
	registry       *Registry
	logger         *slog.Logger
	originPatterns []string
}

// NewHandler creates a new watch Handler. originPatterns authorises cross
// origin browsers; native clients send no Origin and are always accepted.
func NewHandler(registry *Registry, logger *slog.Logger, originPatterns []string) *Handler {
	return &Handler{
		registry:       registry,
		logger:         logger,
		originPatterns: originPatterns,
	}
}

// ServeHTTP handles the upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := normalize.User(chi.URLParam(r, "user"))
	if user == "" {
		response.Error(w, domainerrors.BadRequest("user is required"), h.logger)
		return
	}
	if h.registry.Closed() {
		response.Error(w, domainerrors.Unavailable("server is shutting down"), h.logger)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept has already written the error response.
		h.logger.Warn("websocket upgrade failed",
			slog.String("user", user),
			slog.String("error", err.Error()))
		return
	}

	transport := NewWebSocketTransport(conn)
	if _, err := h.registry.Attach(user, transport); err != nil {
		status := websocket.StatusInternalError
		if errors.Is(err, ErrRegistryClosed) {
			status = websocket.StatusGoingAway
		}
		h.logger.Warn("watcher rejected",
			slog.String("user", user),
			slog.String("error", err.Error()))
		_ = conn.Close(status, err.Error())
	}
}
