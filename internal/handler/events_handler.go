package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/hub"
	appErrors "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/errors"
	"github.com/Kaizenpbc/cpr-apr12-sub000/pkg/response"
)

// EventsHandler upgrades authenticated requests to websocket sessions and
// registers them with the hub under the caller's user ID.
type EventsHandler struct {
	hub    *hub.Hub
	logger *zap.Logger
}

// NewEventsHandler constructs EventsHandler.
func NewEventsHandler(h *hub.Hub, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{hub: h, logger: logger}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS layer; tokens gate the upgrade itself.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Subscribe godoc
// @Summary Subscribe to realtime events
// @Description Upgrades to a websocket delivering targeted and broadcast events
// @Tags Events
// @Param token query string false "Access token (alternative to Authorization header)"
// @Success 101
// @Failure 401 {object} response.Envelope
// @Router /events [get]
func (h *EventsHandler) Subscribe(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written its own error response.
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", claims.UserID), zap.Error(err))
		return
	}
	h.hub.Attach(claims.UserID, conn)
}
