package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/aspen-pdp/aspen/audit"
	"github.com/aspen-pdp/aspen/pdp"
	"github.com/aspen-pdp/aspen/prp"
)

// StreamMetrics receives decision stream lifecycle events. Implemented by
// telemetry.Provider; nil disables stream accounting.
type StreamMetrics interface {
	StreamOpened(ctx context.Context)
	StreamClosed(ctx context.Context)
}

// Handler exposes the decision engine over HTTP. One-shot decisions are a
// plain POST; continuous decisions are served over a websocket that pushes
// a frame whenever the decision changes.
type Handler struct {
	engine    *pdp.PDP
	retrieval prp.PolicyRetrievalPoint
	trail     audit.Store
	metrics   StreamMetrics
	log       *zap.Logger
	upgrader  websocket.Upgrader
}

func NewHandler(engine *pdp.PDP, retrieval prp.PolicyRetrievalPoint, trail audit.Store, metrics StreamMetrics, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		engine:    engine,
		retrieval: retrieval,
		trail:     trail,
		metrics:   metrics,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/decide-once", h.HandleDecideOnce)
	g.GET("/decide", h.HandleDecideStream)
	g.GET("/policies", h.HandlePolicies)

	if h.trail != nil {
		g.GET("/audit/events", h.HandleAuditEvents)
	}
}

// subscriptionBody is the wire form of an authorization subscription. Every
// slot is arbitrary JSON.
type subscriptionBody struct {
	Subject     any `json:"subject"`
	Action      any `json:"action"`
	Resource    any `json:"resource"`
	Environment any `json:"environment"`
}

func (b subscriptionBody) toSubscription() (pdp.AuthorizationSubscription, error) {
	return pdp.NewSubscription(b.Subject, b.Action, b.Resource, b.Environment)
}

func (h *Handler) HandleDecideOnce(c echo.Context) error {
	var body subscriptionBody
	if err := c.Bind(&body); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid request body", err)
	}

	sub, err := body.toSubscription()
	if err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid subscription", err)
	}

	dec := h.engine.Decide(c.Request().Context(), sub)
	return c.JSON(http.StatusOK, dec)
}

// HandleDecideStream upgrades to a websocket and pushes a decision frame
// for the initial evaluation and for every subsequent change. The stream
// ends when the client disconnects.
func (h *Handler) HandleDecideStream(c echo.Context) error {
	var body subscriptionBody
	if err := echo.QueryParamsBinder(c).CustomFunc("subscription", bindSubscriptionParam(&body)).BindError(); err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid subscription parameter", err)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.StreamOpened(c.Request().Context())
		defer h.metrics.StreamClosed(c.Request().Context())
	}

	// No subscription query parameter: the first websocket frame carries it.
	if body.Subject == nil && body.Action == nil && body.Resource == nil && body.Environment == nil {
		if err := conn.ReadJSON(&body); err != nil {
			h.log.Warn("failed to read subscription frame", zap.Error(err))
			return nil
		}
	}

	sub, err := body.toSubscription()
	if err != nil {
		_ = conn.WriteJSON(map[string]any{"error": err.Error()})
		return nil
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	// Reads only to observe the client closing the connection.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for dec := range h.engine.DecideStream(ctx, sub) {
		if err := conn.WriteJSON(dec); err != nil {
			h.log.Debug("decision stream client gone", zap.Error(err))
			return nil
		}
	}
	return nil
}

// HandlePolicies lists the names of the currently loaded policy documents.
func (h *Handler) HandlePolicies(c echo.Context) error {
	docs := h.retrieval.Documents()
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.DocumentName())
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":     len(names),
		"documents": names,
	})
}

func (h *Handler) HandleAuditEvents(c echo.Context) error {
	var filter audit.Filter
	err := echo.QueryParamsBinder(c).
		String("decision", &filter.Decision).
		Time("since", &filter.Since, time.RFC3339).
		Time("until", &filter.Until, time.RFC3339).
		Int("limit", &filter.Limit).
		BindError()
	if err != nil {
		return h.Error(c, http.StatusBadRequest, "Invalid filter", err)
	}
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}

	events, err := h.trail.Query(c.Request().Context(), filter)
	if err != nil {
		return h.Error(c, http.StatusInternalServerError, "Internal server error", err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

func bindSubscriptionParam(body *subscriptionBody) func([]string) []error {
	return func(values []string) []error {
		if len(values) == 0 || values[0] == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(values[0]), body); err != nil {
			return []error{err}
		}
		return nil
	}
}

// Helper for professional errors
func (h *Handler) Error(c echo.Context, code int, message string, err error) error {
	resp := map[string]any{
		"status": message,
		"code":   code,
	}
	if err != nil {
		resp["error"] = err.Error()
	}
	return c.JSON(code, resp)
}
