package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/aspen-pdp/aspen/audit"
	"github.com/aspen-pdp/aspen/pdp"
	"github.com/aspen-pdp/aspen/prp"
)

func setupHandler(t *testing.T) (*echo.Echo, *audit.MemoryStore) {
	t.Helper()

	source, err := prp.NewInMemorySource(map[string]string{
		"reads.aspen": `
policy "allow reads"
permit action == "read"
obligation { "type": "logAccess" }
`,
	})
	if err != nil {
		t.Fatalf("failed to load policies: %v", err)
	}

	trail := audit.NewMemoryStore()
	engine, err := pdp.New(source, pdp.WithDecisionSink(audit.NewRecorder(trail, nil)))
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	e := echo.New()
	h := NewHandler(engine, source, trail, nil, nil)
	h.RegisterRoutes(e.Group("/api/pdp"))
	return e, trail
}

func TestDecideOnce(t *testing.T) {
	e, trail := setupHandler(t)

	body := `{"subject": "alice", "action": "read", "resource": "book"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pdp/decide-once", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var dec pdp.AuthorizationDecision
	if err := json.Unmarshal(rec.Body.Bytes(), &dec); err != nil {
		t.Fatalf("failed to decode decision: %v", err)
	}
	if dec.Decision != pdp.Permit {
		t.Errorf("expected PERMIT, got %v", dec.Decision)
	}
	if len(dec.Obligations) != 1 {
		t.Errorf("expected 1 obligation, got %d", len(dec.Obligations))
	}

	// The decision sink recorded the evaluation.
	events, err := trail.Query(req.Context(), audit.Filter{})
	if err != nil || len(events) != 1 {
		t.Errorf("expected 1 audit event, got %d (%v)", len(events), err)
	}
}

func TestDecideOnceNotApplicable(t *testing.T) {
	e, _ := setupHandler(t)

	body := `{"subject": "alice", "action": "write", "resource": "book"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pdp/decide-once", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	var dec pdp.AuthorizationDecision
	if err := json.Unmarshal(rec.Body.Bytes(), &dec); err != nil {
		t.Fatalf("failed to decode decision: %v", err)
	}
	if dec.Decision != pdp.NotApplicable {
		t.Errorf("expected NOT_APPLICABLE, got %v", dec.Decision)
	}
}

func TestDecideOnceRejectsBadBody(t *testing.T) {
	e, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/pdp/decide-once", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestListPolicies(t *testing.T) {
	e, _ := setupHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/pdp/policies", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Count     int      `json:"count"`
		Documents []string `json:"documents"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Count != 1 || resp.Documents[0] != "allow reads" {
		t.Errorf("unexpected listing: %+v", resp)
	}
}

// streamCounter records decision stream lifecycle events.
type streamCounter struct {
	opened atomic.Int32
	closed chan struct{}
}

func (s *streamCounter) StreamOpened(context.Context) { s.opened.Add(1) }
func (s *streamCounter) StreamClosed(context.Context) { close(s.closed) }

func TestDecideStreamRecordsLifecycle(t *testing.T) {
	source, err := prp.NewInMemorySource(map[string]string{
		"reads.aspen": `policy "allow reads" permit action == "read"`,
	})
	if err != nil {
		t.Fatalf("failed to load policies: %v", err)
	}
	engine, err := pdp.New(source)
	if err != nil {
		t.Fatalf("failed to build engine: %v", err)
	}

	metrics := &streamCounter{closed: make(chan struct{})}
	e := echo.New()
	h := NewHandler(engine, source, nil, metrics, nil)
	h.RegisterRoutes(e.Group("/api/pdp"))

	srv := httptest.NewServer(e)
	defer srv.Close()

	// Step 1: open the websocket and send the subscription frame.
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/pdp/decide"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	sub := map[string]any{"subject": "alice", "action": "read", "resource": "book"}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("failed to send subscription: %v", err)
	}

	// Step 2: the initial decision arrives as the first frame.
	var dec pdp.AuthorizationDecision
	if err := conn.ReadJSON(&dec); err != nil {
		t.Fatalf("failed to read decision frame: %v", err)
	}
	if dec.Decision != pdp.Permit {
		t.Errorf("expected PERMIT, got %v", dec.Decision)
	}
	if metrics.opened.Load() != 1 {
		t.Errorf("expected 1 opened stream, got %d", metrics.opened.Load())
	}

	// Step 3: closing the connection ends the stream and is recorded.
	conn.Close()
	select {
	case <-metrics.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream close was never recorded")
	}
}

func TestAuditEvents(t *testing.T) {
	e, _ := setupHandler(t)

	// Produce one decision, then query the trail over HTTP.
	body := `{"subject": "alice", "action": "read", "resource": "book"}`
	req := httptest.NewRequest(http.MethodPost, "/api/pdp/decide-once", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	e.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/api/pdp/audit/events?decision=PERMIT", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if resp.Count != 1 {
		t.Errorf("expected 1 event, got %d", resp.Count)
	}
}
