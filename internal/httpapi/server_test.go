package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/guestdesk/guestdesk/internal/guestdesk"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	service, err := guestdesk.NewService(guestdesk.ServiceOptions{
		Store:  guestdesk.NewMemoryStore(),
		Outbox: guestdesk.NewMemoryOutbox(),
		Guard:  guestdesk.NewMemoryGuard(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	server, err := NewServer(service, ServerConfig{
		AdminUser:     "admin",
		AdminPassword: "secret",
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	return server
}

func doRequest(t *testing.T, server *Server, method, path, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.SetBasicAuth("admin", "secret")
	}
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var decoded map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return decoded
}

func createAppealViaAPI(t *testing.T, server *Server, guestID int64) int64 {
	t.Helper()
	body := fmt.Sprintf(`{"user_id": %d, "username": "anna", "room": "204", "text": "tv broken", "request_type": "tech"}`, guestID)
	rec := doRequest(t, server, http.MethodPost, "/api/appeals", body, true)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create appeal: status %d body %s", rec.Code, rec.Body.String())
	}
	decoded := decodeBody(t, rec)
	return int64(decoded["id"].(float64))
}

func TestLiveFeedRejectsUnlistedOrigin(t *testing.T) {
	service, err := guestdesk.NewService(guestdesk.ServiceOptions{
		Store:  guestdesk.NewMemoryStore(),
		Outbox: guestdesk.NewMemoryOutbox(),
		Guard:  guestdesk.NewMemoryGuard(),
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	server, err := NewServer(service, ServerConfig{
		AdminUser:      "admin",
		AdminPassword:  "secret",
		AllowedOrigins: []string{"admin.hotel.example"},
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
	req.Header.Set("Origin", "https://elsewhere.example")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("upgrade from an unlisted origin: expected 403, got %d", rec.Code)
	}
}

func TestHealthNeedsNoAuth(t *testing.T) {
	server := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/health", "", false)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: status %d", rec.Code)
	}
}

func TestAPIRequiresAuth(t *testing.T) {
	server := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/api/stats", "", false)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("missing WWW-Authenticate header")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad credentials: expected 401, got %d", rec.Code)
	}
}

func TestCreateAndFetchAppeal(t *testing.T) {
	server := newTestServer(t)
	id := createAppealViaAPI(t, server, 100)

	rec := doRequest(t, server, http.MethodGet, fmt.Sprintf("/api/appeals/%d", id), "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("get appeal: status %d", rec.Code)
	}
	decoded := decodeBody(t, rec)
	if decoded["status"] != "new" || decoded["room"] != "204" {
		t.Fatalf("unexpected appeal: %v", decoded)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/appeals/999", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing appeal: expected 404, got %d", rec.Code)
	}
}

func TestCreateAppealValidation(t *testing.T) {
	server := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/appeals", `{"user_id": 100}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing text: expected 400, got %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodPost, "/api/appeals", `{"user_id": 100, "text": "x", "extra": true}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: expected 400, got %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodPost, "/api/appeals", `not json`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: expected 400, got %d", rec.Code)
	}
}

func TestStatusUpdateAndDuplicateSkip(t *testing.T) {
	server := newTestServer(t)
	id := createAppealViaAPI(t, server, 100)
	path := fmt.Sprintf("/api/appeals/%d/status", id)

	rec := doRequest(t, server, http.MethodPost, path, `{"status": "done"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status update: status %d body %s", rec.Code, rec.Body.String())
	}
	if decoded := decodeBody(t, rec); decoded["success"] != true {
		t.Fatalf("expected success, got %v", decoded)
	}

	rec = doRequest(t, server, http.MethodPost, path, `{"status": "done"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate update: status %d", rec.Code)
	}
	if decoded := decodeBody(t, rec); decoded["skipped"] != true {
		t.Fatalf("rapid duplicate must be skipped, got %v", decoded)
	}

	rec = doRequest(t, server, http.MethodPost, path, `{"status": "sideways"}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid status: expected 400, got %d", rec.Code)
	}
}

func TestReplyAndMessages(t *testing.T) {
	server := newTestServer(t)
	id := createAppealViaAPI(t, server, 100)

	rec := doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/appeals/%d/reply", id), `{"message": "we are on it"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("reply: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, server, http.MethodGet, fmt.Sprintf("/api/appeals/%d/messages", id), "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("messages: status %d", rec.Code)
	}
	decoded := decodeBody(t, rec)
	messages, ok := decoded["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("expected opening message plus reply, got %v", decoded)
	}

	rec = doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/appeals/%d/reply", id), `{"message": ""}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty reply: expected 400, got %d", rec.Code)
	}
}

func TestBulkUpdate(t *testing.T) {
	server := newTestServer(t)
	first := createAppealViaAPI(t, server, 100)
	second := createAppealViaAPI(t, server, 200)

	body := fmt.Sprintf(`{"appeal_ids": [%d, %d], "status": "declined"}`, first, second)
	rec := doRequest(t, server, http.MethodPost, "/api/appeals/bulk_update", body, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("bulk update: status %d body %s", rec.Code, rec.Body.String())
	}
	decoded := decodeBody(t, rec)
	if decoded["updated"] != float64(2) {
		t.Fatalf("expected 2 updated, got %v", decoded)
	}

	rec = doRequest(t, server, http.MethodPost, "/api/appeals/bulk_update", `{"appeal_ids": [], "status": "done"}`, true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty id list: expected 400, got %d", rec.Code)
	}
}

func TestReopen(t *testing.T) {
	server := newTestServer(t)
	id := createAppealViaAPI(t, server, 100)

	rec := doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/appeals/%d/status", id), `{"status": "done"}`, true)
	if rec.Code != http.StatusOK {
		t.Fatalf("status update: status %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodPost, fmt.Sprintf("/api/appeals/%d/reopen", id), "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("reopen: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doRequest(t, server, http.MethodGet, fmt.Sprintf("/api/appeals/%d", id), "", true)
	decoded := decodeBody(t, rec)
	if decoded["status"] != "new" {
		t.Fatalf("expected reopened appeal to be new, got %v", decoded["status"])
	}
}

func TestListAppealsAndStats(t *testing.T) {
	server := newTestServer(t)
	createAppealViaAPI(t, server, 100)
	createAppealViaAPI(t, server, 200)

	rec := doRequest(t, server, http.MethodGet, "/api/appeals?limit=1", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	decoded := decodeBody(t, rec)
	if decoded["total"] != float64(2) {
		t.Fatalf("expected total 2, got %v", decoded["total"])
	}
	appeals, ok := decoded["appeals"].([]any)
	if !ok || len(appeals) != 1 {
		t.Fatalf("expected one page item, got %v", decoded["appeals"])
	}

	rec = doRequest(t, server, http.MethodGet, "/api/appeals?status=bogus", "", true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid filter: expected 400, got %d", rec.Code)
	}

	rec = doRequest(t, server, http.MethodGet, "/api/stats", "", true)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats: status %d", rec.Code)
	}
	stats := decodeBody(t, rec)
	if stats["total"] != float64(2) || stats["new"] != float64(2) {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestUnknownRoute(t *testing.T) {
	server := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/api/unknown", "", true)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	rec = doRequest(t, server, http.MethodGet, "/api/appeals/zero", "", true)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("non-numeric id: expected 400, got %d", rec.Code)
	}
}
