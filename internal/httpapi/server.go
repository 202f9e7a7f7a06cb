package httpapi

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/guestdesk/guestdesk/internal/guestdesk"
)

type ServerConfig struct {
	AdminUser     string
	AdminPassword string
	MaxBodyBytes  int64
	// AllowedOrigins restricts websocket upgrades on /ws to the listed
	// host patterns. Empty means any origin is accepted, for same-host
	// deployments where the admin page is served next to the API.
	AllowedOrigins []string
	Logger         guestdesk.Logger
}

// Server is the staff-facing HTTP surface: appeal reads, staff actions
// and the websocket live feed. All /api routes require Basic auth.
type Server struct {
	service *guestdesk.Service
	cfg     ServerConfig
	schemas *requestSchemas
}

func NewServer(service *guestdesk.Service, cfg ServerConfig) (*Server, error) {
	if service == nil {
		return nil, guestdesk.ErrInvalidInput
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	schemas, err := compileRequestSchemas()
	if err != nil {
		return nil, err
	}
	return &Server{service: service, cfg: cfg, schemas: schemas}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/ws" && r.Method == http.MethodGet {
		s.handleLiveFeed(w, r)
		return
	}

	correlationID := getCorrelationID(r)
	if !strings.HasPrefix(r.URL.Path, "/api/") {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	if authErr := s.authorize(r); authErr != nil {
		w.Header().Set("WWW-Authenticate", `Basic realm="guestdesk"`)
		writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
		return
	}

	switch {
	case r.URL.Path == "/api/stats" && r.Method == http.MethodGet:
		s.handleStats(w, r, correlationID)
		return
	case r.URL.Path == "/api/appeals" && r.Method == http.MethodGet:
		s.handleListAppeals(w, r, correlationID)
		return
	case r.URL.Path == "/api/appeals" && r.Method == http.MethodPost:
		s.handleCreateAppeal(w, r, correlationID)
		return
	case r.URL.Path == "/api/appeals/bulk_update" && r.Method == http.MethodPost:
		s.handleBulkUpdate(w, r, correlationID)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "appeals" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
		return
	}
	appealID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || appealID <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid appeal id", correlationID)
		return
	}

	switch {
	case len(parts) == 3 && r.Method == http.MethodGet:
		s.handleGetAppeal(w, r, appealID, correlationID)
	case len(parts) == 4 && parts[3] == "messages" && r.Method == http.MethodGet:
		s.handleMessages(w, r, appealID, correlationID)
	case len(parts) == 4 && parts[3] == "status" && r.Method == http.MethodPost:
		s.handleStatus(w, r, appealID, correlationID)
	case len(parts) == 4 && parts[3] == "reply" && r.Method == http.MethodPost:
		s.handleReply(w, r, appealID, correlationID)
	case len(parts) == 4 && parts[3] == "reopen" && r.Method == http.MethodPost:
		s.handleReopen(w, r, appealID, correlationID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request, correlationID string) {
	report, err := s.service.Stats(r.Context())
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListAppeals(w http.ResponseWriter, r *http.Request, correlationID string) {
	filter := guestdesk.AppealFilter{
		Status:      guestdesk.Status(strings.TrimSpace(r.URL.Query().Get("status"))),
		Room:        strings.TrimSpace(r.URL.Query().Get("room")),
		Search:      strings.TrimSpace(r.URL.Query().Get("search")),
		RequestType: strings.TrimSpace(r.URL.Query().Get("type")),
		Limit:       parseBoundedInt(r.URL.Query().Get("limit"), 50, 1, 500),
		Offset:      parseBoundedInt(r.URL.Query().Get("offset"), 0, 0, 1_000_000),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid status filter", correlationID)
		return
	}
	appeals, total, err := s.service.Appeals(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"appeals": appeals,
		"total":   total,
		"limit":   filter.Limit,
		"offset":  filter.Offset,
	})
}

func (s *Server) handleGetAppeal(w http.ResponseWriter, r *http.Request, appealID int64, correlationID string) {
	appeal, err := s.service.Appeal(r.Context(), appealID)
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, appeal)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request, appealID int64, correlationID string) {
	messages, err := s.service.Messages(r.Context(), appealID)
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleCreateAppeal(w http.ResponseWriter, r *http.Request, correlationID string) {
	var body struct {
		UserID          int64  `json:"user_id"`
		Username        string `json:"username"`
		Room            string `json:"room"`
		Text            string `json:"text"`
		RequestType     string `json:"request_type"`
		OptionalComment string `json:"optional_comment"`
	}
	if !s.decodeValidatedBody(w, r, correlationID, s.schemas.createAppeal, &body) {
		return
	}
	id, err := s.service.CreateAppeal(r.Context(), guestdesk.NewAppeal{
		GuestID:         body.UserID,
		Username:        body.Username,
		Room:            body.Room,
		Text:            body.Text,
		RequestType:     body.RequestType,
		OptionalComment: body.OptionalComment,
	})
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, appealID int64, correlationID string) {
	var body struct {
		Status string `json:"status"`
	}
	if !s.decodeValidatedBody(w, r, correlationID, s.schemas.updateStatus, &body) {
		return
	}
	applied, err := s.service.UpdateStatus(r.Context(), appealID, guestdesk.Status(body.Status))
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	if !applied {
		writeJSON(w, http.StatusOK, map[string]any{"skipped": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request, appealID int64, correlationID string) {
	var body struct {
		Message string `json:"message"`
	}
	if !s.decodeValidatedBody(w, r, correlationID, s.schemas.reply, &body) {
		return
	}
	if err := s.service.Reply(r.Context(), appealID, body.Message); err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleReopen(w http.ResponseWriter, r *http.Request, appealID int64, correlationID string) {
	if err := s.service.Reopen(r.Context(), appealID); err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request, correlationID string) {
	var body struct {
		AppealIDs []int64 `json:"appeal_ids"`
		Status    string  `json:"status"`
	}
	if !s.decodeValidatedBody(w, r, correlationID, s.schemas.bulkUpdate, &body) {
		return
	}
	updated, err := s.service.BulkUpdateStatus(r.Context(), body.AppealIDs, guestdesk.Status(body.Status))
	if err != nil {
		s.writeServiceError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "updated": updated})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, guestdesk.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, guestdesk.ErrInvalidInput), errors.Is(err, guestdesk.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	default:
		s.cfg.Logger.Printf("request %s failed: %v", correlationID, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "internal error", correlationID)
	}
}

func getCorrelationID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get("X-Correlation-Id")); id != "" {
		return id
	}
	return uuid.NewString()
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}
