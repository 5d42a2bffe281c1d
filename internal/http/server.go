package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"tradegate/internal/config"
	"tradegate/internal/domain"
	"tradegate/internal/events"
	"tradegate/internal/observability"
	"tradegate/internal/service/executor"
	"tradegate/internal/service/intake"
	"tradegate/internal/service/modes"
	"tradegate/internal/store"
)

const (
	adminTokenLifetime = 12 * time.Hour
	maxWebhookBody     = 64 << 10
	defaultListLimit   = 50
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Server exposes the signal intake webhook, the admin API, and the live
// event socket. It owns no business rules: every decision is delegated to
// intake, the executor, or the store.
type Server struct {
	cfg      config.Config
	store    store.Store
	intake   *intake.Service
	executor *executor.Scheduler
	bus      *events.Bus
	hub      *events.Hub
}

func NewServer(cfg config.Config, st store.Store, intakeSvc *intake.Service, exec *executor.Scheduler, bus *events.Bus, hub *events.Hub) *Server {
	return &Server{
		cfg:      cfg,
		store:    st,
		intake:   intakeSvc,
		executor: exec,
		bus:      bus,
		hub:      hub,
	}
}

func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", observability.Handler())
	r.Post("/webhook/tradingview", s.handleWebhook)
	r.Post("/admin/login", s.handleAdminLogin)
	r.Get("/ws/events", s.handleEventsSocket)

	r.Group(func(protected chi.Router) {
		protected.Use(s.requireAdmin)

		protected.Post("/admin/logout", s.handleAdminLogout)

		protected.Get("/admin/intents", s.handleListIntents)
		protected.Post("/admin/intents/{id}/swipe", s.handleSwipeIntent)

		protected.Get("/admin/executions", s.handleListExecutions)
		protected.Post("/admin/executions/{id}/cancel", s.handleCancelExecution)
		protected.Post("/admin/executions/{id}/execute", s.handleExecuteNow)

		protected.Get("/admin/positions", s.handleListPositions)
		protected.Post("/admin/positions/{id}/flat", s.handleFlattenPosition)

		protected.Get("/admin/tickers", s.handleListTickers)
		protected.Post("/admin/tickers/{ticker}/enable", s.handleEnableTicker)
		protected.Post("/admin/tickers/{ticker}/disable", s.handleDisableTicker)

		protected.Get("/admin/settings", s.handleGetSettings)
		protected.Put("/admin/settings", s.handleUpdateSettings)

		protected.Get("/admin/mode-windows", s.handleListModeWindows)
		protected.Put("/admin/mode-windows", s.handleReplaceModeWindows)

		protected.Get("/admin/events", s.handleListEvents)
		protected.Get("/admin/webhook-logs", s.handleListWebhookLogs)
		protected.Get("/admin/summary", s.handleSummary)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"store":  s.cfg.StoreMode,
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleWebhook is the TradingView entry point. For a correctly
// authenticated sender it always answers 200 with the intake decision in the
// body: TradingView treats non-2xx responses as a reason to disable the
// alert, and a rejected signal is our decision, not the sender's error.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("X-Webhook-Token")
	}
	if token != s.cfg.WebhookToken {
		writeError(w, http.StatusUnauthorized, "invalid webhook token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable request body")
		return
	}

	// Lenient decode: alert payloads carry arbitrary extra keys and are
	// sometimes not JSON at all. Whatever arrives is kept verbatim in Raw so
	// classification and provenance work from the original bytes.
	var sig domain.Signal
	if err := json.Unmarshal(body, &sig); err != nil {
		sig = domain.Signal{}
	}
	sig.Raw = string(body)

	result, err := s.intake.HandleSignal(r.Context(), sig)
	if err != nil {
		log.Printf("http: webhook intake failed: %v", err)
		writeError(w, http.StatusInternalServerError, "temporarily unable to process signal")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Username != s.cfg.AdminUsername || body.Password != s.cfg.AdminPassword {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := s.signAdminToken(body.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"type":       "Bearer",
		"expires_at": expiresAt.UTC().Format(time.RFC3339),
	})
}

// handleAdminLogout exists so clients have a uniform call to end a session.
// Tokens are stateless and simply age out.
func (s *Server) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleEventsSocket(w http.ResponseWriter, r *http.Request) {
	if _, err := s.parseAdminToken(r.URL.Query().Get("token")); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("http: websocket upgrade failed: %v", err)
		return
	}
	s.hub.Attach(conn)
}

func (s *Server) handleListIntents(w http.ResponseWriter, r *http.Request) {
	intents := s.store.ListIntents(parseInt(r.URL.Query().Get("limit"), defaultListLimit))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"intents": intents,
		"count":   len(intents),
	})
}

func (s *Server) handleSwipeIntent(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Action string `json:"action"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var status domain.IntentStatus
	switch strings.ToLower(body.Action) {
	case "on":
		status = domain.IntentSwipedOn
	case "off":
		status = domain.IntentSwipedOff
	case "deny":
		status = domain.IntentSwipedDeny
	default:
		writeError(w, http.StatusBadRequest, "action must be one of on, off, deny")
		return
	}

	id := chi.URLParam(r, "id")
	intent, err := s.store.GetIntent(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "intent not found")
		return
	}
	if intent.Status != domain.IntentPending {
		writeError(w, http.StatusConflict, "intent already decided")
		return
	}

	updated, err := s.store.SetIntentStatus(id, status, domain.CardSwiped)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not update intent")
		return
	}
	observability.RecordSwipe(strings.ToLower(body.Action))
	event := s.bus.Emit(domain.EventIntentSwiped, updated.Ticker, map[string]interface{}{
		"intent_id": updated.ID,
		"action":    strings.ToLower(body.Action),
		"status":    string(updated.Status),
	})

	switch status {
	case domain.IntentSwipedOn:
		s.executor.Wake()
	case domain.IntentSwipedOff:
		// Swiping off means "not this ticker right now": block further
		// signals until an explicit enable or the daily revive.
		s.store.SetGateEnabled(updated.Ticker, false)
		s.bus.Emit(domain.EventGateChanged, updated.Ticker, map[string]interface{}{
			"enabled": false,
			"reason":  "swiped_off",
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"intent":   updated,
		"event_id": event.ID,
	})
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	executions := s.store.ListExecutions(parseInt(r.URL.Query().Get("limit"), defaultListLimit))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"executions": executions,
		"count":      len(executions),
	})
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	cancelled, err := s.store.MarkExecutionCancelled(id, "cancelled by admin")
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "execution not found")
		return
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "execution already resolved")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not cancel execution")
		return
	}
	observability.RecordResolution("cancelled")
	event := s.bus.Emit(domain.EventExecutionCancelled, cancelled.Ticker, map[string]interface{}{
		"execution_id": cancelled.ID,
		"reason":       "cancelled by admin",
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        true,
		"execution": cancelled,
		"event_id":  event.ID,
	})
}

// handleExecuteNow resolves a pending execution immediately, skipping the
// swipe requirement. The exit position guard still applies.
func (s *Server) handleExecuteNow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	exec, err := s.store.GetExecution(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "execution not found")
		return
	}
	if exec.Status != domain.ExecutionPending {
		writeError(w, http.StatusConflict, "execution already resolved")
		return
	}

	resolved := s.executor.ResolveNow(r.Context(), exec)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":        resolved.Status == domain.ExecutionExecuted,
		"execution": resolved,
	})
}

func (s *Server) handleListPositions(w http.ResponseWriter, r *http.Request) {
	includeClosed := r.URL.Query().Get("include_closed") == "true"
	positions := s.store.ListPositions(includeClosed, parseInt(r.URL.Query().Get("limit"), defaultListLimit))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"positions": positions,
		"count":     len(positions),
	})
}

// handleFlattenPosition force-closes a position record after the admin has
// already flattened it at the broker. It is bookkeeping, so unlike a real
// close it starts no cooldown.
func (s *Server) handleFlattenPosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	closed, err := s.store.ClosePosition(id, time.Now().UTC())
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "position not found")
		return
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "position already closed")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "could not close position")
		return
	}
	event := s.bus.Emit(domain.EventPositionClosed, closed.Ticker, map[string]interface{}{
		"position_id": closed.ID,
		"forced":      true,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"position": closed,
		"event_id": event.ID,
	})
}

func (s *Server) handleListTickers(w http.ResponseWriter, r *http.Request) {
	gates := s.store.ListGates()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tickers": gates,
		"count":   len(gates),
	})
}

func (s *Server) handleEnableTicker(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "ticker")))
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	gate := s.store.SetGateEnabled(ticker, true)
	event := s.bus.Emit(domain.EventGateChanged, ticker, map[string]interface{}{
		"enabled": true,
		"source":  "admin",
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"ticker":   gate,
		"event_id": event.ID,
	})
}

func (s *Server) handleDisableTicker(w http.ResponseWriter, r *http.Request) {
	ticker := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "ticker")))
	if ticker == "" {
		writeError(w, http.StatusBadRequest, "ticker is required")
		return
	}
	gate := s.store.SetGateEnabled(ticker, false)
	event := s.bus.Emit(domain.EventGateChanged, ticker, map[string]interface{}{
		"enabled": false,
		"source":  "admin",
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"ticker":   gate,
		"event_id": event.ID,
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settings unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"settings":         settings,
		"broker_token_set": settings.BrokerToken != "",
	})
}

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Mode         *string `json:"execution_mode"`
		DelaySeconds *int    `json:"delay_seconds"`
		BrokerURL    *string `json:"broker_url"`
		BrokerToken  *string `json:"broker_token"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	current, err := s.store.GetSettings()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settings unavailable")
		return
	}
	previousMode := current.Mode

	if body.Mode != nil {
		mode := domain.ExecutionMode(strings.ToLower(strings.TrimSpace(*body.Mode)))
		if !mode.Valid() {
			writeError(w, http.StatusBadRequest, "execution_mode must be one of off, safe, live")
			return
		}
		current.Mode = mode
	}
	if body.DelaySeconds != nil {
		if *body.DelaySeconds < 0 {
			writeError(w, http.StatusBadRequest, "delay_seconds must not be negative")
			return
		}
		current.DelaySeconds = *body.DelaySeconds
	}
	if body.BrokerURL != nil {
		current.BrokerURL = strings.TrimSpace(*body.BrokerURL)
	}
	if body.BrokerToken != nil {
		current.BrokerToken = *body.BrokerToken
	}

	saved := s.store.SaveSettings(current)
	if saved.Mode != previousMode {
		s.bus.Emit(domain.EventModeChanged, "", map[string]interface{}{
			"mode":   string(saved.Mode),
			"source": "admin",
		})
		if saved.Mode == domain.ModeSafe {
			s.executor.Wake()
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":               true,
		"settings":         saved,
		"broker_token_set": saved.BrokerToken != "",
	})
}

func (s *Server) handleListModeWindows(w http.ResponseWriter, r *http.Request) {
	windows := s.store.ListModeWindows()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"windows": windows,
		"count":   len(windows),
	})
}

func (s *Server) handleReplaceModeWindows(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Windows []domain.ModeWindow `json:"windows"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := modes.ValidateWindows(body.Windows); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	saved := s.store.ReplaceModeWindows(body.Windows)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":      true,
		"windows": saved,
		"count":   len(saved),
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	list := s.store.ListEvents(parseInt(r.URL.Query().Get("limit"), defaultListLimit))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": list,
		"count":  len(list),
	})
}

func (s *Server) handleListWebhookLogs(w http.ResponseWriter, r *http.Request) {
	logs := s.store.ListWebhookLogs(parseInt(r.URL.Query().Get("limit"), defaultListLimit))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"webhook_logs": logs,
		"count":        len(logs),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	mode := "unknown"
	if settings, err := s.store.GetSettings(); err == nil {
		mode = string(settings.Mode)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"execution_mode":     mode,
		"pending_executions": s.store.PendingExecutionCount(),
		"open_positions":     s.store.OpenPositionCount(),
		"timed_blocks":       s.store.TimedBlockCount(),
		"scheduler_active":   s.executor.IsActive(),
		"ws_clients":         s.hub.ClientCount(),
		"time":               time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) signAdminToken(subject string) (string, time.Time, error) {
	expiresAt := time.Now().Add(adminTokenLifetime)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	})
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

func (s *Server) parseAdminToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.New("missing token")
	}
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", errors.New("invalid claims")
	}
	subject, _ := claims["sub"].(string)
	return subject, nil
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := s.parseAdminToken(bearerToken(r)); err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func decodeJSON(r *http.Request, dst interface{}) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("http: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
