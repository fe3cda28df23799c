package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/wricardo/mcp-training/chesslive/game/service"
	"github.com/wricardo/mcp-training/chesslive/transport/websocket"
)

// Server represents the REST API server
type Server struct {
	service  service.GameService
	gateway  *websocket.Gateway
	router   *mux.Router
	validate *validator.Validate
	logger   *zap.Logger
}

// NewServer creates a new API server. gateway may be nil, in which case /ws
// is not served.
func NewServer(gameService service.GameService, gateway *websocket.Gateway, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service:  gameService,
		gateway:  gateway,
		router:   mux.NewRouter(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.Named("api"),
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(corsMiddleware, s.loggingMiddleware)

	api := s.router.PathPrefix("/api").Subrouter()

	// Sessions
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")

	// Training and betting
	api.HandleFunc("/train", s.handleTrain).Methods("POST")
	api.HandleFunc("/bet", s.handleBet).Methods("POST")

	// WebSocket
	if s.gateway != nil {
		s.router.HandleFunc("/ws", s.gateway.ServeWS)
	}

	s.router.HandleFunc("/healthz", s.handleHealth).Methods("GET")

	// Preflight for every path
	s.router.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, map[string]string{"error": message, "code": code})
}

// respondServiceError maps a service error to its HTTP status.
func respondServiceError(w http.ResponseWriter, err error) {
	code := service.ErrorCode(err)
	respondError(w, statusFor(code), code, err.Error())
}

func statusFor(code string) int {
	switch code {
	case service.CodeSessionNotFound:
		return http.StatusNotFound
	case service.CodeEngineTimeout:
		return http.StatusGatewayTimeout
	case service.CodeEngineUnavailable:
		return http.StatusServiceUnavailable
	case service.CodeInvalidRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// decodeAndValidate reads a JSON body into req and checks its validate tags.
func (s *Server) decodeAndValidate(r *http.Request, req interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		return fmt.Errorf("%w: invalid request body", service.ErrInvalidRequest)
	}
	if err := s.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %s validation", service.ErrInvalidRequest, fe.Field(), fe.Tag())
		}
		return fmt.Errorf("%w: %v", service.ErrInvalidRequest, err)
	}
	return nil
}

// Session Handlers

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	// Parse query parameters
	query := r.URL.Query()
	sortBy := query.Get("sort")    // "id" (default), "created", "activity"
	order := query.Get("order")    // "asc" (default), "desc"
	limitStr := query.Get("limit") // number of sessions to return

	if sortBy == "" {
		sortBy = "id"
	}
	if order == "" {
		order = "asc"
	}

	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if order == "desc" {
			a, b = b, a
		}
		switch sortBy {
		case "created":
			return a.CreatedAt.Before(b.CreatedAt)
		case "activity":
			return a.LastActivityAt.Before(b.LastActivityAt)
		default:
			return a.ID < b.ID
		}
	})

	total := len(sessions)
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(sessions) {
			sessions = sessions[:l]
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
		"sort":     sortBy,
		"order":    order,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	info, err := s.service.GetSession(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, info)
}

// Training and Betting Handlers

type trainRequest struct {
	Position string `json:"position" validate:"required"`
}

type trainResponse struct {
	Suggestion string `json:"suggestion"`
	Ponder     string `json:"ponder,omitempty"`
	Depth      int    `json:"depth,omitempty"`
	ScoreCP    int    `json:"score_cp"`
	Mate       int    `json:"mate,omitempty"`
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	var req trainRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}

	suggestion, err := s.service.SuggestMove(r.Context(), req.Position)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, trainResponse{
		Suggestion: suggestion.BestMove,
		Ponder:     suggestion.Ponder,
		Depth:      suggestion.Depth,
		ScoreCP:    suggestion.ScoreCP,
		Mate:       suggestion.Mate,
	})
}

// betRequest accepts playerId as an alias of player_id. The player id is
// optional and only tags the payment.
type betRequest struct {
	Amount      float64 `json:"amount" validate:"gt=0"`
	PlayerID    string  `json:"player_id,omitempty"`
	PlayerIDAlt string  `json:"playerId,omitempty"`
}

// Player returns the player id, accepting the playerId alias.
func (r betRequest) Player() string {
	if r.PlayerID != "" {
		return r.PlayerID
	}
	return r.PlayerIDAlt
}

func (s *Server) handleBet(w http.ResponseWriter, r *http.Request) {
	var req betRequest
	if err := s.decodeAndValidate(r, &req); err != nil {
		respondServiceError(w, err)
		return
	}

	playerID := req.Player()
	intent, err := s.service.PlaceBet(r.Context(), req.Amount, playerID)
	if err != nil {
		s.logger.Warn("bet rejected",
			zap.String("player_id", playerID),
			zap.Float64("amount", req.Amount),
			zap.Error(err))
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"client_secret": intent.ClientSecret,
		"clientSecret":  intent.ClientSecret,
	})
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}
