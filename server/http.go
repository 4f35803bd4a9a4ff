// Package server exposes the system over HTTP: the account and history
// CRUD endpoints, and the websocket upgrade into the realtime relay.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"dm-chat/auth"
	"dm-chat/contract"
	errs "dm-chat/errors"
	"dm-chat/runtime"
	"dm-chat/services"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
)

type Server struct {
	log      *slog.Logger
	registry *runtime.Registry
	presence *runtime.Broadcaster
	relay    *runtime.Relay
	tokens   contract.ITokenValidator

	authService    services.IAuthService
	userService    services.IUserService
	messageService services.IMessageService

	upgrader             websocket.Upgrader
	connectionBufferSize int
	writeTimeout         time.Duration

	// Parent context of every connection; canceling it tears the
	// realtime side down. The upgrade handler must not use the request
	// context, which dies as soon as the handler returns.
	baseCtx context.Context
}

func New(baseCtx context.Context, log *slog.Logger, registry *runtime.Registry,
	presence *runtime.Broadcaster, relay *runtime.Relay, tokens contract.ITokenValidator,
	authService services.IAuthService, userService services.IUserService,
	messageService services.IMessageService,
	connectionBufferSize int, writeTimeout time.Duration) *Server {
	return &Server{
		log:            log,
		registry:       registry,
		presence:       presence,
		relay:          relay,
		tokens:         tokens,
		authService:    authService,
		userService:    userService,
		messageService: messageService,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // TODO restrict to the deployed client origin
			},
		},
		connectionBufferSize: connectionBufferSize,
		writeTimeout:         writeTimeout,
		baseCtx:              baseCtx,
	}
}

// Routes builds the HTTP surface. Everything except registration,
// login, and the upgrade endpoint requires a Bearer token.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.Handle("GET /api/users", auth.Middleware(http.HandlerFunc(s.handleListUsers)))
	mux.Handle("GET /api/users/{id}", auth.Middleware(http.HandlerFunc(s.handleGetUser)))
	mux.Handle("GET /api/messages/{userId}", auth.Middleware(http.HandlerFunc(s.handleGetMessages)))
	mux.Handle("POST /api/messages", auth.Middleware(http.HandlerFunc(s.handleSendMessage)))
	mux.HandleFunc("GET /ws", s.handleWS)
	return mux
}

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, user, err := s.authService.Register(req.Username, req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrUserAlreadyExists):
			writeError(w, http.StatusConflict, "user already exists")
		case errors.Is(err, errs.ErrInvalidPassword):
			writeError(w, http.StatusBadRequest, "invalid registration data")
		default:
			s.log.Error(fmt.Sprintf("register failed: %v", err))
			writeError(w, http.StatusInternalServerError, "server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "user": user})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, user, err := s.authService.Login(req.Email, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	users, err := s.userService.List(userID)
	if err != nil {
		s.log.Error(fmt.Sprintf("list users failed: %v", err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.userService.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, errs.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		s.log.Error(fmt.Sprintf("get user failed: %v", err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	otherID := r.PathValue("userId")
	cursor := lo.EmptyableToPtr(r.URL.Query().Get("cursor"))

	messages, nextCursor, err := s.messageService.Conversation(userID, otherID, cursor)
	if err != nil {
		s.log.Error(fmt.Sprintf("conversation lookup failed: %v", err))
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages, "cursor": nextCursor})
}

type sendMessageRequest struct {
	ReceiverID string `json:"receiverId"`
	Content    string `json:"content"`
}

// handleSendMessage is the HTTP twin of the send_message frame. The
// stored record is still pushed to the receiver's live connections;
// there is no originating connection, so no ack frame.
func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserIDFromContext(r.Context())
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := s.relay.Send(r.Context(), userID, nil, req.ReceiverID, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrEmptyContent):
			writeError(w, http.StatusBadRequest, "message content is empty")
		default:
			s.log.Error(fmt.Sprintf("send failed: %v", err))
			writeError(w, http.StatusInternalServerError, "server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"message": record})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
