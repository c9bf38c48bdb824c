package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"gwi.com/recall-chat/internal/auth"
	"gwi.com/recall-chat/internal/core"
	"gwi.com/recall-chat/internal/logger"
	"gwi.com/recall-chat/internal/store"
)

type contextKey string

const userIDKey contextKey = "userID"

type APIHandler struct {
	log          *logger.Logger
	chatService  *core.ChatService
	userService  *core.UserService
	secureCookie bool
}

func NewAPIHandler(log *logger.Logger, cs *core.ChatService, us *core.UserService, secureCookie bool) *APIHandler {
	return &APIHandler{
		log:          log.With("service", "api"),
		chatService:  cs,
		userService:  us,
		secureCookie: secureCookie,
	}
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.userService.ResolveToken(r.Context(), auth.TokenFromRequest(r))
		if err != nil {
			if !errors.Is(err, core.ErrUnauthorized) {
				h.log.Error("Failed to resolve user identity", "error", err)
			}
			h.writeError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, user.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type RegisterRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Password  string `json:"password"`
}

func (h *APIHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, err := h.userService.Register(r.Context(), core.RegisterRequest{
		Email:     req.Email,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Password:  req.Password,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	// Registration logs the user in.
	if token, err := auth.GenerateJWT(user.ID); err == nil {
		h.setTokenCookie(w, token)
	} else {
		h.log.Warn("Failed to issue token for new user", "user_id", user.ID, "error", err)
	}
	writeJSON(w, http.StatusCreated, user)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}
	user, token, err := h.userService.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.setTokenCookie(w, token)
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, User: user})
}

func (h *APIHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) setTokenCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		Expires:  time.Now().Add(auth.TokenTTL),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

type CreateChatRequest struct {
	Title string `json:"title"`
}

func (h *APIHandler) CreateChatHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateChatRequest
	if r.Body != http.NoBody && r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	chat, err := h.chatService.CreateChat(r.Context(), userIDFrom(r.Context()), req.Title)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

func (h *APIHandler) ListChatsHandler(w http.ResponseWriter, r *http.Request) {
	chats, err := h.chatService.ListChats(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (h *APIHandler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.chatService.ListMessages(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "chatID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *APIHandler) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chatService.DeleteChat(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "chatID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type PostMessageRequest struct {
	Content string `json:"content"`
}

type PostMessageResponse struct {
	Chat           string `json:"chat"`
	Content        string `json:"content"`
	UserMessageID  string `json:"userMessageId"`
	ModelMessageID string `json:"modelMessageId"`
}

// PostMessageHandler runs a turn synchronously; it is the HTTP twin of the
// websocket submit-turn event.
func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.chatService.SubmitTurn(r.Context(), userIDFrom(r.Context()), chi.URLParam(r, "chatID"), req.Content)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PostMessageResponse{
		Chat:           result.ChatID,
		Content:        result.Content,
		UserMessageID:  result.UserMessageID,
		ModelMessageID: result.ModelMessageID,
	})
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body: " + err.Error()})
		return false
	}
	return true
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, core.ErrEmbeddingFailed), errors.Is(err, core.ErrGenerationFailed):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := core.Describe(err)
	switch {
	case status >= http.StatusInternalServerError:
		h.log.Error("Request failed", "path", r.URL.Path, "status", status, "error", err)
	case errors.Is(err, core.ErrConflict):
		msg = "email already registered"
	case errors.Is(err, core.ErrInvalidInput):
		msg = invalidInputMessage(err)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

// invalidInputMessage returns the validation detail carried by err, which is safe to show.
func invalidInputMessage(err error) string {
	var se *core.StageError
	if errors.As(err, &se) {
		return core.Describe(err)
	}
	return err.Error()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
