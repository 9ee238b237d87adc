package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"ripple/cmd/internal/chat"
	"ripple/cmd/internal/friends"
	"ripple/cmd/internal/messaging"
	"ripple/cmd/internal/store"
	"ripple/cmd/internal/suggest"
)

const maxBodyBytes = 1 << 20

// API exposes the chat operations over HTTP. All routes require an
// authenticated session; authorization beyond that happens in the services.
type API struct {
	log      *slog.Logger
	sessions SessionResolver

	ingest  *messaging.IngestService
	seen    *messaging.SeenService
	suggest *suggest.Service // nil disables the suggestion routes
	friends *friends.Service
}

// NewAPI constructs the HTTP API.
func NewAPI(
	log *slog.Logger,
	sessions SessionResolver,
	ingest *messaging.IngestService,
	seen *messaging.SeenService,
	sg *suggest.Service,
	fr *friends.Service,
) (*API, error) {
	if sessions == nil || ingest == nil || seen == nil || fr == nil {
		return nil, errors.New("app: nil api dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	return &API{
		log:      log,
		sessions: sessions,
		ingest:   ingest,
		seen:     seen,
		suggest:  sg,
		friends:  fr,
	}, nil
}

// Register mounts all API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /message/send", a.handleMessageSend)
	mux.HandleFunc("POST /message/seen", a.handleMessageSeen)
	mux.HandleFunc("POST /reply-suggestions", a.handleReplySuggestions)
	mux.HandleFunc("POST /rewrite", a.handleRewrite)
	mux.HandleFunc("POST /friends/request", a.handleFriendRequest)
	mux.HandleFunc("POST /friends/accept", a.handleFriendAccept)
	mux.HandleFunc("POST /friends/deny", a.handleFriendDeny)
	mux.HandleFunc("GET /friends", a.handleFriendsList)
}

func (a *API) handleMessageSend(w http.ResponseWriter, r *http.Request) {
	userID, err := a.sessions.UserID(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	var req struct {
		ConversationID string `json:"conversationId"`
		Text           string `json:"text"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	msg, err := a.ingest.Send(r.Context(), messaging.SendInput{
		ConversationID: req.ConversationID,
		SenderID:       userID,
		Text:           req.Text,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"message": msg})
}

func (a *API) handleMessageSeen(w http.ResponseWriter, r *http.Request) {
	userID, err := a.sessions.UserID(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	var req struct {
		ConversationID string `json:"conversationId"`
		MessageID      string `json:"messageId"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	err = a.seen.MarkSeen(r.Context(), messaging.SeenInput{
		ConversationID: req.ConversationID,
		ObserverID:     userID,
		MessageID:      req.MessageID,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleReplySuggestions(w http.ResponseWriter, r *http.Request) {
	userID, err := a.sessions.UserID(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if a.suggest == nil {
		http.Error(w, "suggestions disabled", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		ConversationID string `json:"conversationId"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	suggestions, err := a.suggest.ReplySuggestions(r.Context(), req.ConversationID, userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

func (a *API) handleRewrite(w http.ResponseWriter, r *http.Request) {
	userID, err := a.sessions.UserID(r)
	if err != nil {
		a.writeError(w, err)
		return
	}
	if a.suggest == nil {
		http.Error(w, "suggestions disabled", http.StatusServiceUnavailable)
		return
	}

	var req struct {
		ConversationID string `json:"conversationId"`
		Text           string `json:"text"`
		Prompt         string `json:"prompt"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	err = a.suggest.Rewrite(r.Context(), suggest.RewriteInput{
		ConversationID: req.ConversationID,
		UserID:         userID,
		Text:           req.Text,
		Prompt:         req.Prompt,
	}, w)
	if err != nil {
		// Headers may already be on the wire; only log once streaming began.
		a.log.Warn("api.rewrite.fail", "err", err)
	}
}

func (a *API) handleFriendRequest(w http.ResponseWriter, r *http.Request) {
	userID, err := a.sessions.UserID(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	var req struct {
		UserID string `json:"userId"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	if err := a.friends.SendRequest(r.Context(), friends.RequestInput{FromID: userID, ToID: req.UserID}); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleFriendAccept(w http.ResponseWriter, r *http.Request) {
	a.handleFriendDecision(w, r, a.friends.Accept)
}

func (a *API) handleFriendDeny(w http.ResponseWriter, r *http.Request) {
	a.handleFriendDecision(w, r, a.friends.Deny)
}

func (a *API) handleFriendDecision(w http.ResponseWriter, r *http.Request, decide func(ctx context.Context, in friends.DecisionInput) error) {
	userID, err := a.sessions.UserID(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	var req struct {
		UserID string `json:"userId"`
	}
	if !a.decode(w, r, &req) {
		return
	}

	if err := decide(r.Context(), friends.DecisionInput{UserID: userID, RequesterID: req.UserID}); err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (a *API) handleFriendsList(w http.ResponseWriter, r *http.Request) {
	userID, err := a.sessions.UserID(r)
	if err != nil {
		a.writeError(w, err)
		return
	}

	ids, err := a.friends.Friends(r.Context(), userID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{"friends": ids})
}

// ---- helpers ----

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func (a *API) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		a.log.Warn("api.write.fail", "err", err)
	}
}

// writeError maps service errors to HTTP statuses. Authorization failures
// are masked as 404 so probing for conversation ids reveals nothing.
func (a *API) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNoSession):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, chat.ErrForbidden),
		errors.Is(err, chat.ErrNotFound),
		errors.Is(err, friends.ErrNoRequest):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, chat.ErrValidation),
		errors.Is(err, friends.ErrInvalidInput),
		errors.Is(err, friends.ErrSelfRequest),
		errors.Is(err, friends.ErrAlreadyFriends),
		errors.Is(err, friends.ErrAlreadyRequested):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, store.ErrUnavailable):
		a.log.Error("api.store.unavailable", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	default:
		a.log.Error("api.internal", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
