package handlers

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey string

const contextIdentityKey contextKey = "identity"

// Identity is the server-held assertion that a connection currently
// acts as a specific, previously authenticated user.
type Identity struct {
	UserID   int
	Username string
}

// identityFromContext returns the current identity claim, if any.
// It never fails; an anonymous request simply has no claim.
func identityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextIdentityKey).(Identity)
	return identity, ok && identity.UserID > 0
}

func withIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextIdentityKey, identity)
}

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse is a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}
