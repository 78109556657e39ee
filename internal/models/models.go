package models

import "time"

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Identity is the authenticated user for the lifetime of the client session.
type Identity struct {
	UserID   int64
	Username string
	Token    string
}

// Message is one chat message between two users. Fetched and relayed messages
// carry a server-assigned ID; optimistically appended ones carry a local ID.
// Within a conversation, messages keep arrival/creation order; IDs from the
// two origins are not comparably ordered, so the list is never re-sorted.
type Message struct {
	ID          int64  `json:"id,omitempty"`
	SenderID    int64  `json:"sender_id"`
	RecipientID int64  `json:"recipient_id"`
	Content     string `json:"content"`
}

// Request/Response structures
type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	UserID      int64  `json:"user_id"`
	Username    string `json:"username"`
}

type MessagesResponse struct {
	Messages []Message `json:"messages"`
}

// ErrorResponse is the error body the API returns on failed requests.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// TokenClaims are the registered claims the client reads back out of its own
// access token. The token stays opaque as a credential; the claims are only
// used to report expiry and sanity-check the embedded subject.
type TokenClaims struct {
	UserID    int64
	ExpiresAt time.Time
}
