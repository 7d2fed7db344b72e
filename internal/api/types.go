package api

import "time"

// User is a user profile as returned by the backend.
type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Email    string `json:"email,omitempty"`
}

// LoginRequest is the body of POST /api/login.
type LoginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// LoginResult is the data of a successful login.
type LoginResult struct {
	User   User   `json:"data"`
	Token  string `json:"token"`
	Expire int64  `json:"expire"` // unix seconds
}

// ExpiresAt returns the token expiry, or the zero time when the server sent none.
func (r *LoginResult) ExpiresAt() time.Time {
	if r.Expire <= 0 {
		return time.Time{}
	}
	return time.Unix(r.Expire, 0).UTC()
}

// Message types.
const (
	MessageText  = "text"
	MessageImage = "image"
	MessageFile  = "file"
)

// Message is a stored chat message.
type Message struct {
	ID          int64  `json:"id"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	FromUserID  int64  `json:"from_user_id"`
	ToUserID    int64  `json:"to_user_id"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	FileURL     string `json:"file_url,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	IsRead      bool   `json:"is_read"`
	CreatedAt   string `json:"created_at"`
}

// SentAt parses CreatedAt. It returns the zero time for empty or unparseable values.
func (m Message) SentAt() time.Time {
	return ParseTimestamp(m.CreatedAt)
}

// HistoryQuery selects a page of the conversation with ToUserID.
type HistoryQuery struct {
	ToUserID int64
	Page     int // 1-based; 0 means 1
	PageSize int // 0 means 50
}

// HistoryPage is one page of message history.
type HistoryPage struct {
	List     []Message `json:"list"`
	Total    int64     `json:"total"`
	Page     int       `json:"page"`
	PageSize int       `json:"page_size"`
}

// OutgoingMessage is the body of POST /api/chat/message/send.
type OutgoingMessage struct {
	ClientMsgID string `json:"client_msg_id"`
	ToUserID    int64  `json:"to_user_id"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
	FileURL     string `json:"file_url"`
	FileName    string `json:"file_name"`
}

// UnreadCount is the data of GET /api/chat/message/unread.
type UnreadCount struct {
	Total  int64            `json:"total"`
	ByUser map[string]int64 `json:"by_user,omitempty"`
}

// ParseTimestamp parses an RFC 3339 or "2006-01-02 15:04:05" timestamp.
// Returns the zero time for empty or invalid input.
func ParseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
