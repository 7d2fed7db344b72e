package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
)

// Default history page size.
const DefaultHistoryPageSize = 50

// MessageHistory fetches a page of the conversation with q.ToUserID, newest
// first. Callers use it to catch up after the socket reconnects.
func (c *Client) MessageHistory(ctx context.Context, q HistoryQuery) (*HistoryPage, error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	pageSize := q.PageSize
	if pageSize < 1 {
		pageSize = DefaultHistoryPageSize
	}

	query := url.Values{}
	query.Set("to_user_id", strconv.FormatInt(q.ToUserID, 10))
	query.Set("page", strconv.Itoa(page))
	query.Set("page_size", strconv.Itoa(pageSize))

	var resp HistoryPage
	if err := c.get(ctx, "/api/chat/message/history", query, &resp); err != nil {
		return nil, fmt.Errorf("get history with %d: %w", q.ToUserID, err)
	}
	return &resp, nil
}

// SendMessage posts msg. An empty ClientMsgID is filled with a random UUID so
// retried requests can be deduplicated by the server. MessageType defaults to text.
func (c *Client) SendMessage(ctx context.Context, msg OutgoingMessage) (*Message, error) {
	if msg.ClientMsgID == "" {
		msg.ClientMsgID = uuid.NewString()
	}
	if msg.MessageType == "" {
		msg.MessageType = MessageText
	}

	var sent Message
	if err := c.post(ctx, "/api/chat/message/send", msg, &sent); err != nil {
		return nil, fmt.Errorf("send message %s: %w", msg.ClientMsgID, err)
	}
	if sent.ClientMsgID == "" {
		sent.ClientMsgID = msg.ClientMsgID
	}
	return &sent, nil
}

// MarkRead marks messages as read.
func (c *Client) MarkRead(ctx context.Context, messageIDs []int64) error {
	if len(messageIDs) == 0 {
		return nil
	}
	body := struct {
		MessageIDs []int64 `json:"message_ids"`
	}{messageIDs}

	if err := c.post(ctx, "/api/chat/message/read", body, nil); err != nil {
		return fmt.Errorf("mark %d messages read: %w", len(messageIDs), err)
	}
	return nil
}

// UnreadCount fetches unread message counts.
func (c *Client) UnreadCount(ctx context.Context) (*UnreadCount, error) {
	var resp UnreadCount
	if err := c.get(ctx, "/api/chat/message/unread", nil, &resp); err != nil {
		return nil, fmt.Errorf("get unread count: %w", err)
	}
	return &resp, nil
}
