package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// Session keys.
const (
	KeyUserInfo    = "userInfo"
	KeyToken       = "token"
	KeyTokenExpire = "tokenExpire"
)

// Store is a small key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// UserInfo is the cached profile of the logged-in user.
type UserInfo struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Nickname string `json:"nickname,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

// GetJSON reads key and decodes it into v.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

// Session is the credential set saved at login.
type Session struct {
	User        UserInfo
	Token       string
	TokenExpire time.Time
}

// SaveSession writes all session keys.
func SaveSession(ctx context.Context, s Store, sess Session) error {
	if err := SetJSON(ctx, s, KeyUserInfo, sess.User); err != nil {
		return err
	}
	if err := s.Set(ctx, KeyToken, []byte(sess.Token)); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	expire := []byte(sess.TokenExpire.UTC().Format(time.RFC3339))
	if err := s.Set(ctx, KeyTokenExpire, expire); err != nil {
		return fmt.Errorf("save token expiry: %w", err)
	}
	return nil
}

// LoadSession reads the saved session. It returns ErrNotFound if any key is
// missing.
func LoadSession(ctx context.Context, s Store) (Session, error) {
	var sess Session
	if err := GetJSON(ctx, s, KeyUserInfo, &sess.User); err != nil {
		return Session{}, err
	}

	token, err := s.Get(ctx, KeyToken)
	if err != nil {
		return Session{}, err
	}
	sess.Token = string(token)

	expire, err := s.Get(ctx, KeyTokenExpire)
	if err != nil {
		return Session{}, err
	}
	sess.TokenExpire, err = time.Parse(time.RFC3339, string(expire))
	if err != nil {
		return Session{}, fmt.Errorf("decode %s: %w", KeyTokenExpire, err)
	}
	return sess, nil
}

// ClearSession removes all session keys.
func ClearSession(ctx context.Context, s Store) error {
	var errs []error
	for _, key := range []string{KeyUserInfo, KeyToken, KeyTokenExpire} {
		if err := s.Remove(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Expired reports whether the session token has expired at now.
func (s Session) Expired(now time.Time) bool {
	return !s.TokenExpire.IsZero() && !now.Before(s.TokenExpire)
}
