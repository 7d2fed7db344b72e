package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	value := []byte("v1")
	require.NoError(t, m.Set(ctx, "k", value))
	value[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got, "stored value must not alias the caller's slice")

	got[0] = 'y'
	again, _ := m.Get(ctx, "k")
	assert.Equal(t, []byte("v1"), again)

	require.NoError(t, m.Remove(ctx, "k"))
	require.NoError(t, m.Remove(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSession_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := LoadSession(ctx, m)
	require.ErrorIs(t, err, ErrNotFound)

	want := Session{
		User:        UserInfo{ID: 42, Name: "alice", Nickname: "Alice"},
		Token:       "tok",
		TokenExpire: time.Date(2030, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	require.NoError(t, SaveSession(ctx, m, want))

	raw, err := m.Get(ctx, KeyUserInfo)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":42,"name":"alice","nickname":"Alice"}`, string(raw))

	got, err := LoadSession(ctx, m)
	require.NoError(t, err)
	assert.Equal(t, want.User, got.User)
	assert.Equal(t, want.Token, got.Token)
	assert.True(t, want.TokenExpire.Equal(got.TokenExpire))

	require.NoError(t, ClearSession(ctx, m))
	_, err = LoadSession(ctx, m)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSession_Expired(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, Session{}.Expired(now), "zero expiry never expires")
	assert.False(t, Session{TokenExpire: now.Add(time.Minute)}.Expired(now))
	assert.True(t, Session{TokenExpire: now}.Expired(now))
	assert.True(t, Session{TokenExpire: now.Add(-time.Minute)}.Expired(now))
}

func TestIdentitySource(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	ids := IdentitySource{Store: m}

	id, err := ids.UserID(ctx)
	require.NoError(t, err)
	assert.Zero(t, id)

	require.NoError(t, SetJSON(ctx, m, KeyUserInfo, UserInfo{ID: 7}))
	id, err = ids.UserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	require.NoError(t, m.Set(ctx, KeyUserInfo, []byte("not json")))
	_, err = ids.UserID(ctx)
	assert.Error(t, err)
}

type failingStore struct {
	Store
	err error
}

func (f failingStore) Remove(ctx context.Context, key string) error { return f.err }

func TestClearSession_JoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	err := ClearSession(context.Background(), failingStore{Store: NewMemory(), err: boom})

	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), KeyUserInfo)
	assert.Contains(t, err.Error(), KeyTokenExpire)
}
