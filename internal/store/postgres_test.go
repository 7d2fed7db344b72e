package store

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDB emulates kv_store in memory by recognising the statements Postgres issues.
type fakeDB struct {
	rows  map[string][]byte
	execs []string
	err   error
}

func newFakeDB() *fakeDB {
	return &fakeDB{rows: make(map[string][]byte)}
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	if f.err != nil {
		return pgconn.CommandTag{}, f.err
	}

	switch sql {
	case upsertSQL:
		f.rows[args[0].(string)] = args[1].([]byte)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case deleteSQL:
		key := args[0].(string)
		if _, ok := f.rows[key]; !ok {
			return pgconn.NewCommandTag("DELETE 0"), nil
		}
		delete(f.rows, key)
		return pgconn.NewCommandTag("DELETE 1"), nil
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if f.err != nil {
		return fakeRow{err: f.err}
	}
	v, ok := f.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{value: v}
}

type fakeRow struct {
	value []byte
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*[]byte) = r.value
	return nil
}

func TestPostgres_GetSetRemove(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	p := NewPostgres(db, nil)

	require.NoError(t, p.EnsureSchema(ctx))
	assert.True(t, strings.Contains(db.execs[0], "CREATE TABLE IF NOT EXISTS kv_store"))

	_, err := p.Get(ctx, KeyToken)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, p.Set(ctx, KeyToken, []byte("tok")))
	require.NoError(t, p.Set(ctx, KeyToken, []byte("tok2")))

	got, err := p.Get(ctx, KeyToken)
	require.NoError(t, err)
	assert.Equal(t, []byte("tok2"), got)

	require.NoError(t, p.Remove(ctx, KeyToken))
	require.NoError(t, p.Remove(ctx, KeyToken))
	_, err = p.Get(ctx, KeyToken)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgres_Errors(t *testing.T) {
	ctx := context.Background()
	db := newFakeDB()
	db.err = errors.New("connection refused")
	p := NewPostgres(db, nil)

	_, err := p.Get(ctx, KeyToken)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, db.err)

	assert.ErrorIs(t, p.Set(ctx, KeyToken, nil), db.err)
	assert.ErrorIs(t, p.Remove(ctx, KeyToken), db.err)
	assert.ErrorIs(t, p.EnsureSchema(ctx), db.err)
}

func TestPostgres_Session(t *testing.T) {
	ctx := context.Background()
	p := NewPostgres(newFakeDB(), nil)

	require.NoError(t, SaveSession(ctx, p, Session{User: UserInfo{ID: 9, Name: "bob"}, Token: "t"}))

	id, err := IdentitySource{Store: p}.UserID(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
}
