package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/RAPD/rapd-relay/store"
)

// fakeDB records statements and answers QueryRow from a canned row.
type fakeDB struct {
	mu       sync.Mutex
	execs    []string
	execArgs [][]interface{}
	execErr  error
	affected int64

	row fakeRow
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	f.execArgs = append(f.execArgs, args)
	if f.execErr != nil {
		return nil, f.execErr
	}
	return pgconn.CommandTag(fmt.Sprintf("UPDATE %d", f.affected)), nil
}

func (f *fakeDB) Query(context.Context, string, ...interface{}) (pgx.Rows, error) {
	return nil, errors.New("not used")
}

func (f *fakeDB) QueryRow(context.Context, string, ...interface{}) pgx.Row {
	return f.row
}

type fakeRow struct {
	values []interface{}
	err    error
}

func (r fakeRow) Scan(dest ...interface{}) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *[]byte:
			*p = r.values[i].([]byte)
		case *int:
			*p = r.values[i].(int)
		}
	}
	return nil
}

func TestEnsureCollection_QuotesIdentifier(t *testing.T) {
	db := &fakeDB{}
	s := New(zerolog.Nop(), db)

	c, err := s.EnsureCollection(context.Background(), "mx_integrate_results")
	require.NoError(t, err)
	require.Equal(t, "mx_integrate_results", c.Name())

	require.Len(t, db.execs, 1)
	require.Contains(t, db.execs[0], `CREATE TABLE IF NOT EXISTS "mx_integrate_results"`)
	require.Contains(t, db.execs[0], `"mx_integrate_results_result_id_idx"`)
}

func TestEnsureCollection_LongNames(t *testing.T) {
	db := &fakeDB{}
	s := New(zerolog.Nop(), db)

	_, err := s.EnsureCollection(context.Background(), strings.Repeat("x", maxIdentifierLen+1))
	require.Error(t, err)
	require.Empty(t, db.execs)

	// Two 63-byte tables differing only in the last byte get distinct indexes.
	a := strings.Repeat("k", maxIdentifierLen-1) + "a"
	b := strings.Repeat("k", maxIdentifierLen-1) + "b"
	require.LessOrEqual(t, len(indexName(a)), maxIdentifierLen)
	require.NotEqual(t, indexName(a), indexName(b))
	require.Equal(t, "mx_index_results_result_id_idx", indexName("mx_index_results"))

	_, err = s.EnsureCollection(context.Background(), a)
	require.NoError(t, err)
	require.Contains(t, db.execs[0], `"`+indexName(a)+`"`)
}

func TestEnsureCollection_LostCreateRaceIsSuccess(t *testing.T) {
	db := &fakeDB{execErr: &pgconn.PgError{Code: pgerrcode.UniqueViolation}}
	s := New(zerolog.Nop(), db)

	_, err := s.EnsureCollection(context.Background(), "mx_index_results")
	require.NoError(t, err)

	db.execErr = &pgconn.PgError{Code: pgerrcode.InsufficientPrivilege}
	_, err = s.EnsureCollection(context.Background(), "mx_index_results")
	require.Error(t, err)
}

func TestCollection_FindByResultID(t *testing.T) {
	db := &fakeDB{row: fakeRow{values: []interface{}{"d-1", []byte(`{"process":{"result_id":"r-1"}}`)}}}
	s := New(zerolog.Nop(), db)
	c, err := s.EnsureCollection(context.Background(), "mx_integrate_results")
	require.NoError(t, err)

	doc, err := c.FindByResultID(context.Background(), "r-1")
	require.NoError(t, err)
	require.Equal(t, "d-1", doc["_id"])
	require.Equal(t, "r-1", doc["process"].(map[string]any)["result_id"])

	db.row = fakeRow{err: pgx.ErrNoRows}
	_, err = c.FindByResultID(context.Background(), "r-2")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateResult(t *testing.T) {
	db := &fakeDB{affected: 1}
	s := New(zerolog.Nop(), db)

	require.NoError(t, s.UpdateResult(context.Background(), "r-1", store.Document{"_id": "r-1", "display": "pinned"}))
	require.True(t, strings.HasPrefix(db.execs[0], "UPDATE rapd_results"))
	require.Equal(t, "r-1", db.execArgs[0][0])
	require.JSONEq(t, `{"display":"pinned"}`, db.execArgs[0][1].(string))

	db.affected = 0
	err := s.UpdateResult(context.Background(), "missing", store.Document{"display": "x"})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestFindImage(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}
	s := New(zerolog.Nop(), db)

	_, err := s.FindImage(context.Background(), "img-1")
	require.ErrorIs(t, err, store.ErrNotFound)

	db.row = fakeRow{err: errors.New("connection reset")}
	_, err = s.FindImage(context.Background(), "img-1")
	require.Error(t, err)
	require.NotErrorIs(t, err, store.ErrNotFound)
}

func TestListResults_EmptyFilterSkipsQuery(t *testing.T) {
	s := New(zerolog.Nop(), &fakeDB{})
	out, err := s.ListResults(context.Background(), store.ResultQuery{SessionID: "s1"})
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestIsAlreadyExists(t *testing.T) {
	require.True(t, isAlreadyExists(&pgconn.PgError{Code: pgerrcode.DuplicateTable}))
	require.True(t, isAlreadyExists(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: pgerrcode.UniqueViolation})))
	require.False(t, isAlreadyExists(&pgconn.PgError{Code: pgerrcode.UndefinedTable}))
	require.False(t, isAlreadyExists(errors.New("plain")))
}
