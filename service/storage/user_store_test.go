package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeRow struct {
	uid int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.uid
	return nil
}

type fakeQuerier struct {
	row      fakeRow
	lastSQL  string
	lastArgs []any
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.lastSQL = sql
	q.lastArgs = args
	return q.row
}

func TestSelectUIDFromUUID(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{uid: 42}}
	s := NewPgUserStore(q)

	uid, err := s.SelectUIDFromUUID(context.Background(), "7b1f3c8e-4b1a-4c7e-9f51-2d0c9e6a1b23")
	if err != nil {
		t.Fatalf("SelectUIDFromUUID: %v", err)
	}
	if uid != 42 {
		t.Fatalf("uid = %d", uid)
	}
	if q.lastSQL != selectUIDByUUID || len(q.lastArgs) != 1 {
		t.Fatalf("unexpected query %q %v", q.lastSQL, q.lastArgs)
	}
}

func TestSelectUIDFromUUIDNoRows(t *testing.T) {
	s := NewPgUserStore(&fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}})
	if _, err := s.SelectUIDFromUUID(context.Background(), "x"); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestSelectUIDFromUUIDBackendError(t *testing.T) {
	boom := errors.New("conn refused")
	s := NewPgUserStore(&fakeQuerier{row: fakeRow{err: boom}})
	_, err := s.SelectUIDFromUUID(context.Background(), "x")
	if err == nil || errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("backend failure must not look like not-found: %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("cause lost: %v", err)
	}
}
