package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestCodeErrorIsMatchesParent(t *testing.T) {
	err := ErrTokenExpired.WrapMsg("exp passed", "sub", "abc")

	if !errors.Is(err, &ErrTokenExpired) {
		t.Fatalf("expected err to match ErrTokenExpired")
	}
	if !errors.Is(err, &ErrToken) {
		t.Fatalf("expected err to match parent ErrToken")
	}
	if errors.Is(err, &ErrUserNotFound) {
		t.Fatalf("token error must not match ErrUserNotFound")
	}
	if errors.Is(err, &ErrTokenMalformed) {
		t.Fatalf("sibling codes must not match")
	}
}

func TestCodeErrorIsThroughFmtWrap(t *testing.T) {
	inner := ErrStoreUnavailable.WrapMsg("dial tcp: refused")
	err := fmt.Errorf("resolve: %w", inner)

	if !errors.Is(err, &ErrResolution) {
		t.Fatalf("expected ResolutionError parent to match")
	}
	if got := AsCode(err).Code; got != StoreUnavailableError {
		t.Fatalf("AsCode code = %d, want %d", got, StoreUnavailableError)
	}
}

func TestWrapMsgDetail(t *testing.T) {
	err := ErrUserNotFound.WrapMsg("lookup", "uuid", "u-1")
	ce := AsCode(err)
	if ce.Detail != "lookup, uuid=u-1" {
		t.Fatalf("unexpected detail %q", ce.Detail)
	}
	if ErrUserNotFound.Detail != "" {
		t.Fatalf("predefined error must not be mutated")
	}
	if !strings.Contains(err.Error(), "1601 user not found") {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestAsCodePlainError(t *testing.T) {
	ce := AsCode(errors.New("boom"))
	if ce.Code != ServerInternalError {
		t.Fatalf("plain error should map to %d, got %d", ServerInternalError, ce.Code)
	}
	if ce.Detail != "boom" {
		t.Fatalf("detail = %q", ce.Detail)
	}
}

func TestCodeRelationAddRequiresTwoCodes(t *testing.T) {
	r := newCodeRelation()
	if err := r.Add(1); err == nil {
		t.Fatalf("expected error for single code")
	}
	if err := r.Add(10, 11, 12); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !r.Is(10, 12) || !r.Is(11, 12) || r.Is(12, 10) {
		t.Fatalf("unexpected relation state")
	}
}
