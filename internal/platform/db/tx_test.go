package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, true},
		{"wrapped serialization failure", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "40001"}), true},
		{"foreign key violation", &pgconn.PgError{Code: "23503"}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTxFromContext_Empty(t *testing.T) {
	if tx := TxFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %T", tx)
	}
}

func TestNewTxRunner_ClampsAttempts(t *testing.T) {
	r := NewTxRunner(nil, 0)
	if r.maxAttempts != 1 {
		t.Errorf("expected maxAttempts 1, got %d", r.maxAttempts)
	}
	called := false
	r = NewTxRunner(nil, 3, WithConflictHook(func() { called = true }))
	if r.maxAttempts != 3 {
		t.Errorf("expected maxAttempts 3, got %d", r.maxAttempts)
	}
	r.onConflict()
	if !called {
		t.Error("expected conflict hook to be installed")
	}
}
