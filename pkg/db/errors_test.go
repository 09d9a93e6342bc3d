package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "pgconn", err: &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_id_key"}, want: true},
		{name: "pgconn constraint match", err: fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505", ConstraintName: "orders_order_id_key"}), constraint: "orders_order_id_key", want: true},
		{name: "pgconn constraint mismatch", err: &pgconn.PgError{Code: "23505", ConstraintName: "deposits_order_id_key"}, constraint: "orders_order_id_key", want: false},
		{name: "pgconn other code", err: &pgconn.PgError{Code: "23503"}, want: false},
		{name: "pq", err: &pq.Error{Code: "23505", Constraint: "rents_order_id_key"}, want: true},
		{name: "sqlite", err: errors.New("UNIQUE constraint failed: orders.order_id"), constraint: "orders.order_id", want: true},
		{name: "plain", err: errors.New("connection reset"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsUniqueViolation(tc.err, tc.constraint); got != tc.want {
				t.Fatalf("IsUniqueViolation(%v, %q) = %v, want %v", tc.err, tc.constraint, got, tc.want)
			}
		})
	}
}
