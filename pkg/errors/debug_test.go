package errors

import (
	"fmt"
	"testing"

	"github.com/lib/pq"
)

func TestDumpExtractsPostgresDetails(t *testing.T) {
	pgErr := &pq.Error{Code: "23505", Message: "duplicate key", Constraint: "orders_order_id_key", Table: "orders"}
	err := Wrap(CodeConflict, fmt.Errorf("insert order: %w", pgErr), "order exists")

	dump := Dump(err)
	if dump.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", dump.Code)
	}
	if dump.PGCode != "23505" || dump.PGConstraint != "orders_order_id_key" || dump.PGTable != "orders" {
		t.Fatalf("unexpected postgres details %+v", dump)
	}
	if len(dump.Chain) < 2 {
		t.Fatalf("expected the wrap chain to be recorded, got %v", dump.Chain)
	}

	fields := dump.Fields()
	if fields["pg_code"] != "23505" || fields["error_code"] != CodeConflict {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["pg_column"]; ok {
		t.Fatalf("expected empty pg_column to be omitted, got %v", fields)
	}
}

func TestDumpPlainError(t *testing.T) {
	fields := Dump(fmt.Errorf("boom")).Fields()
	if fields["error"] != "boom" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("expected no postgres fields, got %v", fields)
	}
	if d := Dump(nil); d.TopMessage != "" || d.Chain != nil {
		t.Fatalf("expected zero dump for nil, got %+v", d)
	}
}
