package testsupport

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
)

func TestPostgresTransactionIsRolledBack(t *testing.T) {
	helper := NewTestPostgres(t)
	tx := helper.Tx()

	// Unique table name keeps parallel packages from tripping over each other
	table := UniqueName("integration_tx_check")

	if _, err := tx.Exec(fmt.Sprintf("CREATE TABLE %s(id SERIAL PRIMARY KEY, value TEXT)", table)); err != nil {
		t.Fatalf("failed to create table: %v", err)
	}

	if _, err := tx.Exec(fmt.Sprintf("INSERT INTO %s(value) VALUES('hello world')", table)); err != nil {
		t.Fatalf("failed to insert row: %v", err)
	}

	var count int
	if err := tx.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
		t.Fatalf("failed to count rows: %v", err)
	}

	if count != 1 {
		t.Fatalf("unexpected row count inside transaction: %d", count)
	}

	helper.Rollback()

	// Verify the table does not exist after rollback
	var exists sql.NullString
	err := helper.DB().QueryRowContext(context.Background(), fmt.Sprintf("SELECT to_regclass('public.%s')", table)).Scan(&exists)
	if err != nil {
		t.Fatalf("failed to query table existence: %v", err)
	}

	if exists.Valid {
		t.Fatalf("expected table to be rolled back, found: %s", exists.String)
	}
}
