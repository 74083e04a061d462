package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

var postgresIntegrationCounter uint64

func TestPostgresIntegrationRecordAndExists(t *testing.T) {
	dsn := postgresIntegrationDSN(t)

	p, err := NewPostgres(dsn, "it")
	if err != nil {
		t.Fatalf("new postgres ledger: %v", err)
	}
	p.tableName = postgresIntegrationTableName("ecmwf_ledger_it")
	t.Cleanup(func() {
		_ = p.Close()
		postgresIntegrationDropTable(t, dsn, p.tableName)
	})

	ok, err := p.Exists("20240610")
	if err != nil || ok {
		t.Fatalf("expected empty ledger, got ok=%v err=%v", ok, err)
	}
	for _, d := range []string{"20240610", "20240608", "20240610"} {
		if _, err := p.Record(d); err != nil {
			t.Fatalf("record %s: %v", d, err)
		}
	}
	got, err := p.Dates()
	if err != nil {
		t.Fatalf("dates: %v", err)
	}
	if want := []string{"20240610", "20240608"}; !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	other, err := NewPostgres(dsn, "other")
	if err != nil {
		t.Fatalf("new postgres ledger: %v", err)
	}
	other.tableName = p.tableName
	t.Cleanup(func() { _ = other.Close() })
	if ok, err := other.Exists("20240610"); err != nil || ok {
		t.Fatalf("namespaces must not share dates, got ok=%v err=%v", ok, err)
	}
}

func postgresIntegrationDSN(t *testing.T) string {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("ECMWF_DOWNLOADER_TEST_POSTGRES_DSN"))
	if dsn == "" {
		t.Skip("set ECMWF_DOWNLOADER_TEST_POSTGRES_DSN to run Postgres integration tests")
	}
	return dsn
}

func postgresIntegrationTableName(prefix string) string {
	n := atomic.AddUint64(&postgresIntegrationCounter, 1)
	return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), n)
}

func postgresIntegrationDropTable(t *testing.T, dsn, tableName string) {
	t.Helper()
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open postgres for cleanup failed: %v", err)
	}
	defer db.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdentifier(tableName))); err != nil {
		t.Fatalf("drop cleanup table %q failed: %v", tableName, err)
	}
}
