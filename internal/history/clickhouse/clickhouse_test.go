package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/manifest/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container for testing
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	clickHouseContainer, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
	}

	host, err := clickHouseContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := clickHouseContainer.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}

	return clickHouseContainer, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	clickHouseContainer, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := clickHouseContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(addr, "timer_history")
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()
	if err := sink.EnsureSchema(ctx); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	now := time.Now().UTC()
	for _, e := range []history.Event{
		{Type: history.EventStart, OccurredAt: now, Key: "ns_countdown_a", Mode: "countdown", Value: 60, Initial: 60},
		{Type: history.EventComplete, OccurredAt: now.Add(time.Minute), Key: "ns_countdown_a", Mode: "countdown", Value: 0, Initial: 60},
	} {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("Failed to send %s event: %v", e.Type, err)
		}
	}

	row := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM timer_history WHERE timer_key = ?", "ns_countdown_a")
	var count uint64
	if err := row.Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events, got %d", count)
	}
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	if _, err := New("invalid-host:9000", "timer_history"); err == nil {
		t.Error("Expected error with invalid connection, got nil")
	}
}
