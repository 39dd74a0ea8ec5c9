package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
)

// setupTestDB attempts to connect to a PostgreSQL database for testing.
// It skips the test if the connection cannot be established.
func setupTestDB(t testing.TB) *sql.DB {
	t.Helper()

	pgUser := os.Getenv("PGUSER")
	pgPassword := os.Getenv("PGPASSWORD")
	pgHost := os.Getenv("PGHOST")
	pgPort := os.Getenv("PGPORT")
	pgDB := os.Getenv("PGDATABASE")

	if pgUser == "" {
		pgUser = "user"
	}
	if pgPassword == "" {
		pgPassword = "password"
	}
	if pgHost == "" {
		pgHost = "localhost"
	}
	if pgPort == "" {
		pgPort = "5432"
	}
	if pgDB == "" {
		pgDB = "testdb"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable connect_timeout=2",
		pgHost, pgPort, pgUser, pgPassword, pgDB)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("failed to open database connection: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("skipping postgres tests: could not connect to postgres: %v", err)
	}

	if err := NewEventStore(db).Migrate(context.Background()); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}

	return db
}

func TestPostgresStore(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	runStoreSuite(t, func(t *testing.T) Store { return NewEventStore(db) })
}

type TestEvent struct {
	Message string `json:"message"`
}

func BenchmarkAppendEvents(b *testing.B) {
	db := setupTestDB(b)
	defer db.Close()
	store := NewEventStore(db)

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		aggregateID := "bench-" + uuid.NewString()
		eventData, _ := json.Marshal(TestEvent{Message: fmt.Sprintf("event %d", i)})
		events := []Event{
			{
				EventType: "TestEvent",
				EventData: eventData,
			},
		}
		b.StartTimer()

		err := store.AppendEvents(context.Background(), aggregateID, "test_aggregate", 0, events)
		if err != nil {
			b.Fatalf("AppendEvents failed: %v", err)
		}
	}
}

func BenchmarkLoadEvents(b *testing.B) {
	db := setupTestDB(b)
	defer db.Close()
	store := NewEventStore(db)

	aggregateID := "bench-" + uuid.NewString()
	for i := 0; i < 10; i++ {
		eventData, _ := json.Marshal(TestEvent{Message: fmt.Sprintf("event %d", i)})
		events := []Event{
			{
				EventType: "TestEvent",
				EventData: eventData,
			},
		}
		err := store.AppendEvents(context.Background(), aggregateID, "test_aggregate", i, events)
		if err != nil {
			b.Fatalf("failed to setup events for benchmark: %v", err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		_, err := store.LoadEvents(context.Background(), aggregateID, 0, 0)
		if err != nil {
			b.Fatalf("LoadEvents failed: %v", err)
		}
	}
}
