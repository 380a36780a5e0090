//go:build integration

package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/ruleengine/config"
	"github.com/liamcoop/ruleengine/rules"
	"github.com/liamcoop/ruleengine/script"
)

// setupTestDB creates a PostgreSQL testcontainer and runs migrations
func setupTestDB(t *testing.T) (string, *sql.DB) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { postgres.Terminate(ctx) })

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	for i := 0; i < 30; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	migrationSQL, err := os.ReadFile("../../migrations/000001_initial_schema.up.sql")
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	return connStr, db
}

// TestEndToEnd_Postgres verifies rules stored in postgres are created,
// validated, executed and replayed through the API
func TestEndToEnd_Postgres(t *testing.T) {
	connStr, db := setupTestDB(t)

	if _, err := db.Exec(`INSERT INTO contexts (id, name) VALUES ('plain', 'Plain')`); err != nil {
		t.Fatalf("Failed to insert context: %v", err)
	}

	cfg := config.Default()
	cfg.Database.URL = connStr
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("Validate() failed: %v", err)
	}

	s, err := NewServer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewServer() failed: %v", err)
	}
	t.Cleanup(s.Close)

	rec := do(t, s, http.MethodGet, "/api/v1/health", nil)
	expectStatus(t, rec, http.StatusOK)
	if mode := decode[HealthResponse](t, rec).Mode; mode != ModePostgres {
		t.Errorf("mode = %q, want %q", mode, ModePostgres)
	}

	rec = do(t, s, http.MethodPost, "/api/v1/rules", RuleRequest{
		ID: "double", Name: "Double", ShortName: "double", ContextID: "plain",
		Code: "return 21 * 2\n",
		TestCases: []rules.TestCase{{
			Description: "doubles 21",
			Expected:    script.Triple{Value: script.Int(42), Messages: []string{}, Errors: []string{}},
		}},
	})
	expectStatus(t, rec, http.StatusCreated)

	rec = do(t, s, http.MethodPost, "/api/v1/rules/double/validate", nil)
	expectStatus(t, rec, http.StatusOK)

	rec = do(t, s, http.MethodPost, "/api/v1/rules/double/execute", ExecuteRequest{})
	expectStatus(t, rec, http.StatusOK)
	if got := decode[triple](t, rec).Value; !got.Equal(script.Int(42)) {
		t.Errorf("value = %s, want 42", got)
	}

	rec = do(t, s, http.MethodPost, "/api/v1/regression", nil)
	expectStatus(t, rec, http.StatusOK)
	if run := decode[RegressionResponse](t, rec); !run.Passed {
		t.Errorf("regression failed:\n%s", run.Summary)
	}

	var lastPassing sql.NullTime
	if err := db.QueryRow(`SELECT last_passing_at FROM rules WHERE id = 'double'`).Scan(&lastPassing); err != nil {
		t.Fatalf("Failed to read the passing date: %v", err)
	}
	if !lastPassing.Valid {
		t.Error("regression run did not store the passing date")
	}

	rec = do(t, s, http.MethodPost, "/api/v1/products/LIFE/results/pricing", nil)
	// products come from packs only
	expectStatus(t, rec, http.StatusNotFound)
}
