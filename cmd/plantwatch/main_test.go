package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/plantwatch/internal/testutil"
	"github.com/Sternrassler/plantwatch/pkg/plant"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		redisC.Terminate(ctx)
	}

	return redisClient, cleanup
}

// setupEnv points the CLI at mock and clears settings that could leak in
// from the developer's environment.
func setupEnv(t *testing.T, mock *testutil.MockTelemetry) {
	t.Setenv("PLANTWATCH_UPSTREAM_URL", mock.URL())
	t.Setenv("PLANTWATCH_TIMEZONE", "UTC")
	t.Setenv("PLANTWATCH_CACHE_BACKEND", "memory")
	t.Setenv("PLANTWATCH_LOG_LEVEL", "error")
	t.Setenv("PLANTWATCH_JWT_SECRET", "")
	t.Setenv("PLANTWATCH_PREFETCH", "false")
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func yesterday() string {
	return time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
}

func TestVersionCommand(t *testing.T) {
	out, _, err := run(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(out, "plantwatch dev") {
		t.Errorf("Expected version line, got %q", out)
	}
}

func TestDayCommand(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	setupEnv(t, mock)

	out, _, err := run(t, "day", "plant-1", yesterday())
	if err != nil {
		t.Fatalf("day failed: %v", err)
	}

	for _, want := range []string{"Plant:    plant-1", "Day:      " + yesterday(), "Source:   upstream", "Samples:  24"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
	if got := mock.RequestCount(testutil.SnapshotPath("plant-1")); got != 1 {
		t.Errorf("Expected 1 upstream fetch, got %d", got)
	}
}

func TestDayCommandJSON(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	setupEnv(t, mock)

	out, _, err := run(t, "day", "plant-1", yesterday(), "--json")
	if err != nil {
		t.Fatalf("day failed: %v", err)
	}

	var set plant.SnapshotSet
	if err := json.Unmarshal([]byte(out), &set); err != nil {
		t.Fatalf("Failed to decode JSON output: %v", err)
	}
	if set.PlantID != "plant-1" {
		t.Errorf("Expected plant-1, got %q", set.PlantID)
	}
	if len(set.Samples) != 24 {
		t.Errorf("Expected 24 samples, got %d", len(set.Samples))
	}
}

func TestDayCommandErrors(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	setupEnv(t, mock)

	future := time.Now().UTC().AddDate(0, 0, 2).Format("2006-01-02")

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"future day", []string{"day", "plant-1", future}, "in the future"},
		{"bad day", []string{"day", "plant-1", "31.12.2024"}, "invalid day key"},
		{"bad reason", []string{"day", "plant-1", "--reason", "reload"}, "unknown reason"},
		{"missing plant", []string{"day"}, "arg(s)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}

	if got := mock.TotalRequests(); got != 0 {
		t.Errorf("Expected no upstream requests, got %d", got)
	}
}

func TestDayCommandMissingUpstream(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	setupEnv(t, mock)
	t.Setenv("PLANTWATCH_UPSTREAM_URL", "")

	_, _, err := run(t, "day", "plant-1")
	if err == nil || !strings.Contains(err.Error(), "upstream base URL is required") {
		t.Errorf("Expected config validation error, got %v", err)
	}
}

func TestExportCommandStdout(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	setupEnv(t, mock)

	day := yesterday()
	out, _, err := run(t, "export", "plant-1", "--from", day, "--to", day, "-o", "-")
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(records) != 25 {
		t.Errorf("Expected header plus 24 rows, got %d records", len(records))
	}
	if records[0][0] != "timestamp" {
		t.Errorf("Expected timestamp column first, got %q", records[0][0])
	}
}

func TestExportCommandFile(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	setupEnv(t, mock)

	from := time.Now().UTC().AddDate(0, 0, -3).Format("2006-01-02")
	to := yesterday()
	path := filepath.Join(t.TempDir(), "out.xlsx")

	_, stderr, err := run(t, "export", "plant-1", "--from", from, "--to", to, "--format", "xlsx", "--output", path)
	if err != nil {
		t.Fatalf("export failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read export: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PK")) {
		t.Error("Expected an XLSX (zip) file")
	}
	if !strings.Contains(stderr, "3 days") {
		t.Errorf("Expected summary mentioning 3 days, got %q", stderr)
	}
	if got := mock.RequestCount(testutil.SnapshotPath("plant-1")); got != 3 {
		t.Errorf("Expected 3 upstream fetches, got %d", got)
	}
}

func TestExportCommandUnknownFormat(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	setupEnv(t, mock)

	_, _, err := run(t, "export", "plant-1", "--format", "pdf")
	if err == nil || !strings.Contains(err.Error(), "unknown export format") {
		t.Errorf("Expected unknown format error, got %v", err)
	}
}

func TestServeRequiresSecret(t *testing.T) {
	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	setupEnv(t, mock)

	_, _, err := run(t, "serve")
	if err == nil || !strings.Contains(err.Error(), "jwt secret") {
		t.Errorf("Expected jwt secret validation error, got %v", err)
	}
}

func TestDayCommandRedisBackend(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Redis container test in short mode")
	}

	redisClient, cleanup := setupTestRedis(t)
	defer cleanup()

	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	setupEnv(t, mock)
	t.Setenv("PLANTWATCH_CACHE_BACKEND", "redis")
	t.Setenv("PLANTWATCH_REDIS_ADDR", redisClient.Options().Addr)
	t.Setenv("PLANTWATCH_CACHE_KEY_PREFIX", "cli-test")

	day := yesterday()

	out, _, err := run(t, "day", "plant-1", day)
	if err != nil {
		t.Fatalf("First day run failed: %v", err)
	}
	if !strings.Contains(out, "Source:   upstream") {
		t.Errorf("Expected first run from upstream, got:\n%s", out)
	}

	// A second process sees the entry the first one stored.
	out, _, err = run(t, "day", "plant-1", day)
	if err != nil {
		t.Fatalf("Second day run failed: %v", err)
	}
	if !strings.Contains(out, "Source:   cache") {
		t.Errorf("Expected second run from cache, got:\n%s", out)
	}
	if got := mock.RequestCount(testutil.SnapshotPath("plant-1")); got != 1 {
		t.Errorf("Expected 1 upstream fetch, got %d", got)
	}

	keys, err := redisClient.Keys(context.Background(), "cli-test:plantwatch:day:*").Result()
	if err != nil {
		t.Fatalf("Failed to list keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "cli-test:plantwatch:day:"+day+":plant-1" {
		t.Errorf("Expected one namespaced day key, got %v", keys)
	}
}
