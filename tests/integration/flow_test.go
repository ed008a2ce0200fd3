package integration

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/plantwatch/internal/testutil"
	"github.com/Sternrassler/plantwatch/pkg/auth"
	"github.com/Sternrassler/plantwatch/pkg/coordinator"
	"github.com/Sternrassler/plantwatch/pkg/daycache"
	"github.com/Sternrassler/plantwatch/pkg/export"
	"github.com/Sternrassler/plantwatch/pkg/plant"
	"github.com/Sternrassler/plantwatch/pkg/quota"
	"github.com/Sternrassler/plantwatch/pkg/rangefetch"
	"github.com/Sternrassler/plantwatch/pkg/server"
	"github.com/Sternrassler/plantwatch/pkg/telemetry"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping Redis container test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// stack is one process worth of components on a shared Redis.
type stack struct {
	store   *daycache.Store
	coord   *coordinator.Coordinator
	client  *telemetry.Client
	tracker *quota.Tracker
	ranges  *rangefetch.Fetcher
}

func newStack(t *testing.T, redisClient *redis.Client, mock *testutil.MockTelemetry) *stack {
	t.Helper()

	tracker := quota.NewTracker(zerolog.Nop())
	client, err := telemetry.New(telemetry.DefaultConfig(mock.URL(), "integration-key"), tracker, zerolog.Nop())
	if err != nil {
		t.Fatalf("Failed to create telemetry client: %v", err)
	}

	backend := daycache.NewRedisBackend(redisClient, "it")
	store := daycache.NewStore(backend, daycache.DefaultPolicy())
	coord := coordinator.New(store, client, coordinator.Config{DisablePrefetch: true}, zerolog.Nop())
	t.Cleanup(coord.Wait)

	return &stack{
		store:   store,
		coord:   coord,
		client:  client,
		tracker: tracker,
		ranges:  rangefetch.New(coord, rangefetch.DefaultConfig(), zerolog.Nop()),
	}
}

func yesterday() daycache.DayKey {
	return daycache.NewDayKey(time.Now(), time.UTC).AddDays(-1)
}

// TestFullRequestFlow runs register → day request → cache hit → restart over HTTP.
func TestFullRequestFlow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTelemetry()
	defer mock.Close()

	st := newStack(t, redisClient, mock)

	authStore, err := auth.OpenStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to open auth store: %v", err)
	}
	defer authStore.Close()
	issuer, err := auth.NewIssuer([]byte("integration-secret-0123456789"), "plantwatch", time.Hour)
	if err != nil {
		t.Fatalf("Failed to create issuer: %v", err)
	}

	srv, err := server.New(server.Deps{
		Auth:        auth.NewService(authStore, issuer, auth.WithBcryptCost(bcrypt.MinCost)),
		Upstream:    st.client,
		Coordinator: st.coord,
		Ranges:      st.ranges,
		Exporter:    export.New(),
		Quota:       st.tracker,
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	// Register
	resp, err := http.Post(ts.URL+"/api/auth/register", "application/json",
		strings.NewReader(`{"email":"it@example.com","password":"integration"}`))
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	var sess auth.Session
	if err := json.NewDecoder(resp.Body).Decode(&sess); err != nil {
		t.Fatalf("Failed to decode session: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Register status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	getDay := func() (int, map[string]any) {
		req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/plants/plant-1/days/"+yesterday().String(), nil)
		req.Header.Set("Authorization", "Bearer "+sess.Token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("Day request failed: %v", err)
		}
		defer resp.Body.Close()
		var body map[string]any
		json.NewDecoder(resp.Body).Decode(&body)
		return resp.StatusCode, body
	}

	// Request 1: cache miss → upstream → Redis
	status, body := getDay()
	if status != http.StatusOK {
		t.Fatalf("Request 1 status = %d, want %d", status, http.StatusOK)
	}
	if body["from_cache"] != false {
		t.Errorf("Request 1 from_cache = %v, want false", body["from_cache"])
	}

	// Request 2: served from Redis
	status, body = getDay()
	if status != http.StatusOK {
		t.Fatalf("Request 2 status = %d, want %d", status, http.StatusOK)
	}
	if body["from_cache"] != true {
		t.Errorf("Request 2 from_cache = %v, want true", body["from_cache"])
	}

	if got := mock.RequestCount(testutil.SnapshotPath("plant-1")); got != 1 {
		t.Errorf("Upstream snapshot requests = %d, want 1", got)
	}

	// A restarted process reads the same entry back from Redis.
	restarted := newStack(t, redisClient, mock)
	res, err := restarted.coord.Request(context.Background(),
		daycache.Key{PlantID: "plant-1", Day: yesterday()}, coordinator.ReasonInitial)
	if err != nil {
		t.Fatalf("Request after restart failed: %v", err)
	}
	if !res.FromCache {
		t.Error("Expected restarted process to hit the Redis cache")
	}
	if len(res.Snapshot.Samples) != 24 {
		t.Errorf("Samples after restart = %d, want 24", len(res.Snapshot.Samples))
	}
	if got := mock.RequestCount(testutil.SnapshotPath("plant-1")); got != 1 {
		t.Errorf("Upstream snapshot requests after restart = %d, want 1", got)
	}
}

// TestConcurrentRequestsShareFetch checks that concurrent callers for one
// key cause a single upstream fetch.
func TestConcurrentRequestsShareFetch(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTelemetry()
	defer mock.Close()
	mock.Hold()

	st := newStack(t, redisClient, mock)
	key := daycache.Key{PlantID: "plant-1", Day: yesterday()}

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*coordinator.Result, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = st.coord.Request(context.Background(), key, coordinator.ReasonInitial)
		}(i)
	}

	deadline := time.Now().Add(5 * time.Second)
	for !st.coord.InFlight(key) && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// Give the remaining callers time to join.
	time.Sleep(100 * time.Millisecond)
	mock.Release()
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("Caller %d failed: %v", i, errs[i])
		}
		if results[i].Snapshot != results[0].Snapshot {
			t.Errorf("Caller %d got a different snapshot", i)
		}
	}
	if got := mock.RequestCount(testutil.SnapshotPath("plant-1")); got != 1 {
		t.Errorf("Upstream snapshot requests = %d, want 1", got)
	}
}

// TestUpstreamOutageKeepsStaleView checks that a failed refresh leaves the
// cached day on screen, marked stale.
func TestUpstreamOutageKeepsStaleView(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTelemetry()
	defer mock.Close()

	st := newStack(t, redisClient, mock)
	view := coordinator.NewView(st.coord, "plant-1")
	ctx := context.Background()

	if _, err := view.Select(ctx, yesterday(), coordinator.ReasonInitial); err != nil {
		t.Fatalf("Initial select failed: %v", err)
	}

	mock.SetResponse(testutil.SnapshotPath("plant-1"), testutil.NewServerErrorResponse())

	if _, err := view.Select(ctx, yesterday(), coordinator.ReasonRefresh); err == nil {
		t.Fatal("Expected refresh to fail during outage")
	}

	state := view.State()
	if !state.Stale {
		t.Error("Expected view to be marked stale")
	}
	if state.Snapshot == nil || len(state.Snapshot.Samples) != 24 {
		t.Error("Expected cached snapshot to remain visible")
	}
	if state.Error == "" {
		t.Error("Expected view to carry the error")
	}

	entry, err := st.coord.Peek(ctx, daycache.Key{PlantID: "plant-1", Day: yesterday()})
	if err != nil {
		t.Fatalf("Cached entry lost after failed refresh: %v", err)
	}
	if len(entry.Payload.Samples) != 24 {
		t.Errorf("Cached samples = %d, want 24", len(entry.Payload.Samples))
	}
}

// TestExportUsesCache checks that a range export fills the cache and a
// repeat export needs no upstream calls.
func TestExportUsesCache(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTelemetry()
	defer mock.Close()

	st := newStack(t, redisClient, mock)
	exp := export.New()
	ctx := context.Background()

	from, to := yesterday().AddDays(-2), yesterday()

	run := func() *export.Blob {
		res, err := st.ranges.FetchRange(ctx, "plant-1", from, to)
		if err != nil {
			t.Fatalf("FetchRange failed: %v", err)
		}
		blob, err := exp.Export(export.Request{
			PlantID: "plant-1",
			From:    from.String(),
			To:      to.String(),
			Format:  export.FormatCSV,
			Rows:    export.RowsFromSnapshots(res.Snapshots()),
		})
		if err != nil {
			t.Fatalf("Export failed: %v", err)
		}
		return blob
	}

	first := run()
	records, err := csv.NewReader(strings.NewReader(string(first.Data))).ReadAll()
	if err != nil {
		t.Fatalf("Failed to parse CSV: %v", err)
	}
	if len(records) != 1+3*24 {
		t.Errorf("CSV records = %d, want %d", len(records), 1+3*24)
	}
	if first.Filename != "plant-1_"+from.String()+"_"+to.String()+".csv" {
		t.Errorf("Filename = %q", first.Filename)
	}

	second := run()
	if string(second.Data) != string(first.Data) {
		t.Error("Expected identical export from cache")
	}
	if got := mock.RequestCount(testutil.SnapshotPath("plant-1")); got != 3 {
		t.Errorf("Upstream snapshot requests = %d, want 3", got)
	}
}

// TestRetentionPrune checks that days outside the retention window are
// removed from Redis.
func TestRetentionPrune(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	mock := testutil.NewMockTelemetry()
	defer mock.Close()

	st := newStack(t, redisClient, mock)
	ctx := context.Background()
	today := st.store.Today()

	for _, day := range []daycache.DayKey{today, today.AddDays(-3)} {
		payload := &plant.SnapshotSet{PlantID: "plant-1", Day: day.String(), Samples: []plant.Sample{}}
		if err := st.store.Put(ctx, daycache.Key{PlantID: "plant-1", Day: day}, payload); err != nil {
			t.Fatalf("Put %s failed: %v", day, err)
		}
	}

	// Written behind the store's back, as an older process would have left it.
	old := today.AddDays(-30)
	err := st.store.Backend().Save(ctx, daycache.Key{PlantID: "plant-1", Day: old}, &daycache.Entry{
		Payload:   &plant.SnapshotSet{PlantID: "plant-1", Day: old.String(), Samples: []plant.Sample{}},
		FetchedAt: time.Now().AddDate(0, 0, -30),
	})
	if err != nil {
		t.Fatalf("Save %s failed: %v", old, err)
	}

	removed, err := st.store.Prune(ctx, time.Now())
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Pruned = %d, want 1", removed)
	}

	keys, err := redisClient.Keys(ctx, "it:plantwatch:day:*").Result()
	if err != nil {
		t.Fatalf("Failed to list keys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("Remaining keys = %v, want 2", keys)
	}
}
