package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"tablewatch/internal/config"
	"tablewatch/internal/database"
	"tablewatch/internal/models"
	"tablewatch/internal/scanner"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminKey = "test-admin-key"
	readKey  = "test-read-key"
)

type fakeInventory struct {
	mu    sync.Mutex
	calls int
	slots []models.Slot
	err   error
}

func (f *fakeInventory) FetchSlots(_ context.Context, _ models.Location, _ time.Time, _ int) ([]models.Slot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.slots, f.err
}

func (f *fakeInventory) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string][]byte
	age  time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string][]byte)}
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.data[key]
	return d, c.age, ok
}

func (c *fakeCache) Put(_ context.Context, key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
	return nil
}

type fakeAdmin struct {
	mu       sync.Mutex
	watches  []string
	feedback []string
}

func (f *fakeAdmin) NotifyAdminNewWatch(_ context.Context, w *models.Watch, loc models.Location) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watches = append(f.watches, fmt.Sprintf("%s/%s", w.UserEmail, loc.Key))
	return nil
}

func (f *fakeAdmin) NotifyAdminFeedback(_ context.Context, message, contact, remoteAddr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.feedback = append(f.feedback, message+"|"+contact+"|"+remoteAddr)
	return nil
}

type fakeScan struct {
	mu       sync.Mutex
	lastTier string
	err      error
}

func (f *fakeScan) Scan(_ context.Context, tier string, _ time.Time) (scanner.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastTier = tier
	if f.err != nil {
		return scanner.Summary{}, f.err
	}
	return scanner.Summary{Tier: tier, Scanned: 3}, nil
}

var testLocations = []models.Location{
	{Key: "downtown", Name: "Houston's - Downtown", MerchantID: 278258, TypeID: 3},
	{Key: "riverside", Name: "Hillstone - Riverside", MerchantID: 278259, TypeID: 3},
}

func testAPIConfig() config.APIConfig {
	return config.APIConfig{
		Enabled: true,
		Port:    0,
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: adminKey, Name: "admin"},
				{Key: readKey, Name: "reader", Permissions: []string{permReadAvailability}},
			},
		},
		RateLimit: config.APIRateLimitConfig{RPS: 1000, Burst: 1000},
	}
}

type testServer struct {
	srv       *HTTPServer
	db        *database.DB
	inventory *fakeInventory
	cache     *fakeCache
	scan      *fakeScan
	admin     *fakeAdmin
}

func newTestServer(t *testing.T, cfg config.APIConfig) *testServer {
	t.Helper()

	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	inv := &fakeInventory{slots: []models.Slot{
		{DisplayTime: "6:45 PM", Available: true, ReservedTS: 1700000001, TypeID: 3},
	}}
	cache := newFakeCache()
	scan := &fakeScan{}
	admin := &fakeAdmin{}

	srv := NewHTTPServer(cfg, db, testLocations, inv, cache, scan, admin, 2*time.Minute, logger)
	return &testServer{srv: srv, db: db, inventory: inv, cache: cache, scan: scan, admin: admin}
}

func (ts *testServer) do(method, target, key string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if key != "" {
		req.Header.Set("x-api-key", key)
	}
	rr := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func createWatchBody(email, location, date string) string {
	return fmt.Sprintf(`{
		"email": %q,
		"name": "Ray Walker",
		"phone": "+15558675309",
		"location": %q,
		"party_size": 4,
		"date": %q,
		"time_start": "18:00",
		"time_end": "20:30"
	}`, email, location, date)
}

func TestHealthz_OpenWithoutAuth(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	rr := ts.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuth_MissingAndInvalidKey(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	rr := ts.do(http.MethodGet, "/api/v1/locations", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = ts.do(http.MethodGet, "/api/v1/locations", "bogus", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAuth_PermissionScopes(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	// scoped key can read availability but not manage watches
	rr := ts.do(http.MethodGet, "/api/v1/availability?location=downtown&date=2030-05-01", readKey, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(http.MethodGet, "/api/v1/watches?email=a@b.com", readKey, "")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	// unscoped key is allow-all
	rr = ts.do(http.MethodGet, "/api/v1/watches?email=a@b.com", adminKey, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuth_RateLimitExceeded(t *testing.T) {
	cfg := testAPIConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 0.001, Burst: 2}
	ts := newTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/locations", adminKey, "").Code)
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/locations", adminKey, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, ts.do(http.MethodGet, "/api/v1/locations", adminKey, "").Code)

	// limiter is per key, the other client still has budget
	assert.Equal(t, http.StatusOK, ts.do(http.MethodGet, "/api/v1/availability?location=downtown&date=2030-05-01", readKey, "").Code)
}

func TestLocations_SortedByKey(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	rr := ts.do(http.MethodGet, "/api/v1/locations", adminKey, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Locations []models.Location `json:"locations"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Locations, 2)
	assert.Equal(t, "downtown", resp.Locations[0].Key)
	assert.Equal(t, "riverside", resp.Locations[1].Key)
	assert.Equal(t, int64(278258), resp.Locations[0].MerchantID)
}

func TestCreateWatch_HappyPath(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	rr := ts.do(http.MethodPost, "/api/v1/watches", adminKey, createWatchBody("ray@walker.io", "downtown", "2030-05-01"))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var watch models.Watch
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &watch))
	assert.NotZero(t, watch.ID)
	assert.Equal(t, "downtown", watch.LocationKey)
	assert.Equal(t, models.StatusActive, watch.Status)
	assert.NotEmpty(t, watch.ClientRef)

	user, err := ts.db.GetUserByEmail(context.Background(), "ray@walker.io")
	require.NoError(t, err)
	assert.Equal(t, "Ray Walker", user.Name)

	require.Len(t, ts.admin.watches, 1)
	assert.Equal(t, "ray@walker.io/downtown", ts.admin.watches[0])
}

func TestFeedback(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	rr := ts.do(http.MethodPost, "/api/v1/feedback", adminKey, `{"message":"scans feel slow","contact":"ray@walker.io"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, ts.admin.feedback, 1)
	assert.Contains(t, ts.admin.feedback[0], "scans feel slow")
	assert.Contains(t, ts.admin.feedback[0], "ray@walker.io")

	rr = ts.do(http.MethodPost, "/api/v1/feedback", adminKey, `{"message":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreateWatch_Validation(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	cases := map[string]string{
		"unknown location": createWatchBody("a@b.com", "nowhere", "2030-05-01"),
		"bad date":         createWatchBody("a@b.com", "downtown", "05/01/2030"),
		"past date":        createWatchBody("a@b.com", "downtown", "2019-01-01"),
		"missing email":    createWatchBody("", "downtown", "2030-05-01"),
		"bad window": `{"email":"a@b.com","location":"downtown","party_size":2,
			"date":"2030-05-01","time_start":"6pm","time_end":"20:30"}`,
		"party too large": `{"email":"a@b.com","location":"downtown","party_size":30,
			"date":"2030-05-01","time_start":"18:00","time_end":"20:30"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rr := ts.do(http.MethodPost, "/api/v1/watches", adminKey, body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

func TestListWatches_ByEmail(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	rr := ts.do(http.MethodPost, "/api/v1/watches", adminKey, createWatchBody("ray@walker.io", "downtown", "2030-05-01"))
	require.Equal(t, http.StatusCreated, rr.Code)

	rr = ts.do(http.MethodGet, "/api/v1/watches?email=ray@walker.io", adminKey, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		Watches []models.Watch `json:"watches"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Watches, 1)
	assert.Equal(t, "downtown", resp.Watches[0].LocationKey)

	// unknown users get an empty list, not an error
	rr = ts.do(http.MethodGet, "/api/v1/watches?email=nobody@nowhere.io", adminKey, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Empty(t, resp.Watches)
}

func TestCancelWatch(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	rr := ts.do(http.MethodPost, "/api/v1/watches", adminKey, createWatchBody("ray@walker.io", "downtown", "2030-05-01"))
	require.Equal(t, http.StatusCreated, rr.Code)
	var watch models.Watch
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &watch))

	// another user cannot see, let alone cancel, the watch
	rr = ts.do(http.MethodPost, "/api/v1/watches", adminKey, createWatchBody("mallory@evil.io", "downtown", "2030-05-01"))
	require.Equal(t, http.StatusCreated, rr.Code)
	rr = ts.do(http.MethodDelete, fmt.Sprintf("/api/v1/watches/%d?email=mallory@evil.io", watch.ID), adminKey, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = ts.do(http.MethodDelete, fmt.Sprintf("/api/v1/watches/%d?email=ray@walker.io", watch.ID), adminKey, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	// cancelling twice stays idempotent
	rr = ts.do(http.MethodDelete, fmt.Sprintf("/api/v1/watches/%d?email=ray@walker.io", watch.ID), adminKey, "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = ts.do(http.MethodDelete, "/api/v1/watches/notanumber?email=ray@walker.io", adminKey, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCancelWatch_TerminalStatusConflicts(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	rr := ts.do(http.MethodPost, "/api/v1/watches", adminKey, createWatchBody("ray@walker.io", "downtown", "2030-05-01"))
	require.Equal(t, http.StatusCreated, rr.Code)
	var watch models.Watch
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &watch))

	// expire it out from under the client
	n, err := ts.db.ExpireStale(context.Background(), time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	rr = ts.do(http.MethodDelete, fmt.Sprintf("/api/v1/watches/%d?email=ray@walker.io", watch.ID), adminKey, "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestAvailability_CacheMissThenHit(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	target := "/api/v1/availability?location=downtown&date=2030-05-01&party_size=4"

	rr := ts.do(http.MethodGet, target, adminKey, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp availabilityResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Cached)
	require.Len(t, resp.Slots, 1)
	assert.Equal(t, "6:45 PM", resp.Slots[0].DisplayTime)
	assert.Equal(t, 1, ts.inventory.callCount())

	rr = ts.do(http.MethodGet, target, adminKey, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.True(t, resp.Cached)
	assert.Equal(t, 1, ts.inventory.callCount())
}

func TestAvailability_StaleCacheRefetches(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())
	target := "/api/v1/availability?location=downtown&date=2030-05-01&party_size=4"

	require.Equal(t, http.StatusOK, ts.do(http.MethodGet, target, adminKey, "").Code)
	require.Equal(t, 1, ts.inventory.callCount())

	// age past the TTL forces a refetch
	ts.cache.age = 10 * time.Minute
	rr := ts.do(http.MethodGet, target, adminKey, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp availabilityResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.False(t, resp.Cached)
	assert.Equal(t, 2, ts.inventory.callCount())
}

func TestAvailability_UpstreamFailure(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())
	ts.inventory.err = fmt.Errorf("connect: connection refused")

	rr := ts.do(http.MethodGet, "/api/v1/availability?location=downtown&date=2030-05-01", adminKey, "")
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestAvailability_Validation(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	rr := ts.do(http.MethodGet, "/api/v1/availability?location=nowhere&date=2030-05-01", adminKey, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(http.MethodGet, "/api/v1/availability?location=downtown&date=soon", adminKey, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = ts.do(http.MethodGet, "/api/v1/availability?location=downtown&date=2030-05-01&party_size=0", adminKey, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestManualScan(t *testing.T) {
	ts := newTestServer(t, testAPIConfig())

	rr := ts.do(http.MethodPost, "/api/v1/scan?tier=urgent", adminKey, "")
	require.Equal(t, http.StatusOK, rr.Code)

	var summary scanner.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary))
	assert.Equal(t, scanner.TierUrgent, summary.Tier)
	assert.EqualValues(t, 3, summary.Scanned)

	rr = ts.do(http.MethodPost, "/api/v1/scan?tier=bogus", adminKey, "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	// default tier runs everything
	rr = ts.do(http.MethodPost, "/api/v1/scan", adminKey, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, scanner.TierAll, ts.scan.lastTier)
}
