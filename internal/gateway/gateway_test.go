package gateway

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/auth"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/metrics"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/monitoring"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/ratelimit"
)

type stubMetaStore struct {
	mu    sync.Mutex
	metas []models.AgentMeta
	err   error
}

func (s *stubMetaStore) ListAgentMeta(context.Context) ([]models.AgentMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]models.AgentMeta(nil), s.metas...), nil
}

type recordingFlushStore struct {
	mu          sync.Mutex
	upserts     [][]models.AgentStatusUpdate
	metricRows  [][]models.AgentStatusUpdate
	upsertErr   error
	block       chan struct{}
	upsertCalls int
	inFlight    int
	maxInFlight int
}

func (s *recordingFlushStore) UpsertAgentStatuses(_ context.Context, updates []models.AgentStatusUpdate) error {
	s.mu.Lock()
	s.upsertCalls++
	s.inFlight++
	if s.inFlight > s.maxInFlight {
		s.maxInFlight = s.inFlight
	}
	block := s.block
	s.mu.Unlock()
	if block != nil {
		<-block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserts = append(s.upserts, updates)
	return nil
}

func (s *recordingFlushStore) InsertMetricsHistory(_ context.Context, updates []models.AgentStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metricRows = append(s.metricRows, updates)
	return nil
}

type recordingAlertSink struct {
	mu    sync.Mutex
	calls []uuid.UUID
	fired chan struct{}
}

func newRecordingAlertSink() *recordingAlertSink {
	return &recordingAlertSink{fired: make(chan struct{}, 16)}
}

func (s *recordingAlertSink) Evaluate(_ context.Context, agentID uuid.UUID, _ string, _ models.AgentStatus, _ *models.AgentMetrics, _ []models.AlertConfig) {
	s.mu.Lock()
	s.calls = append(s.calls, agentID)
	s.mu.Unlock()
	s.fired <- struct{}{}
}

func (s *recordingAlertSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// countingAlertStore satisfies monitoring.AlertStore and counts config
// lookups reaching the database.
type countingAlertStore struct {
	mu            sync.Mutex
	configLookups int
}

func (s *countingAlertStore) GetAlertConfigs(context.Context, uuid.UUID) ([]models.AlertConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configLookups++
	return nil, nil
}

func (s *countingAlertStore) HasRecentAlert(context.Context, uuid.UUID, models.AlertType, time.Time) (bool, error) {
	return false, nil
}

func (s *countingAlertStore) CreateAlert(context.Context, *models.Alert) error { return nil }

func (s *countingAlertStore) GetAgentName(context.Context, uuid.UUID) (string, error) {
	return "", nil
}

type noopSender struct{}

func (noopSender) Send(context.Context, *models.AlertChannel, *models.Alert, *models.AgentMetrics) error {
	return nil
}

func TestHeartbeatBuffer(t *testing.T) {
	t.Run("last value wins", func(t *testing.T) {
		buffer := NewHeartbeatBuffer()
		agentID := uuid.New()

		for i := 0; i < 5; i++ {
			buffer.Put(models.AgentStatusUpdate{
				AgentID: agentID,
				Status:  models.AgentStatusHealthy,
				Metrics: &models.AgentMetrics{CPUUsage: float64(i * 10)},
			})
		}

		require.Equal(t, 1, buffer.Len())
		drained := buffer.Swap()
		require.Len(t, drained, 1)
		assert.Equal(t, 40.0, drained[agentID].Metrics.CPUUsage)
	})

	t.Run("swap transfers ownership", func(t *testing.T) {
		buffer := NewHeartbeatBuffer()
		buffer.Put(models.AgentStatusUpdate{AgentID: uuid.New()})

		drained := buffer.Swap()
		assert.Len(t, drained, 1)
		assert.Equal(t, 0, buffer.Len())

		// Writes after the swap land in the fresh map, not the drained one.
		buffer.Put(models.AgentStatusUpdate{AgentID: uuid.New()})
		assert.Len(t, drained, 1)
		assert.Equal(t, 1, buffer.Len())
	})
}

func testRegistry() *metrics.Registry {
	return metrics.New(prometheus.NewRegistry())
}

func TestFlusher(t *testing.T) {
	t.Run("flush persists batch and metric rows", func(t *testing.T) {
		buffer := NewHeartbeatBuffer()
		store := &recordingFlushStore{}
		flusher := NewFlusher(buffer, store, testRegistry(), 0, 0, zerolog.Nop())

		withMetrics := uuid.New()
		buffer.Put(models.AgentStatusUpdate{AgentID: withMetrics, Metrics: &models.AgentMetrics{CPUUsage: 50}})
		buffer.Put(models.AgentStatusUpdate{AgentID: uuid.New()})

		flusher.Flush(context.Background())

		require.Len(t, store.upserts, 1)
		assert.Len(t, store.upserts[0], 2)
		require.Len(t, store.metricRows, 1)
		require.Len(t, store.metricRows[0], 1)
		assert.Equal(t, withMetrics, store.metricRows[0][0].AgentID)
	})

	t.Run("empty buffer is a no-op", func(t *testing.T) {
		store := &recordingFlushStore{}
		flusher := NewFlusher(NewHeartbeatBuffer(), store, testRegistry(), 0, 0, zerolog.Nop())

		flusher.Flush(context.Background())
		assert.Zero(t, store.upsertCalls)
	})

	t.Run("store failure drops the batch", func(t *testing.T) {
		buffer := NewHeartbeatBuffer()
		store := &recordingFlushStore{upsertErr: errors.New("connection refused")}
		flusher := NewFlusher(buffer, store, testRegistry(), 0, 0, zerolog.Nop())

		buffer.Put(models.AgentStatusUpdate{AgentID: uuid.New()})
		flusher.Flush(context.Background())

		assert.Empty(t, store.upserts)
		assert.Equal(t, 0, buffer.Len(), "failed batch is dropped, not requeued")
	})

	t.Run("stalled flush skips the next tick", func(t *testing.T) {
		buffer := NewHeartbeatBuffer()
		store := &recordingFlushStore{block: make(chan struct{})}
		flusher := NewFlusher(buffer, store, testRegistry(), 0, 0, zerolog.Nop())

		buffer.Put(models.AgentStatusUpdate{AgentID: uuid.New()})
		flusher.tick()

		require.Eventually(t, func() bool {
			store.mu.Lock()
			defer store.mu.Unlock()
			return store.upsertCalls == 1
		}, time.Second, time.Millisecond, "first flush should reach the store")

		// Second tick while the first flush is blocked on the store.
		buffer.Put(models.AgentStatusUpdate{AgentID: uuid.New()})
		flusher.tick()

		store.mu.Lock()
		calls := store.upsertCalls
		store.mu.Unlock()
		assert.Equal(t, 1, calls, "skipped tick must not start a second flush")

		close(store.block)
		require.Eventually(t, func() bool { return !flusher.inFlight.Load() }, time.Second, time.Millisecond)
	})

	t.Run("stop waits out an in-flight flush", func(t *testing.T) {
		buffer := NewHeartbeatBuffer()
		store := &recordingFlushStore{block: make(chan struct{})}
		flusher := NewFlusher(buffer, store, testRegistry(), time.Hour, 0, zerolog.Nop())
		flusher.Start()

		buffer.Put(models.AgentStatusUpdate{AgentID: uuid.New()})
		flusher.tick()

		require.Eventually(t, func() bool {
			store.mu.Lock()
			defer store.mu.Unlock()
			return store.upsertCalls == 1
		}, time.Second, time.Millisecond, "first flush should reach the store")

		// Fresh data for the final drain while the first flush is stuck.
		buffer.Put(models.AgentStatusUpdate{AgentID: uuid.New()})
		go func() {
			time.Sleep(50 * time.Millisecond)
			close(store.block)
		}()
		flusher.Stop()

		store.mu.Lock()
		defer store.mu.Unlock()
		assert.Equal(t, 1, store.maxInFlight, "final drain must not overlap a running flush")
		assert.Equal(t, 2, store.upsertCalls)
		require.Len(t, store.upserts, 2)
	})
}

type gatewayFixture struct {
	gateway *Gateway
	buffer  *HeartbeatBuffer
	cache   *MetaCache
	alerts  *recordingAlertSink
	issuer  *auth.TokenIssuer
	agentID uuid.UUID
	fleetID uuid.UUID
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	agentID := uuid.New()
	fleetID := uuid.New()
	metaStore := &stubMetaStore{metas: []models.AgentMeta{{
		ID:        agentID,
		FleetID:   fleetID,
		Name:      "worker-1",
		Tier:      models.TierPro,
		CreatedAt: time.Now().Add(-2 * time.Hour),
		AlertConfigs: []models.AlertConfig{{
			ID:           uuid.New(),
			CPUThreshold: 90,
		}},
	}}}

	cache := NewMetaCache(metaStore, time.Hour, zerolog.Nop())
	require.NoError(t, cache.Refresh(context.Background()))

	buffer := NewHeartbeatBuffer()
	alerts := newRecordingAlertSink()
	issuer := auth.NewTokenIssuer([]byte("test-signing-secret"), time.Hour)
	registry := testRegistry()
	limiter := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), registry, zerolog.Nop())
	gw := NewGateway(issuer, buffer, cache, alerts, limiter, registry, zerolog.Nop())

	return &gatewayFixture{
		gateway: gw,
		buffer:  buffer,
		cache:   cache,
		alerts:  alerts,
		issuer:  issuer,
		agentID: agentID,
		fleetID: fleetID,
	}
}

func TestHandleHeartbeat(t *testing.T) {
	ctx := context.Background()

	t.Run("buffers snapshot and acks", func(t *testing.T) {
		f := newGatewayFixture(t)

		ack, err := f.gateway.HandleHeartbeat(ctx, f.agentID, models.AgentStatusHealthy, &models.AgentMetrics{CPUUsage: 42})
		require.NoError(t, err)
		assert.True(t, ack.Ack)
		assert.GreaterOrEqual(t, ack.LatencyMS, 0.0)

		drained := f.buffer.Swap()
		require.Len(t, drained, 1)
		update := drained[f.agentID]
		assert.Equal(t, models.AgentStatusHealthy, update.Status)
		assert.Equal(t, 42.0, update.Metrics.CPUUsage)
	})

	t.Run("empty status defaults to healthy", func(t *testing.T) {
		f := newGatewayFixture(t)

		_, err := f.gateway.HandleHeartbeat(ctx, f.agentID, "", nil)
		require.NoError(t, err)
		assert.Equal(t, models.AgentStatusHealthy, f.buffer.Swap()[f.agentID].Status)
	})

	t.Run("unknown status rejected", func(t *testing.T) {
		f := newGatewayFixture(t)

		_, err := f.gateway.HandleHeartbeat(ctx, f.agentID, models.AgentStatus("rebooting"), nil)
		assert.ErrorIs(t, err, ErrInvalidStatus)
		assert.Equal(t, 0, f.buffer.Len())
	})

	t.Run("accrues task and error counters", func(t *testing.T) {
		f := newGatewayFixture(t)

		_, err := f.gateway.HandleHeartbeat(ctx, f.agentID, models.AgentStatusHealthy, &models.AgentMetrics{})
		require.NoError(t, err)
		_, err = f.gateway.HandleHeartbeat(ctx, f.agentID, models.AgentStatusError, &models.AgentMetrics{})
		require.NoError(t, err)

		update := f.buffer.Swap()[f.agentID]
		assert.Equal(t, int64(2), update.Metrics.TasksCompleted)
		assert.Equal(t, int64(1), update.Metrics.ErrorsCount)
		assert.InDelta(t, 0.02, update.Metrics.CostUSD, 1e-9)
		assert.Equal(t, 2.0, update.Metrics.UptimeHours)
	})

	t.Run("triggers alert evaluation with preloaded configs", func(t *testing.T) {
		f := newGatewayFixture(t)

		_, err := f.gateway.HandleHeartbeat(ctx, f.agentID, models.AgentStatusHealthy, &models.AgentMetrics{CPUUsage: 95})
		require.NoError(t, err)

		select {
		case <-f.alerts.fired:
		case <-time.After(time.Second):
			t.Fatal("alert evaluation never fired")
		}
		assert.Equal(t, 1, f.alerts.count())
	})

	t.Run("heartbeat without metrics skips alerts", func(t *testing.T) {
		f := newGatewayFixture(t)

		_, err := f.gateway.HandleHeartbeat(ctx, f.agentID, models.AgentStatusHealthy, nil)
		require.NoError(t, err)

		select {
		case <-f.alerts.fired:
			t.Fatal("no metrics, no evaluation")
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("heartbeat bucket enforced per agent tier", func(t *testing.T) {
		f := newGatewayFixture(t)

		// The pro heartbeat bucket holds 20 tokens.
		for i := 0; i < 20; i++ {
			_, err := f.gateway.HandleHeartbeat(ctx, f.agentID, models.AgentStatusHealthy, nil)
			require.NoError(t, err, "heartbeat %d should pass", i+1)
		}

		_, err := f.gateway.HandleHeartbeat(ctx, f.agentID, models.AgentStatusHealthy, nil)
		var limited *ratelimit.LimitedError
		require.ErrorAs(t, err, &limited)
		assert.Equal(t, ratelimit.RouteHeartbeat, limited.Route)
	})

	t.Run("configless agent never hits the store for configs", func(t *testing.T) {
		agentID := uuid.New()
		metaStore := &stubMetaStore{metas: []models.AgentMeta{{
			ID:        agentID,
			FleetID:   uuid.New(),
			Name:      "worker-1",
			Tier:      models.TierEnterprise,
			CreatedAt: time.Now(),
		}}}
		cache := NewMetaCache(metaStore, time.Hour, zerolog.Nop())
		require.NoError(t, cache.Refresh(ctx))

		alertStore := &countingAlertStore{}
		registry := testRegistry()
		engine := monitoring.NewEngine(alertStore, noopSender{}, registry, zerolog.Nop())
		issuer := auth.NewTokenIssuer([]byte("test-signing-secret"), time.Hour)
		gw := NewGateway(issuer, NewHeartbeatBuffer(), cache, engine, nil, registry, zerolog.Nop())

		for i := 0; i < 3; i++ {
			_, err := gw.HandleHeartbeat(ctx, agentID, models.AgentStatusHealthy, &models.AgentMetrics{CPUUsage: 40})
			require.NoError(t, err)
		}

		// Evaluation is asynchronous; give a stray lookup time to land.
		time.Sleep(50 * time.Millisecond)
		alertStore.mu.Lock()
		defer alertStore.mu.Unlock()
		assert.Zero(t, alertStore.configLookups, "cached metadata counts as preloaded even with zero configs")
	})

	t.Run("agent missing from cache still buffers", func(t *testing.T) {
		f := newGatewayFixture(t)
		stranger := uuid.New()

		_, err := f.gateway.HandleHeartbeat(ctx, stranger, models.AgentStatusHealthy, &models.AgentMetrics{CPUUsage: 10})
		require.NoError(t, err)

		update := f.buffer.Swap()[stranger]
		assert.Equal(t, 10.0, update.Metrics.CPUUsage)
		assert.Zero(t, update.Metrics.TasksCompleted, "no accrual without cached metadata")
	})
}

func TestAuthenticate(t *testing.T) {
	f := newGatewayFixture(t)

	token, err := f.issuer.Issue(f.agentID, f.fleetID)
	require.NoError(t, err)

	got, err := f.gateway.Authenticate(token)
	require.NoError(t, err)
	assert.Equal(t, f.agentID, got)

	_, err = f.gateway.Authenticate("garbage")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestServeWS(t *testing.T) {
	f := newGatewayFixture(t)
	server := httptest.NewServer(http.HandlerFunc(f.gateway.ServeWS))
	defer server.Close()

	t.Run("plain http gets banner", func(t *testing.T) {
		resp, err := http.Get(server.URL)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("stream handles good and bad frames", func(t *testing.T) {
		wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.NoError(t, err)
		defer conn.Close()

		var welcome welcomeFrame
		require.NoError(t, conn.ReadJSON(&welcome))
		assert.NotEmpty(t, welcome.Welcome)

		// Malformed frame: error ack, connection stays open.
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
		var errResp models.ErrorResponse
		require.NoError(t, conn.ReadJSON(&errResp))
		assert.Equal(t, "invalid payload", errResp.Error)

		// Frame without a token.
		require.NoError(t, conn.WriteJSON(models.HeartbeatRequest{AgentID: f.agentID}))
		require.NoError(t, conn.ReadJSON(&errResp))
		assert.Equal(t, "unauthorized", errResp.Error)

		// Valid frame on the same connection.
		token, err := f.issuer.Issue(f.agentID, f.fleetID)
		require.NoError(t, err)
		require.NoError(t, conn.WriteJSON(models.HeartbeatRequest{
			Token:   token,
			Status:  models.AgentStatusHealthy,
			Metrics: &models.AgentMetrics{CPUUsage: 12},
		}))

		var ack models.HeartbeatAck
		require.NoError(t, conn.ReadJSON(&ack))
		assert.True(t, ack.Ack)
		assert.Equal(t, 1, f.buffer.Len())
	})
}

func TestServeWSRateLimited(t *testing.T) {
	f := newGatewayFixture(t)
	server := httptest.NewServer(http.HandlerFunc(f.gateway.ServeWS))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var welcome welcomeFrame
	require.NoError(t, conn.ReadJSON(&welcome))

	token, err := f.issuer.Issue(f.agentID, f.fleetID)
	require.NoError(t, err)
	frame := models.HeartbeatRequest{Token: token, Status: models.AgentStatusHealthy}

	// The pro heartbeat bucket holds 20 tokens.
	for i := 0; i < 20; i++ {
		require.NoError(t, conn.WriteJSON(frame))
		var ack models.HeartbeatAck
		require.NoError(t, conn.ReadJSON(&ack))
		require.True(t, ack.Ack, "heartbeat %d should be acked", i+1)
	}

	// The rejection frame carries the same shape as the HTTP 429 body so
	// WS agents can back off by the retry hint.
	require.NoError(t, conn.WriteJSON(frame))
	var limited models.RateLimitedResponse
	require.NoError(t, conn.ReadJSON(&limited))
	assert.Equal(t, "Too many requests", limited.Error)
	assert.Equal(t, string(ratelimit.RouteHeartbeat), limited.Type)
	assert.Positive(t, limited.RetryAfter)
}

func TestMetaCacheRefresh(t *testing.T) {
	t.Run("refresh failure keeps old view", func(t *testing.T) {
		agentID := uuid.New()
		store := &stubMetaStore{metas: []models.AgentMeta{{ID: agentID, Name: "worker-1"}}}
		cache := NewMetaCache(store, time.Hour, zerolog.Nop())
		require.NoError(t, cache.Refresh(context.Background()))

		store.mu.Lock()
		store.err = errors.New("connection refused")
		store.mu.Unlock()

		require.Error(t, cache.Refresh(context.Background()))
		_, ok := cache.Lookup(agentID)
		assert.True(t, ok)
	})

	t.Run("zero configs still load as preloaded", func(t *testing.T) {
		agentID := uuid.New()
		store := &stubMetaStore{metas: []models.AgentMeta{{ID: agentID, Name: "worker-1"}}}
		cache := NewMetaCache(store, time.Hour, zerolog.Nop())
		require.NoError(t, cache.Refresh(context.Background()))

		meta, ok := cache.Lookup(agentID)
		require.True(t, ok)
		require.NotNil(t, meta.AlertConfigs, "nil would read as not-preloaded downstream")
		assert.Empty(t, meta.AlertConfigs)
	})

	t.Run("accrual survives across heartbeats, resets on refresh", func(t *testing.T) {
		agentID := uuid.New()
		created := time.Now().Add(-90 * time.Minute)
		store := &stubMetaStore{metas: []models.AgentMeta{{
			ID: agentID, Name: "worker-1", CreatedAt: created, TasksCompleted: 10,
		}}}
		cache := NewMetaCache(store, time.Hour, zerolog.Nop())
		require.NoError(t, cache.Refresh(context.Background()))

		accrual, ok := cache.Accrue(agentID, models.AgentStatusHealthy, time.Now())
		require.True(t, ok)
		assert.Equal(t, int64(11), accrual.TasksCompleted)
		assert.Equal(t, 1.0, accrual.UptimeHours)

		// Refresh rebases counters on the persisted values.
		require.NoError(t, cache.Refresh(context.Background()))
		accrual, ok = cache.Accrue(agentID, models.AgentStatusHealthy, time.Now())
		require.True(t, ok)
		assert.Equal(t, int64(11), accrual.TasksCompleted)
	})
}
