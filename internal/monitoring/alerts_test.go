package monitoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexgutscher26/ClawTrace-sub001/internal/metrics"
	"github.com/alexgutscher26/ClawTrace-sub001/internal/models"
)

type stubAlertStore struct {
	mu           sync.Mutex
	configs      []models.AlertConfig
	configErr    error
	recentAlerts map[models.AlertType]time.Time
	recentErr    error
	created      []*models.Alert
	createErr    error
	agentName    string
}

func newStubAlertStore() *stubAlertStore {
	return &stubAlertStore{
		recentAlerts: make(map[models.AlertType]time.Time),
		agentName:    "worker-1",
	}
}

func (s *stubAlertStore) GetAlertConfigs(context.Context, uuid.UUID) ([]models.AlertConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configErr != nil {
		return nil, s.configErr
	}
	return s.configs, nil
}

func (s *stubAlertStore) HasRecentAlert(_ context.Context, _ uuid.UUID, alertType models.AlertType, since time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recentErr != nil {
		return false, s.recentErr
	}
	last, ok := s.recentAlerts[alertType]
	return ok && last.After(since), nil
}

func (s *stubAlertStore) CreateAlert(_ context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, alert)
	return nil
}

func (s *stubAlertStore) GetAgentName(context.Context, uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentName, nil
}

func (s *stubAlertStore) createdAlerts() []*models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Alert(nil), s.created...)
}

type stubSender struct {
	mu   sync.Mutex
	sent []*models.Alert
	err  error
}

func (s *stubSender) Send(_ context.Context, _ *models.AlertChannel, alert *models.Alert, _ *models.AgentMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, alert)
	return nil
}

func (s *stubSender) sentAlerts() []*models.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Alert(nil), s.sent...)
}

func activeChannel() *models.AlertChannel {
	return &models.AlertChannel{
		ID:         uuid.New(),
		Type:       models.ChannelTypeSlack,
		WebhookURL: "https://hooks.slack.example.com/T000",
		Active:     true,
	}
}

func testEngine(store *stubAlertStore, sender *stubSender) *Engine {
	return NewEngine(store, sender, metrics.New(prometheus.NewRegistry()), zerolog.Nop())
}

func TestEvaluateThresholds(t *testing.T) {
	ctx := context.Background()
	agentID := uuid.New()

	config := models.AlertConfig{
		ID:               uuid.New(),
		CPUThreshold:     90,
		MemThreshold:     85,
		LatencyThreshold: 1000,
		CooldownMinutes:  60,
		Channel:          activeChannel(),
	}

	tests := []struct {
		name     string
		metrics  models.AgentMetrics
		wantType models.AlertType
		fires    bool
	}{
		{"cpu above threshold", models.AgentMetrics{CPUUsage: 95}, models.AlertTypeCPU, true},
		{"cpu exactly at threshold", models.AgentMetrics{CPUUsage: 90}, "", false},
		{"memory above threshold", models.AgentMetrics{MemoryUsage: 90}, models.AlertTypeMemory, true},
		{"latency above threshold", models.AgentMetrics{LatencyMS: 1500}, models.AlertTypeLatency, true},
		{"all below thresholds", models.AgentMetrics{CPUUsage: 50, MemoryUsage: 50, LatencyMS: 100}, "", false},
		{"cpu beats memory when both trip", models.AgentMetrics{CPUUsage: 99, MemoryUsage: 99}, models.AlertTypeCPU, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newStubAlertStore()
			sender := &stubSender{}
			engine := testEngine(store, sender)

			m := tt.metrics
			engine.Evaluate(ctx, agentID, "worker-1", models.AgentStatusHealthy, &m, []models.AlertConfig{config})

			created := store.createdAlerts()
			if !tt.fires {
				assert.Empty(t, created)
				return
			}
			require.Len(t, created, 1)
			assert.Equal(t, tt.wantType, created[0].Type)
			assert.Equal(t, "worker-1", created[0].AgentName)
			require.Len(t, sender.sentAlerts(), 1)
		})
	}
}

func TestEvaluateStatusRules(t *testing.T) {
	ctx := context.Background()
	agentID := uuid.New()

	t.Run("offline fires when enabled", func(t *testing.T) {
		store := newStubAlertStore()
		sender := &stubSender{}
		engine := testEngine(store, sender)
		config := models.AlertConfig{OfflineAlert: true, Channel: activeChannel()}

		engine.Evaluate(ctx, agentID, "worker-1", models.AgentStatusOffline, nil, []models.AlertConfig{config})

		created := store.createdAlerts()
		require.Len(t, created, 1)
		assert.Equal(t, models.AlertTypeOffline, created[0].Type)
	})

	t.Run("offline silent when disabled", func(t *testing.T) {
		store := newStubAlertStore()
		engine := testEngine(store, &stubSender{})
		config := models.AlertConfig{OfflineAlert: false, Channel: activeChannel()}

		engine.Evaluate(ctx, agentID, "worker-1", models.AgentStatusOffline, nil, []models.AlertConfig{config})
		assert.Empty(t, store.createdAlerts())
	})

	t.Run("error fires when enabled", func(t *testing.T) {
		store := newStubAlertStore()
		engine := testEngine(store, &stubSender{})
		config := models.AlertConfig{ErrorAlert: true, Channel: activeChannel()}

		engine.Evaluate(ctx, agentID, "worker-1", models.AgentStatusError, &models.AgentMetrics{}, []models.AlertConfig{config})

		created := store.createdAlerts()
		require.Len(t, created, 1)
		assert.Equal(t, models.AlertTypeError, created[0].Type)
	})

	t.Run("offline agent never trips metric rules", func(t *testing.T) {
		store := newStubAlertStore()
		engine := testEngine(store, &stubSender{})
		config := models.AlertConfig{CPUThreshold: 90, Channel: activeChannel()}

		engine.Evaluate(ctx, agentID, "worker-1", models.AgentStatusOffline, &models.AgentMetrics{CPUUsage: 99}, []models.AlertConfig{config})
		assert.Empty(t, store.createdAlerts())
	})
}

func TestEvaluateCooldown(t *testing.T) {
	ctx := context.Background()
	agentID := uuid.New()
	config := models.AlertConfig{CPUThreshold: 90, CooldownMinutes: 60, Channel: activeChannel()}
	hot := &models.AgentMetrics{CPUUsage: 95}

	t.Run("recent alert suppresses re-fire", func(t *testing.T) {
		store := newStubAlertStore()
		engine := testEngine(store, &stubSender{})
		store.recentAlerts[models.AlertTypeCPU] = time.Now().Add(-30 * time.Minute)

		engine.Evaluate(ctx, agentID, "worker-1", models.AgentStatusHealthy, hot, []models.AlertConfig{config})
		assert.Empty(t, store.createdAlerts())
	})

	t.Run("expired cooldown fires again", func(t *testing.T) {
		store := newStubAlertStore()
		engine := testEngine(store, &stubSender{})
		store.recentAlerts[models.AlertTypeCPU] = time.Now().Add(-61 * time.Minute)

		engine.Evaluate(ctx, agentID, "worker-1", models.AgentStatusHealthy, hot, []models.AlertConfig{config})
		assert.Len(t, store.createdAlerts(), 1)
	})

	t.Run("cooldown scoped per alert type", func(t *testing.T) {
		store := newStubAlertStore()
		engine := testEngine(store, &stubSender{})
		store.recentAlerts[models.AlertTypeMemory] = time.Now().Add(-5 * time.Minute)

		engine.Evaluate(ctx, agentID, "worker-1", models.AgentStatusHealthy, hot, []models.AlertConfig{config})
		assert.Len(t, store.createdAlerts(), 1)
	})

	t.Run("cooldown check failure skips config", func(t *testing.T) {
		store := newStubAlertStore()
		store.recentErr = errors.New("connection refused")
		engine := testEngine(store, &stubSender{})

		engine.Evaluate(ctx, agentID, "worker-1", models.AgentStatusHealthy, hot, []models.AlertConfig{config})
		assert.Empty(t, store.createdAlerts())
	})
}

func TestEvaluateDispatch(t *testing.T) {
	ctx := context.Background()
	agentID := uuid.New()
	hot := &models.AgentMetrics{CPUUsage: 95}

	t.Run("nil configs trigger store lookup", func(t *testing.T) {
		store := newStubAlertStore()
		store.configs = []models.AlertConfig{{CPUThreshold: 90, Channel: activeChannel()}}
		engine := testEngine(store, &stubSender{})

		engine.Evaluate(ctx, agentID, "worker-1", models.AgentStatusHealthy, hot, nil)
		assert.Len(t, store.createdAlerts(), 1)
	})

	t.Run("preloaded empty configs skip lookup", func(t *testing.T) {
		store := newStubAlertStore()
		store.configErr = errors.New("must not be called")
		engine := testEngine(store, &stubSender{})

		engine.Evaluate(ctx, agentID, "worker-1", models.AgentStatusHealthy, hot, []models.AlertConfig{})
		assert.Empty(t, store.createdAlerts())
	})

	t.Run("alert recorded even when channel inactive", func(t *testing.T) {
		store := newStubAlertStore()
		sender := &stubSender{}
		engine := testEngine(store, sender)
		channel := activeChannel()
		channel.Active = false
		config := models.AlertConfig{CPUThreshold: 90, Channel: channel}

		engine.Evaluate(ctx, agentID, "worker-1", models.AgentStatusHealthy, hot, []models.AlertConfig{config})
		assert.Len(t, store.createdAlerts(), 1)
		assert.Empty(t, sender.sentAlerts())
	})

	t.Run("sender failure only logged", func(t *testing.T) {
		store := newStubAlertStore()
		sender := &stubSender{err: errors.New("webhook 500")}
		engine := testEngine(store, sender)
		config := models.AlertConfig{CPUThreshold: 90, Channel: activeChannel()}

		engine.Evaluate(ctx, agentID, "worker-1", models.AgentStatusHealthy, hot, []models.AlertConfig{config})
		assert.Len(t, store.createdAlerts(), 1)
	})

	t.Run("missing agent name resolved from store", func(t *testing.T) {
		store := newStubAlertStore()
		store.agentName = "resolved-name"
		engine := testEngine(store, &stubSender{})
		config := models.AlertConfig{CPUThreshold: 90, Channel: activeChannel()}

		engine.Evaluate(ctx, agentID, "", models.AgentStatusHealthy, hot, []models.AlertConfig{config})
		created := store.createdAlerts()
		require.Len(t, created, 1)
		assert.Equal(t, "resolved-name", created[0].AgentName)
	})
}
