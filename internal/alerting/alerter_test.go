package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/surfacehq/surface/internal/metrics"
	"github.com/surfacehq/surface/internal/queue"
	"github.com/surfacehq/surface/internal/store"
)

func TestAggregationKey(t *testing.T) {
	key := AggregationKey("p1", "subdomain", "high", AlertTypeVulnFound)
	assert.Len(t, key, 16)
	assert.Equal(t, key, AggregationKey("p1", "subdomain", "high", AlertTypeVulnFound),
		"same observation class must aggregate under the same key")

	assert.NotEqual(t, key, AggregationKey("p2", "subdomain", "high", AlertTypeVulnFound))
	assert.NotEqual(t, key, AggregationKey("p1", "ip_address", "high", AlertTypeVulnFound))
	assert.NotEqual(t, key, AggregationKey("p1", "subdomain", "critical", AlertTypeVulnFound))
	assert.NotEqual(t, key, AggregationKey("p1", "subdomain", "high", AlertTypeRiskScored))
}

func TestMeetsThreshold(t *testing.T) {
	assert.True(t, MeetsThreshold("critical", "high"))
	assert.True(t, MeetsThreshold("high", "high"))
	assert.False(t, MeetsThreshold("medium", "high"))
	assert.True(t, MeetsThreshold("low", "info"))
	assert.False(t, MeetsThreshold("info", "low"))

	assert.True(t, MeetsThreshold("CRITICAL", "High"), "comparison is case insensitive")
	assert.False(t, MeetsThreshold("bogus", "info"), "unknown severities rank below everything")
	assert.True(t, MeetsThreshold("info", "unknown"), "unknown thresholds are met by anything ranked")
}

// fakeAlertStore is an in-memory stand-in sharing the alerter's test clock.
type fakeAlertStore struct {
	policies []*store.AlertPolicy
	records  []*store.AlertRecord
	nextID   int
	now      func() time.Time
}

func (f *fakeAlertStore) ListAlertPolicies(_ context.Context, projectID string, enabledOnly bool) ([]*store.AlertPolicy, error) {
	var out []*store.AlertPolicy
	for _, p := range f.policies {
		if p.ProjectID != projectID {
			continue
		}
		if enabledOnly && !p.Enabled {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeAlertStore) CountRecentAlerts(_ context.Context, policyID string, window time.Duration) (int, error) {
	n := 0
	for _, r := range f.records {
		if r.PolicyID == policyID && f.now().Sub(r.CreatedAt) < window {
			n++
		}
	}
	return n, nil
}

func (f *fakeAlertStore) FindAggregatableAlert(_ context.Context, projectID, key string, window time.Duration) (*store.AlertRecord, error) {
	for i := len(f.records) - 1; i >= 0; i-- {
		r := f.records[i]
		if r.ProjectID == projectID && r.AggregationKey == key &&
			r.Status != store.AlertResolved && f.now().Sub(r.CreatedAt) < window {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeAlertStore) IncrementAggregatedCount(_ context.Context, id string) error {
	for _, r := range f.records {
		if r.ID == id {
			r.AggregatedCount++
			return nil
		}
	}
	return store.ErrNotFound
}

func (f *fakeAlertStore) LastAlertForKey(_ context.Context, projectID, key string) (*store.AlertRecord, error) {
	for i := len(f.records) - 1; i >= 0; i-- {
		r := f.records[i]
		if r.ProjectID == projectID && r.AggregationKey == key {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (f *fakeAlertStore) CreateAlertRecord(_ context.Context, r *store.AlertRecord) (*store.AlertRecord, error) {
	f.nextID++
	r.ID = fmt.Sprintf("alert-%d", f.nextID)
	r.Status = store.AlertPending
	r.AggregatedCount = 1
	r.CreatedAt = f.now()
	r.UpdatedAt = r.CreatedAt
	f.records = append(f.records, r)
	return r, nil
}

type recordingBroker struct {
	sent []*queue.Task
}

func (b *recordingBroker) Push(_ context.Context, _ string, task *queue.Task) error {
	b.sent = append(b.sent, task)
	return nil
}

func (b *recordingBroker) Pull(_ context.Context, _ []string, _ time.Duration) (*queue.Task, error) {
	return nil, nil
}

func newTestAlerter(fake *fakeAlertStore, broker *recordingBroker, clock *time.Time) *Alerter {
	fake.now = func() time.Time { return *clock }
	return &Alerter{
		store:  fake,
		broker: broker,
		m:      metrics.NewWith(prometheus.NewRegistry()),
		logger: log.New(io.Discard, "", 0),
		now:    func() time.Time { return *clock },
	}
}

func vuln(id, severity string) *store.Vulnerability {
	return &store.Vulnerability{
		ID:        id,
		ProjectID: "p1",
		Severity:  severity,
		Name:      "exposed panel",
		TargetURL: "https://a.example.com/admin",
	}
}

func TestCheckVulnerability_AggregationAndCooldown(t *testing.T) {
	fake := &fakeAlertStore{policies: []*store.AlertPolicy{{
		ID:                "pol-1",
		ProjectID:         "p1",
		SeverityThreshold: "high",
		AggregationWindow: 10,
		CooldownMinutes:   60,
		MaxAlertsPerHour:  10,
		ChannelIDs:        store.StringList{"ch-1"},
		Enabled:           true,
	}}}
	broker := &recordingBroker{}
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	a := newTestAlerter(fake, broker, &clock)

	// Three critical findings inside one minute fold into one record.
	require.NoError(t, a.CheckVulnerability(context.Background(), vuln("v1", "critical")))
	clock = clock.Add(30 * time.Second)
	require.NoError(t, a.CheckVulnerability(context.Background(), vuln("v2", "critical")))
	clock = clock.Add(30 * time.Second)
	require.NoError(t, a.CheckVulnerability(context.Background(), vuln("v3", "critical")))

	require.Len(t, fake.records, 1, "duplicates within the aggregation window never create records")
	assert.Equal(t, 3, fake.records[0].AggregatedCount)
	assert.Len(t, broker.sent, 1, "only the first observation notifies")

	// Past the aggregation window but inside the cooldown: still nothing new.
	clock = clock.Add(15 * time.Minute)
	require.NoError(t, a.CheckVulnerability(context.Background(), vuln("v4", "critical")))
	assert.Len(t, fake.records, 1, "cooldown suppresses a fresh record")
	assert.Equal(t, 3, fake.records[0].AggregatedCount, "cooldown skips do not aggregate either")

	// Past the cooldown a new record fires.
	clock = clock.Add(50 * time.Minute)
	require.NoError(t, a.CheckVulnerability(context.Background(), vuln("v5", "critical")))
	require.Len(t, fake.records, 2)
	assert.Equal(t, 1, fake.records[1].AggregatedCount)
}

func TestCheckVulnerability_ThresholdFiltersPolicy(t *testing.T) {
	fake := &fakeAlertStore{policies: []*store.AlertPolicy{{
		ID:                "pol-1",
		ProjectID:         "p1",
		SeverityThreshold: "high",
		AggregationWindow: 10,
		CooldownMinutes:   60,
		MaxAlertsPerHour:  10,
		Enabled:           true,
	}}}
	broker := &recordingBroker{}
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	a := newTestAlerter(fake, broker, &clock)

	require.NoError(t, a.CheckVulnerability(context.Background(), vuln("v1", "medium")))
	assert.Empty(t, fake.records, "below-threshold severities never alert")
	assert.Empty(t, broker.sent)
}

func TestCheckVulnerability_HourlyCap(t *testing.T) {
	fake := &fakeAlertStore{policies: []*store.AlertPolicy{{
		ID:                "pol-1",
		ProjectID:         "p1",
		SeverityThreshold: "info",
		AggregationWindow: 1,
		CooldownMinutes:   1,
		MaxAlertsPerHour:  2,
		Enabled:           true,
	}}}
	broker := &recordingBroker{}
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	a := newTestAlerter(fake, broker, &clock)

	// Distinct severities use distinct aggregation keys, so each event asks
	// for a fresh record and only the cap can stop it.
	for i, sev := range []string{"low", "medium", "high"} {
		clock = clock.Add(5 * time.Minute)
		require.NoError(t, a.CheckVulnerability(context.Background(), vuln(fmt.Sprintf("v%d", i), sev)))
	}
	assert.Len(t, fake.records, 2, "the hourly cap stops the third record")

	// An hour later the cap window has drained.
	clock = clock.Add(time.Hour)
	require.NoError(t, a.CheckVulnerability(context.Background(), vuln("v9", "critical")))
	assert.Len(t, fake.records, 3)
}

func TestCheckRiskScore_MinScoreGate(t *testing.T) {
	fake := &fakeAlertStore{policies: []*store.AlertPolicy{{
		ID:                "pol-1",
		ProjectID:         "p1",
		SeverityThreshold: "info",
		AggregationWindow: 10,
		CooldownMinutes:   60,
		MaxAlertsPerHour:  10,
		Conditions:        store.JSONMap{"min_risk_score": float64(70)},
		Enabled:           true,
	}}}
	broker := &recordingBroker{}
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	a := newTestAlerter(fake, broker, &clock)

	require.NoError(t, a.CheckRiskScore(context.Background(), &store.AssetRiskScore{
		ProjectID: "p1", AssetType: "subdomain", AssetID: "s1",
		TotalScore: 55, SeverityLevel: "medium",
	}))
	assert.Empty(t, fake.records, "scores under min_risk_score are gated out")

	require.NoError(t, a.CheckRiskScore(context.Background(), &store.AssetRiskScore{
		ProjectID: "p1", AssetType: "subdomain", AssetID: "s1",
		TotalScore: 82, SeverityLevel: "critical",
	}))
	require.Len(t, fake.records, 1)
	assert.Equal(t, "risk_score", fake.records[0].TargetType)
}

func TestDispatch_PayloadPerChannel(t *testing.T) {
	fake := &fakeAlertStore{policies: []*store.AlertPolicy{{
		ID:                "pol-1",
		ProjectID:         "p1",
		SeverityThreshold: "info",
		AggregationWindow: 10,
		CooldownMinutes:   60,
		MaxAlertsPerHour:  10,
		ChannelIDs:        store.StringList{"ch-1", "ch-2"},
		Conditions:        store.JSONMap{"message_template": "{severity}: {title}"},
		Enabled:           true,
	}}}
	broker := &recordingBroker{}
	clock := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	a := newTestAlerter(fake, broker, &clock)

	require.NoError(t, a.CheckVulnerability(context.Background(), vuln("v1", "high")))
	require.Len(t, broker.sent, 2, "one send task per policy channel")

	var p SendPayload
	require.NoError(t, json.Unmarshal(broker.sent[0].Payload, &p))
	assert.Equal(t, fake.records[0].ID, p.AlertID)
	assert.Equal(t, "ch-1", p.ChannelID)
	assert.Equal(t, "{severity}: {title}", p.Template)
	assert.Equal(t, "high", p.Data.Severity)
}
