package alerting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/surfacehq/surface/internal/metrics"
	"github.com/surfacehq/surface/internal/queue"
	"github.com/surfacehq/surface/internal/store"
)

// Alert types carried in the aggregation key.
const (
	AlertTypeVulnFound  = "vuln_found"
	AlertTypeRiskScored = "risk_score"
)

var severityRank = map[string]int{
	"critical": 5,
	"high":     4,
	"medium":   3,
	"low":      2,
	"info":     1,
}

// AggregationKey derives the 16-hex dedup key for an observation class.
func AggregationKey(projectID, targetType, severity, alertType string) string {
	sum := sha256.Sum256([]byte(projectID + ":" + targetType + ":" + severity + ":" + alertType))
	return hex.EncodeToString(sum[:])[:16]
}

// MeetsThreshold reports whether severity reaches the policy threshold.
// Unknown severities rank lowest.
func MeetsThreshold(severity, threshold string) bool {
	return severityRank[strings.ToLower(severity)] >= severityRank[strings.ToLower(threshold)]
}

// SendPayload is the queue payload for alert.send_notification.
type SendPayload struct {
	AlertID   string           `json:"alert_id"`
	ChannelID string           `json:"channel_id"`
	Data      NotificationData `json:"data"`
	Template  string           `json:"template,omitempty"`
}

// TestPayload is the queue payload for alert.test_channel.
type TestPayload struct {
	ChannelID string `json:"channel_id"`
}

// alertStore is the slice of the store the alert pipeline touches.
// *store.Store implements it; tests supply an in-memory fake.
type alertStore interface {
	ListAlertPolicies(ctx context.Context, projectID string, enabledOnly bool) ([]*store.AlertPolicy, error)
	CountRecentAlerts(ctx context.Context, policyID string, window time.Duration) (int, error)
	FindAggregatableAlert(ctx context.Context, projectID, aggregationKey string, window time.Duration) (*store.AlertRecord, error)
	IncrementAggregatedCount(ctx context.Context, id string) error
	LastAlertForKey(ctx context.Context, projectID, aggregationKey string) (*store.AlertRecord, error)
	CreateAlertRecord(ctx context.Context, r *store.AlertRecord) (*store.AlertRecord, error)
}

// Alerter evaluates observations against the project's alert policies.
type Alerter struct {
	store  alertStore
	broker queue.Broker
	m      *metrics.Metrics
	logger *log.Logger
	now    func() time.Time
}

// NewAlerter wires the alerter.
func NewAlerter(st *store.Store, broker queue.Broker, m *metrics.Metrics) *Alerter {
	return &Alerter{
		store:  st,
		broker: broker,
		m:      m,
		logger: log.New(log.Writer(), "[ALERTER] ", log.LstdFlags),
		now:    time.Now,
	}
}

// observation is the policy-independent view of a qualifying event.
type observation struct {
	projectID  string
	alertType  string
	targetType string
	targetID   string
	severity   string
	title      string
	message    string
	details    store.JSONMap
}

// CheckVulnerability evaluates a new finding against every enabled policy.
func (a *Alerter) CheckVulnerability(ctx context.Context, v *store.Vulnerability) error {
	severity := strings.ToLower(v.Severity)
	return a.process(ctx, observation{
		projectID:  v.ProjectID,
		alertType:  AlertTypeVulnFound,
		targetType: "vulnerability",
		targetID:   v.ID,
		severity:   severity,
		title:      fmt.Sprintf("[%s] %s", strings.ToUpper(severity), v.Name),
		message:    fmt.Sprintf("%s severity vulnerability found: %s", strings.ToUpper(severity), v.Name),
		details: store.JSONMap{
			"target_url":  v.TargetURL,
			"template_id": v.TemplateID,
		},
	}, nil)
}

// CheckRiskScore evaluates a freshly computed score. Policies may declare a
// conditions.min_risk_score floor.
func (a *Alerter) CheckRiskScore(ctx context.Context, s *store.AssetRiskScore) error {
	gate := func(p *store.AlertPolicy) bool {
		if min, ok := asNumber(p.Conditions["min_risk_score"]); ok && s.TotalScore < min {
			return false
		}
		return true
	}
	return a.process(ctx, observation{
		projectID:  s.ProjectID,
		alertType:  AlertTypeRiskScored,
		targetType: "risk_score",
		targetID:   s.AssetID,
		severity:   strings.ToLower(s.SeverityLevel),
		title:      fmt.Sprintf("[%s] High risk asset", strings.ToUpper(s.SeverityLevel)),
		message:    fmt.Sprintf("Asset %s (%s) scored %.2f", s.AssetID, s.AssetType, s.TotalScore),
		details: store.JSONMap{
			"asset_type":  s.AssetType,
			"total_score": s.TotalScore,
		},
	}, gate)
}

// process runs the policy pipeline: threshold, hourly cap, aggregation
// window, cooldown, then create + dispatch.
func (a *Alerter) process(ctx context.Context, obs observation, gate func(*store.AlertPolicy) bool) error {
	policies, err := a.store.ListAlertPolicies(ctx, obs.projectID, true)
	if err != nil {
		return err
	}
	for _, policy := range policies {
		if !MeetsThreshold(obs.severity, policy.SeverityThreshold) {
			continue
		}
		if gate != nil && !gate(policy) {
			continue
		}
		recent, err := a.store.CountRecentAlerts(ctx, policy.ID, time.Hour)
		if err != nil {
			return err
		}
		if recent >= policy.MaxAlertsPerHour {
			a.logger.Printf("policy %s reached hourly limit", policy.ID)
			continue
		}

		key := AggregationKey(obs.projectID, obs.targetType, obs.severity, obs.alertType)

		window := time.Duration(policy.AggregationWindow) * time.Minute
		existing, err := a.store.FindAggregatableAlert(ctx, obs.projectID, key, window)
		if err == nil {
			if err := a.store.IncrementAggregatedCount(ctx, existing.ID); err != nil {
				return err
			}
			a.m.AlertsAggregated.WithLabelValues(obs.severity).Inc()
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		if cooling, err := a.inCooldown(ctx, obs.projectID, key, policy.CooldownMinutes); err != nil {
			return err
		} else if cooling {
			a.logger.Printf("alert in cooldown for key %s", key)
			continue
		}

		record, err := a.store.CreateAlertRecord(ctx, &store.AlertRecord{
			ProjectID:      obs.projectID,
			PolicyID:       policy.ID,
			TargetType:     obs.targetType,
			TargetID:       obs.targetID,
			Title:          obs.title,
			Message:        obs.message,
			Severity:       obs.severity,
			Details:        obs.details,
			AggregationKey: key,
		})
		if err != nil {
			return err
		}
		a.m.AlertsCreated.WithLabelValues(obs.severity).Inc()
		a.dispatch(ctx, policy, record)
	}
	return nil
}

// inCooldown reports whether any alert with the key fired within the window.
func (a *Alerter) inCooldown(ctx context.Context, projectID, key string, cooldownMinutes int) (bool, error) {
	last, err := a.store.LastAlertForKey(ctx, projectID, key)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return a.now().UTC().Sub(last.CreatedAt) < time.Duration(cooldownMinutes)*time.Minute, nil
}

// dispatch queues one send task per policy channel. Channel configs stay in
// the store; the payload carries only ids and display data.
func (a *Alerter) dispatch(ctx context.Context, policy *store.AlertPolicy, record *store.AlertRecord) {
	template, _ := policy.Conditions["message_template"].(string)
	data := NotificationData{
		Title:      record.Title,
		Message:    record.Message,
		Severity:   record.Severity,
		TargetType: record.TargetType,
		CreatedAt:  record.CreatedAt.Format(time.RFC3339),
	}
	for _, channelID := range policy.ChannelIDs {
		_, err := queue.Enqueue(ctx, a.broker, queue.TypeSendNotify, 5, SendPayload{
			AlertID:   record.ID,
			ChannelID: channelID,
			Data:      data,
			Template:  template,
		})
		if err != nil {
			a.logger.Printf("alert %s channel %s dispatch failed: %v", record.ID, channelID, err)
		}
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	}
	return 0, false
}
