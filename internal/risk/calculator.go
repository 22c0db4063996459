// Package risk computes per-asset weighted risk scores from pluggable
// factors and maps them onto severity bands.
package risk

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/surfacehq/surface/internal/store"
)

// High-risk service ports that raise the exposure factor.
var highRiskPorts = map[int]bool{
	22: true, 23: true, 25: true, 445: true, 3389: true,
	1433: true, 3306: true, 5432: true, 6379: true, 27017: true,
}

// ScoreToSeverity maps a score in [0,100] onto its band.
func ScoreToSeverity(score float64) string {
	switch {
	case score >= 80:
		return "critical"
	case score >= 60:
		return "high"
	case score >= 40:
		return "medium"
	case score >= 20:
		return "low"
	}
	return "info"
}

// CalculatePayload is the queue payload for risk.calculate.
type CalculatePayload struct {
	ProjectID string `json:"project_id"`
	AssetType string `json:"asset_type"`
	AssetID   string `json:"asset_id"`
}

// FactorResult is one factor's contribution.
type FactorResult struct {
	Score   float64
	Details store.JSONMap
}

// Calculator scores assets. Safe for concurrent use.
type Calculator struct {
	store  *store.Store
	logger *log.Logger
}

// NewCalculator wires the calculator to the store.
func NewCalculator(st *store.Store) *Calculator {
	return &Calculator{
		store:  st,
		logger: log.New(log.Writer(), "[RISK] ", log.LstdFlags),
	}
}

// defaultFactors apply when a project declares none: vulnerabilities weigh
// 0.6, exposure 0.4.
func defaultFactors() []*store.RiskFactor {
	return []*store.RiskFactor{
		{ID: "default-vulnerability", Name: "vulnerability", FactorType: "vulnerability", Weight: 0.6, Enabled: true},
		{ID: "default-exposure", Name: "exposure", FactorType: "exposure", Weight: 0.4, Enabled: true},
	}
}

// CalculateAsset scores one asset and upserts the result, which expires in
// 24 hours.
func (c *Calculator) CalculateAsset(ctx context.Context, projectID, assetType, assetID string) (*store.AssetRiskScore, error) {
	factors, err := c.store.ListRiskFactors(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(factors) == 0 {
		factors = defaultFactors()
	}

	factorScores := store.JSONMap{}
	var weightedSum, totalWeight float64
	var highestName string
	var highestScore float64 = -1

	for _, f := range factors {
		if !f.Enabled {
			continue
		}
		res, err := c.evalFactor(ctx, f, projectID, assetType, assetID)
		if err != nil {
			return nil, err
		}
		factorScores[f.Name] = map[string]interface{}{
			"score":          res.Score,
			"weight":         f.Weight,
			"weighted_score": res.Score * f.Weight,
			"details":        map[string]interface{}(res.Details),
		}
		weightedSum += res.Score * f.Weight
		totalWeight += f.Weight
		if res.Score > highestScore {
			highestScore = res.Score
			highestName = f.Name
		}
	}

	total := 0.0
	if totalWeight > 0 {
		total = weightedSum / totalWeight
	}
	total = math.Min(math.Max(total, 0), 100)
	total = math.Round(total*100) / 100

	summary := store.JSONMap{"total_factors": len(factorScores)}
	if highestName != "" {
		summary["highest_factor"] = highestName
	}

	return c.store.UpsertRiskScore(ctx, &store.AssetRiskScore{
		ProjectID:     projectID,
		AssetType:     assetType,
		AssetID:       assetID,
		TotalScore:    total,
		SeverityLevel: ScoreToSeverity(total),
		FactorScores:  factorScores,
		RiskSummary:   summary,
		ExpiresAt:     time.Now().UTC().Add(24 * time.Hour),
	})
}

func (c *Calculator) evalFactor(ctx context.Context, f *store.RiskFactor, projectID, assetType, assetID string) (FactorResult, error) {
	switch f.FactorType {
	case "vulnerability":
		return c.vulnerabilityFactor(ctx, projectID, assetType, assetID)
	case "exposure":
		return c.exposureFactor(ctx, projectID, assetType, assetID)
	default:
		return customFactor(f.CalculationRule), nil
	}
}

// vulnerabilityFactor scores 40 per critical, 20 per high, 10 per medium and
// 5 per low finding on this asset, capped at 100.
func (c *Calculator) vulnerabilityFactor(ctx context.Context, projectID, assetType, assetID string) (FactorResult, error) {
	counts, err := c.store.VulnerabilityCountsBySeverity(ctx, projectID, assetType, assetID)
	if err != nil {
		return FactorResult{}, err
	}
	score := float64(40*counts["critical"] + 20*counts["high"] + 10*counts["medium"] + 5*counts["low"])
	if score > 100 {
		score = 100
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	return FactorResult{
		Score: score,
		Details: store.JSONMap{
			"vulnerability_counts":  counts,
			"total_vulnerabilities": total,
		},
	}, nil
}

// exposureFactor scores open ports: 2 points each capped at 40, plus 10 per
// high-risk service port, capped at 100. For IP assets only that IP's ports
// count; other asset types see the whole project surface.
func (c *Calculator) exposureFactor(ctx context.Context, projectID, assetType, assetID string) (FactorResult, error) {
	ipID := ""
	if assetType == "ip_address" {
		ipID = assetID
	}
	ports, err := c.store.OpenPorts(ctx, projectID, ipID)
	if err != nil {
		return FactorResult{}, err
	}
	highRisk := 0
	for _, p := range ports {
		if highRiskPorts[p] {
			highRisk++
		}
	}
	score := math.Min(float64(len(ports))*2, 40) + float64(highRisk)*10
	if score > 100 {
		score = 100
	}
	return FactorResult{
		Score: score,
		Details: store.JSONMap{
			"open_ports":      len(ports),
			"high_risk_ports": highRisk,
		},
	}, nil
}

// customFactor evaluates a declared calculation_rule. The engine understands
// a constant {"score": n}; unknown rules score 0.
func customFactor(rule store.JSONMap) FactorResult {
	score := 0.0
	if v, ok := rule["score"]; ok {
		switch n := v.(type) {
		case float64:
			score = n
		case int:
			score = float64(n)
		}
	}
	score = math.Min(math.Max(score, 0), 100)
	return FactorResult{Score: score, Details: store.JSONMap{"rule": map[string]interface{}(rule)}}
}
