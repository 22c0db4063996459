package store

import "time"

// Scan task statuses.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskPaused    = "paused"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
	TaskCancelled = "cancelled"
)

// DAG execution statuses share pending/running/completed/failed/cancelled.
// Node states add "skipped" for dependency-blocked nodes.
const (
	NodePending   = "pending"
	NodeRunning   = "running"
	NodeCompleted = "completed"
	NodeFailed    = "failed"
	NodeSkipped   = "skipped"
)

// Alert record statuses.
const (
	AlertPending      = "pending"
	AlertSent         = "sent"
	AlertAcknowledged = "acknowledged"
	AlertResolved     = "resolved"
)

// Project is the root tenancy scope; deleting one cascades through everything
// it owns.
type Project struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	RateLimitConfig JSONMap   `json:"rate_limit_config"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Subdomain is a discovered DNS name under the project scope.
type Subdomain struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	Subdomain       string     `json:"subdomain"`
	IPAddresses     StringList `json:"ip_addresses"`
	Source          string     `json:"source"`
	FingerprintHash string     `json:"fingerprint_hash"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastSeen        time.Time  `json:"last_seen"`
}

// IPAddress is a resolved or imported address.
type IPAddress struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	IP              string    `json:"ip"`
	ASN             string    `json:"asn,omitempty"`
	Country         string    `json:"country,omitempty"`
	Source          string    `json:"source"`
	FingerprintHash string    `json:"fingerprint_hash"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

// Port is an open port observed on an IPAddress.
type Port struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	IPID      string    `json:"ip_id"`
	Port      int       `json:"port"`
	Protocol  string    `json:"protocol"`
	Service   string    `json:"service,omitempty"`
	Banner    string    `json:"banner,omitempty"`
	Source    string    `json:"source"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// WebAsset is a probed HTTP(S) service keyed by normalized URL.
type WebAsset struct {
	ID              string     `json:"id"`
	ProjectID       string     `json:"project_id"`
	URL             string     `json:"url"`
	NormalizedURL   string     `json:"normalized_url"`
	StatusCode      int        `json:"status_code"`
	Title           string     `json:"title,omitempty"`
	Server          string     `json:"server,omitempty"`
	Technologies    StringList `json:"technologies"`
	ScreenshotPath  string     `json:"screenshot_path,omitempty"`
	Source          string     `json:"source"`
	FingerprintHash string     `json:"fingerprint_hash"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastSeen        time.Time  `json:"last_seen"`
}

// JSAsset is a script discovered on a WebAsset.
type JSAsset struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	WebAssetID      string    `json:"web_asset_id"`
	ScriptURL       string    `json:"script_url"`
	ContentHash     string    `json:"content_hash"`
	Source          string    `json:"source"`
	FingerprintHash string    `json:"fingerprint_hash"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

// APIEndpoint is an API path extracted from JS or probes.
type APIEndpoint struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	Endpoint        string    `json:"endpoint"`
	Method          string    `json:"method"`
	SourceJSID      string    `json:"source_js_id,omitempty"`
	Source          string    `json:"source"`
	FingerprintHash string    `json:"fingerprint_hash"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

// Vulnerability is a scanner finding keyed by (target_url, template_id).
type Vulnerability struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id"`
	TargetURL       string    `json:"target_url"`
	TargetType      string    `json:"target_type,omitempty"`
	TargetID        string    `json:"target_id,omitempty"`
	TemplateID      string    `json:"template_id"`
	Name            string    `json:"name"`
	Severity        string    `json:"severity"`
	Details         JSONMap   `json:"details"`
	Source          string    `json:"source"`
	FingerprintHash string    `json:"fingerprint_hash"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
}

// APIRiskFinding flags a risky API endpoint pattern.
type APIRiskFinding struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	EndpointID    string    `json:"endpoint_id"`
	RuleName      string    `json:"rule_name"`
	Severity      string    `json:"severity"`
	Description   string    `json:"description"`
	Status        string    `json:"status"`
	StatusHistory JSONMap   `json:"status_history"`
	FirstSeen     time.Time `json:"first_seen"`
	LastSeen      time.Time `json:"last_seen"`
}

// AssetEntity is the raw imported asset record before fan-out.
type AssetEntity struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	AssetType string    `json:"asset_type"`
	Value     string    `json:"value"`
	Source    string    `json:"source"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// ScanTask is one unit of scanning work with a guarded status state machine.
type ScanTask struct {
	ID               string     `json:"id"`
	ProjectID        string     `json:"project_id"`
	ScanPolicyID     string     `json:"scan_policy_id,omitempty"`
	TaskType         string     `json:"task_type"`
	Status           string     `json:"status"`
	Priority         int        `json:"priority"`
	Progress         int        `json:"progress"`
	TotalTargets     int        `json:"total_targets"`
	CompletedTargets int        `json:"completed_targets"`
	Config           JSONMap    `json:"config"`
	ResultSummary    JSONMap    `json:"result_summary"`
	ErrorMessage     string     `json:"error_message,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// ScanPolicy is a reusable per-project scan configuration profile.
type ScanPolicy struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	Name          string    `json:"name"`
	Description   string    `json:"description"`
	ScanConfig    JSONMap   `json:"scan_config"`
	DAGTemplateID string    `json:"dag_template_id,omitempty"`
	IsDefault     bool      `json:"is_default"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DAGNode is one node of a template graph.
type DAGNode struct {
	ID        string   `json:"id"`
	TaskType  string   `json:"task_type"`
	DependsOn []string `json:"depends_on,omitempty"`
	Config    JSONMap  `json:"config,omitempty"`
}

// DAGTemplate declares a workflow graph. ProjectID empty means global.
type DAGTemplate struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id,omitempty"`
	Name      string    `json:"name"`
	Nodes     NodeList  `json:"nodes"`
	IsSystem  bool      `json:"is_system"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DAGExecution is a run of a template.
type DAGExecution struct {
	ID            string     `json:"id"`
	ProjectID     string     `json:"project_id"`
	DAGTemplateID string     `json:"dag_template_id"`
	TriggerType   string     `json:"trigger_type"` // manual | event | schedule
	TriggerEvent  JSONMap    `json:"trigger_event"`
	Status        string     `json:"status"`
	NodeStates    StateMap   `json:"node_states"`
	NodeTaskIDs   StateMap   `json:"node_task_ids"` // node id -> scan task id
	InputConfig   JSONMap    `json:"input_config"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// EventTrigger maps domain events onto DAG launches.
type EventTrigger struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	Name          string    `json:"name"`
	EventType     string    `json:"event_type"`
	FilterConfig  JSONMap   `json:"filter_config"`
	DAGTemplateID string    `json:"dag_template_id"`
	DAGConfig     JSONMap   `json:"dag_config"`
	Enabled       bool      `json:"enabled"`
	TriggerCount  JSONMap   `json:"trigger_count"` // {"total": n, "success": n, "failed": n}
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RiskFactor is a weighted scoring input.
type RiskFactor struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id,omitempty"`
	Name            string    `json:"name"`
	FactorType      string    `json:"factor_type"` // vulnerability | exposure | custom
	Weight          float64   `json:"weight"`
	CalculationRule JSONMap   `json:"calculation_rule"`
	IsSystem        bool      `json:"is_system"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
}

// AssetRiskScore is the latest computed score for one asset.
type AssetRiskScore struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	AssetType     string    `json:"asset_type"`
	AssetID       string    `json:"asset_id"`
	TotalScore    float64   `json:"total_score"`
	SeverityLevel string    `json:"severity_level"`
	FactorScores  JSONMap   `json:"factor_scores"`
	RiskSummary   JSONMap   `json:"risk_summary"`
	ExpiresAt     time.Time `json:"expires_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// NotificationChannel holds an opaque delivery config; only the notifier
// worker reads Config.
type NotificationChannel struct {
	ID          string     `json:"id"`
	ProjectID   string     `json:"project_id"`
	Name        string     `json:"name"`
	ChannelType string     `json:"channel_type"` // email | webhook | dingtalk | feishu | wechat
	Config      JSONMap    `json:"config"`
	Enabled     bool       `json:"enabled"`
	LastTestAt  *time.Time `json:"last_test_at,omitempty"`
	LastTestOK  *bool      `json:"last_test_ok,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AlertPolicy gates which observations become alerts and where they go.
type AlertPolicy struct {
	ID                string     `json:"id"`
	ProjectID         string     `json:"project_id"`
	Name              string     `json:"name"`
	SeverityThreshold string     `json:"severity_threshold"`
	AggregationWindow int        `json:"aggregation_window"` // minutes
	CooldownMinutes   int        `json:"cooldown_minutes"`
	MaxAlertsPerHour  int        `json:"max_alerts_per_hour"`
	Conditions        JSONMap    `json:"conditions"`
	ChannelIDs        StringList `json:"channel_ids"`
	Enabled           bool       `json:"enabled"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// AlertRecord is a deduplicated, possibly aggregated alert.
type AlertRecord struct {
	ID                  string    `json:"id"`
	ProjectID           string    `json:"project_id"`
	PolicyID            string    `json:"policy_id"`
	TargetType          string    `json:"target_type"`
	TargetID            string    `json:"target_id"`
	Title               string    `json:"title"`
	Message             string    `json:"message"`
	Severity            string    `json:"severity"`
	Details             JSONMap   `json:"details"`
	AggregationKey      string    `json:"aggregation_key"`
	AggregatedCount     int       `json:"aggregated_count"`
	Status              string    `json:"status"`
	NotificationResults JSONMap   `json:"notification_results"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}
