package models

import "encoding/json"

const (
	ConditionAge        = "age"
	ConditionMemberType = "member_type"
	ConditionDisability = "disability"
	ConditionTimeOfDay  = "time_of_day"
	ConditionService    = "service"
	ConditionCustom     = "custom"
)

// PriorityRule boosts a ticket when its condition matches at creation time.
// Payload is decoded according to Condition.
type PriorityRule struct {
	RuleID    string          `json:"rule_id" yaml:"rule_id"`
	TenantID  string          `json:"tenant_id" yaml:"tenant_id"`
	Name      string          `json:"name,omitempty" yaml:"name"`
	Condition string          `json:"condition" yaml:"condition"`
	Payload   json.RawMessage `json:"payload" yaml:"-"`
	Boost     int             `json:"boost" yaml:"boost"`
	Active    bool            `json:"active" yaml:"active"`
	SortOrder int             `json:"sort_order" yaml:"sort_order"`
}

// SLAConfig with an empty ServiceID applies organization-wide; a
// service-specific config overrides it.
type SLAConfig struct {
	TenantID        string `json:"tenant_id" yaml:"tenant_id"`
	ServiceID       string `json:"service_id,omitempty" yaml:"service_id"`
	MaxWaitMinutes  int    `json:"max_wait_minutes" yaml:"max_wait_minutes"`
	WarningMinutes  int    `json:"warning_minutes" yaml:"warning_minutes"`
	CriticalMinutes int    `json:"critical_minutes" yaml:"critical_minutes"`
}

const (
	PhaseOK       = "ok"
	PhaseWarning  = "warning"
	PhaseCritical = "critical"
	PhaseBreached = "breached"
)

type SLAStatus struct {
	TicketID         string  `json:"ticket_id"`
	Phase            string  `json:"phase"`
	Tracked          bool    `json:"tracked"`
	ElapsedMinutes   float64 `json:"elapsed_minutes"`
	RemainingSeconds *int64  `json:"remaining_seconds,omitempty"`
}
