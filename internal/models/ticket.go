package models

import "time"

type Ticket struct {
	TicketID        string     `json:"ticket_id"`
	TicketNumber    string     `json:"ticket_number"`
	TenantID        string     `json:"tenant_id,omitempty"`
	BranchID        string     `json:"branch_id,omitempty"`
	ServiceID       string     `json:"service_id,omitempty"`
	StationID       *string    `json:"station_id,omitempty"`
	AgentID         *string    `json:"agent_id,omitempty"`
	Customer        Customer   `json:"customer"`
	Status          string     `json:"status"`
	Priority        int        `json:"priority"`
	PriorityRuleID  string     `json:"priority_rule_id,omitempty"`
	Source          string     `json:"source"`
	RequestID       string     `json:"request_id,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	CalledAt        *time.Time `json:"called_at,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	WaitSeconds     *int64     `json:"wait_seconds,omitempty"`
	ServiceSeconds  *int64     `json:"service_seconds,omitempty"`
	RecallCount     int        `json:"recall_count"`
	Notes           string     `json:"notes,omitempty"`
	TransferredFrom string     `json:"transferred_from,omitempty"`
	Feedback        *Feedback  `json:"feedback,omitempty"`
}

// Customer carries the identity fields captured at intake. All of them are
// optional; priority rules only match the ones present.
type Customer struct {
	Name       string            `json:"name"`
	MemberRef  string            `json:"member_ref,omitempty"`
	MemberTier string            `json:"member_tier,omitempty"`
	Phone      string            `json:"phone,omitempty"`
	PushTarget string            `json:"push_target,omitempty"`
	BirthDate  *time.Time        `json:"birth_date,omitempty"`
	Disability bool              `json:"disability,omitempty"`
	Pregnant   bool              `json:"pregnant,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type Feedback struct {
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	Sentiment   string    `json:"sentiment,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

const (
	StatusWaiting     = "waiting"
	StatusCalled      = "called"
	StatusServing     = "serving"
	StatusOnHold      = "on_hold"
	StatusCompleted   = "completed"
	StatusTransferred = "transferred"
	StatusNoShow      = "no_show"
	StatusCancelled   = "cancelled"
)

const (
	SourceKiosk = "kiosk"
	SourceWeb   = "web"
	SourcePhone = "phone"
)

const (
	PriorityNormal = 0
	PriorityUrgent = 3
)

// IsActive reports whether the ticket still occupies the queue or a station.
func IsActive(status string) bool {
	switch status {
	case StatusWaiting, StatusCalled, StatusServing, StatusOnHold:
		return true
	default:
		return false
	}
}

func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusTransferred, StatusNoShow, StatusCancelled:
		return true
	default:
		return false
	}
}
