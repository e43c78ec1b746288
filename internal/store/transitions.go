package store

import "qms/queue-service/internal/models"

const (
	ActionCallNext = "call_next"
	ActionStart    = "start_serving"
	ActionHold     = "hold"
	ActionResume   = "resume"
	ActionComplete = "complete"
	ActionNoShow   = "no_show"
	ActionCancel   = "cancel"
	ActionTransfer = "transfer"
	ActionRecall   = "recall"
	ActionEscalate = "escalate"
)

const (
	StampNone      = ""
	StampStarted   = "started_at"
	StampCompleted = "completed_at"
)

// Rule describes one guarded transition. An empty To leaves the status
// unchanged (recall, escalate).
type Rule struct {
	From         []string
	To           string
	EventType    string
	Stamp        string
	RequireAgent bool
}

var transitionMap = map[string]Rule{
	ActionCallNext: {From: []string{models.StatusWaiting}, To: models.StatusCalled, EventType: "ticket.called"},
	ActionStart:    {From: []string{models.StatusCalled}, To: models.StatusServing, EventType: "ticket.serving", Stamp: StampStarted, RequireAgent: true},
	ActionHold:     {From: []string{models.StatusServing}, To: models.StatusOnHold, EventType: "ticket.held", RequireAgent: true},
	ActionResume:   {From: []string{models.StatusOnHold}, To: models.StatusServing, EventType: "ticket.resumed", RequireAgent: true},
	ActionComplete: {From: []string{models.StatusServing}, To: models.StatusCompleted, EventType: "ticket.completed", Stamp: StampCompleted, RequireAgent: true},
	ActionNoShow:   {From: []string{models.StatusCalled, models.StatusServing}, To: models.StatusNoShow, EventType: "ticket.no_show", Stamp: StampCompleted, RequireAgent: true},
	ActionCancel:   {From: []string{models.StatusWaiting, models.StatusCalled}, To: models.StatusCancelled, EventType: "ticket.cancelled", Stamp: StampCompleted},
	ActionTransfer: {From: []string{models.StatusServing}, To: models.StatusTransferred, EventType: "ticket.transferred", Stamp: StampCompleted},
	ActionRecall:   {From: []string{models.StatusCalled}, EventType: "ticket.recalled"},
	ActionEscalate: {From: []string{models.StatusWaiting, models.StatusCalled}, EventType: "ticket.escalated"},
}

const (
	EventCreated  = "ticket.created"
	EventFeedback = "ticket.feedback"
)

const ReasonAutoNoShow = "call expired"

// TransferNote is the context note carried by the ticket created on transfer.
func TransferNote(fromNumber, reason string) string {
	note := "transferred from " + fromNumber
	if reason != "" {
		note += ": " + reason
	}
	return note
}

func LookupRule(action string) (Rule, bool) {
	rule, ok := transitionMap[action]
	return rule, ok
}

func ValidTransition(action, fromStatus string) bool {
	rule, ok := transitionMap[action]
	if !ok {
		return false
	}
	return rule.Allows(fromStatus)
}

func (r Rule) Allows(status string) bool {
	for _, from := range r.From {
		if from == status {
			return true
		}
	}
	return false
}
