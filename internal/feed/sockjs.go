package feed

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/igm/sockjs-go/sockjs"
)

type session interface {
	Recv() (string, error)
	Send(string) error
	Close(status uint32, reason string) error
}

// Authorizer decides whether a token may read a tenant's changes.
type Authorizer interface {
	Allows(token, tenantID string) bool
}

// NewSockJSHandler serves the realtime feed under prefix. Clients send
// {"action":"subscribe","token":...,"tenant_id":...,"branch_id":...,"ticket_id":...}
// and receive one JSON change per message. A nil auth admits every tenant.
func NewSockJSHandler(prefix string, hub *Hub, auth Authorizer) http.Handler {
	return sockjs.NewHandler(prefix, sockjs.DefaultOptions, func(s sockjs.Session) {
		ctx := context.Background()
		if req := s.Request(); req != nil {
			ctx = req.Context()
		}
		serveSession(ctx, s, hub, auth)
	})
}

func serveSession(ctx context.Context, s session, hub *Hub, auth Authorizer) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := func() {}
	defer func() { stop() }()

	for {
		msg, err := s.Recv()
		if err != nil {
			return
		}
		parsed, ok := ParseSubscribe([]byte(msg))
		if !ok {
			continue
		}
		stop()
		stop = func() {}
		if parsed.Action == "unsubscribe" {
			continue
		}
		if parsed.TenantID == "" {
			_ = s.Close(4001, "missing tenant")
			return
		}
		if auth != nil && !auth.Allows(parsed.Token, parsed.TenantID) {
			_ = s.Close(4003, "tenant access denied")
			return
		}

		subCtx, subCancel := context.WithCancel(ctx)
		changes := hub.Subscribe(subCtx, Subscription{
			TenantID: parsed.TenantID,
			BranchID: parsed.BranchID,
			TicketID: parsed.TicketID,
		})
		done := make(chan struct{})
		go func() {
			defer close(done)
			for change := range changes {
				body, err := json.Marshal(change)
				if err != nil {
					continue
				}
				if err := s.Send(string(body)); err != nil {
					subCancel()
				}
			}
		}()
		stop = func() {
			subCancel()
			<-done
		}
	}
}
