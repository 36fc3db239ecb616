// Package payment adapts external payment gateways. The rest of the system
// only sees Gateway and treats the returned handle as opaque.
package payment

import (
	"context"

	"github.com/shopspring/decimal"

	"barpos/backend/internal/domain"
	"barpos/backend/internal/xid"
)

type Gateway interface {
	InitiatePush(ctx context.Context, amount decimal.Decimal, phone string, reference string) (domain.PushResult, error)
}

// StaticGateway accepts every push and hands back a generated handle.
// Confirmation is expected through the callback endpoint or reconciliation.
type StaticGateway struct {
	Decline bool
	Message string
}

func (g StaticGateway) InitiatePush(_ context.Context, _ decimal.Decimal, _ string, _ string) (domain.PushResult, error) {
	if g.Decline {
		msg := g.Message
		if msg == "" {
			msg = "push declined"
		}
		return domain.PushResult{Accepted: false, Message: msg}, nil
	}
	return domain.PushResult{
		Accepted: true,
		Handle:   xid.New("ws_CO"),
		Message:  "Success. Request accepted for processing",
	}, nil
}
