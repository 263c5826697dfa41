package interfaces

import (
	"context"

	"crypto-range-bot/internal/types"
)

// Broker is the exchange capability consumed by the execution layer.
// Order placement is limit-only; the guardrails layer is the single
// chokepoint allowed to call PlaceLimitOrder.
type Broker interface {
	GetTicker(ctx context.Context, symbol string) (types.Ticker, error)
	PlaceLimitOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error)
	GetOrderStatus(ctx context.Context, orderID string) (types.OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error
}
