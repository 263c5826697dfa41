package brokerobs

import (
	"context"

	"crypto-range-bot/internal/interfaces"
	"crypto-range-bot/internal/logger"
	"crypto-range-bot/internal/trace"
	"crypto-range-bot/internal/types"
)

// observableBroker wraps a Broker with observability (logging & tracing)
type observableBroker struct {
	broker interfaces.Broker
}

// Compile-time interface check
var _ interfaces.Broker = (*observableBroker)(nil)

// Wrap wraps a broker with observability middleware
func Wrap(broker interfaces.Broker) interfaces.Broker {
	return &observableBroker{
		broker: broker,
	}
}

// GetTicker fetches a quote with observability
func (ob *observableBroker) GetTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	ctx, span := trace.StartSpan(ctx, "broker.GetTicker")
	defer span.End()

	logger.DebugSkip(ctx, 1, "Fetching ticker", "symbol", symbol)

	tick, err := ob.broker.GetTicker(ctx, symbol)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch ticker", err, "symbol", symbol)
		return types.Ticker{}, err
	}

	logger.DebugSkip(ctx, 1, "Ticker fetched successfully",
		"symbol", symbol,
		"bid", tick.Bid,
		"ask", tick.Ask,
	)
	return tick, nil
}

// PlaceLimitOrder places an order with observability
func (ob *observableBroker) PlaceLimitOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	ctx, span := trace.StartSpan(ctx, "broker.PlaceLimitOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Placing limit order",
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Qty,
		"price", req.Price,
		"tag", req.Tag,
	)

	resp, err := ob.broker.PlaceLimitOrder(ctx, req)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to place limit order", err,
			"symbol", req.Symbol,
			"side", req.Side,
			"qty", req.Qty,
		)
		return types.OrderResp{}, err
	}

	logger.InfoSkip(ctx, 1, "Limit order placed successfully",
		"symbol", req.Symbol,
		"order_id", resp.OrderID,
		"status", resp.Status,
	)
	return resp, nil
}

// GetOrderStatus polls an order with observability
func (ob *observableBroker) GetOrderStatus(ctx context.Context, orderID string) (types.OrderStatus, error) {
	ctx, span := trace.StartSpan(ctx, "broker.GetOrderStatus")
	defer span.End()

	st, err := ob.broker.GetOrderStatus(ctx, orderID)
	if err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to fetch order status", err, "order_id", orderID)
		return types.OrderStatus{}, err
	}

	logger.DebugSkip(ctx, 1, "Order status fetched",
		"order_id", orderID,
		"status", st.Status,
		"filled_qty", st.FilledQty,
	)
	return st, nil
}

// CancelOrder cancels an order with observability
func (ob *observableBroker) CancelOrder(ctx context.Context, orderID string) error {
	ctx, span := trace.StartSpan(ctx, "broker.CancelOrder")
	defer span.End()

	logger.InfoSkip(ctx, 1, "Cancelling order", "order_id", orderID)

	if err := ob.broker.CancelOrder(ctx, orderID); err != nil {
		logger.ErrorWithErrSkip(ctx, 1, "Failed to cancel order", err, "order_id", orderID)
		return err
	}

	logger.InfoSkip(ctx, 1, "Order cancelled successfully", "order_id", orderID)
	return nil
}
