// Package paper is an in-memory broker for DRY_RUN mode and tests. Limit
// orders fill against the simulated book after a configurable delay;
// quotes drift deterministically so repeated runs behave the same.
package paper

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"crypto-range-bot/internal/logger"
	"crypto-range-bot/internal/tier"
	"crypto-range-bot/internal/types"
)

// Params configures the simulated exchange.
type Params struct {
	// SpreadPct is the simulated (ask-bid)/mid, as a fraction.
	SpreadPct float64
	// FillDelay is how long an order rests before it fills. Zero fills on
	// the first status poll.
	FillDelay time.Duration
	// NeverFill leaves every order OPEN so timeout paths can be exercised.
	NeverFill bool
	// RequestsPerSec bounds simulated API calls, mirroring real exchange
	// rate limits.
	RequestsPerSec int
	// BasePrices seeds per-asset reference prices; unknown assets get 100.
	BasePrices map[string]float64
}

type order struct {
	req      types.OrderReq
	placedAt time.Time
	status   string
}

// Broker is the paper exchange.
type Broker struct {
	mu      sync.Mutex
	params  Params
	limiter *rate.Limiter
	orders  map[string]*order
	start   time.Time
}

func New(params Params) *Broker {
	if params.SpreadPct <= 0 {
		params.SpreadPct = 0.0002
	}
	if params.RequestsPerSec <= 0 {
		params.RequestsPerSec = 5
	}
	if params.BasePrices == nil {
		params.BasePrices = map[string]float64{
			"BTC": 42000, "ETH": 2500, "XRP": 0.60,
			"LTC": 80, "BCH": 250, "LINK": 15,
			"DOGE": 0.12, "SHIB": 0.00002, "TRUMP": 8,
		}
	}
	return &Broker{
		params:  params,
		limiter: rate.NewLimiter(rate.Limit(params.RequestsPerSec), params.RequestsPerSec),
		orders:  make(map[string]*order),
		start:   time.Now(),
	}
}

func (b *Broker) wait(ctx context.Context) error {
	return b.limiter.Wait(ctx)
}

// referencePrice is a slow deterministic sine drift around the base price.
func (b *Broker) referencePrice(symbol string) float64 {
	base, ok := b.params.BasePrices[tier.AssetOf(symbol)]
	if !ok {
		base = 100
	}
	elapsed := time.Since(b.start).Seconds()
	return base * (1 + 0.002*math.Sin(elapsed/60))
}

func (b *Broker) GetTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	if err := b.wait(ctx); err != nil {
		return types.Ticker{}, err
	}
	mid := b.referencePrice(symbol)
	half := mid * b.params.SpreadPct / 2
	return types.Ticker{Bid: mid - half, Ask: mid + half, Last: mid}, nil
}

func (b *Broker) PlaceLimitOrder(ctx context.Context, req types.OrderReq) (types.OrderResp, error) {
	if err := b.wait(ctx); err != nil {
		return types.OrderResp{}, err
	}
	if req.Qty <= 0 || req.Price <= 0 {
		return types.OrderResp{}, fmt.Errorf("paper: invalid order qty=%.8f price=%.8f", req.Qty, req.Price)
	}

	id := uuid.NewString()
	b.mu.Lock()
	b.orders[id] = &order{req: req, placedAt: time.Now(), status: types.OrderStatusOpen}
	b.mu.Unlock()

	logger.Debug(ctx, "Paper order placed",
		"order_id", id,
		"symbol", req.Symbol,
		"side", req.Side,
		"qty", req.Qty,
		"price", req.Price,
	)
	return types.OrderResp{OrderID: id, Status: types.OrderStatusOpen}, nil
}

func (b *Broker) GetOrderStatus(ctx context.Context, orderID string) (types.OrderStatus, error) {
	if err := b.wait(ctx); err != nil {
		return types.OrderStatus{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return types.OrderStatus{}, fmt.Errorf("paper: unknown order %s", orderID)
	}
	if o.status == types.OrderStatusOpen && !b.params.NeverFill &&
		time.Since(o.placedAt) >= b.params.FillDelay {
		o.status = types.OrderStatusFilled
	}
	st := types.OrderStatus{Status: o.status}
	if o.status == types.OrderStatusFilled {
		st.FilledQty = o.req.Qty
	}
	return st, nil
}

func (b *Broker) CancelOrder(ctx context.Context, orderID string) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("paper: unknown order %s", orderID)
	}
	if o.status == types.OrderStatusOpen || o.status == types.OrderStatusPartial {
		o.status = types.OrderStatusCancelled
	}
	return nil
}
