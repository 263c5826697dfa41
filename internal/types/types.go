package types

// Order sides. Plain strings on the wire, constants to avoid typos.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Signal actions.
const (
	ActionBuy  = "BUY"
	ActionSell = "SELL"
	ActionHold = "HOLD"
)

// Broker order statuses.
const (
	OrderStatusOpen      = "OPEN"
	OrderStatusPartial   = "PARTIAL"
	OrderStatusFilled    = "FILLED"
	OrderStatusCancelled = "CANCELLED"
	OrderStatusRejected  = "REJECTED"
)

type Candle struct {
	Ts                          int64
	Open, High, Low, Close, Vol float64
}

// Ticker is a top-of-book snapshot from the broker.
type Ticker struct {
	Bid  float64 `json:"bid"`
	Ask  float64 `json:"ask"`
	Last float64 `json:"last"`
}

type Signal struct {
	Action     string  `json:"action"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
}

type OrderReq struct {
	Symbol string
	Side   string
	Qty    float64
	Price  float64
	Tag    string
}

type OrderResp struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type OrderStatus struct {
	Status    string  `json:"status"`
	FilledQty float64 `json:"filled_qty"`
}

// StepResult summarizes one symbol's pass through a cycle tick.
type StepResult struct {
	Symbol string      `json:"symbol"`
	Action string      `json:"action"`
	Price  float64     `json:"price"`
	Time   int64       `json:"time"`
	Orders []OrderResp `json:"orders,omitempty"`
	Reason string      `json:"reason"`
}
