package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"

	"github.com/tidemark-lab/tidemark/pkg/errors"
)

type OrderSide string

type OrderType string

type OrderStatus string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

const (
	OrderTypeMarket OrderType = "MARKET"
	// OrderTypeTrailingStopClose closes an open position once price retraces
	// a configured fraction from its post-entry extreme. Managed locally by
	// the trailing book, not sent to the exchange as a native order type.
	OrderTypeTrailingStopClose OrderType = "TRAILING_STOP_CLOSE"
)

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusSubmitted       OrderStatus = "SUBMITTED"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

const (
	OrderReasonStrategy     string = "strategy"
	OrderReasonTrailingStop string = "trailing_stop"
	OrderReasonHandshake    string = "handshake"
	OrderReasonLiquidation  string = "liquidation"
	OrderReasonKillSwitch   string = "kill_switch"
)

// Reason records why an order was created.
type Reason struct {
	Reason  string `yaml:"reason" json:"reason" csv:"reason" validate:"required"`
	Message string `yaml:"message" json:"message" csv:"message"`
}

// ExecuteOrder is the request handed to an executor. ClientOrderID is the
// caller-assigned idempotency key: submitting the same ClientOrderID twice
// must not produce a second fill, in any mode.
type ExecuteOrder struct {
	ClientOrderID string    `yaml:"client_order_id" json:"client_order_id" csv:"client_order_id" validate:"required"`
	Symbol        string    `yaml:"symbol" json:"symbol" csv:"symbol" validate:"required"`
	Side          OrderSide `yaml:"side" json:"side" csv:"side" validate:"required,oneof=BUY SELL"`
	OrderType     OrderType `yaml:"order_type" json:"order_type" csv:"order_type" validate:"required,oneof=MARKET TRAILING_STOP_CLOSE"`
	Quantity      float64   `yaml:"quantity" json:"quantity" csv:"quantity" validate:"required,gt=0"`
	// ReferencePrice is the price the quantity was sized against. Simulated
	// fills anchor on it; live fills ignore it.
	ReferencePrice float64 `yaml:"reference_price" json:"reference_price" csv:"reference_price" validate:"required,gt=0"`
	StrategyID     string  `yaml:"strategy_id" json:"strategy_id" csv:"strategy_id" validate:"required"`
	Reason         Reason  `yaml:"reason" json:"reason" csv:"reason" validate:"required"`
	// TrailingPercent arms a trailing stop on the resulting position.
	// None means no trailing stop.
	TrailingPercent optional.Option[float64] `yaml:"trailing_percent" json:"trailing_percent" csv:"trailing_percent"`
}

// Order is the engine's record of a submitted order.
type Order struct {
	ClientOrderID string      `yaml:"client_order_id" json:"client_order_id" csv:"client_order_id"`
	ExchangeID    string      `yaml:"exchange_id" json:"exchange_id" csv:"exchange_id"`
	Symbol        string      `yaml:"symbol" json:"symbol" csv:"symbol" validate:"required"`
	Side          OrderSide   `yaml:"side" json:"side" csv:"side" validate:"required,oneof=BUY SELL"`
	OrderType     OrderType   `yaml:"order_type" json:"order_type" csv:"order_type"`
	Quantity      float64     `yaml:"quantity" json:"quantity" csv:"quantity" validate:"required,gt=0"`
	Price         float64     `yaml:"price" json:"price" csv:"price" validate:"gte=0"`
	Status        OrderStatus `yaml:"status" json:"status" csv:"status"`
	StrategyID    string      `yaml:"strategy_id" json:"strategy_id" csv:"strategy_id"`
	Reason        Reason      `yaml:"reason" json:"reason" csv:"reason"`
	SubmittedAt   time.Time   `yaml:"submitted_at" json:"submitted_at" csv:"submitted_at"`
}

// Fill is one execution against an order. ExecID dedupes fills that arrive
// on both the private stream and the polling path.
type Fill struct {
	ExecID        string    `yaml:"exec_id" json:"exec_id" csv:"exec_id" validate:"required"`
	ClientOrderID string    `yaml:"client_order_id" json:"client_order_id" csv:"client_order_id" validate:"required"`
	Symbol        string    `yaml:"symbol" json:"symbol" csv:"symbol" validate:"required"`
	Side          OrderSide `yaml:"side" json:"side" csv:"side" validate:"required,oneof=BUY SELL"`
	Quantity      float64   `yaml:"quantity" json:"quantity" csv:"quantity" validate:"required,gt=0"`
	Price         float64   `yaml:"price" json:"price" csv:"price" validate:"required,gt=0"`
	Fee           float64   `yaml:"fee" json:"fee" csv:"fee" validate:"gte=0"`
	StrategyID    string    `yaml:"strategy_id" json:"strategy_id" csv:"strategy_id"`
	ExecutedAt    time.Time `yaml:"executed_at" json:"executed_at" csv:"executed_at" validate:"required"`
}

// ExecutionReport is what an executor returns for a submission.
type ExecutionReport struct {
	Order Order  `yaml:"order" json:"order"`
	Fills []Fill `yaml:"fills" json:"fills"`
}

// IsTerminal reports whether the status can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusRejected || s == OrderStatusCancelled
}

// Validate validates the ExecuteOrder struct.
func (eo *ExecuteOrder) Validate() error {
	validate := validator.New()
	if err := validate.Struct(eo); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidExecuteOrder, "invalid execute order", err)
	}

	if eo.TrailingPercent.IsSome() {
		pct := eo.TrailingPercent.Unwrap()
		if pct <= 0 || pct >= 1 {
			return errors.Newf(errors.ErrCodeInvalidExecuteOrder, "trailing percent %f outside (0, 1)", pct)
		}
	}

	return nil
}

// Validate validates the Fill struct.
func (f *Fill) Validate() error {
	validate := validator.New()
	if err := validate.Struct(f); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidExecuteOrder, "invalid fill", err)
	}

	return nil
}
