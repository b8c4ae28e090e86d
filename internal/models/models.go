// Package models defines the persisted entities of the signal-to-position
// lifecycle: signals, decisions, orders, trades, positions, market context,
// GEX summaries, risk configuration, and the audit trail.
//
// Every monetary field is a decimal column; confidence scores and GEX
// strengths are plain floats because they are never money.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ContractMultiplier is the option contract multiplier. P&L is always
// (price delta) * quantity * ContractMultiplier.
const ContractMultiplier = 100

// Direction of the underlying opinion and the option type traded.
type Direction string

const (
	DirectionCall Direction = "CALL"
	DirectionPut  Direction = "PUT"
)

// Valid reports whether d is one of the two tradeable directions.
func (d Direction) Valid() bool {
	return d == DirectionCall || d == DirectionPut
}

// TradeMode selects simulated or live execution.
type TradeMode string

const (
	ModePaper TradeMode = "PAPER"
	ModeLive  TradeMode = "LIVE"
)

// SignalStatus tracks a signal through the pipeline.
type SignalStatus string

const (
	SignalNew      SignalStatus = "NEW"
	SignalApproved SignalStatus = "APPROVED"
	SignalRejected SignalStatus = "REJECTED"
	SignalOrdered  SignalStatus = "ORDERED"
)

// DecisionType distinguishes entry orchestration from exit orchestration.
type DecisionType string

const (
	DecisionEntry DecisionType = "ENTRY"
	DecisionExit  DecisionType = "EXIT"
)

// Verdict is the orchestrator's answer.
type Verdict string

const (
	VerdictEnter  Verdict = "ENTER"
	VerdictReject Verdict = "REJECT"
	VerdictExit   Verdict = "EXIT"
	VerdictHold   Verdict = "HOLD"
)

// OrderSide is the direction of the order itself.
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderType maps exit urgency to execution style.
type OrderType string

const (
	OrderMarket OrderType = "MARKET"
	OrderLimit  OrderType = "LIMIT"
)

// TimeInForce for submitted orders.
type TimeInForce string

const (
	TIFDay TimeInForce = "DAY"
	TIFGTC TimeInForce = "GTC"
	TIFIOC TimeInForce = "IOC"
	TIFFOK TimeInForce = "FOK"
)

// OrderStatus is the order state machine. Terminal states never revert.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderSubmitted OrderStatus = "SUBMITTED"
	OrderPartial   OrderStatus = "PARTIAL"
	OrderFilled    OrderStatus = "FILLED"
	OrderCancelled OrderStatus = "CANCELLED"
	OrderRejected  OrderStatus = "REJECTED"
	OrderExpired   OrderStatus = "EXPIRED"
)

// Terminal reports whether no further status write is allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// PositionStatus is OPEN or CLOSED.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "OPEN"
	PositionClosed PositionStatus = "CLOSED"
)

// JSONMap is an opaque bag persisted as a JSON column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("jsonmap: cannot scan %T", src)
	}
	return json.Unmarshal(b, m)
}

// StringList is an ordered list persisted as a JSON column.
type StringList []string

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *StringList) Scan(src interface{}) error {
	if src == nil {
		*l = nil
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("stringlist: cannot scan %T", src)
	}
	return json.Unmarshal(b, l)
}

// ValidationResult is written exactly once by the signal processor; a signal
// with a non-nil result is terminal.
type ValidationResult struct {
	Valid      bool     `json:"valid"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons,omitempty"`
	DecidedAt  string   `json:"decided_at"`
}

func (r ValidationResult) Value() (driver.Value, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (r *ValidationResult) Scan(src interface{}) error {
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("validationresult: cannot scan %T", src)
	}
	return json.Unmarshal(b, r)
}

// Signal is one normalized external opinion.
type Signal struct {
	ID               string `gorm:"primaryKey"`
	CorrelationID    string `gorm:"index"`
	Source           string `gorm:"index"` // dialect tag
	Symbol           string `gorm:"index"`
	Direction        Direction
	Timeframe        string
	Timestamp        time.Time
	Metadata         JSONMap           `gorm:"type:text"`
	ValidationResult *ValidationResult `gorm:"type:text"`
	Status           SignalStatus      `gorm:"index;default:NEW"`
	CreatedAt        time.Time         `gorm:"index"`
	UpdatedAt        time.Time
}

// Decision is the orchestrator's append-only output.
type Decision struct {
	ID              uint   `gorm:"primaryKey;autoIncrement"`
	SignalID        string `gorm:"index"`
	PositionID      *uint  `gorm:"index"` // set on EXIT decisions
	DecisionType    DecisionType
	Decision        Verdict
	Confidence      float64
	PositionSize    int
	Reasoning       StringList `gorm:"type:text"`
	Calculations    JSONMap    `gorm:"type:text"`
	TradePlan       JSONMap    `gorm:"type:text"` // per-trade exit thresholds, set on ENTER
	ContextSnapshot JSONMap    `gorm:"type:text"`
	GEXSnapshot     JSONMap    `gorm:"type:text"`
	CreatedAt       time.Time  `gorm:"index"`
}

// Order is an intent to trade one option contract series.
type Order struct {
	ID            uint    `gorm:"primaryKey;autoIncrement"`
	SignalID      string  `gorm:"index"`
	ClientOrderID string  `gorm:"uniqueIndex"`
	BrokerOrderID *string `gorm:"index"`
	Underlying    string
	OptionSymbol  string
	Strike        decimal.Decimal `gorm:"type:decimal(12,6)"`
	Expiration    time.Time
	OptionType    Direction
	Side          OrderSide
	Quantity      int
	OrderType     OrderType
	LimitPrice    *decimal.Decimal `gorm:"type:decimal(12,6)"`
	TimeInForce   TimeInForce
	Mode          TradeMode   `gorm:"index"`
	Status        OrderStatus `gorm:"index"`
	FilledQty     int
	AvgFillPrice  *decimal.Decimal `gorm:"type:decimal(12,6)"`

	// Exit-order linkage. Exit orders reference the position they close;
	// the paper executor and the live order poller resolve positions by
	// this id, never by signal id.
	ExitAction           *string
	ExitQuantity         *int
	RefactoredPositionID *uint `gorm:"index"`

	CreatedAt time.Time `gorm:"index"`
	UpdatedAt time.Time
}

// Trade is one broker-confirmed (or simulated) fill. Immutable after insert.
type Trade struct {
	ID             uint            `gorm:"primaryKey;autoIncrement"`
	OrderID        uint            `gorm:"index"`
	ExecutionPrice decimal.Decimal `gorm:"type:decimal(12,6)"`
	Quantity       int
	Commission     decimal.Decimal `gorm:"type:decimal(12,6)"`
	Fees           decimal.Decimal `gorm:"type:decimal(12,6)"`
	TotalCost      decimal.Decimal `gorm:"type:decimal(14,6)"`
	ExecutedAt     time.Time       `gorm:"index"`
	CreatedAt      time.Time
}

// Position is the net exposure from an entry fill. At most one OPEN row per
// signal id (enforced in the store).
type Position struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	SignalID      string `gorm:"index"`
	Symbol        string `gorm:"index"`
	OptionSymbol  string
	Strike        decimal.Decimal `gorm:"type:decimal(12,6)"`
	Expiration    time.Time
	Direction     Direction
	Quantity      int
	EntryPrice    decimal.Decimal `gorm:"type:decimal(12,6)"`
	EntryTime     time.Time
	CurrentPrice  *decimal.Decimal `gorm:"type:decimal(12,6)"`
	UnrealizedPnL *decimal.Decimal `gorm:"column:unrealized_pnl;type:decimal(14,6)"`
	ExitPrice     *decimal.Decimal `gorm:"type:decimal(12,6)"`
	ExitTime      *time.Time
	RealizedPnL   *decimal.Decimal `gorm:"column:realized_pnl;type:decimal(14,6)"`
	Status        PositionStatus   `gorm:"index"`
	HighWaterMark *decimal.Decimal `gorm:"type:decimal(12,6)"`
	EntryIV       *decimal.Decimal `gorm:"type:decimal(10,6)"`
	Mode          TradeMode        `gorm:"index"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DTE returns whole days until expiration, floored at zero.
func (p *Position) DTE(now time.Time) int {
	d := int(p.Expiration.Sub(now).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

// ContextSnapshot is time-stamped market regime data produced externally.
type ContextSnapshot struct {
	ID               uint `gorm:"primaryKey;autoIncrement"`
	VIX              float64
	SPYPrice         decimal.Decimal `gorm:"type:decimal(12,6)"`
	Trend            string
	Bias             string
	Regime           string
	RegimeConfidence float64
	CreatedAt        time.Time `gorm:"index"`
}

// GEXSignal is a gamma-exposure summary for one (symbol, timeframe).
type GEXSignal struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	Symbol         string `gorm:"index"`
	Timeframe      string
	Strength       float64 // [-1, 1]
	Direction      string  // BULLISH / BEARISH / NEUTRAL
	NetGEX         float64
	DealerPosition string // LONG_GAMMA / SHORT_GAMMA
	ZeroGamma      decimal.Decimal `gorm:"type:decimal(12,6)"`
	CallWall       decimal.Decimal `gorm:"type:decimal(12,6)"`
	PutWall        decimal.Decimal `gorm:"type:decimal(12,6)"`
	MaxPain        decimal.Decimal `gorm:"type:decimal(12,6)"`
	PCRatio        float64
	Regime         string
	FlipDetected   bool
	Timestamp      time.Time `gorm:"index"`
	CreatedAt      time.Time
}

// Age of the summary relative to now.
func (g *GEXSignal) Age(now time.Time) time.Duration {
	return now.Sub(g.Timestamp)
}

// RiskLimits is the mode-scoped risk configuration. The most recent active
// row per mode is authoritative.
type RiskLimits struct {
	ID                  uint      `gorm:"primaryKey;autoIncrement"`
	Mode                TradeMode `gorm:"index"`
	MaxOpenPositions    int
	MaxDailyLoss        decimal.Decimal `gorm:"type:decimal(14,6)"`
	MaxPositionSize     int
	MinPositionSize     int
	BaseQuantity        int
	MaxVixForEntry      float64
	VixSizeReduction    float64 // multiplier applied above the VIX cap
	VixHardReject       bool
	MaxDelta            decimal.Decimal `gorm:"type:decimal(12,6)"`
	MaxGamma            decimal.Decimal `gorm:"type:decimal(12,6)"`
	MaxTheta            decimal.Decimal `gorm:"type:decimal(12,6)"`
	MaxVega             decimal.Decimal `gorm:"type:decimal(12,6)"`
	RequireMTFAgreement bool
	AutoCloseEnabled    bool
	Active              bool `gorm:"index"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ExitRules holds the active exit thresholds per mode.
type ExitRules struct {
	ID              uint      `gorm:"primaryKey;autoIncrement"`
	Mode            TradeMode `gorm:"index"`
	StopLossPct     float64   // e.g. 0.50 = exit at -50%
	Target1Pct      float64
	Target2Pct      float64
	TrailingStopPct float64
	MinDTE          int
	MaxDaysInTrade  int
	Active          bool `gorm:"index"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Audit event types.
const (
	AuditSignalReceived = "signal_received"
	AuditDecisionMade   = "decision_made"
	AuditTradeOpened    = "trade_opened"
	AuditTradeClosed    = "trade_closed"
)

// AuditLogEntry is one append-only pipeline event.
type AuditLogEntry struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	EventType     string `gorm:"index"`
	CorrelationID string `gorm:"index"`
	SignalID      string `gorm:"index"`
	Symbol        string `gorm:"index"`
	DecisionType  string
	Verdict       string
	Details       JSONMap   `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"index"`
}

// Pipeline stages, recorded on rejection.
const (
	StageNormalization = "NORMALIZATION"
	StageValidation    = "VALIDATION"
	StageDeduplication = "DEDUPLICATION"
	StageDecision      = "DECISION"
	StagePersistence   = "PERSISTENCE"
)

// PipelineFailure is one row per pipeline rejection, tagged with the stage
// that rejected it.
type PipelineFailure struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	Stage         string `gorm:"index"`
	Reason        string
	Source        string
	Symbol        string
	CorrelationID string `gorm:"index"`
	RawPayload    string `gorm:"type:text"`
	CreatedAt     time.Time
}
