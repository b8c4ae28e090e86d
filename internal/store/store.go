// Package store is the single transactional gateway to the database.
//
// All durable state flows through here: no other component issues SQL.
// Multi-statement writes (order insert + position insert + signal status
// bump) run inside WithTransaction. Status transitions that could race
// between workers use optimistic updates whose WHERE clause includes the
// expected prior status; zero rows affected surfaces as ErrConflict.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tradeforge/optionpipe/internal/models"
)

var (
	// ErrNotFound means no row matched.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate means a unique constraint was violated (client_order_id,
	// open position per signal).
	ErrDuplicate = errors.New("store: duplicate")
	// ErrConflict means an optimistic status transition lost the race;
	// the caller abandons the item and retries next cycle.
	ErrConflict = errors.New("store: conflict")
	// ErrTransient wraps retryable driver errors (locked database, broken
	// connection). Callers retry once, then treat the item as failed.
	ErrTransient = errors.New("store: transient")
)

// Store wraps a gorm DB with typed operations per entity.
type Store struct {
	db *gorm.DB
}

// New opens the database. A postgres:// URL selects the Postgres driver,
// anything else is treated as a SQLite file path.
func New(dbPath string) (*Store, error) {
	var db *gorm.DB
	var err error

	gcfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	}

	if strings.HasPrefix(dbPath, "postgres://") || strings.HasPrefix(dbPath, "postgresql://") {
		db, err = gorm.Open(postgres.Open(dbPath), gcfg)
		if err != nil {
			return nil, err
		}
		log.Info().Msg("Database connected (PostgreSQL)")
	} else {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		db, err = gorm.Open(sqlite.Open(dbPath), gcfg)
		if err != nil {
			return nil, err
		}
		log.Info().Str("path", dbPath).Msg("Database initialized (SQLite)")
	}

	if err := db.AutoMigrate(
		&models.Signal{}, &models.Decision{}, &models.Order{}, &models.Trade{},
		&models.Position{}, &models.ContextSnapshot{}, &models.GEXSignal{},
		&models.RiskLimits{}, &models.ExitRules{}, &models.AuditLogEntry{},
		&models.PipelineFailure{},
	); err != nil {
		return nil, err
	}

	return &Store{db: db}, nil
}

// NewWithDB wraps an existing gorm DB (used in tests).
func NewWithDB(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTransaction runs fn inside one transaction. fn receives a Store bound
// to the transaction; returning an error rolls everything back.
func (s *Store) WithTransaction(fn func(tx *Store) error) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// classify maps driver errors to the store's error kinds.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "duplicate key") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "connection") {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return err
}

// ---------------------------------------------------------------------------
// Signals

func (s *Store) CreateSignal(sig *models.Signal) error {
	return classify(s.db.Create(sig).Error)
}

func (s *Store) GetSignal(id string) (*models.Signal, error) {
	var sig models.Signal
	if err := s.db.First(&sig, "id = ?", id).Error; err != nil {
		return nil, classify(err)
	}
	return &sig, nil
}

// GetPendingSignals returns signals with no validation result yet, oldest
// first, capped at limit.
func (s *Store) GetPendingSignals(limit int) ([]models.Signal, error) {
	var sigs []models.Signal
	err := s.db.Where("validation_result IS NULL").
		Order("created_at ASC").Limit(limit).Find(&sigs).Error
	return sigs, classify(err)
}

// SetSignalValidation writes the validation result exactly once. A signal
// that already carries a result is terminal; the write is rejected with
// ErrConflict.
func (s *Store) SetSignalValidation(id string, result *models.ValidationResult, status models.SignalStatus) error {
	res := s.db.Model(&models.Signal{}).
		Where("id = ? AND validation_result IS NULL", id).
		Updates(map[string]interface{}{
			"validation_result": result,
			"status":            status,
			"updated_at":        time.Now(),
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// GetApprovedSignalsWithoutOrders returns APPROVED signals that have no
// order row yet, oldest first.
func (s *Store) GetApprovedSignalsWithoutOrders(limit int) ([]models.Signal, error) {
	var sigs []models.Signal
	err := s.db.Where("status = ?", models.SignalApproved).
		Where("id NOT IN (?)", s.db.Model(&models.Order{}).Select("signal_id")).
		Order("created_at ASC").Limit(limit).Find(&sigs).Error
	return sigs, classify(err)
}

// UpdateSignalStatusIf transitions a signal's status only when it still has
// the expected prior status.
func (s *Store) UpdateSignalStatusIf(id string, expected, next models.SignalStatus) error {
	res := s.db.Model(&models.Signal{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(map[string]interface{}{"status": next, "updated_at": time.Now()})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// LastSignalTime returns the created_at of the newest signal, if any.
func (s *Store) LastSignalTime() (*time.Time, error) {
	var sig models.Signal
	err := s.db.Order("created_at DESC").First(&sig).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &sig.CreatedAt, nil
}

// ---------------------------------------------------------------------------
// Decisions

func (s *Store) CreateDecision(d *models.Decision) error {
	return classify(s.db.Create(d).Error)
}

func (s *Store) GetEntryDecision(signalID string) (*models.Decision, error) {
	var d models.Decision
	err := s.db.Where("signal_id = ? AND decision_type = ?", signalID, models.DecisionEntry).
		First(&d).Error
	if err != nil {
		return nil, classify(err)
	}
	return &d, nil
}

// ---------------------------------------------------------------------------
// Orders

func (s *Store) CreateOrder(o *models.Order) error {
	return classify(s.db.Create(o).Error)
}

func (s *Store) GetOrder(id uint) (*models.Order, error) {
	var o models.Order
	if err := s.db.First(&o, id).Error; err != nil {
		return nil, classify(err)
	}
	return &o, nil
}

// GetOrdersByStatus returns orders in the given statuses for a mode,
// oldest first.
func (s *Store) GetOrdersByStatus(mode models.TradeMode, statuses []models.OrderStatus, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.Where("mode = ? AND status IN ?", mode, statuses).
		Order("created_at ASC").Limit(limit).Find(&orders).Error
	return orders, classify(err)
}

// UpdateOrderStatusIf transitions an order only from the expected status.
// Terminal states never revert: the guard also refuses any write when the
// current status is terminal.
func (s *Store) UpdateOrderStatusIf(id uint, expected, next models.OrderStatus, updates map[string]interface{}) error {
	if expected.Terminal() {
		return ErrConflict
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = next
	updates["updated_at"] = time.Now()
	res := s.db.Model(&models.Order{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// HasPendingExitOrder reports whether the position already has an in-flight
// exit order. The exit monitor checks this before emitting a new one.
func (s *Store) HasPendingExitOrder(positionID uint) (bool, error) {
	var count int64
	err := s.db.Model(&models.Order{}).
		Where("refactored_position_id = ? AND side = ? AND status IN ?",
			positionID, models.SideSell,
			[]models.OrderStatus{models.OrderPending, models.OrderSubmitted, models.OrderPartial}).
		Count(&count).Error
	return count > 0, classify(err)
}

// LastOrderTime returns the created_at of the newest order, if any.
func (s *Store) LastOrderTime() (*time.Time, error) {
	var o models.Order
	err := s.db.Order("created_at DESC").First(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &o.CreatedAt, nil
}

// ---------------------------------------------------------------------------
// Trades

func (s *Store) CreateTrade(t *models.Trade) error {
	return classify(s.db.Create(t).Error)
}

func (s *Store) GetTradesByOrder(orderID uint) ([]models.Trade, error) {
	var trades []models.Trade
	err := s.db.Where("order_id = ?", orderID).Order("executed_at ASC").Find(&trades).Error
	return trades, classify(err)
}

// ---------------------------------------------------------------------------
// Positions

// CreatePosition inserts an OPEN position. At most one OPEN position may
// exist per signal id; a second insert is classified as a duplicate.
func (s *Store) CreatePosition(p *models.Position) error {
	var count int64
	if err := s.db.Model(&models.Position{}).
		Where("signal_id = ? AND status = ?", p.SignalID, models.PositionOpen).
		Count(&count).Error; err != nil {
		return classify(err)
	}
	if count > 0 {
		return fmt.Errorf("%w: open position exists for signal %s", ErrDuplicate, p.SignalID)
	}
	return classify(s.db.Create(p).Error)
}

func (s *Store) GetPosition(id uint) (*models.Position, error) {
	var p models.Position
	if err := s.db.First(&p, id).Error; err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

func (s *Store) GetOpenPositions() ([]models.Position, error) {
	var ps []models.Position
	err := s.db.Where("status = ?", models.PositionOpen).Order("entry_time ASC").Find(&ps).Error
	return ps, classify(err)
}

// GetOpenPositionBySignal returns the single OPEN position for a signal.
func (s *Store) GetOpenPositionBySignal(signalID string) (*models.Position, error) {
	var p models.Position
	err := s.db.Where("signal_id = ? AND status = ?", signalID, models.PositionOpen).First(&p).Error
	if err != nil {
		return nil, classify(err)
	}
	return &p, nil
}

// UpdatePositionPrice refreshes mark-to-market fields on an open position.
func (s *Store) UpdatePositionPrice(id uint, current, unrealized, highWater decimal.Decimal) error {
	res := s.db.Model(&models.Position{}).
		Where("id = ? AND status = ?", id, models.PositionOpen).
		Updates(map[string]interface{}{
			"current_price":   current,
			"unrealized_pnl": unrealized,
			"high_water_mark": highWater,
			"updated_at":      time.Now(),
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ClosePosition atomically transitions OPEN -> CLOSED with the exit fields.
func (s *Store) ClosePosition(id uint, exitPrice, realizedPnL decimal.Decimal, exitTime time.Time) error {
	res := s.db.Model(&models.Position{}).
		Where("id = ? AND status = ?", id, models.PositionOpen).
		Updates(map[string]interface{}{
			"status":        models.PositionClosed,
			"exit_price":    exitPrice,
			"realized_pnl": realizedPnL,
			"exit_time":     exitTime,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// ReducePosition shrinks an open position's quantity after a partial exit.
func (s *Store) ReducePosition(id uint, expectedQty, newQty int) error {
	res := s.db.Model(&models.Position{}).
		Where("id = ? AND status = ? AND quantity = ?", id, models.PositionOpen, expectedQty).
		Updates(map[string]interface{}{"quantity": newQty, "updated_at": time.Now()})
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrConflict
	}
	return nil
}

// PositionAggregates summarizes exposure for the metrics surface.
type PositionAggregates struct {
	OpenCount     int64
	TotalExposure decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
}

func (s *Store) GetPositionAggregates() (*PositionAggregates, error) {
	agg := &PositionAggregates{}
	if err := s.db.Model(&models.Position{}).
		Where("status = ?", models.PositionOpen).Count(&agg.OpenCount).Error; err != nil {
		return nil, classify(err)
	}

	var row struct {
		Exposure   decimal.Decimal
		Unrealized decimal.Decimal
	}
	err := s.db.Model(&models.Position{}).
		Select("COALESCE(SUM(entry_price * quantity * 100), 0) as exposure, COALESCE(SUM(unrealized_pnl), 0) as unrealized").
		Where("status = ?", models.PositionOpen).Scan(&row).Error
	if err != nil {
		return nil, classify(err)
	}
	agg.TotalExposure = row.Exposure
	agg.UnrealizedPnL = row.Unrealized

	var realized struct{ Total decimal.Decimal }
	err = s.db.Model(&models.Position{}).
		Select("COALESCE(SUM(realized_pnl), 0) as total").
		Where("status = ?", models.PositionClosed).Scan(&realized).Error
	if err != nil {
		return nil, classify(err)
	}
	agg.RealizedPnL = realized.Total
	return agg, nil
}

// DailyRealizedPnL sums realized P&L for positions closed since midnight.
func (s *Store) DailyRealizedPnL(now time.Time) (decimal.Decimal, error) {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var row struct{ Total decimal.Decimal }
	err := s.db.Model(&models.Position{}).
		Select("COALESCE(SUM(realized_pnl), 0) as total").
		Where("status = ? AND exit_time >= ?", models.PositionClosed, midnight).
		Scan(&row).Error
	return row.Total, classify(err)
}

// ---------------------------------------------------------------------------
// Context and GEX

func (s *Store) SaveContextSnapshot(cs *models.ContextSnapshot) error {
	return classify(s.db.Create(cs).Error)
}

// GetLatestContext returns the most recent snapshot.
func (s *Store) GetLatestContext() (*models.ContextSnapshot, error) {
	var cs models.ContextSnapshot
	if err := s.db.Order("created_at DESC").First(&cs).Error; err != nil {
		return nil, classify(err)
	}
	return &cs, nil
}

func (s *Store) SaveGEXSignal(g *models.GEXSignal) error {
	return classify(s.db.Create(g).Error)
}

// GetLatestGEX returns the most recent GEX summary for a symbol.
func (s *Store) GetLatestGEX(symbol string) (*models.GEXSignal, error) {
	var g models.GEXSignal
	err := s.db.Where("symbol = ?", symbol).Order("timestamp DESC").First(&g).Error
	if err != nil {
		return nil, classify(err)
	}
	return &g, nil
}

// ---------------------------------------------------------------------------
// Risk limits and exit rules

// GetRiskLimits returns the most recent active row for a mode.
func (s *Store) GetRiskLimits(mode models.TradeMode) (*models.RiskLimits, error) {
	var rl models.RiskLimits
	err := s.db.Where("mode = ? AND active = ?", mode, true).
		Order("created_at DESC").First(&rl).Error
	if err != nil {
		return nil, classify(err)
	}
	return &rl, nil
}

// UpsertRiskLimits updates the active row if present, else inserts one.
func (s *Store) UpsertRiskLimits(mode models.TradeMode, apply func(*models.RiskLimits)) (*models.RiskLimits, error) {
	var out *models.RiskLimits
	err := s.WithTransaction(func(tx *Store) error {
		rl, err := tx.GetRiskLimits(mode)
		if errors.Is(err, ErrNotFound) {
			rl = &models.RiskLimits{Mode: mode, Active: true}
			apply(rl)
			if err := tx.db.Create(rl).Error; err != nil {
				return classify(err)
			}
			out = rl
			return nil
		}
		if err != nil {
			return err
		}
		apply(rl)
		if err := tx.db.Save(rl).Error; err != nil {
			return classify(err)
		}
		out = rl
		return nil
	})
	return out, err
}

// GetExitRules returns the active thresholds for a mode, or defaults when
// none are configured.
func (s *Store) GetExitRules(mode models.TradeMode) (*models.ExitRules, error) {
	var er models.ExitRules
	err := s.db.Where("mode = ? AND active = ?", mode, true).
		Order("created_at DESC").First(&er).Error
	if errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.ExitRules{
			Mode:            mode,
			StopLossPct:     0.50,
			Target1Pct:      0.25,
			Target2Pct:      0.50,
			TrailingStopPct: 0.15,
			MinDTE:          1,
			MaxDaysInTrade:  7,
			Active:          true,
		}, nil
	}
	if err != nil {
		return nil, classify(err)
	}
	return &er, nil
}

// ---------------------------------------------------------------------------
// Audit

func (s *Store) CreateAuditEntry(e *models.AuditLogEntry) error {
	return classify(s.db.Create(e).Error)
}

// AuditFilter narrows an audit query. Zero values mean "no filter".
type AuditFilter struct {
	From         time.Time
	To           time.Time
	Symbol       string
	SignalID     string
	EventType    string
	DecisionType string
	Verdict      string
	Offset       int
	Limit        int
}

// QueryAudit returns entries matching the filter, newest first.
func (s *Store) QueryAudit(f AuditFilter) ([]models.AuditLogEntry, int64, error) {
	q := s.db.Model(&models.AuditLogEntry{})
	if !f.From.IsZero() {
		q = q.Where("created_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		q = q.Where("created_at <= ?", f.To)
	}
	if f.Symbol != "" {
		q = q.Where("symbol = ?", f.Symbol)
	}
	if f.SignalID != "" {
		q = q.Where("signal_id = ?", f.SignalID)
	}
	if f.EventType != "" {
		q = q.Where("event_type = ?", f.EventType)
	}
	if f.DecisionType != "" {
		q = q.Where("decision_type = ?", f.DecisionType)
	}
	if f.Verdict != "" {
		q = q.Where("verdict = ?", f.Verdict)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, classify(err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []models.AuditLogEntry
	err := q.Order("created_at DESC").Offset(f.Offset).Limit(limit).Find(&entries).Error
	return entries, total, classify(err)
}

// ---------------------------------------------------------------------------
// Pipeline failures

func (s *Store) CreatePipelineFailure(pf *models.PipelineFailure) error {
	return classify(s.db.Create(pf).Error)
}

// Ping checks database liveness for the health endpoint.
func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
