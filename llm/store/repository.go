package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AutoMigrate creates or updates the tables for every model.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// InteractionRepository appends and lists interaction rows.
type InteractionRepository struct {
	db *gorm.DB
}

func NewInteractionRepository(db *gorm.DB) *InteractionRepository {
	return &InteractionRepository{db: db}
}

// Create inserts rec, assigning an id and timestamp when absent.
func (r *InteractionRepository) Create(ctx context.Context, rec *InteractionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("create interaction: %w", err)
	}
	return nil
}

// ListByUser returns the newest interactions of a user first.
func (r *InteractionRepository) ListByUser(ctx context.Context, userID string, limit int) ([]InteractionRecord, error) {
	var out []InteractionRecord
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list interactions: %w", err)
	}
	return out, nil
}

// UsageDelta is one additive contribution to a usage row.
type UsageDelta struct {
	UserID          string
	Period          string
	Feature         string
	Requests        int64
	PromptUnits     int64
	CompletionUnits int64
	TotalCost       float64
}

// TxRunner runs fn in a transaction and retries transient failures such
// as deadlocks.
type TxRunner interface {
	WithTransactionRetry(ctx context.Context, maxRetries int, fn func(tx *gorm.DB) error) error
}

// UsageRepository maintains per-period usage aggregates.
type UsageRepository struct {
	db      *gorm.DB
	tx      TxRunner
	retries int
}

func NewUsageRepository(db *gorm.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// WithRetry runs every Add through tx with up to maxRetries attempts.
func (r *UsageRepository) WithRetry(tx TxRunner, maxRetries int) *UsageRepository {
	if maxRetries < 1 {
		maxRetries = 1
	}
	r.tx, r.retries = tx, maxRetries
	return r
}

// Add applies d as one INSERT ... ON CONFLICT DO UPDATE. The increment is
// evaluated by the database.
func (r *UsageRepository) Add(ctx context.Context, d UsageDelta) error {
	table := UsageRecord{}.TableName()
	row := UsageRecord{
		UserID:          d.UserID,
		Period:          d.Period,
		Feature:         d.Feature,
		RequestCount:    d.Requests,
		PromptUnits:     d.PromptUnits,
		CompletionUnits: d.CompletionUnits,
		TotalUnits:      d.PromptUnits + d.CompletionUnits,
		TotalCost:       d.TotalCost,
		UpdatedAt:       time.Now().UTC(),
	}
	upsert := func(db *gorm.DB) error {
		return db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "period"}, {Name: "feature"}},
			DoUpdates: clause.Assignments(map[string]any{
				"request_count":    gorm.Expr(table+".request_count + ?", d.Requests),
				"prompt_units":     gorm.Expr(table+".prompt_units + ?", d.PromptUnits),
				"completion_units": gorm.Expr(table+".completion_units + ?", d.CompletionUnits),
				"total_units":      gorm.Expr(table+".total_units + ?", d.PromptUnits+d.CompletionUnits),
				"total_cost":       gorm.Expr(table+".total_cost + ?", d.TotalCost),
				"updated_at":       row.UpdatedAt,
			}),
		}).Create(&row).Error
	}

	var err error
	if r.tx != nil {
		err = r.tx.WithTransactionRetry(ctx, r.retries, upsert)
	} else {
		err = upsert(r.db.WithContext(ctx))
	}
	if err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	return nil
}

// Get returns the row for (user, period, feature). A missing row is a zero
// record, not an error.
func (r *UsageRepository) Get(ctx context.Context, userID, period, feature string) (UsageRecord, error) {
	var rec UsageRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND period = ? AND feature = ?", userID, period, feature).
		Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return UsageRecord{UserID: userID, Period: period, Feature: feature}, nil
	}
	if err != nil {
		return UsageRecord{}, fmt.Errorf("get usage: %w", err)
	}
	return rec, nil
}

// ListByPeriod returns every feature row of a user for one period.
func (r *UsageRepository) ListByPeriod(ctx context.Context, userID, period string) ([]UsageRecord, error) {
	var out []UsageRecord
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND period = ?", userID, period).
		Order("feature").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}
	return out, nil
}

// ConversationRepository appends and reads conversation turns.
type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// Append inserts turn, assigning an id and timestamp when absent.
func (r *ConversationRepository) Append(ctx context.Context, turn *ConversationTurn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	if err := r.db.WithContext(ctx).Create(turn).Error; err != nil {
		return fmt.Errorf("append conversation turn: %w", err)
	}
	return nil
}

// Recent returns up to limit of the latest turns in chronological order.
func (r *ConversationRepository) Recent(ctx context.Context, userID, feature string, limit int) ([]ConversationTurn, error) {
	var out []ConversationTurn
	q := r.db.WithContext(ctx).
		Where("user_id = ? AND feature = ?", userID, feature).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("recent conversation turns: %w", err)
	}
	slices.Reverse(out)
	return out, nil
}
