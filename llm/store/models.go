package store

import (
	"time"
)

// InteractionRecord is one processed request, cache hit or miss.
type InteractionRecord struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	UserID          string    `gorm:"size:128;not null;index:idx_interactions_user_created,priority:1" json:"user_id"`
	Feature         string    `gorm:"size:64;not null;index" json:"feature"`
	RequestHash     string    `gorm:"size:64;not null;index" json:"request_hash"`
	PromptUnits     int       `gorm:"not null;default:0" json:"prompt_units"`
	CompletionUnits int       `gorm:"not null;default:0" json:"completion_units"`
	TotalCost       float64   `gorm:"not null;default:0" json:"total_cost"`
	Provider        string    `gorm:"size:64" json:"provider"`
	Model           string    `gorm:"size:128" json:"model"`
	LatencyMs       int64     `gorm:"not null;default:0" json:"latency_ms"`
	Cached          bool      `gorm:"not null;default:false" json:"cached"`
	CacheScore      float64   `gorm:"not null;default:0" json:"cache_score"`
	CreatedAt       time.Time `gorm:"not null;index:idx_interactions_user_created,priority:2" json:"timestamp"`
}

func (InteractionRecord) TableName() string {
	return "aigate_interactions"
}

// UsageRecord is the running total for one (user, period, feature).
type UsageRecord struct {
	UserID          string    `gorm:"primaryKey;size:128" json:"user_id"`
	Period          string    `gorm:"primaryKey;size:16" json:"period"`
	Feature         string    `gorm:"primaryKey;size:64" json:"feature"`
	RequestCount    int64     `gorm:"not null;default:0" json:"request_count"`
	PromptUnits     int64     `gorm:"not null;default:0" json:"prompt_units"`
	CompletionUnits int64     `gorm:"not null;default:0" json:"completion_units"`
	TotalUnits      int64     `gorm:"not null;default:0" json:"total_units"`
	TotalCost       float64   `gorm:"not null;default:0" json:"total_cost"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (UsageRecord) TableName() string {
	return "aigate_usage"
}

// ConversationTurn is one stored exchange. Topics and Status are JSON text
// so the row stays portable across dialects.
type ConversationTurn struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	UserID    string    `gorm:"size:128;not null;index:idx_turns_user_feature_created,priority:1" json:"user_id"`
	Feature   string    `gorm:"size:64;not null;index:idx_turns_user_feature_created,priority:2" json:"feature"`
	Prompt    string    `gorm:"type:text;not null" json:"prompt"`
	Response  string    `gorm:"type:text;not null" json:"response"`
	Provider  string    `gorm:"size:64" json:"provider"`
	Topics    string    `gorm:"type:text" json:"topics"`
	Status    string    `gorm:"type:text" json:"status"`
	CreatedAt time.Time `gorm:"not null;index:idx_turns_user_feature_created,priority:3" json:"created_at"`
}

func (ConversationTurn) TableName() string {
	return "aigate_conversation_turns"
}

// Models lists every model for AutoMigrate.
func Models() []any {
	return []any{&InteractionRecord{}, &UsageRecord{}, &ConversationTurn{}}
}
