package models

import "time"

// ScoreEvent is an append-only ledger entry. A user's score is the sum of
// their events; the running total on User is updated in the same transaction
// that appends the event, never written on its own.
type ScoreEvent struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"index;not null" json:"user_id"`
	Delta          int       `gorm:"not null" json:"delta"`
	Reason         string    `gorm:"size:255" json:"reason"`
	TaskInstanceID *uint     `gorm:"index" json:"task_instance_id,omitempty"`
	Season         *string   `gorm:"size:32" json:"season,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

func (ScoreEvent) TableName() string {
	return "score_events"
}
