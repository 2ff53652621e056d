package models

import "time"

type TaskFrequency string

const (
	FreqDaily      TaskFrequency = "daily"
	FreqWeekly     TaskFrequency = "weekly"
	FreqEvery2Days TaskFrequency = "every_2days"
	FreqMonthly    TaskFrequency = "monthly"
)

type TaskKind string

const (
	KindHouse   TaskKind = "house"
	KindMini    TaskKind = "mini"
	KindOutside TaskKind = "outside"
)

// TaskTemplate is the immutable recipe a daily TaskInstance is stamped from.
type TaskTemplate struct {
	ID                   uint          `gorm:"primaryKey" json:"id"`
	Code                 string        `gorm:"size:64;uniqueIndex;not null" json:"code"`
	Title                string        `gorm:"size:255;not null" json:"title"`
	BasePoints           int           `gorm:"not null" json:"base_points"`
	Frequency            TaskFrequency `gorm:"type:enum('daily','weekly','every_2days','monthly');default:'daily'" json:"frequency"`
	SlaMinutes           int           `gorm:"not null" json:"sla_minutes"`
	ClaimTimeoutMinutes  int           `gorm:"not null" json:"claim_timeout_minutes"`
	Kind                 TaskKind      `gorm:"type:enum('house','mini','outside');default:'house'" json:"kind"`
	NobodyClaimedPenalty int           `gorm:"default:0" json:"nobody_claimed_penalty"`
	DeferralPenaltyPct   int           `gorm:"default:20" json:"deferral_penalty_pct"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

func (TaskTemplate) TableName() string {
	return "task_templates"
}
