package models

import "time"

type User struct {
	ID       uint      `gorm:"primaryKey" json:"id"`
	TgID     int64     `gorm:"column:tg_id;uniqueIndex;not null" json:"tg_id"`
	Name     string    `gorm:"size:128;not null" json:"name"`
	Username *string   `gorm:"size:64" json:"username,omitempty"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
	// Score is a running total; it is only ever changed together with an
	// appended ScoreEvent inside the same transaction.
	Score int `gorm:"default:0" json:"score"`
}

func (User) TableName() string {
	return "users"
}
