package models

import "time"

// Report is the proof record for one verification round. It is deleted when
// a round is rejected and kept as audit when the instance is approved.
type Report struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	TaskInstanceID uint      `gorm:"index;not null" json:"task_instance_id"`
	UserID         uint      `gorm:"index;not null" json:"user_id"`
	PhotoFileID    string    `gorm:"size:255;not null" json:"photo_file_id"`
	SubmittedAt    time.Time `gorm:"autoCreateTime" json:"submitted_at"`
}

func (Report) TableName() string {
	return "reports"
}
