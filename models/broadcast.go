package models

// TaskBroadcast remembers one delivered chat message for one recipient, so
// stale keyboards can be edited or cleared when the instance changes state.
// Rows are popped exactly once by the consumer of the state change.
type TaskBroadcast struct {
	ID        uint  `gorm:"primaryKey" json:"id"`
	TaskID    uint  `gorm:"index:uq_task_broadcast,unique;not null" json:"task_id"`
	UserID    uint  `gorm:"index:uq_task_broadcast,unique;not null" json:"user_id"`
	ChatID    int64 `gorm:"not null" json:"chat_id"`
	MessageID int64 `gorm:"not null" json:"message_id"`
}

func (TaskBroadcast) TableName() string {
	return "task_broadcasts"
}
