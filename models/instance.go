package models

import "time"

type TaskStatus string

const (
	StatusOpen            TaskStatus = "open"
	StatusReserved        TaskStatus = "reserved"
	StatusReportSubmitted TaskStatus = "report_submitted"
	StatusApproved        TaskStatus = "approved"
)

// TaskInstance is one occurrence of a template on one day. Its status only
// moves through the lifecycle engine; rows are never deleted, only settled.
type TaskInstance struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	TemplateID uint       `gorm:"index:uq_instance_slot,unique;not null" json:"template_id"`
	Day        time.Time  `gorm:"type:date;index:uq_instance_slot,unique;index" json:"day"`
	Slot       int        `gorm:"index:uq_instance_slot,unique;default:1" json:"slot"`
	Status     TaskStatus `gorm:"type:enum('open','reserved','report_submitted','approved');default:'open';index" json:"status"`
	AssignedTo *uint      `gorm:"index" json:"assigned_to"`
	// ReservedUntil is the performance deadline: claim time + SLA + deferral
	// extension. The missed-task sweep reopens instances past it.
	ReservedUntil *time.Time `json:"reserved_until"`
	DeferralsUsed int        `gorm:"default:0" json:"deferrals_used"`
	Attempts      int        `gorm:"default:0" json:"attempts"`
	// RoundNo is the number of votes expected for the current verification
	// round, fixed at report submission time.
	RoundNo int `gorm:"default:0" json:"round_no"`
	// EffectivePoints is the reward snapshot frozen at generation time.
	// Later adaptive-coefficient changes never touch existing instances.
	EffectivePoints int `gorm:"default:0" json:"effective_points"`

	Announced            bool       `gorm:"default:false" json:"announced"`
	AnnouncementPenalize bool       `gorm:"default:false" json:"-"`
	AnnouncementNote     *string    `gorm:"size:255" json:"-"`
	LastAnnounceAt       *time.Time `json:"last_announce_at"`

	CreatedAt time.Time `json:"created_at"`
}

func (TaskInstance) TableName() string {
	return "task_instances"
}

// Terminal reports whether the instance can no longer change state.
func (i *TaskInstance) Terminal() bool {
	return i.Status == StatusApproved
}
