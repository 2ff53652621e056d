package models

import "time"

// AdaptiveConfig holds the tunable knobs of the adaptive reward coefficient.
// A single row is kept; it is only mutated through the admin API.
type AdaptiveConfig struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	PenaltyStep        float64   `gorm:"default:0.05" json:"penalty_step"`
	BonusStep          float64   `gorm:"default:0.02" json:"bonus_step"`
	MinCoefficient     float64   `gorm:"default:0.5" json:"min_coefficient"`
	MaxCoefficient     float64   `gorm:"default:1.5" json:"max_coefficient"`
	DefaultCoefficient float64   `gorm:"default:1.0" json:"default_coefficient"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (AdaptiveConfig) TableName() string {
	return "adaptive_config"
}
