// Package advisor computes the adaptive reward coefficient from each
// participant's claim history and, optionally, asks an LLM for a short daily
// focus note. Neither path is on the correctness-critical side of the task
// lifecycle: the scheduler consults the advisor once per generated instance
// and freezes the result.
package advisor

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sardorbek21324/Home/models"
	"github.com/sardorbek21324/Home/store"
	"github.com/sardorbek21324/Home/utils"
)

// UserRewardStats is one participant's aggregated history with the
// coefficient derived from it.
type UserRewardStats struct {
	UserID      uint    `json:"user_id"`
	TgID        int64   `json:"tg_id"`
	Name        string  `json:"name"`
	Taken       int     `json:"taken"`
	Completed   int     `json:"completed"`
	Skipped     int     `json:"skipped"`
	Coefficient float64 `json:"coefficient"`
}

type Controller struct {
	store store.Store
}

func NewController(s store.Store) *Controller {
	return &Controller{store: s}
}

func coefficient(cfg *models.AdaptiveConfig, taken, completed int) float64 {
	skipped := taken - completed
	if skipped < 0 {
		skipped = 0
	}
	coeff := cfg.DefaultCoefficient + float64(skipped)*cfg.PenaltyStep - float64(completed)*cfg.BonusStep
	if coeff < cfg.MinCoefficient {
		coeff = cfg.MinCoefficient
	}
	if coeff > cfg.MaxCoefficient {
		coeff = cfg.MaxCoefficient
	}
	return utils.RoundFloat(coeff, 4)
}

// UserStats returns coefficients and history per participant, sorted by name.
func (c *Controller) UserStats() ([]UserRewardStats, error) {
	users, err := c.store.FamilyUsers()
	if err != nil {
		return nil, err
	}
	cfg, err := c.store.AdaptiveConfig()
	if err != nil {
		return nil, err
	}
	raw, err := c.store.AssignmentStats()
	if err != nil {
		return nil, err
	}
	out := make([]UserRewardStats, 0, len(users))
	for _, user := range users {
		s := raw[user.ID]
		skipped := s.Taken - s.Completed
		if skipped < 0 {
			skipped = 0
		}
		out = append(out, UserRewardStats{
			UserID:      user.ID,
			TgID:        user.TgID,
			Name:        user.Name,
			Taken:       s.Taken,
			Completed:   s.Completed,
			Skipped:     skipped,
			Coefficient: coefficient(cfg, s.Taken, s.Completed),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out, nil
}

// AverageCoefficient averages the per-user coefficients; with no users it
// falls back to the configured default.
func (c *Controller) AverageCoefficient() (float64, error) {
	cfg, err := c.store.AdaptiveConfig()
	if err != nil {
		return 0, err
	}
	users, err := c.store.FamilyUsers()
	if err != nil {
		return 0, err
	}
	if len(users) == 0 {
		return cfg.DefaultCoefficient, nil
	}
	raw, err := c.store.AssignmentStats()
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, user := range users {
		s := raw[user.ID]
		sum += coefficient(cfg, s.Taken, s.Completed)
	}
	return utils.RoundFloat(sum/float64(len(users)), 4), nil
}

// Bounds returns the configured coefficient clamp range.
func (c *Controller) Bounds() (min, max float64, err error) {
	cfg, err := c.store.AdaptiveConfig()
	if err != nil {
		return 0, 0, err
	}
	return cfg.MinCoefficient, cfg.MaxCoefficient, nil
}

// Healthcheck reports a brief operational status string.
func (c *Controller) Healthcheck() string {
	cfg, err := c.store.AdaptiveConfig()
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	avg, err := c.AverageCoefficient()
	if err != nil {
		return fmt.Sprintf("error: %v", err)
	}
	return fmt.Sprintf("ok (avg=%.2f, steps=%g/%g)", avg, cfg.PenaltyStep, cfg.BonusStep)
}
