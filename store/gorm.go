package store

import (
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"

	"github.com/sardorbek21324/Home/models"
)

const dayFormat = "2006-01-02"

// Gorm is the MySQL-backed Store. Status CAS is expressed as a conditional
// UPDATE checked through RowsAffected, so two racing transitions resolve to
// exactly one winner without a separate lock manager.
type Gorm struct {
	db *gorm.DB
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (g *Gorm) EnsureUser(tgID int64, name string, username *string) (*models.User, error) {
	var user models.User
	err := g.db.Where("tg_id = ?", tgID).First(&user).Error
	if err == nil {
		user.Name = name
		user.Username = username
		if err := g.db.Model(&user).Updates(map[string]interface{}{"name": name, "username": username}).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	user = models.User{TgID: tgID, Name: name, Username: username}
	if err := g.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (g *Gorm) UserByID(id uint) (*models.User, error) {
	var user models.User
	if err := g.db.First(&user, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &user, nil
}

func (g *Gorm) UserByTg(tgID int64) (*models.User, error) {
	var user models.User
	if err := g.db.Where("tg_id = ?", tgID).First(&user).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &user, nil
}

func (g *Gorm) FamilyUsers() ([]models.User, error) {
	var users []models.User
	if err := g.db.Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (g *Gorm) Templates() ([]models.TaskTemplate, error) {
	var templates []models.TaskTemplate
	if err := g.db.Order("id ASC").Find(&templates).Error; err != nil {
		return nil, err
	}
	return templates, nil
}

func (g *Gorm) TemplateByID(id uint) (*models.TaskTemplate, error) {
	var tpl models.TaskTemplate
	if err := g.db.First(&tpl, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &tpl, nil
}

func (g *Gorm) CreateTemplate(t *models.TaskTemplate) error {
	return g.db.Create(t).Error
}

func (g *Gorm) InstanceByID(id uint) (*models.TaskInstance, error) {
	var inst models.TaskInstance
	if err := g.db.First(&inst, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &inst, nil
}

func (g *Gorm) InstanceExists(templateID uint, day time.Time) (bool, error) {
	var count int64
	err := g.db.Model(&models.TaskInstance{}).
		Where("template_id = ? AND day = ?", templateID, day.Format(dayFormat)).
		Count(&count).Error
	return count > 0, err
}

func (g *Gorm) CreateInstance(inst *models.TaskInstance) error {
	return g.db.Create(inst).Error
}

func (g *Gorm) InstancesForDay(day time.Time) ([]models.TaskInstance, error) {
	var out []models.TaskInstance
	err := g.db.Where("day = ?", day.Format(dayFormat)).
		Order("id ASC").Find(&out).Error
	return out, err
}

func (g *Gorm) DeleteInstancesForDay(day time.Time) (int64, error) {
	res := g.db.Where("day = ?", day.Format(dayFormat)).Delete(&models.TaskInstance{})
	return res.RowsAffected, res.Error
}

func (g *Gorm) CountActiveAnnounced(day time.Time) (int, error) {
	var count int64
	err := g.db.Model(&models.TaskInstance{}).
		Where("day <= ? AND status = ? AND announced = ?", day.Format(dayFormat), models.StatusOpen, true).
		Count(&count).Error
	return int(count), err
}

func (g *Gorm) NextUnannounced(day time.Time) (*models.TaskInstance, error) {
	var inst models.TaskInstance
	err := g.db.
		Where("day <= ? AND status = ? AND announced = ?", day.Format(dayFormat), models.StatusOpen, false).
		Order("day ASC, created_at ASC").
		First(&inst).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &inst, nil
}

func (g *Gorm) SetAnnounced(id uint, announced bool, penalize bool, note *string) error {
	return g.db.Model(&models.TaskInstance{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"announced":             announced,
			"announcement_penalize": penalize,
			"announcement_note":     note,
		}).Error
}

func (g *Gorm) QueueForAnnounce(id uint, penalize bool, note *string) (bool, error) {
	res := g.db.Model(&models.TaskInstance{}).
		Where("id = ? AND status = ?", id, models.StatusOpen).
		Updates(map[string]interface{}{
			"announced":             false,
			"announcement_penalize": penalize,
			"announcement_note":     note,
			"last_announce_at":      nil,
			"created_at":            time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (g *Gorm) TouchAnnounced(id uint, at time.Time) error {
	return g.db.Model(&models.TaskInstance{}).Where("id = ?", id).
		Update("last_announce_at", at).Error
}

func (g *Gorm) ReservedPastDeadline(now time.Time) ([]models.TaskInstance, error) {
	var out []models.TaskInstance
	err := g.db.
		Where("status = ? AND reserved_until IS NOT NULL AND reserved_until < ?", models.StatusReserved, now).
		Find(&out).Error
	return out, err
}

func (g *Gorm) PendingVerification() ([]models.TaskInstance, error) {
	var out []models.TaskInstance
	err := g.db.Where("status = ?", models.StatusReportSubmitted).
		Order("created_at ASC").Find(&out).Error
	return out, err
}

func (g *Gorm) TryClaim(id uint, userID uint, deadline time.Time, deferrals int) (bool, error) {
	res := g.db.Model(&models.TaskInstance{}).
		Where("id = ? AND status = ?", id, models.StatusOpen).
		Updates(map[string]interface{}{
			"status":         models.StatusReserved,
			"assigned_to":    userID,
			"reserved_until": deadline,
			"deferrals_used": deferrals,
			"attempts":       gorm.Expr("attempts + 1"),
		})
	return res.RowsAffected > 0, res.Error
}

func (g *Gorm) Release(id uint) (bool, error) {
	res := g.db.Model(&models.TaskInstance{}).
		Where("id = ? AND status = ?", id, models.StatusReserved).
		Updates(map[string]interface{}{
			"status":                models.StatusOpen,
			"assigned_to":           nil,
			"reserved_until":        nil,
			"deferrals_used":        0,
			"round_no":              0,
			"announced":             false,
			"announcement_penalize": false,
			"announcement_note":     nil,
			"last_announce_at":      nil,
			"created_at":            time.Now().UTC(),
		})
	return res.RowsAffected > 0, res.Error
}

func (g *Gorm) BeginVerification(id uint, roundNo int) (bool, error) {
	res := g.db.Model(&models.TaskInstance{}).
		Where("id = ? AND status = ?", id, models.StatusReserved).
		Updates(map[string]interface{}{
			"status":   models.StatusReportSubmitted,
			"round_no": roundNo,
		})
	return res.RowsAffected > 0, res.Error
}

func (g *Gorm) Approve(id uint) (bool, error) {
	res := g.db.Model(&models.TaskInstance{}).
		Where("id = ? AND status = ?", id, models.StatusReportSubmitted).
		Update("status", models.StatusApproved)
	return res.RowsAffected > 0, res.Error
}

func (g *Gorm) RetryAfterReject(id uint) (bool, error) {
	res := g.db.Model(&models.TaskInstance{}).
		Where("id = ? AND status = ?", id, models.StatusReportSubmitted).
		Updates(map[string]interface{}{
			"status":   models.StatusReserved,
			"round_no": 0,
			"attempts": gorm.Expr("attempts + 1"),
		})
	return res.RowsAffected > 0, res.Error
}

func (g *Gorm) CreateReport(r *models.Report) error {
	return g.db.Create(r).Error
}

func (g *Gorm) ReportForInstance(instanceID uint) (*models.Report, error) {
	var report models.Report
	err := g.db.Where("task_instance_id = ?", instanceID).
		Order("submitted_at DESC").First(&report).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &report, nil
}

func (g *Gorm) DeleteReport(instanceID uint) error {
	return g.db.Where("task_instance_id = ?", instanceID).Delete(&models.Report{}).Error
}

func (g *Gorm) RegisterVote(instanceID, voterID uint, value models.VoteValue) (bool, error) {
	var count int64
	if err := g.db.Model(&models.Vote{}).
		Where("task_instance_id = ? AND voter_id = ?", instanceID, voterID).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return false, nil
	}
	vote := models.Vote{TaskInstanceID: instanceID, VoterID: voterID, Value: value}
	if err := g.db.Create(&vote).Error; err != nil {
		// Two presses racing past the count both reach the insert; the
		// unique index decides, and the loser is just a duplicate vote.
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == 1062
}

func (g *Gorm) VotesSummary(instanceID uint) (int, int, error) {
	type row struct {
		Value models.VoteValue
		N     int
	}
	var rows []row
	err := g.db.Model(&models.Vote{}).
		Select("value, COUNT(*) AS n").
		Where("task_instance_id = ?", instanceID).
		Group("value").Scan(&rows).Error
	if err != nil {
		return 0, 0, err
	}
	yes, no := 0, 0
	for _, r := range rows {
		switch r.Value {
		case models.VoteYes:
			yes = r.N
		case models.VoteNo:
			no = r.N
		}
	}
	return yes, no, nil
}

func (g *Gorm) FirstVoteAt(instanceID uint) (*time.Time, error) {
	var vote models.Vote
	err := g.db.Where("task_instance_id = ?", instanceID).
		Order("voted_at ASC").First(&vote).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &vote.VotedAt, nil
}

func (g *Gorm) ClearVotes(instanceID uint) error {
	return g.db.Where("task_instance_id = ?", instanceID).Delete(&models.Vote{}).Error
}

func (g *Gorm) AddBroadcasts(rows []models.TaskBroadcast) error {
	if len(rows) == 0 {
		return nil
	}
	return g.db.Create(&rows).Error
}

func (g *Gorm) PopBroadcasts(taskID uint) ([]models.TaskBroadcast, error) {
	var rows []models.TaskBroadcast
	err := g.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", taskID).Find(&rows).Error; err != nil {
			return err
		}
		return tx.Where("task_id = ?", taskID).Delete(&models.TaskBroadcast{}).Error
	})
	return rows, err
}

func (g *Gorm) AddScoreEvent(userID uint, delta int, reason string, instanceID *uint) error {
	return g.db.Transaction(func(tx *gorm.DB) error {
		event := models.ScoreEvent{
			UserID:         userID,
			Delta:          delta,
			Reason:         reason,
			TaskInstanceID: instanceID,
		}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).
			Update("score", gorm.Expr("score + ?", delta)).Error
	})
}

func (g *Gorm) Leaderboard() ([]models.User, error) {
	var users []models.User
	if err := g.db.Order("score DESC, id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (g *Gorm) AdaptiveConfig() (*models.AdaptiveConfig, error) {
	var cfg models.AdaptiveConfig
	err := g.db.First(&cfg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		cfg = models.AdaptiveConfig{
			PenaltyStep:        0.05,
			BonusStep:          0.02,
			MinCoefficient:     0.5,
			MaxCoefficient:     1.5,
			DefaultCoefficient: 1.0,
		}
		if err := g.db.Create(&cfg).Error; err != nil {
			return nil, err
		}
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (g *Gorm) SaveAdaptiveConfig(cfg *models.AdaptiveConfig) error {
	return g.db.Save(cfg).Error
}

func (g *Gorm) AssignmentStats() (map[uint]AssignmentStats, error) {
	type row struct {
		UserID    uint
		Taken     int
		Completed int
	}
	var rows []row
	err := g.db.Model(&models.TaskInstance{}).
		Select("assigned_to AS user_id, COUNT(*) AS taken, SUM(CASE WHEN status = ? THEN 1 ELSE 0 END) AS completed", models.StatusApproved).
		Where("assigned_to IS NOT NULL").
		Group("assigned_to").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	stats := make(map[uint]AssignmentStats, len(rows))
	for _, r := range rows {
		stats[r.UserID] = AssignmentStats{Taken: r.Taken, Completed: r.Completed}
	}
	return stats, nil
}
