package store

import (
	"sort"
	"sync"
	"time"

	"github.com/sardorbek21324/Home/models"
)

// Memory is an in-process Store used by tests and by the engine/scheduler
// test harnesses. It honors the same CAS contracts as the MySQL store; all
// methods are safe for concurrent use.
type Memory struct {
	mu         sync.Mutex
	users      map[uint]*models.User
	templates  map[uint]*models.TaskTemplate
	instances  map[uint]*models.TaskInstance
	reports    map[uint]*models.Report
	votes      []models.Vote
	broadcasts []models.TaskBroadcast
	events     []models.ScoreEvent
	adaptive   models.AdaptiveConfig
	nextID     uint
}

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[uint]*models.User),
		templates: make(map[uint]*models.TaskTemplate),
		instances: make(map[uint]*models.TaskInstance),
		reports:   make(map[uint]*models.Report),
		adaptive: models.AdaptiveConfig{
			ID:                 1,
			PenaltyStep:        0.05,
			BonusStep:          0.02,
			MinCoefficient:     0.5,
			MaxCoefficient:     1.5,
			DefaultCoefficient: 1.0,
		},
	}
}

func (m *Memory) id() uint {
	m.nextID++
	return m.nextID
}

func sameDay(a, b time.Time) bool {
	return a.Format(dayFormat) == b.Format(dayFormat)
}

func dayOnOrBefore(a, b time.Time) bool {
	return a.Format(dayFormat) <= b.Format(dayFormat)
}

func (m *Memory) EnsureUser(tgID int64, name string, username *string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TgID == tgID {
			u.Name = name
			u.Username = username
			copied := *u
			return &copied, nil
		}
	}
	user := &models.User{ID: m.id(), TgID: tgID, Name: name, Username: username, JoinedAt: time.Now()}
	m.users[user.ID] = user
	copied := *user
	return &copied, nil
}

func (m *Memory) UserByID(id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *Memory) UserByTg(tgID int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.TgID == tgID {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (m *Memory) FamilyUsers() ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) Templates() ([]models.TaskTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TaskTemplate, 0, len(m.templates))
	for _, t := range m.templates {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) TemplateByID(id uint) (*models.TaskTemplate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *t
	return &copied, nil
}

func (m *Memory) CreateTemplate(t *models.TaskTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == 0 {
		t.ID = m.id()
	}
	copied := *t
	m.templates[t.ID] = &copied
	return nil
}

func (m *Memory) InstanceByID(id uint) (*models.TaskInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *inst
	return &copied, nil
}

func (m *Memory) InstanceExists(templateID uint, day time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inst := range m.instances {
		if inst.TemplateID == templateID && sameDay(inst.Day, day) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CreateInstance(inst *models.TaskInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst.ID == 0 {
		inst.ID = m.id()
	}
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now()
	}
	if inst.Status == "" {
		inst.Status = models.StatusOpen
	}
	copied := *inst
	m.instances[inst.ID] = &copied
	return nil
}

func (m *Memory) InstancesForDay(day time.Time) ([]models.TaskInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskInstance
	for _, inst := range m.instances {
		if sameDay(inst.Day, day) {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) DeleteInstancesForDay(day time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var removed int64
	for id, inst := range m.instances {
		if sameDay(inst.Day, day) {
			delete(m.instances, id)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) CountActiveAnnounced(day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, inst := range m.instances {
		if dayOnOrBefore(inst.Day, day) && inst.Status == models.StatusOpen && inst.Announced {
			count++
		}
	}
	return count, nil
}

func (m *Memory) NextUnannounced(day time.Time) (*models.TaskInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.TaskInstance
	for _, inst := range m.instances {
		if !dayOnOrBefore(inst.Day, day) || inst.Status != models.StatusOpen || inst.Announced {
			continue
		}
		if best == nil {
			best = inst
			continue
		}
		bd, id := best.Day.Format(dayFormat), inst.Day.Format(dayFormat)
		if id < bd || (id == bd && inst.CreatedAt.Before(best.CreatedAt)) {
			best = inst
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	copied := *best
	return &copied, nil
}

func (m *Memory) SetAnnounced(id uint, announced bool, penalize bool, note *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return ErrNotFound
	}
	inst.Announced = announced
	inst.AnnouncementPenalize = penalize
	inst.AnnouncementNote = note
	return nil
}

func (m *Memory) QueueForAnnounce(id uint, penalize bool, note *string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.Status != models.StatusOpen {
		return false, nil
	}
	inst.Announced = false
	inst.AnnouncementPenalize = penalize
	inst.AnnouncementNote = note
	inst.LastAnnounceAt = nil
	inst.CreatedAt = time.Now()
	return true, nil
}

func (m *Memory) TouchAnnounced(id uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	inst.LastAnnounceAt = &t
	return nil
}

func (m *Memory) ReservedPastDeadline(now time.Time) ([]models.TaskInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskInstance
	for _, inst := range m.instances {
		if inst.Status == models.StatusReserved && inst.ReservedUntil != nil && inst.ReservedUntil.Before(now) {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) PendingVerification() ([]models.TaskInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.TaskInstance
	for _, inst := range m.instances {
		if inst.Status == models.StatusReportSubmitted {
			out = append(out, *inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) TryClaim(id uint, userID uint, deadline time.Time, deferrals int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.Status != models.StatusOpen {
		return false, nil
	}
	uid := userID
	d := deadline
	inst.Status = models.StatusReserved
	inst.AssignedTo = &uid
	inst.ReservedUntil = &d
	inst.DeferralsUsed = deferrals
	inst.Attempts++
	return true, nil
}

func (m *Memory) Release(id uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.Status != models.StatusReserved {
		return false, nil
	}
	inst.Status = models.StatusOpen
	inst.AssignedTo = nil
	inst.ReservedUntil = nil
	inst.DeferralsUsed = 0
	inst.RoundNo = 0
	inst.Announced = false
	inst.AnnouncementPenalize = false
	inst.AnnouncementNote = nil
	inst.LastAnnounceAt = nil
	inst.CreatedAt = time.Now()
	return true, nil
}

func (m *Memory) BeginVerification(id uint, roundNo int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.Status != models.StatusReserved {
		return false, nil
	}
	inst.Status = models.StatusReportSubmitted
	inst.RoundNo = roundNo
	return true, nil
}

func (m *Memory) Approve(id uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.Status != models.StatusReportSubmitted {
		return false, nil
	}
	inst.Status = models.StatusApproved
	return true, nil
}

func (m *Memory) RetryAfterReject(id uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[id]
	if !ok || inst.Status != models.StatusReportSubmitted {
		return false, nil
	}
	inst.Status = models.StatusReserved
	inst.RoundNo = 0
	inst.Attempts++
	return true, nil
}

func (m *Memory) CreateReport(r *models.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r.ID == 0 {
		r.ID = m.id()
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = time.Now()
	}
	copied := *r
	m.reports[r.ID] = &copied
	return nil
}

func (m *Memory) ReportForInstance(instanceID uint) (*models.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Report
	for _, r := range m.reports {
		if r.TaskInstanceID != instanceID {
			continue
		}
		if latest == nil || r.SubmittedAt.After(latest.SubmittedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	copied := *latest
	return &copied, nil
}

func (m *Memory) DeleteReport(instanceID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.reports {
		if r.TaskInstanceID == instanceID {
			delete(m.reports, id)
		}
	}
	return nil
}

func (m *Memory) RegisterVote(instanceID, voterID uint, value models.VoteValue) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.votes {
		if v.TaskInstanceID == instanceID && v.VoterID == voterID {
			return false, nil
		}
	}
	m.votes = append(m.votes, models.Vote{
		ID:             m.id(),
		TaskInstanceID: instanceID,
		VoterID:        voterID,
		Value:          value,
		VotedAt:        time.Now(),
	})
	return true, nil
}

func (m *Memory) VotesSummary(instanceID uint) (int, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	yes, no := 0, 0
	for _, v := range m.votes {
		if v.TaskInstanceID != instanceID {
			continue
		}
		if v.Value == models.VoteYes {
			yes++
		} else {
			no++
		}
	}
	return yes, no, nil
}

func (m *Memory) FirstVoteAt(instanceID uint) (*time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var first *time.Time
	for i := range m.votes {
		v := &m.votes[i]
		if v.TaskInstanceID != instanceID {
			continue
		}
		if first == nil || v.VotedAt.Before(*first) {
			at := v.VotedAt
			first = &at
		}
	}
	return first, nil
}

func (m *Memory) ClearVotes(instanceID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.votes[:0]
	for _, v := range m.votes {
		if v.TaskInstanceID != instanceID {
			kept = append(kept, v)
		}
	}
	m.votes = kept
	return nil
}

func (m *Memory) AddBroadcasts(rows []models.TaskBroadcast) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		if r.ID == 0 {
			r.ID = m.id()
		}
		m.broadcasts = append(m.broadcasts, r)
	}
	return nil
}

func (m *Memory) PopBroadcasts(taskID uint) ([]models.TaskBroadcast, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var popped []models.TaskBroadcast
	kept := m.broadcasts[:0]
	for _, b := range m.broadcasts {
		if b.TaskID == taskID {
			popped = append(popped, b)
		} else {
			kept = append(kept, b)
		}
	}
	m.broadcasts = kept
	return popped, nil
}

func (m *Memory) AddScoreEvent(userID uint, delta int, reason string, instanceID *uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	m.events = append(m.events, models.ScoreEvent{
		ID:             m.id(),
		UserID:         userID,
		Delta:          delta,
		Reason:         reason,
		TaskInstanceID: instanceID,
		CreatedAt:      time.Now(),
	})
	user.Score += delta
	return nil
}

// ScoreEvents returns a copy of the ledger, oldest first. Test helper.
func (m *Memory) ScoreEvents() []models.ScoreEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.ScoreEvent, len(m.events))
	copy(out, m.events)
	return out
}

func (m *Memory) Leaderboard() ([]models.User, error) {
	users, err := m.FamilyUsers()
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Score != users[j].Score {
			return users[i].Score > users[j].Score
		}
		return users[i].ID < users[j].ID
	})
	return users, nil
}

func (m *Memory) AdaptiveConfig() (*models.AdaptiveConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := m.adaptive
	return &copied, nil
}

func (m *Memory) SaveAdaptiveConfig(cfg *models.AdaptiveConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adaptive = *cfg
	return nil
}

func (m *Memory) AssignmentStats() (map[uint]AssignmentStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := make(map[uint]AssignmentStats)
	for _, inst := range m.instances {
		if inst.AssignedTo == nil {
			continue
		}
		s := stats[*inst.AssignedTo]
		s.Taken++
		if inst.Status == models.StatusApproved {
			s.Completed++
		}
		stats[*inst.AssignedTo] = s
	}
	return stats, nil
}
