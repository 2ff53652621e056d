// Package scheduler is the time-driven orchestrator around the lifecycle
// engine. It generates the day's task instances, drains the bounded
// announcement queue, arms per-instance timers, runs the safety-net sweeps
// and executes the side effects the engine emits.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/sardorbek21324/Home/advisor"
	"github.com/sardorbek21324/Home/engine"
	"github.com/sardorbek21324/Home/models"
	"github.com/sardorbek21324/Home/notify"
	"github.com/sardorbek21324/Home/reward"
	"github.com/sardorbek21324/Home/store"
)

// ProofArchiver stores a record of an approved report. Optional; nil skips
// archiving.
type ProofArchiver interface {
	ArchiveProof(instanceID uint, photoFileID, caption string) error
}

// Config carries the orchestration knobs on top of the engine's own config.
type Config struct {
	// MaxActiveAnnounced bounds how many open tasks carry live announcement
	// messages at once.
	MaxActiveAnnounced int
	// AnnounceCutoffMinutes drops never-announced backlog older than this
	// from the queue instead of spamming the chat hours later.
	AnnounceCutoffMinutes int
	Quiet                 QuietHours
	// GenerationHour is the local hour of the daily generation run.
	GenerationHour int
	MissedSweepEvery time.Duration
	VoteSweepEvery   time.Duration
}

func DefaultConfig() Config {
	quiet, _ := ParseQuietHours("23:00-08:00")
	return Config{
		MaxActiveAnnounced:    3,
		AnnounceCutoffMinutes: 180,
		Quiet:                 quiet,
		GenerationHour:        4,
		MissedSweepEvery:      10 * time.Minute,
		VoteSweepEvery:        5 * time.Minute,
	}
}

// Scheduler owns the timer registry and is the only component that executes
// engine effects.
type Scheduler struct {
	store    store.Store
	engine   *engine.Engine
	engCfg   engine.Config
	notifier notify.Notifier
	adaptive *advisor.Controller
	advice   *advisor.AdviceClient
	archive  ProofArchiver
	clock    Clock
	cfg      Config

	mu       sync.Mutex
	timers   map[string]Timer
	draining bool
	redrain  bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(s store.Store, eng *engine.Engine, engCfg engine.Config, n notify.Notifier, adaptive *advisor.Controller, cfg Config) *Scheduler {
	return &Scheduler{
		store:    s,
		engine:   eng,
		engCfg:   engCfg,
		notifier: n,
		adaptive: adaptive,
		clock:    RealClock(),
		cfg:      cfg,
		timers:   make(map[string]Timer),
		stop:     make(chan struct{}),
	}
}

// WithClock swaps the clock. Call before Start.
func (s *Scheduler) WithClock(c Clock) *Scheduler {
	s.clock = c
	return s
}

// WithAdvice attaches the optional daily-focus client.
func (s *Scheduler) WithAdvice(a *advisor.AdviceClient) *Scheduler {
	s.advice = a
	return s
}

// WithArchive attaches the optional proof archive.
func (s *Scheduler) WithArchive(p ProofArchiver) *Scheduler {
	s.archive = p
	return s
}

// Start launches the sweeps and the daily generation loop, recovers timers
// for work that was in flight when the process last stopped, and drains the
// announcement queue once.
func (s *Scheduler) Start() {
	s.recover()
	s.EnsureTodayTasks()
	s.scheduleDailyGeneration()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		missed := time.NewTicker(s.cfg.MissedSweepEvery)
		votes := time.NewTicker(s.cfg.VoteSweepEvery)
		defer missed.Stop()
		defer votes.Stop()
		for {
			select {
			case <-missed.C:
				s.CheckMissedTasks()
			case <-votes.C:
				s.CheckVoteDeadlines()
			case <-s.stop:
				return
			}
		}
	}()
	log.Printf("[scheduler] started (max announced %d, quiet %v)", s.cfg.MaxActiveAnnounced, s.cfg.Quiet.set)
}

// Shutdown stops the sweeps and cancels every armed timer.
func (s *Scheduler) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
	s.mu.Lock()
	for key, t := range s.timers {
		t.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
	log.Printf("[scheduler] stopped")
}

// recover re-arms vote timers for verification rounds that were open when
// the process stopped. Reserved and open instances need no timers: the
// missed-task sweep and the drain loop pick them up.
func (s *Scheduler) recover() {
	pending, err := s.store.PendingVerification()
	if err != nil {
		log.Printf("[scheduler] recover: %v", err)
		return
	}
	now := s.clock.Now()
	wait := time.Duration(s.engCfg.VoteWaitMinutes) * time.Minute
	for _, inst := range pending {
		due := wait
		var anchor time.Time
		if report, err := s.store.ReportForInstance(inst.ID); err == nil {
			anchor = report.SubmittedAt
		}
		if first, err := s.store.FirstVoteAt(inst.ID); err == nil && first != nil {
			anchor = *first
		}
		if !anchor.IsZero() {
			if rem := anchor.Add(wait).Sub(now); rem > 0 {
				due = rem
			} else {
				due = time.Second
			}
		}
		s.armTimer(engine.TimerVote, inst.ID, due, "")
	}
	if len(pending) > 0 {
		log.Printf("[scheduler] recovered %d open verification rounds", len(pending))
	}
}

// --- event entry points -------------------------------------------------

// Now exposes the scheduler's clock to callers that need "today".
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// dispatch runs one event through the engine and executes its effects.
func (s *Scheduler) dispatch(ev engine.Event) (*engine.Result, error) {
	res, err := s.engine.Apply(s.clock.Now(), ev)
	if err != nil {
		return nil, err
	}
	s.execute(res.Effects)
	return res, nil
}

// Claim handles a claim or postpone button press.
func (s *Scheduler) Claim(instanceID, userID uint, postponeLevel int) (*engine.Result, error) {
	return s.dispatch(engine.Claim{InstanceID: instanceID, UserID: userID, PostponeLevel: postponeLevel})
}

// Cancel releases the caller's reservation.
func (s *Scheduler) Cancel(instanceID, userID uint) (*engine.Result, error) {
	return s.dispatch(engine.Cancel{InstanceID: instanceID, UserID: userID})
}

// SubmitReport opens a verification round for the caller's reservation.
func (s *Scheduler) SubmitReport(instanceID, userID uint, photoFileID string) (*engine.Result, error) {
	return s.dispatch(engine.SubmitReport{InstanceID: instanceID, UserID: userID, PhotoFileID: photoFileID})
}

// Vote records a reviewer verdict and finalizes the round at quorum.
func (s *Scheduler) Vote(instanceID, userID uint, value models.VoteValue) (*engine.Result, error) {
	res, err := s.dispatch(engine.VoteCast{InstanceID: instanceID, UserID: userID, Value: value})
	if err != nil {
		return nil, err
	}
	if res.Decision == "approved" {
		s.archiveProof(instanceID)
	}
	return res, nil
}

// AnnounceInstance force-queues one instance for announcement. Admin surface.
func (s *Scheduler) AnnounceInstance(instanceID uint, penalize bool, note string) error {
	_, err := s.dispatch(engine.Announce{InstanceID: instanceID, Penalize: penalize, Note: note})
	return err
}

func (s *Scheduler) archiveProof(instanceID uint) {
	if s.archive == nil {
		return
	}
	report, err := s.store.ReportForInstance(instanceID)
	if err != nil {
		return
	}
	inst, err := s.store.InstanceByID(instanceID)
	if err != nil {
		return
	}
	tpl, err := s.store.TemplateByID(inst.TemplateID)
	if err != nil {
		return
	}
	caption := fmt.Sprintf("%s / %s / attempt %d", tpl.Code, inst.Day.Format("2006-01-02"), inst.Attempts)
	go func() {
		if err := s.archive.ArchiveProof(instanceID, report.PhotoFileID, caption); err != nil {
			log.Printf("[scheduler] archive proof for task %d: %v", instanceID, err)
		}
	}()
}

// --- effect execution ---------------------------------------------------

func (s *Scheduler) execute(effects []engine.Effect) {
	redrain := false
	for _, eff := range effects {
		switch eff := eff.(type) {
		case engine.EffScore:
			if err := s.store.AddScoreEvent(eff.UserID, eff.Delta, eff.Reason, eff.InstanceID); err != nil {
				log.Printf("[scheduler] score event for user %d: %v", eff.UserID, err)
			}
		case engine.EffNotifyUser:
			if err := s.notifier.SendMessage(eff.ChatID, eff.Text); err != nil {
				log.Printf("[scheduler] notify chat %d: %v", eff.ChatID, err)
			}
		case engine.EffUpdateAfterClaim:
			s.notifier.UpdateAfterClaim(eff.Broadcasts, eff.ClaimerUserID, eff.Text)
		case engine.EffRequestVerification:
			delivered := s.notifier.RequestVerification(eff.InstanceID, eff.PhotoFileID, eff.Caption, eff.Recipients)
			if err := s.store.AddBroadcasts(delivered); err != nil {
				log.Printf("[scheduler] save verification broadcasts for task %d: %v", eff.InstanceID, err)
			}
		case engine.EffVerdict:
			s.notifier.UpdateVerificationOutcome(eff.Broadcasts, eff.Caption)
		case engine.EffSchedule:
			s.armTimer(eff.Kind, eff.InstanceID, eff.After, eff.Note)
		case engine.EffCancel:
			s.cancelTimer(eff.Kind, eff.InstanceID)
		case engine.EffRedrain:
			redrain = true
		}
	}
	if redrain {
		s.AnnouncePending()
	}
}

// --- timer registry -----------------------------------------------------

func timerKey(kind engine.TimerKind, instanceID uint) string {
	return fmt.Sprintf("%s:%d", kind, instanceID)
}

func (s *Scheduler) armTimer(kind engine.TimerKind, instanceID uint, after time.Duration, note string) {
	key := timerKey(kind, instanceID)
	s.mu.Lock()
	if old, ok := s.timers[key]; ok {
		old.Stop()
	}
	s.timers[key] = s.clock.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		s.fireTimer(kind, instanceID, note)
	})
	s.mu.Unlock()
}

func (s *Scheduler) cancelTimer(kind engine.TimerKind, instanceID uint) {
	key := timerKey(kind, instanceID)
	s.mu.Lock()
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
}

func (s *Scheduler) fireTimer(kind engine.TimerKind, instanceID uint, note string) {
	var ev engine.Event
	switch kind {
	case engine.TimerClaim:
		ev = engine.ClaimTimeout{InstanceID: instanceID}
	case engine.TimerReannounce:
		ev = engine.Announce{InstanceID: instanceID, Note: note}
	case engine.TimerVote:
		ev = engine.VoteTimeout{InstanceID: instanceID}
	default:
		return
	}
	res, err := s.dispatch(ev)
	if err != nil {
		log.Printf("[scheduler] timer %s for task %d: %v", kind, instanceID, err)
		return
	}
	if kind == engine.TimerVote && res.Decision == "approved" {
		s.archiveProof(instanceID)
	}
}

// ListActiveJobs returns the armed timer keys, for the admin surface.
func (s *Scheduler) ListActiveJobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.timers))
	for key := range s.timers {
		out = append(out, key)
	}
	return out
}

// --- announcement drain -------------------------------------------------

// AnnouncePending drains the announcement queue until the active cap is
// reached or no queued instance remains. Inside quiet hours nothing is sent;
// the drain re-arms itself for the window's end.
func (s *Scheduler) AnnouncePending() {
	// One drain at a time; a drain requested while another runs folds into
	// one more pass.
	s.mu.Lock()
	if s.draining {
		s.redrain = true
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()
	for {
		s.drainOnce()
		s.mu.Lock()
		if !s.redrain {
			s.draining = false
			s.mu.Unlock()
			return
		}
		s.redrain = false
		s.mu.Unlock()
	}
}

func (s *Scheduler) drainOnce() {
	now := s.clock.Now()
	if s.cfg.Quiet.Contains(now) {
		wake := s.cfg.Quiet.NextAllowed(now)
		s.armDrainWake(wake.Sub(now))
		return
	}
	for {
		active, err := s.store.CountActiveAnnounced(now)
		if err != nil {
			log.Printf("[scheduler] drain: %v", err)
			return
		}
		if active >= s.cfg.MaxActiveAnnounced {
			return
		}
		inst, err := s.store.NextUnannounced(now)
		if err == store.ErrNotFound {
			return
		}
		if err != nil {
			log.Printf("[scheduler] drain: %v", err)
			return
		}
		if s.announceOne(now, inst) {
			continue
		}
		// announceOne either skipped the instance or delivery failed
		// everywhere; in both cases move on and let a later drain retry
		// what is still queued.
		return
	}
}

// armDrainWake schedules one drain pass, reusing the registry under a fixed
// key so repeated quiet-hour hits collapse into a single wakeup.
func (s *Scheduler) armDrainWake(after time.Duration) {
	const key = "drain:wake"
	s.mu.Lock()
	if _, ok := s.timers[key]; ok {
		s.mu.Unlock()
		return
	}
	s.timers[key] = s.clock.AfterFunc(after, func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		s.AnnouncePending()
	})
	s.mu.Unlock()
}

// announceOne sends one queued instance. Returns true when the drain loop
// should keep going (the slot was consumed or the instance was dropped).
func (s *Scheduler) announceOne(now time.Time, inst *models.TaskInstance) bool {
	tpl, err := s.store.TemplateByID(inst.TemplateID)
	if err != nil {
		log.Printf("[scheduler] announce task %d: %v", inst.ID, err)
		return false
	}

	// Stale backlog is dropped, not announced hours late. Requeues bump
	// created_at, so only genuinely forgotten instances hit the cutoff.
	if s.cfg.AnnounceCutoffMinutes > 0 && now.Sub(inst.CreatedAt) > time.Duration(s.cfg.AnnounceCutoffMinutes)*time.Minute {
		if err := s.store.SetAnnounced(inst.ID, true, false, nil); err != nil {
			log.Printf("[scheduler] retire stale task %d: %v", inst.ID, err)
		}
		log.Printf("[scheduler] task %d (%s) too old to announce, retired from queue", inst.ID, tpl.Code)
		return true
	}

	family, err := s.store.FamilyUsers()
	if err != nil || len(family) == 0 {
		return false
	}
	recipients := make([]notify.Recipient, 0, len(family))
	for _, u := range family {
		recipients = append(recipients, notify.Recipient{UserID: u.ID, ChatID: u.TgID})
	}

	// Claim the queue slot first so a concurrent drain never double-sends;
	// roll it back if nobody got the message.
	if err := s.store.SetAnnounced(inst.ID, true, inst.AnnouncementPenalize, inst.AnnouncementNote); err != nil {
		log.Printf("[scheduler] mark announced task %d: %v", inst.ID, err)
		return false
	}

	delivered := s.notifier.Announce(inst.ID, s.announceText(inst, tpl), recipients, notify.AnnounceOptions{
		AllowFirstPostpone:  inst.DeferralsUsed < 1,
		AllowSecondPostpone: inst.DeferralsUsed < 2,
	})
	if len(delivered) == 0 {
		if err := s.store.SetAnnounced(inst.ID, false, inst.AnnouncementPenalize, inst.AnnouncementNote); err != nil {
			log.Printf("[scheduler] rollback announce task %d: %v", inst.ID, err)
		}
		log.Printf("[scheduler] announce task %d reached nobody, rolled back", inst.ID)
		return false
	}
	if err := s.store.AddBroadcasts(delivered); err != nil {
		log.Printf("[scheduler] save broadcasts for task %d: %v", inst.ID, err)
	}
	if err := s.store.TouchAnnounced(inst.ID, now); err != nil {
		log.Printf("[scheduler] touch announce time for task %d: %v", inst.ID, err)
	}
	if tpl.ClaimTimeoutMinutes > 0 {
		s.armTimer(engine.TimerClaim, inst.ID, time.Duration(tpl.ClaimTimeoutMinutes)*time.Minute, "")
	}
	return true
}

func (s *Scheduler) announceText(inst *models.TaskInstance, tpl *models.TaskTemplate) string {
	points := inst.EffectivePoints
	if points == 0 {
		points = tpl.BasePoints
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🧹 <b>%s</b>\n", tpl.Title)
	fmt.Fprintf(&b, "Reward: %d points. Time to do it: %d min.", points, tpl.SlaMinutes)
	if tpl.ClaimTimeoutMinutes > 0 {
		fmt.Fprintf(&b, "\nClaim window: %d min.", tpl.ClaimTimeoutMinutes)
	}
	if inst.AnnouncementNote != nil && *inst.AnnouncementNote != "" {
		b.WriteString("\n")
		b.WriteString(*inst.AnnouncementNote)
	}
	return b.String()
}

// --- generation ---------------------------------------------------------

// dueOn reports whether a template produces an instance on the given day.
func dueOn(tpl *models.TaskTemplate, day time.Time) bool {
	switch tpl.Frequency {
	case models.FreqDaily:
		return true
	case models.FreqWeekly:
		return day.Weekday() == time.Monday
	case models.FreqEvery2Days:
		return day.YearDay()%2 == 0
	case models.FreqMonthly:
		return day.Day() == 1
	default:
		return false
	}
}

// GenerateTasksForDay stamps instances for every template due on the day.
// Effective points are frozen here from the current adaptive coefficient.
func (s *Scheduler) GenerateTasksForDay(day time.Time) (int, error) {
	templates, err := s.store.Templates()
	if err != nil {
		return 0, err
	}
	coeff, err := s.adaptive.AverageCoefficient()
	if err != nil {
		return 0, err
	}
	minC, maxC, err := s.adaptive.Bounds()
	if err != nil {
		return 0, err
	}
	created := 0
	for i := range templates {
		tpl := &templates[i]
		if !dueOn(tpl, day) {
			continue
		}
		res, err := s.dispatch(engine.Generate{
			TemplateID:      tpl.ID,
			Day:             day,
			Slot:            1,
			EffectivePoints: reward.CalcEffectivePoints(tpl.BasePoints, coeff, minC, maxC),
		})
		if err != nil {
			log.Printf("[scheduler] generate %s for %s: %v", tpl.Code, day.Format("2006-01-02"), err)
			continue
		}
		if res.CreatedInstanceID != 0 {
			created++
		}
	}
	if created > 0 {
		log.Printf("[scheduler] generated %d tasks for %s (coeff %.2f)", created, day.Format("2006-01-02"), coeff)
	}
	return created, nil
}

// EnsureTodayTasks generates any missing instances for today. Idempotent.
func (s *Scheduler) EnsureTodayTasks() {
	if _, err := s.GenerateTasksForDay(s.clock.Now()); err != nil {
		log.Printf("[scheduler] ensure today: %v", err)
	}
}

// RegenerateToday wipes and re-stamps today's instances. Admin surface;
// reservations and submitted reports for today are discarded.
func (s *Scheduler) RegenerateToday() (int, error) {
	day := s.clock.Now()
	removed, err := s.store.DeleteInstancesForDay(day)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		log.Printf("[scheduler] regenerate: removed %d instances for %s", removed, day.Format("2006-01-02"))
	}
	created, err := s.GenerateTasksForDay(day)
	if err != nil {
		return 0, err
	}
	return created, nil
}

func (s *Scheduler) scheduleDailyGeneration() {
	now := s.clock.Now()
	next := time.Date(now.Year(), now.Month(), now.Day(), s.cfg.GenerationHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	const key = "generation:daily"
	s.mu.Lock()
	if old, ok := s.timers[key]; ok {
		old.Stop()
	}
	s.timers[key] = s.clock.AfterFunc(next.Sub(now), func() {
		s.mu.Lock()
		delete(s.timers, key)
		s.mu.Unlock()
		s.runDailyGeneration()
		s.scheduleDailyGeneration()
	})
	s.mu.Unlock()
}

func (s *Scheduler) runDailyGeneration() {
	day := s.clock.Now()
	if _, err := s.GenerateTasksForDay(day); err != nil {
		log.Printf("[scheduler] daily generation: %v", err)
		return
	}
	s.sendDailyFocus(day)
}

// sendDailyFocus asks the advice client for a short priority note and sends
// it to every participant. Failures only log.
func (s *Scheduler) sendDailyFocus(day time.Time) {
	if !s.advice.Enabled() {
		return
	}
	templates, err := s.store.Templates()
	if err != nil {
		return
	}
	var names []string
	for i := range templates {
		if dueOn(&templates[i], day) {
			names = append(names, templates[i].Title)
		}
	}
	if len(names) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	focus, err := s.advice.DailyFocus(ctx, "Today's chores: "+strings.Join(names, ", "))
	if err != nil {
		log.Printf("[scheduler] daily focus: %v", err)
		return
	}
	family, err := s.store.FamilyUsers()
	if err != nil {
		return
	}
	for _, u := range family {
		if err := s.notifier.SendMessage(u.TgID, "💡 "+focus); err != nil {
			log.Printf("[scheduler] daily focus to chat %d: %v", u.TgID, err)
		}
	}
}

// --- sweeps -------------------------------------------------------------

// CheckMissedTasks reopens reservations whose deadline passed. Backstop for
// the per-instance deadline handling; safe to run any time.
func (s *Scheduler) CheckMissedTasks() {
	now := s.clock.Now()
	overdue, err := s.store.ReservedPastDeadline(now)
	if err != nil {
		log.Printf("[scheduler] missed sweep: %v", err)
		return
	}
	for _, inst := range overdue {
		if _, err := s.dispatch(engine.DeadlineMissed{InstanceID: inst.ID}); err != nil {
			log.Printf("[scheduler] missed sweep task %d: %v", inst.ID, err)
		}
	}
}

// CheckVoteDeadlines force-finalizes verification rounds whose vote window
// expired. Backstop for lost vote timers.
func (s *Scheduler) CheckVoteDeadlines() {
	now := s.clock.Now()
	pending, err := s.store.PendingVerification()
	if err != nil {
		log.Printf("[scheduler] vote sweep: %v", err)
		return
	}
	wait := time.Duration(s.engCfg.VoteWaitMinutes) * time.Minute
	for _, inst := range pending {
		report, err := s.store.ReportForInstance(inst.ID)
		if err != nil {
			continue
		}
		// The window runs from the first vote once one exists; only a
		// completely silent round is measured from submission.
		anchor := report.SubmittedAt
		if first, err := s.store.FirstVoteAt(inst.ID); err == nil && first != nil {
			anchor = *first
		}
		if now.Sub(anchor) < wait {
			continue
		}
		res, err := s.dispatch(engine.VoteTimeout{InstanceID: inst.ID})
		if err != nil {
			log.Printf("[scheduler] vote sweep task %d: %v", inst.ID, err)
			continue
		}
		if res.Decision == "approved" {
			s.archiveProof(inst.ID)
		}
	}
}
