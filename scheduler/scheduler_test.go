package scheduler

import (
	"sync"
	"testing"
	"time"

	"github.com/sardorbek21324/Home/advisor"
	"github.com/sardorbek21324/Home/engine"
	"github.com/sardorbek21324/Home/models"
	"github.com/sardorbek21324/Home/notify"
	"github.com/sardorbek21324/Home/store"
)

// fakeNotifier records every delivery instead of talking to Telegram.
// With fail set it delivers to nobody.
type fakeNotifier struct {
	mu            sync.Mutex
	fail          bool
	announced     []uint
	verifications []uint
	messages      []string
	nextMsgID     int64
}

func (f *fakeNotifier) rows(taskID uint, recipients []notify.Recipient) []models.TaskBroadcast {
	var out []models.TaskBroadcast
	for _, r := range recipients {
		f.nextMsgID++
		out = append(out, models.TaskBroadcast{
			TaskID:    taskID,
			UserID:    r.UserID,
			ChatID:    r.ChatID,
			MessageID: f.nextMsgID,
		})
	}
	return out
}

func (f *fakeNotifier) Announce(taskID uint, text string, recipients []notify.Recipient, opts notify.AnnounceOptions) []models.TaskBroadcast {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil
	}
	f.announced = append(f.announced, taskID)
	return f.rows(taskID, recipients)
}

func (f *fakeNotifier) UpdateAfterClaim(broadcasts []models.TaskBroadcast, exceptUserID uint, text string) {
}

func (f *fakeNotifier) RequestVerification(taskID uint, photoFileID, caption string, recipients []notify.Recipient) []models.TaskBroadcast {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil
	}
	f.verifications = append(f.verifications, taskID)
	return f.rows(taskID, recipients)
}

func (f *fakeNotifier) UpdateVerificationOutcome(broadcasts []models.TaskBroadcast, caption string) {}

func (f *fakeNotifier) SendMessage(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeNotifier) announceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.announced)
}

type archiveCall struct {
	InstanceID  uint
	PhotoFileID string
}

type fakeArchive struct {
	calls chan archiveCall
}

func (f *fakeArchive) ArchiveProof(instanceID uint, photoFileID, caption string) error {
	f.calls <- archiveCall{InstanceID: instanceID, PhotoFileID: photoFileID}
	return nil
}

type schedFixture struct {
	store    *store.Memory
	notifier *fakeNotifier
	clock    *FakeClock
	sched    *Scheduler
	users    []*models.User
	tpl      *models.TaskTemplate
}

// newSchedFixture wires a scheduler on the in-memory store with a fake clock
// starting Monday 2025-03-10 12:00 UTC. Quiet hours and the announce cutoff
// are off unless the test configures them.
func newSchedFixture(t *testing.T, userCount int, cfg Config) *schedFixture {
	t.Helper()
	mem := store.NewMemory()
	f := &schedFixture{
		store:    mem,
		notifier: &fakeNotifier{},
		clock:    NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)),
	}
	for i := 0; i < userCount; i++ {
		u, err := mem.EnsureUser(int64(2000+i), string(rune('A'+i))+"user", nil)
		if err != nil {
			t.Fatalf("seed user: %v", err)
		}
		f.users = append(f.users, u)
	}
	f.tpl = &models.TaskTemplate{
		Code:                 "dishes",
		Title:                "Wash the dishes",
		BasePoints:           20,
		Frequency:            models.FreqDaily,
		SlaMinutes:           60,
		ClaimTimeoutMinutes:  30,
		NobodyClaimedPenalty: 1,
	}
	if err := mem.CreateTemplate(f.tpl); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	engCfg := engine.DefaultConfig()
	eng := engine.New(mem, engCfg)
	f.sched = New(mem, eng, engCfg, f.notifier, advisor.NewController(mem), cfg).WithClock(f.clock)
	return f
}

func testConfig() Config {
	return Config{
		MaxActiveAnnounced:    3,
		AnnounceCutoffMinutes: 0,
		GenerationHour:        4,
		MissedSweepEvery:      10 * time.Minute,
		VoteSweepEvery:        5 * time.Minute,
	}
}

func (f *schedFixture) addOpenInstance(t *testing.T, createdAt time.Time) uint {
	t.Helper()
	inst := &models.TaskInstance{
		TemplateID:      f.tpl.ID,
		Day:             f.clock.Now(),
		Slot:            1,
		Status:          models.StatusOpen,
		EffectivePoints: f.tpl.BasePoints,
		CreatedAt:       createdAt,
	}
	if err := f.store.CreateInstance(inst); err != nil {
		t.Fatalf("create instance: %v", err)
	}
	return inst.ID
}

func (f *schedFixture) mustStatus(t *testing.T, id uint, want models.TaskStatus) *models.TaskInstance {
	t.Helper()
	inst, err := f.store.InstanceByID(id)
	if err != nil {
		t.Fatalf("instance %d: %v", id, err)
	}
	if inst.Status != want {
		t.Fatalf("instance %d status = %s, want %s", id, inst.Status, want)
	}
	return inst
}

func TestDrainRespectsActiveCap(t *testing.T) {
	f := newSchedFixture(t, 2, testConfig())
	now := f.clock.Now()
	for i := 0; i < 5; i++ {
		f.addOpenInstance(t, now.Add(time.Duration(i)*time.Minute))
	}

	f.sched.AnnouncePending()
	if got := f.notifier.announceCount(); got != 3 {
		t.Fatalf("announced %d tasks, want 3 (cap)", got)
	}

	// Claiming one frees a slot; the redrain effect pulls in the next.
	firstID := f.notifier.announced[0]
	if _, err := f.sched.Claim(firstID, f.users[0].ID, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got := f.notifier.announceCount(); got != 4 {
		t.Fatalf("announced %d tasks after a claim, want 4", got)
	}
}

func TestDrainQueueOrderIsOldestFirst(t *testing.T) {
	cfg := testConfig()
	cfg.MaxActiveAnnounced = 1
	f := newSchedFixture(t, 2, cfg)
	now := f.clock.Now()
	newer := f.addOpenInstance(t, now)
	older := f.addOpenInstance(t, now.Add(-time.Hour))
	_ = newer

	f.sched.AnnouncePending()
	if len(f.notifier.announced) != 1 || f.notifier.announced[0] != older {
		t.Fatalf("announced %v, want the older instance %d first", f.notifier.announced, older)
	}
}

func TestQuietHoursDeferAnnouncements(t *testing.T) {
	cfg := testConfig()
	quiet, err := ParseQuietHours("23:00-08:00")
	if err != nil {
		t.Fatalf("parse quiet: %v", err)
	}
	cfg.Quiet = quiet
	f := newSchedFixture(t, 2, cfg)

	// Move into the quiet window before queueing work.
	f.clock.Advance(11*time.Hour + 30*time.Minute) // 23:30
	f.addOpenInstance(t, f.clock.Now())

	f.sched.AnnouncePending()
	if got := f.notifier.announceCount(); got != 0 {
		t.Fatalf("announced %d tasks inside quiet hours, want 0", got)
	}
	if f.clock.PendingTimers() == 0 {
		t.Fatal("no drain wakeup armed for the window end")
	}

	// The wake fires at 08:00 the next morning and drains.
	f.clock.Advance(8*time.Hour + 35*time.Minute)
	if got := f.notifier.announceCount(); got != 1 {
		t.Fatalf("announced %d tasks after quiet hours, want 1", got)
	}
}

func TestAnnounceRollbackWhenNobodyReached(t *testing.T) {
	f := newSchedFixture(t, 2, testConfig())
	id := f.addOpenInstance(t, f.clock.Now())
	f.notifier.fail = true

	f.sched.AnnouncePending()
	inst, err := f.store.InstanceByID(id)
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	if inst.Announced {
		t.Fatal("failed delivery must roll the announced flag back")
	}
}

func TestStaleBacklogIsRetired(t *testing.T) {
	cfg := testConfig()
	cfg.AnnounceCutoffMinutes = 180
	f := newSchedFixture(t, 2, cfg)
	id := f.addOpenInstance(t, f.clock.Now().Add(-4*time.Hour))

	f.sched.AnnouncePending()
	if got := f.notifier.announceCount(); got != 0 {
		t.Fatalf("announced %d stale tasks, want 0", got)
	}
	inst, err := f.store.InstanceByID(id)
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	if !inst.Announced {
		t.Fatal("retired instance must leave the queue")
	}
}

func TestClaimTimerFiresAndReannounces(t *testing.T) {
	f := newSchedFixture(t, 2, testConfig())
	f.addOpenInstance(t, f.clock.Now())
	f.sched.AnnouncePending()
	if got := f.notifier.announceCount(); got != 1 {
		t.Fatalf("announced %d, want 1", got)
	}

	// Claim window (30 min) expires: everyone is penalized and a
	// reannounce timer starts.
	f.clock.Advance(30 * time.Minute)
	for _, u := range f.users {
		found := false
		for _, ev := range f.store.ScoreEvents() {
			if ev.UserID == u.ID && ev.Delta == -1 {
				found = true
			}
		}
		if !found {
			t.Fatalf("user %d missing the nobody-claimed penalty", u.ID)
		}
	}

	// Reannounce cooldown (15 min) passes: the task goes out again.
	f.clock.Advance(15 * time.Minute)
	if got := f.notifier.announceCount(); got != 2 {
		t.Fatalf("announced %d after the cooldown, want 2", got)
	}
}

func TestClaimCancelsClaimTimer(t *testing.T) {
	f := newSchedFixture(t, 2, testConfig())
	id := f.addOpenInstance(t, f.clock.Now())
	f.sched.AnnouncePending()
	if _, err := f.sched.Claim(id, f.users[0].ID, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}

	f.clock.Advance(time.Hour)
	for _, ev := range f.store.ScoreEvents() {
		if ev.Delta == -f.tpl.NobodyClaimedPenalty {
			t.Fatalf("claim timeout fired after the task was claimed: %+v", ev)
		}
	}
}

func TestVoteTimerRejectsOnSilence(t *testing.T) {
	f := newSchedFixture(t, 3, testConfig())
	id := f.addOpenInstance(t, f.clock.Now())
	f.sched.AnnouncePending()
	if _, err := f.sched.Claim(id, f.users[0].ID, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.sched.SubmitReport(id, f.users[0].ID, "photo-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(f.notifier.verifications) != 1 {
		t.Fatalf("verification fan-outs = %d, want 1", len(f.notifier.verifications))
	}
	if _, err := f.sched.Vote(id, f.users[1].ID, models.VoteYes); err != nil {
		t.Fatalf("vote: %v", err)
	}
	f.mustStatus(t, id, models.StatusReportSubmitted)

	// Vote window (30 min) closes with one reviewer silent: 1 yes vs 1
	// missing-as-no is not a majority.
	f.clock.Advance(30 * time.Minute)
	f.mustStatus(t, id, models.StatusReserved)
}

func TestLateFirstVoteKeepsRoundOpen(t *testing.T) {
	f := newSchedFixture(t, 3, testConfig())
	id := f.addOpenInstance(t, f.clock.Now())
	f.sched.AnnouncePending()
	if _, err := f.sched.Claim(id, f.users[0].ID, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.sched.SubmitReport(id, f.users[0].ID, "photo-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// A yes lands just before the submission-based window would close. The
	// wait restarts from that vote, so the round must survive the original
	// 30 minute mark instead of force-finalizing with the absentee as "no".
	f.clock.Advance(29 * time.Minute)
	if _, err := f.sched.Vote(id, f.users[1].ID, models.VoteYes); err != nil {
		t.Fatalf("vote: %v", err)
	}
	f.clock.Advance(time.Minute)
	f.mustStatus(t, id, models.StatusReportSubmitted)

	// The second reviewer still gets to finish the round.
	res, err := f.sched.Vote(id, f.users[2].ID, models.VoteYes)
	if err != nil {
		t.Fatalf("second vote: %v", err)
	}
	if res.Decision != "approved" {
		t.Fatalf("decision = %q, want approved", res.Decision)
	}
	f.mustStatus(t, id, models.StatusApproved)
}

func TestVoteQuorumArchivesProof(t *testing.T) {
	f := newSchedFixture(t, 3, testConfig())
	archive := &fakeArchive{calls: make(chan archiveCall, 1)}
	f.sched.WithArchive(archive)

	id := f.addOpenInstance(t, f.clock.Now())
	f.sched.AnnouncePending()
	if _, err := f.sched.Claim(id, f.users[0].ID, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := f.sched.SubmitReport(id, f.users[0].ID, "photo-7"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.sched.Vote(id, f.users[1].ID, models.VoteYes); err != nil {
		t.Fatalf("vote 1: %v", err)
	}
	res, err := f.sched.Vote(id, f.users[2].ID, models.VoteYes)
	if err != nil {
		t.Fatalf("vote 2: %v", err)
	}
	if res.Decision != "approved" {
		t.Fatalf("decision = %q, want approved", res.Decision)
	}
	f.mustStatus(t, id, models.StatusApproved)

	select {
	case call := <-archive.calls:
		if call.InstanceID != id || call.PhotoFileID != "photo-7" {
			t.Fatalf("archived %+v, want instance %d photo-7", call, id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("proof was never archived")
	}
}

func TestGenerateTasksForDayHonorsFrequency(t *testing.T) {
	f := newSchedFixture(t, 2, testConfig())
	weekly := &models.TaskTemplate{Code: "bath", Title: "Bathroom", BasePoints: 25, Frequency: models.FreqWeekly, SlaMinutes: 90}
	monthly := &models.TaskTemplate{Code: "windows", Title: "Windows", BasePoints: 30, Frequency: models.FreqMonthly, SlaMinutes: 120}
	for _, tpl := range []*models.TaskTemplate{weekly, monthly} {
		if err := f.store.CreateTemplate(tpl); err != nil {
			t.Fatalf("seed template: %v", err)
		}
	}

	// 2025-03-10 is a Monday but not the 1st: daily + weekly are due.
	created, err := f.sched.GenerateTasksForDay(f.clock.Now())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if created != 2 {
		t.Fatalf("created %d instances, want 2", created)
	}

	instances, err := f.store.InstancesForDay(f.clock.Now())
	if err != nil {
		t.Fatalf("instances: %v", err)
	}
	for _, inst := range instances {
		if inst.EffectivePoints == 0 {
			t.Fatalf("instance %d has no frozen effective points", inst.ID)
		}
	}

	// Idempotent: a second run creates nothing.
	created, err = f.sched.GenerateTasksForDay(f.clock.Now())
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if created != 0 {
		t.Fatalf("second run created %d instances, want 0", created)
	}
}

func TestCheckMissedTasksReopensOverdue(t *testing.T) {
	f := newSchedFixture(t, 2, testConfig())
	id := f.addOpenInstance(t, f.clock.Now())
	f.sched.AnnouncePending()
	if _, err := f.sched.Claim(id, f.users[0].ID, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Past the 60 min SLA; the sweep is the backstop that catches it.
	f.clock.Advance(2 * time.Hour)
	f.sched.CheckMissedTasks()
	f.mustStatus(t, id, models.StatusOpen)

	found := false
	for _, ev := range f.store.ScoreEvents() {
		if ev.UserID == f.users[0].ID && ev.Delta == -20 {
			found = true
		}
	}
	if !found {
		t.Fatal("missed-deadline penalty not recorded")
	}
}

func TestCheckVoteDeadlinesFinalizesExpiredRounds(t *testing.T) {
	f := newSchedFixture(t, 3, testConfig())
	id := f.addOpenInstance(t, f.clock.Now())
	f.sched.AnnouncePending()
	if _, err := f.sched.Claim(id, f.users[0].ID, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Build the round by hand with a report submitted 31 minutes ago, as if
	// the process restarted and the vote timer was lost. Only the sweep can
	// close it now.
	submitted := f.clock.Now().Add(-31 * time.Minute)
	if err := f.store.CreateReport(&models.Report{TaskInstanceID: id, UserID: f.users[0].ID, PhotoFileID: "p", SubmittedAt: submitted}); err != nil {
		t.Fatalf("report: %v", err)
	}
	if ok, err := f.store.BeginVerification(id, 2); err != nil || !ok {
		t.Fatalf("begin verification: ok=%v err=%v", ok, err)
	}

	f.sched.CheckVoteDeadlines()
	// Zero yes against two missing-as-no: rejected, back to the performer.
	f.mustStatus(t, id, models.StatusReserved)
}

func TestVoteSweepAnchorsOnFirstVote(t *testing.T) {
	f := newSchedFixture(t, 3, testConfig())
	id := f.addOpenInstance(t, f.clock.Now())
	f.sched.AnnouncePending()
	if _, err := f.sched.Claim(id, f.users[0].ID, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// An old report with a fresh first vote: the window measures from the
	// vote, so the sweep must leave the round alone.
	submitted := f.clock.Now().Add(-31 * time.Minute)
	if err := f.store.CreateReport(&models.Report{TaskInstanceID: id, UserID: f.users[0].ID, PhotoFileID: "p", SubmittedAt: submitted}); err != nil {
		t.Fatalf("report: %v", err)
	}
	if ok, err := f.store.BeginVerification(id, 2); err != nil || !ok {
		t.Fatalf("begin verification: ok=%v err=%v", ok, err)
	}
	if added, err := f.store.RegisterVote(id, f.users[1].ID, models.VoteYes); err != nil || !added {
		t.Fatalf("vote: added=%v err=%v", added, err)
	}

	f.sched.CheckVoteDeadlines()
	f.mustStatus(t, id, models.StatusReportSubmitted)
}

func TestRegenerateTodayReplacesInstances(t *testing.T) {
	f := newSchedFixture(t, 2, testConfig())
	id := f.addOpenInstance(t, f.clock.Now())

	created, err := f.sched.RegenerateToday()
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if created != 1 {
		t.Fatalf("created %d instances, want 1 (the daily template)", created)
	}
	if _, err := f.store.InstanceByID(id); err != store.ErrNotFound {
		t.Fatalf("old instance lookup err = %v, want ErrNotFound", err)
	}
}
