// Package engine implements the task lifecycle state machine:
// open → reserved → report_submitted → approved, with reserved falling back
// to open on cancel or a missed deadline and report_submitted falling back
// to reserved on a rejected verification. Every transition is guarded by a
// status compare-and-swap in the Store, so concurrent events on one instance
// resolve to exactly one winner.
package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/sardorbek21324/Home/models"
	"github.com/sardorbek21324/Home/notify"
	"github.com/sardorbek21324/Home/reward"
	"github.com/sardorbek21324/Home/store"
)

// Expected domain outcomes. These are results, not failures: losing a claim
// race or pressing a stale button is normal operation.
var (
	ErrAlreadyClaimed    = errors.New("task already claimed")
	ErrOptionUnavailable = errors.New("option unavailable")
	ErrNotAssignee       = errors.New("task is held by someone else")
	ErrNoReviewers       = errors.New("not enough reviewers")
	ErrConflict          = errors.New("state changed concurrently")
)

// Config carries the timing and policy knobs of the state machine.
type Config struct {
	// DeferStepMinutes extends the performance deadline per postpone level.
	DeferStepMinutes int
	// CancelGraceMinutes is how long after claiming a cancel stays free.
	CancelGraceMinutes int
	CancelLatePenalty  int
	// VoteWaitMinutes bounds how long a verification round may stay short
	// of quorum before missing votes count as "no".
	VoteWaitMinutes int
	// ReannounceCooldownMinutes delays the next announcement after a claim
	// window expired unclaimed.
	ReannounceCooldownMinutes int
	// MinReviewers is the smallest reviewer count that makes a vote viable.
	// Below it, report submissions auto-reject back to in-progress.
	MinReviewers int
	// MissPenaltyMultiplier scales the missed-deadline penalty.
	MissPenaltyMultiplier int
}

func DefaultConfig() Config {
	return Config{
		DeferStepMinutes:          30,
		CancelGraceMinutes:        10,
		CancelLatePenalty:         2,
		VoteWaitMinutes:           30,
		ReannounceCooldownMinutes: 15,
		MinReviewers:              1,
		MissPenaltyMultiplier:     reward.MissPenaltyMultiplier,
	}
}

// Result reports what a transition decided and which side effects the
// scheduler must execute.
type Result struct {
	// Feedback is a short acknowledgement for the acting user.
	Feedback string
	// Duplicate marks a vote that was already counted (no-op).
	Duplicate bool
	// Decision is "approved" or "rejected" once a verification round
	// finalized, empty otherwise.
	Decision string
	// CreatedInstanceID is set by Generate.
	CreatedInstanceID uint
	Effects           []Effect
}

type Engine struct {
	store store.Store
	cfg   Config
}

func New(s store.Store, cfg Config) *Engine {
	return &Engine{store: s, cfg: cfg}
}

// Apply runs one event through the state machine at the given moment.
// The caller supplies now so transitions stay deterministic under test.
func (e *Engine) Apply(now time.Time, ev Event) (*Result, error) {
	switch ev := ev.(type) {
	case Generate:
		return e.generate(now, ev)
	case Announce:
		return e.announce(ev)
	case Claim:
		return e.claim(now, ev)
	case Cancel:
		return e.cancel(now, ev)
	case SubmitReport:
		return e.submitReport(ev)
	case VoteCast:
		return e.vote(ev)
	case ClaimTimeout:
		return e.claimTimeout(ev)
	case DeadlineMissed:
		return e.deadlineMissed(now, ev)
	case VoteTimeout:
		return e.voteTimeout(ev)
	default:
		return nil, fmt.Errorf("engine: unknown event %T", ev)
	}
}

func (e *Engine) instance(id uint) (*models.TaskInstance, *models.TaskTemplate, error) {
	inst, err := e.store.InstanceByID(id)
	if err != nil {
		return nil, nil, err
	}
	tpl, err := e.store.TemplateByID(inst.TemplateID)
	if err != nil {
		return nil, nil, err
	}
	return inst, tpl, nil
}

func (e *Engine) generate(now time.Time, ev Generate) (*Result, error) {
	exists, err := e.store.InstanceExists(ev.TemplateID, ev.Day)
	if err != nil {
		return nil, err
	}
	if exists {
		return &Result{}, nil
	}
	slot := ev.Slot
	if slot == 0 {
		slot = 1
	}
	inst := &models.TaskInstance{
		TemplateID:      ev.TemplateID,
		Day:             ev.Day,
		Slot:            slot,
		Status:          models.StatusOpen,
		EffectivePoints: ev.EffectivePoints,
		CreatedAt:       now,
	}
	if err := e.store.CreateInstance(inst); err != nil {
		return nil, err
	}
	return &Result{
		CreatedInstanceID: inst.ID,
		Effects:           []Effect{EffRedrain{}},
	}, nil
}

func (e *Engine) announce(ev Announce) (*Result, error) {
	var note *string
	if ev.Note != "" {
		note = &ev.Note
	}
	ok, err := e.store.QueueForAnnounce(ev.InstanceID, ev.Penalize, note)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Not open anymore; nothing to announce.
		return &Result{}, nil
	}
	return &Result{Effects: []Effect{EffRedrain{}}}, nil
}

func (e *Engine) claim(now time.Time, ev Claim) (*Result, error) {
	inst, tpl, err := e.instance(ev.InstanceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrAlreadyClaimed
	}
	if err != nil {
		return nil, err
	}
	if inst.Status != models.StatusOpen {
		return nil, ErrAlreadyClaimed
	}
	level := ev.PostponeLevel
	if level < 0 || level > 2 {
		return nil, ErrOptionUnavailable
	}
	// A postpone must move the deferral count forward; re-requesting an
	// already spent level is rejected, and two deferrals is the ceiling.
	if level > 0 && level <= inst.DeferralsUsed {
		return nil, ErrOptionUnavailable
	}
	firstEver := inst.Attempts == 0

	deadline := now.Add(time.Duration(tpl.SlaMinutes+level*e.cfg.DeferStepMinutes) * time.Minute)
	ok, err := e.store.TryClaim(inst.ID, ev.UserID, deadline, level)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyClaimed
	}

	claimer, err := e.store.UserByID(ev.UserID)
	if err != nil {
		return nil, err
	}
	instID := inst.ID

	var effects []Effect
	if level == 0 {
		if bonus := reward.BonusForFirstTaker(firstEver); bonus > 0 {
			effects = append(effects, EffScore{
				UserID: ev.UserID, Delta: bonus,
				Reason: tpl.Title + ": first taker bonus", InstanceID: &instID,
			})
		}
	} else if penalty := reward.PenaltyForSkip(level); penalty > 0 {
		effects = append(effects, EffScore{
			UserID: ev.UserID, Delta: -penalty,
			Reason: fmt.Sprintf("%s: postponed (level %d)", tpl.Title, level), InstanceID: &instID,
		})
	}

	broadcasts, err := e.store.PopBroadcasts(inst.ID)
	if err != nil {
		return nil, err
	}
	if len(broadcasts) > 0 {
		effects = append(effects, EffUpdateAfterClaim{
			Broadcasts:    broadcasts,
			ClaimerUserID: ev.UserID,
			Text:          fmt.Sprintf("🏁 %s\nTaken by %s.", tpl.Title, claimer.Name),
		})
	}
	effects = append(effects,
		EffCancel{Kind: TimerClaim, InstanceID: inst.ID},
		EffCancel{Kind: TimerReannounce, InstanceID: inst.ID},
		EffRedrain{},
	)
	return &Result{
		Feedback: fmt.Sprintf("%s is yours until %s. Send a photo report when done.", tpl.Title, deadline.Format("15:04")),
		Effects:  effects,
	}, nil
}

func (e *Engine) cancel(now time.Time, ev Cancel) (*Result, error) {
	inst, tpl, err := e.instance(ev.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != models.StatusReserved {
		return nil, ErrConflict
	}
	if inst.AssignedTo == nil || *inst.AssignedTo != ev.UserID {
		return nil, ErrNotAssignee
	}

	var effects []Effect
	if inst.ReservedUntil != nil {
		// The claim moment is the deadline minus the SLA and any deferral
		// extension; no separate claimed_at column is needed.
		claimedAt := inst.ReservedUntil.Add(-time.Duration(tpl.SlaMinutes+inst.DeferralsUsed*e.cfg.DeferStepMinutes) * time.Minute)
		if now.Sub(claimedAt) > time.Duration(e.cfg.CancelGraceMinutes)*time.Minute {
			instID := inst.ID
			effects = append(effects, EffScore{
				UserID: ev.UserID, Delta: -e.cfg.CancelLatePenalty,
				Reason: tpl.Title + ": late cancel", InstanceID: &instID,
			})
		}
	}
	ok, err := e.store.Release(inst.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	effects = append(effects, EffRedrain{})
	return &Result{
		Feedback: "Reservation released. The task is open to everyone again.",
		Effects:  effects,
	}, nil
}

func (e *Engine) submitReport(ev SubmitReport) (*Result, error) {
	inst, tpl, err := e.instance(ev.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != models.StatusReserved {
		return nil, ErrConflict
	}
	if inst.AssignedTo == nil || *inst.AssignedTo != ev.UserID {
		return nil, ErrNotAssignee
	}

	family, err := e.store.FamilyUsers()
	if err != nil {
		return nil, err
	}
	var reviewers []notify.Recipient
	for _, u := range family {
		if u.ID == ev.UserID {
			continue
		}
		reviewers = append(reviewers, notify.Recipient{UserID: u.ID, ChatID: u.TgID})
	}
	if len(reviewers) < e.cfg.MinReviewers {
		// Auto-reject: nobody can verify, so the task stays in progress
		// without opening a round.
		return nil, ErrNoReviewers
	}

	report := &models.Report{
		TaskInstanceID: inst.ID,
		UserID:         ev.UserID,
		PhotoFileID:    ev.PhotoFileID,
	}
	if err := e.store.CreateReport(report); err != nil {
		return nil, err
	}
	ok, err := e.store.BeginVerification(inst.ID, len(reviewers))
	if err != nil {
		return nil, err
	}
	if !ok {
		_ = e.store.DeleteReport(inst.ID)
		return nil, ErrConflict
	}
	performer, err := e.store.UserByID(ev.UserID)
	if err != nil {
		return nil, err
	}
	return &Result{
		Feedback: "Photo received. Waiting for the family's votes!",
		Effects: []Effect{
			EffRequestVerification{
				InstanceID:  inst.ID,
				PhotoFileID: ev.PhotoFileID,
				Caption:     fmt.Sprintf("Task: %s\nPerformer: %s. Do you approve?", tpl.Title, performer.Name),
				Recipients:  reviewers,
			},
			EffSchedule{Kind: TimerVote, InstanceID: inst.ID, After: time.Duration(e.cfg.VoteWaitMinutes) * time.Minute},
		},
	}, nil
}

func (e *Engine) vote(ev VoteCast) (*Result, error) {
	inst, tpl, err := e.instance(ev.InstanceID)
	if err != nil {
		return nil, err
	}
	if inst.Status != models.StatusReportSubmitted {
		return nil, ErrConflict
	}
	if inst.AssignedTo != nil && *inst.AssignedTo == ev.UserID {
		// The performer does not vote on their own report.
		return nil, ErrOptionUnavailable
	}
	added, err := e.store.RegisterVote(inst.ID, ev.UserID, ev.Value)
	if err != nil {
		return nil, err
	}
	if !added {
		return &Result{Duplicate: true, Feedback: "Vote already counted."}, nil
	}
	yes, no, err := e.store.VotesSummary(inst.ID)
	if err != nil {
		return nil, err
	}
	expected := e.expectedVotes(inst)
	if yes+no < expected {
		res := &Result{Feedback: "Vote counted. Waiting for the others."}
		if yes+no == 1 {
			// The wait window runs from the first vote, not from
			// submission: restart the timer now that someone engaged.
			res.Effects = []Effect{EffSchedule{
				Kind:       TimerVote,
				InstanceID: inst.ID,
				After:      time.Duration(e.cfg.VoteWaitMinutes) * time.Minute,
			}}
		}
		return res, nil
	}
	return e.finalize(inst, tpl, yes, no)
}

func (e *Engine) expectedVotes(inst *models.TaskInstance) int {
	if inst.RoundNo > 0 {
		return inst.RoundNo
	}
	family, err := e.store.FamilyUsers()
	if err != nil {
		return 1
	}
	n := len(family)
	if inst.AssignedTo != nil {
		n--
	}
	if n < 1 {
		n = 1
	}
	return n
}

// finalize settles a verification round: simple majority of yes over
// effectiveNo approves, anything else sends the performer back for another
// attempt in place.
func (e *Engine) finalize(inst *models.TaskInstance, tpl *models.TaskTemplate, yes, effectiveNo int) (*Result, error) {
	instID := inst.ID
	points := inst.EffectivePoints
	if points == 0 {
		points = tpl.BasePoints
	}

	var performer *models.User
	if inst.AssignedTo != nil {
		u, err := e.store.UserByID(*inst.AssignedTo)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		performer = u
	}

	var effects []Effect
	var decision, verdict, personal string

	if yes > effectiveNo {
		ok, err := e.store.Approve(inst.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}
		earned := reward.ForCompletion(points, inst.DeferralsUsed)
		if performer != nil {
			effects = append(effects, EffScore{
				UserID: performer.ID, Delta: earned,
				Reason: tpl.Title + ": approved", InstanceID: &instID,
			})
			personal = fmt.Sprintf("✅ %s approved. +%d points.", tpl.Title, earned)
		}
		decision = "approved"
		verdict = "Report approved ✅"
	} else {
		ok, err := e.store.RetryAfterReject(inst.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrConflict
		}
		// Discard the round: votes and report go, the reservation stays.
		if err := e.store.ClearVotes(inst.ID); err != nil {
			return nil, err
		}
		if err := e.store.DeleteReport(inst.ID); err != nil {
			return nil, err
		}
		if performer != nil {
			personal = fmt.Sprintf("❌ %s rejected. Try again!", tpl.Title)
		}
		decision = "rejected"
		verdict = "Report rejected ❌"
	}

	broadcasts, err := e.store.PopBroadcasts(inst.ID)
	if err != nil {
		return nil, err
	}
	if len(broadcasts) > 0 {
		caption := fmt.Sprintf("Task: %s\nResult: %s", tpl.Title, verdict)
		if performer != nil {
			caption = fmt.Sprintf("Task: %s\nPerformer: %s.\nResult: %s", tpl.Title, performer.Name, verdict)
		}
		effects = append(effects, EffVerdict{Broadcasts: broadcasts, Caption: caption})
	}
	if performer != nil && personal != "" {
		effects = append(effects, EffNotifyUser{ChatID: performer.TgID, Text: personal})
	}
	effects = append(effects, EffCancel{Kind: TimerVote, InstanceID: inst.ID})
	if decision == "approved" {
		effects = append(effects, EffRedrain{})
	}
	return &Result{Decision: decision, Effects: effects}, nil
}

func (e *Engine) claimTimeout(ev ClaimTimeout) (*Result, error) {
	inst, tpl, err := e.instance(ev.InstanceID)
	if errors.Is(err, store.ErrNotFound) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	if inst.Status != models.StatusOpen {
		// Claimed or finished while the timer was in flight.
		return &Result{}, nil
	}

	instID := inst.ID
	var effects []Effect
	note := ""
	if tpl.NobodyClaimedPenalty > 0 {
		family, err := e.store.FamilyUsers()
		if err != nil {
			return nil, err
		}
		for _, u := range family {
			effects = append(effects, EffScore{
				UserID: u.ID, Delta: -tpl.NobodyClaimedPenalty,
				Reason: tpl.Title + ": nobody claimed in time", InstanceID: &instID,
			})
		}
		note = fmt.Sprintf("⚠️ Nobody claimed in time: %d point penalty for everyone.", tpl.NobodyClaimedPenalty)
	}

	var notePtr *string
	if note != "" {
		notePtr = &note
	}
	if _, err := e.store.QueueForAnnounce(inst.ID, false, notePtr); err != nil {
		return nil, err
	}
	effects = append(effects, EffSchedule{
		Kind:       TimerReannounce,
		InstanceID: inst.ID,
		After:      time.Duration(e.cfg.ReannounceCooldownMinutes) * time.Minute,
		Note:       note,
	})
	return &Result{Effects: effects}, nil
}

func (e *Engine) deadlineMissed(now time.Time, ev DeadlineMissed) (*Result, error) {
	inst, tpl, err := e.instance(ev.InstanceID)
	if errors.Is(err, store.ErrNotFound) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	if inst.Status != models.StatusReserved || inst.ReservedUntil == nil || !inst.ReservedUntil.Before(now) {
		return &Result{}, nil
	}

	instID := inst.ID
	var effects []Effect
	if inst.AssignedTo != nil {
		performer, err := e.store.UserByID(*inst.AssignedTo)
		if err == nil {
			penalty := reward.MissedPenalty(tpl.BasePoints, e.cfg.MissPenaltyMultiplier)
			effects = append(effects,
				EffScore{UserID: performer.ID, Delta: penalty, Reason: tpl.Title + ": deadline missed", InstanceID: &instID},
				EffNotifyUser{ChatID: performer.TgID, Text: fmt.Sprintf("⏰ The deadline for “%s” has passed. Penalty: %d points.", tpl.Title, -penalty)},
			)
		}
	}
	ok, err := e.store.Release(inst.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &Result{}, nil
	}
	effects = append(effects,
		EffCancel{Kind: TimerVote, InstanceID: inst.ID},
		EffRedrain{},
	)
	return &Result{Effects: effects}, nil
}

func (e *Engine) voteTimeout(ev VoteTimeout) (*Result, error) {
	inst, tpl, err := e.instance(ev.InstanceID)
	if errors.Is(err, store.ErrNotFound) {
		return &Result{}, nil
	}
	if err != nil {
		return nil, err
	}
	if inst.Status != models.StatusReportSubmitted {
		// Finalized already; the stale timer is a no-op.
		return &Result{Effects: []Effect{EffCancel{Kind: TimerVote, InstanceID: ev.InstanceID}}}, nil
	}
	yes, no, err := e.store.VotesSummary(inst.ID)
	if err != nil {
		return nil, err
	}
	expected := e.expectedVotes(inst)
	missing := expected - (yes + no)
	if missing < 0 {
		missing = 0
	}
	// Silence counts against the performer.
	return e.finalize(inst, tpl, yes, no+missing)
}
