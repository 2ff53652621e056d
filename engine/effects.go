package engine

import (
	"time"

	"github.com/sardorbek21324/Home/models"
	"github.com/sardorbek21324/Home/notify"
)

// TimerKind names the orchestrator timer classes keyed per instance.
type TimerKind string

const (
	TimerClaim      TimerKind = "claim_timeout"
	TimerReannounce TimerKind = "reannounce"
	TimerVote       TimerKind = "vote"
)

// Effect is one side-effect instruction emitted by the engine. The engine
// never touches the notifier or timers itself; the scheduler executes the
// returned effects in order, which keeps every transition deterministic
// under test.
type Effect interface{ effect() }

// EffScore appends a ledger entry (and updates the running total).
type EffScore struct {
	UserID     uint
	Delta      int
	Reason     string
	InstanceID *uint
}

// EffNotifyUser sends a plain direct message.
type EffNotifyUser struct {
	ChatID int64
	Text   string
}

// EffUpdateAfterClaim rewrites stale announcement keyboards after a claim.
type EffUpdateAfterClaim struct {
	Broadcasts    []models.TaskBroadcast
	ClaimerUserID uint
	Text          string
}

// EffRequestVerification fans the proof photo out to the reviewers.
type EffRequestVerification struct {
	InstanceID  uint
	PhotoFileID string
	Caption     string
	Recipients  []notify.Recipient
}

// EffVerdict replaces reviewers' voting keyboards with the outcome.
type EffVerdict struct {
	Broadcasts []models.TaskBroadcast
	Caption    string
}

// EffSchedule arms a per-instance timer. Note is carried only by the
// reannounce timer and surfaces in the next announcement text.
type EffSchedule struct {
	Kind       TimerKind
	InstanceID uint
	After      time.Duration
	Note       string
}

// EffCancel removes a per-instance timer if armed.
type EffCancel struct {
	Kind       TimerKind
	InstanceID uint
}

// EffRedrain asks the scheduler to run the announcement drain loop again;
// capacity may have freed up.
type EffRedrain struct{}

func (EffScore) effect()               {}
func (EffNotifyUser) effect()          {}
func (EffUpdateAfterClaim) effect()    {}
func (EffRequestVerification) effect() {}
func (EffVerdict) effect()             {}
func (EffSchedule) effect()            {}
func (EffCancel) effect()              {}
func (EffRedrain) effect()             {}
