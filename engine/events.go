package engine

import (
	"time"

	"github.com/sardorbek21324/Home/models"
)

// Event is one input to the lifecycle state machine. Events come from chat
// callbacks, from timers, and from the daily generation step; the engine
// treats them all the same way.
type Event interface{ event() }

// Generate creates a task instance for a day if it does not exist yet.
// EffectivePoints is the frozen reward snapshot computed by the caller.
type Generate struct {
	TemplateID      uint
	Day             time.Time
	Slot            int
	EffectivePoints int
}

// Announce queues an instance for (re)announcement.
type Announce struct {
	InstanceID uint
	Penalize   bool
	Note       string
}

// Claim is a participant taking an open task. PostponeLevel 0 means start
// now; 1 and 2 defer the start at an escalating reward cost.
type Claim struct {
	InstanceID    uint
	UserID        uint
	PostponeLevel int
}

// Cancel releases a reservation held by UserID.
type Cancel struct {
	InstanceID uint
	UserID     uint
}

// SubmitReport attaches proof and opens a verification round.
type SubmitReport struct {
	InstanceID  uint
	UserID      uint
	PhotoFileID string
}

// VoteCast records one reviewer's verdict.
type VoteCast struct {
	InstanceID uint
	UserID     uint
	Value      models.VoteValue
}

// ClaimTimeout fires when an announced task stayed unclaimed past its claim
// window.
type ClaimTimeout struct {
	InstanceID uint
}

// DeadlineMissed fires when a reserved task blew its performance deadline
// (found by the missed-task sweep).
type DeadlineMissed struct {
	InstanceID uint
}

// VoteTimeout force-finalizes a verification round that never reached
// quorum, counting missing votes as "no".
type VoteTimeout struct {
	InstanceID uint
}

func (Generate) event()       {}
func (Announce) event()       {}
func (Claim) event()          {}
func (Cancel) event()         {}
func (SubmitReport) event()   {}
func (VoteCast) event()       {}
func (ClaimTimeout) event()   {}
func (DeadlineMissed) event() {}
func (VoteTimeout) event()    {}
