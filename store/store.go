package store

import (
	"errors"
	"time"

	"github.com/sardorbek21324/Home/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// AssignmentStats aggregates a user's claim history for the adaptive
// reward coefficient.
type AssignmentStats struct {
	Taken     int
	Completed int
}

// Store is the single source of truth for all chore state. Every status
// transition is a compare-and-swap on the current status: the boolean result
// reports whether the expected state still held. Lost CAS races are normal
// outcomes, not errors.
type Store interface {
	// Users
	EnsureUser(tgID int64, name string, username *string) (*models.User, error)
	UserByID(id uint) (*models.User, error)
	UserByTg(tgID int64) (*models.User, error)
	// FamilyUsers returns every registered participant, ordered by id.
	FamilyUsers() ([]models.User, error)

	// Templates
	Templates() ([]models.TaskTemplate, error)
	TemplateByID(id uint) (*models.TaskTemplate, error)
	CreateTemplate(t *models.TaskTemplate) error

	// Instances
	InstanceByID(id uint) (*models.TaskInstance, error)
	InstanceExists(templateID uint, day time.Time) (bool, error)
	InstancesForDay(day time.Time) ([]models.TaskInstance, error)
	CreateInstance(inst *models.TaskInstance) error
	DeleteInstancesForDay(day time.Time) (int64, error)
	// CountActiveAnnounced counts open, already announced instances due on
	// or before day. It bounds the announcement queue.
	CountActiveAnnounced(day time.Time) (int, error)
	// NextUnannounced returns the oldest open, not yet announced instance
	// due on or before day (ordered by day, then creation time), or
	// ErrNotFound.
	NextUnannounced(day time.Time) (*models.TaskInstance, error)
	// SetAnnounced flips the announced flag and the carried penalize/note
	// bookkeeping. Used by the drain loop, including rollback on delivery
	// failure.
	SetAnnounced(id uint, announced bool, penalize bool, note *string) error
	// QueueForAnnounce resets announcement bookkeeping and bumps created_at
	// so the instance re-enters the drain queue as fresh work. CAS on
	// status=open.
	QueueForAnnounce(id uint, penalize bool, note *string) (bool, error)
	TouchAnnounced(id uint, at time.Time) error
	ReservedPastDeadline(now time.Time) ([]models.TaskInstance, error)
	PendingVerification() ([]models.TaskInstance, error)

	// Lifecycle transitions (all CAS on status)
	TryClaim(id uint, userID uint, deadline time.Time, deferrals int) (bool, error)
	// Release reopens a reserved instance: clears assignee, deadline,
	// deferrals and announcement bookkeeping, resets the round and bumps
	// created_at so the instance queues as fresh work.
	Release(id uint) (bool, error)
	BeginVerification(id uint, roundNo int) (bool, error)
	Approve(id uint) (bool, error)
	// RetryAfterReject sends a rejected verification back to reserved with
	// attempts incremented. The performer keeps the slot.
	RetryAfterReject(id uint) (bool, error)

	// Reports
	CreateReport(r *models.Report) error
	ReportForInstance(instanceID uint) (*models.Report, error)
	DeleteReport(instanceID uint) error

	// Votes
	// RegisterVote records a vote once per (instance, voter); the boolean
	// is false when the voter already voted.
	RegisterVote(instanceID, voterID uint, value models.VoteValue) (bool, error)
	VotesSummary(instanceID uint) (yes int, no int, err error)
	// FirstVoteAt returns when the earliest vote of the current round was
	// cast, or nil when nobody voted yet. Anchors the vote-wait window.
	FirstVoteAt(instanceID uint) (*time.Time, error)
	ClearVotes(instanceID uint) error

	// Broadcasts
	AddBroadcasts(rows []models.TaskBroadcast) error
	// PopBroadcasts returns and deletes all broadcast rows of an instance.
	PopBroadcasts(taskID uint) ([]models.TaskBroadcast, error)

	// Scores
	// AddScoreEvent appends a ledger entry and updates the user's running
	// total in the same transaction.
	AddScoreEvent(userID uint, delta int, reason string, instanceID *uint) error
	Leaderboard() ([]models.User, error)

	// Adaptive reward knobs
	AdaptiveConfig() (*models.AdaptiveConfig, error)
	SaveAdaptiveConfig(cfg *models.AdaptiveConfig) error
	AssignmentStats() (map[uint]AssignmentStats, error)
}
