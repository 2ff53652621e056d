// Package notify abstracts chat delivery. The scheduler and engine only see
// the Notifier interface; the Telegram implementation lives behind it.
package notify

import "github.com/sardorbek21324/Home/models"

// Recipient is one participant to deliver to.
type Recipient struct {
	UserID uint
	ChatID int64
}

// AnnounceOptions controls which postpone buttons the announcement offers.
type AnnounceOptions struct {
	AllowFirstPostpone  bool
	AllowSecondPostpone bool
}

// Notifier delivers and edits chat messages. Implementations deal with
// per-recipient failures themselves: a send that reaches some recipients
// returns the broadcast rows for those recipients only. Total failure is
// an empty slice.
type Notifier interface {
	// Announce sends a claimable task card to every recipient and returns
	// one broadcast row per successful delivery.
	Announce(taskID uint, text string, recipients []Recipient, opts AnnounceOptions) []models.TaskBroadcast

	// UpdateAfterClaim rewrites previously sent announcement messages once
	// somebody claimed the task, skipping the claimer's own copy.
	UpdateAfterClaim(broadcasts []models.TaskBroadcast, exceptUserID uint, text string)

	// RequestVerification sends the proof photo with yes/no voting buttons
	// to the reviewers and returns broadcast rows for successful sends.
	RequestVerification(taskID uint, photoFileID, caption string, recipients []Recipient) []models.TaskBroadcast

	// UpdateVerificationOutcome replaces reviewers' voting keyboards with
	// the final verdict.
	UpdateVerificationOutcome(broadcasts []models.TaskBroadcast, caption string)

	// SendMessage delivers a plain direct message.
	SendMessage(chatID int64, text string) error
}
