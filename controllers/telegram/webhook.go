// Package telegram handles Bot API webhook updates: button callbacks for the
// task lifecycle, photo reports and the few chat commands.
package telegram

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/sardorbek21324/Home/engine"
	"github.com/sardorbek21324/Home/models"
	"github.com/sardorbek21324/Home/notify"
	"github.com/sardorbek21324/Home/scheduler"
	"github.com/sardorbek21324/Home/store"
	"github.com/sardorbek21324/Home/utils"
)

// Update mirrors the subset of the Bot API update object we consume.
type Update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      *struct {
			ID        int64  `json:"id"`
			FirstName string `json:"first_name"`
			Username  string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text  string `json:"text"`
		Photo []struct {
			FileID string `json:"file_id"`
		} `json:"photo"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		From struct {
			ID        int64  `json:"id"`
			FirstName string `json:"first_name"`
			Username  string `json:"username"`
		} `json:"from"`
		Data string `json:"data"`
	} `json:"callback_query"`
}

// Handler routes webhook updates into the scheduler.
type Handler struct {
	Store store.Store
	Sched *scheduler.Scheduler
	Bot   *notify.Telegram

	// pendingReports maps a chat id to the instance the user is about to
	// photograph, set when they press the report button.
	mu             sync.Mutex
	pendingReports map[int64]uint
}

func NewHandler(s store.Store, sched *scheduler.Scheduler, bot *notify.Telegram) *Handler {
	return &Handler{
		Store:          s,
		Sched:          sched,
		Bot:            bot,
		pendingReports: make(map[int64]uint),
	}
}

// Webhook is the POST endpoint registered with the Bot API. It always
// answers 200; Telegram retries anything else and the retries would replay
// already handled updates.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var update Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: false, Message: "Bad update payload"})
		return
	}
	switch {
	case update.CallbackQuery != nil:
		h.handleCallback(&update)
	case update.Message != nil:
		h.handleMessage(&update)
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "ok"})
}

func (h *Handler) handleMessage(update *Update) {
	msg := update.Message
	if msg.From == nil {
		return
	}
	var username *string
	if msg.From.Username != "" {
		u := msg.From.Username
		username = &u
	}
	user, err := h.Store.EnsureUser(msg.From.ID, msg.From.FirstName, username)
	if err != nil {
		log.Printf("[webhook] ensure user %d: %v", msg.From.ID, err)
		return
	}

	if len(msg.Photo) > 0 {
		h.handlePhoto(user, msg.Chat.ID, msg.Photo[len(msg.Photo)-1].FileID)
		return
	}

	switch command(msg.Text) {
	case "/start":
		_ = h.Bot.SendMessage(msg.Chat.ID, fmt.Sprintf("Hi %s! You are in. Tasks will be announced here; grab them with the buttons.", user.Name))
	case "/score":
		h.sendLeaderboard(msg.Chat.ID)
	case "/tasks":
		h.sendOpenTasks(msg.Chat.ID)
	}
}

func command(text string) string {
	text = strings.TrimSpace(text)
	if text == "" || !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0]
	// Strip the bot mention from group-style commands.
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	return cmd
}

func (h *Handler) handlePhoto(user *models.User, chatID int64, fileID string) {
	h.mu.Lock()
	instanceID, ok := h.pendingReports[chatID]
	if ok {
		delete(h.pendingReports, chatID)
	}
	h.mu.Unlock()
	if !ok {
		_ = h.Bot.SendMessage(chatID, "I got a photo but no report is expected. Press the report button on your task first.")
		return
	}
	res, err := h.Sched.SubmitReport(instanceID, user.ID, fileID)
	if err != nil {
		_ = h.Bot.SendMessage(chatID, reportErrorText(err))
		return
	}
	_ = h.Bot.SendMessage(chatID, res.Feedback)
}

func reportErrorText(err error) string {
	switch {
	case errors.Is(err, engine.ErrNoReviewers):
		return "Nobody else is registered to verify your report yet. Keep the task and try again once the family joins."
	case errors.Is(err, engine.ErrNotAssignee):
		return "This task is not reserved by you."
	case errors.Is(err, engine.ErrConflict):
		return "The task changed state. Check its current status."
	default:
		return "Could not accept the report. Try again."
	}
}

func (h *Handler) sendLeaderboard(chatID int64) {
	users, err := h.Store.Leaderboard()
	if err != nil || len(users) == 0 {
		_ = h.Bot.SendMessage(chatID, "No scores yet.")
		return
	}
	var b strings.Builder
	b.WriteString("🏆 <b>Scores</b>\n")
	for i, u := range users {
		fmt.Fprintf(&b, "%d. %s: %d\n", i+1, u.Name, u.Score)
	}
	_ = h.Bot.SendMessage(chatID, b.String())
}

func (h *Handler) sendOpenTasks(chatID int64) {
	instances, err := h.Store.InstancesForDay(h.Sched.Now())
	if err != nil {
		_ = h.Bot.SendMessage(chatID, "Could not load today's tasks.")
		return
	}
	var lines []string
	for _, inst := range instances {
		if inst.Status != models.StatusOpen {
			continue
		}
		tpl, err := h.Store.TemplateByID(inst.TemplateID)
		if err != nil {
			continue
		}
		points := inst.EffectivePoints
		if points == 0 {
			points = tpl.BasePoints
		}
		lines = append(lines, fmt.Sprintf("• %s (%d points)", tpl.Title, points))
	}
	if len(lines) == 0 {
		_ = h.Bot.SendMessage(chatID, "No open tasks right now. 🎉")
		return
	}
	_ = h.Bot.SendMessage(chatID, "📋 <b>Open today</b>\n"+strings.Join(lines, "\n"))
}

func (h *Handler) handleCallback(update *Update) {
	cq := update.CallbackQuery
	var username *string
	if cq.From.Username != "" {
		u := cq.From.Username
		username = &u
	}
	user, err := h.Store.EnsureUser(cq.From.ID, cq.From.FirstName, username)
	if err != nil {
		log.Printf("[webhook] ensure user %d: %v", cq.From.ID, err)
		return
	}

	action, instanceID, arg, ok := parseCallback(cq.Data)
	if !ok {
		_ = h.Bot.AnswerCallbackQuery(cq.ID, "Unknown action.", false)
		return
	}

	switch action {
	case "claim":
		h.answer(cq.ID, h.claim(user, instanceID, 0))
	case "postpone":
		level, err := strconv.Atoi(arg)
		if err != nil || level < 1 || level > 2 {
			_ = h.Bot.AnswerCallbackQuery(cq.ID, "Unknown action.", false)
			return
		}
		h.answer(cq.ID, h.claim(user, instanceID, level))
	case "cancel":
		res, err := h.Sched.Cancel(instanceID, user.ID)
		if err != nil {
			h.answer(cq.ID, callbackErrorText(err))
			return
		}
		h.answer(cq.ID, res.Feedback)
	case "report":
		h.mu.Lock()
		h.pendingReports[user.TgID] = instanceID
		h.mu.Unlock()
		h.answer(cq.ID, "Send the proof photo as your next message.")
	case "vote":
		value := models.VoteNo
		if arg == "yes" {
			value = models.VoteYes
		}
		res, err := h.Sched.Vote(instanceID, user.ID, value)
		if err != nil {
			h.answer(cq.ID, callbackErrorText(err))
			return
		}
		h.answer(cq.ID, res.Feedback)
	default:
		h.answer(cq.ID, "Unknown action.")
	}
}

// claim runs a claim or postpone press and returns the toast text, also
// sending the report keyboard on success.
func (h *Handler) claim(user *models.User, instanceID uint, level int) string {
	res, err := h.Sched.Claim(instanceID, user.ID, level)
	if err != nil {
		return callbackErrorText(err)
	}
	keyboard := notify.ReportKeyboard(instanceID)
	if err := h.Bot.SendMessageWithKeyboard(user.TgID, res.Feedback, keyboard); err != nil {
		log.Printf("[webhook] send report keyboard to chat %d: %v", user.TgID, err)
	}
	return "Task is yours!"
}

func (h *Handler) answer(callbackID, text string) {
	if err := h.Bot.AnswerCallbackQuery(callbackID, text, false); err != nil {
		log.Printf("[webhook] answer callback: %v", err)
	}
}

func callbackErrorText(err error) string {
	switch {
	case errors.Is(err, engine.ErrAlreadyClaimed):
		return "Too late, somebody else took it."
	case errors.Is(err, engine.ErrOptionUnavailable):
		return "That option is not available anymore."
	case errors.Is(err, engine.ErrNotAssignee):
		return "This task is not reserved by you."
	case errors.Is(err, engine.ErrNoReviewers):
		return "Not enough reviewers registered yet."
	case errors.Is(err, engine.ErrConflict):
		return "The task changed state. Check its current status."
	case errors.Is(err, store.ErrNotFound):
		return "This task no longer exists."
	default:
		return "Something went wrong. Try again."
	}
}

// parseCallback splits "action:id" or "action:id:arg".
func parseCallback(data string) (action string, instanceID uint, arg string, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) < 2 {
		return "", 0, "", false
	}
	id, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil || id == 0 {
		return "", 0, "", false
	}
	if len(parts) > 2 {
		arg = parts[2]
	}
	return parts[0], uint(id), arg, true
}
