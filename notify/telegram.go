package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/sardorbek21324/Home/models"
)

// InlineKeyboardButton / InlineKeyboardMarkup mirror the Bot API shapes.
type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type sendMessageRequest struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type sendPhotoRequest struct {
	ChatID      int64                 `json:"chat_id"`
	Photo       string                `json:"photo"`
	Caption     string                `json:"caption,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type editMessageTextRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	Text        string                `json:"text"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type editMessageCaptionRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	Caption     string                `json:"caption"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

type apiResponse struct {
	Ok     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
	Description string `json:"description"`
}

// Telegram implements Notifier over the Bot API with plain HTTP calls.
type Telegram struct {
	token   string
	baseURL string
	client  *http.Client
}

// NewTelegram builds a client for the given bot token. baseURL overrides the
// API host for tests; pass "" for the real endpoint.
func NewTelegram(token, baseURL string) *Telegram {
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &Telegram{
		token:   token,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (t *Telegram) call(method string, payload interface{}) (*apiResponse, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", method, err)
	}
	url := fmt.Sprintf("%s/bot%s/%s", t.baseURL, t.token, method)
	resp, err := t.client.Post(url, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("telegram %s failed: %w", method, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("telegram %s: bad response (status %d): %w", method, resp.StatusCode, err)
	}
	if !parsed.Ok {
		return nil, fmt.Errorf("telegram %s error: %s", method, parsed.Description)
	}
	return &parsed, nil
}

func taskKeyboard(taskID uint, opts AnnounceOptions) *InlineKeyboardMarkup {
	rows := [][]InlineKeyboardButton{
		{{Text: "🏁 Take it", CallbackData: fmt.Sprintf("claim:%d", taskID)}},
	}
	if opts.AllowFirstPostpone {
		rows = append(rows, []InlineKeyboardButton{
			{Text: "⏳ In 30 min (−20%)", CallbackData: fmt.Sprintf("postpone:%d:1", taskID)},
		})
	}
	if opts.AllowSecondPostpone {
		rows = append(rows, []InlineKeyboardButton{
			{Text: "⏳ In 60 min (−40%)", CallbackData: fmt.Sprintf("postpone:%d:2", taskID)},
		})
	}
	rows = append(rows, []InlineKeyboardButton{
		{Text: "🚫 Cancel reservation", CallbackData: fmt.Sprintf("cancel:%d", taskID)},
	})
	return &InlineKeyboardMarkup{InlineKeyboard: rows}
}

// ReportKeyboard is attached to the claimer's confirmation message.
func ReportKeyboard(taskID uint) *InlineKeyboardMarkup {
	return &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{
		{{Text: "📸 Send report", CallbackData: fmt.Sprintf("report:%d", taskID)}},
		{{Text: "↩️ Cancel", CallbackData: fmt.Sprintf("cancel:%d", taskID)}},
	}}
}

func verificationKeyboard(taskID uint) *InlineKeyboardMarkup {
	return &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{
		{Text: "✅ Yes", CallbackData: fmt.Sprintf("vote:%d:yes", taskID)},
		{Text: "❌ No", CallbackData: fmt.Sprintf("vote:%d:no", taskID)},
	}}}
}

func (t *Telegram) Announce(taskID uint, text string, recipients []Recipient, opts AnnounceOptions) []models.TaskBroadcast {
	keyboard := taskKeyboard(taskID, opts)
	var delivered []models.TaskBroadcast
	for _, rcpt := range recipients {
		resp, err := t.call("sendMessage", sendMessageRequest{
			ChatID:      rcpt.ChatID,
			Text:        text,
			ParseMode:   "HTML",
			ReplyMarkup: keyboard,
		})
		if err != nil {
			log.Printf("[notify] announce task %d to chat %d failed: %v", taskID, rcpt.ChatID, err)
			continue
		}
		delivered = append(delivered, models.TaskBroadcast{
			TaskID:    taskID,
			UserID:    rcpt.UserID,
			ChatID:    rcpt.ChatID,
			MessageID: resp.Result.MessageID,
		})
	}
	return delivered
}

func (t *Telegram) UpdateAfterClaim(broadcasts []models.TaskBroadcast, exceptUserID uint, text string) {
	for _, b := range broadcasts {
		if b.UserID == exceptUserID {
			continue
		}
		if _, err := t.call("editMessageText", editMessageTextRequest{
			ChatID:    b.ChatID,
			MessageID: b.MessageID,
			Text:      text,
		}); err != nil {
			log.Printf("[notify] update announcement for task %d (chat %d) failed: %v", b.TaskID, b.ChatID, err)
		}
	}
}

func (t *Telegram) RequestVerification(taskID uint, photoFileID, caption string, recipients []Recipient) []models.TaskBroadcast {
	keyboard := verificationKeyboard(taskID)
	var delivered []models.TaskBroadcast
	for _, rcpt := range recipients {
		resp, err := t.call("sendPhoto", sendPhotoRequest{
			ChatID:      rcpt.ChatID,
			Photo:       photoFileID,
			Caption:     caption,
			ReplyMarkup: keyboard,
		})
		if err != nil {
			log.Printf("[notify] verification for task %d to chat %d failed: %v", taskID, rcpt.ChatID, err)
			continue
		}
		delivered = append(delivered, models.TaskBroadcast{
			TaskID:    taskID,
			UserID:    rcpt.UserID,
			ChatID:    rcpt.ChatID,
			MessageID: resp.Result.MessageID,
		})
	}
	return delivered
}

func (t *Telegram) UpdateVerificationOutcome(broadcasts []models.TaskBroadcast, caption string) {
	for _, b := range broadcasts {
		if _, err := t.call("editMessageCaption", editMessageCaptionRequest{
			ChatID:    b.ChatID,
			MessageID: b.MessageID,
			Caption:   caption,
		}); err != nil {
			log.Printf("[notify] verdict update for task %d (chat %d) failed: %v", b.TaskID, b.ChatID, err)
		}
	}
}

func (t *Telegram) SendMessage(chatID int64, text string) error {
	_, err := t.call("sendMessage", sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "HTML"})
	return err
}

// SendMessageWithKeyboard is used by the webhook handlers to attach the
// report keyboard to the claimer's confirmation.
func (t *Telegram) SendMessageWithKeyboard(chatID int64, text string, keyboard *InlineKeyboardMarkup) error {
	_, err := t.call("sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   "HTML",
		ReplyMarkup: keyboard,
	})
	return err
}

// AnswerCallbackQuery acknowledges a button press, optionally as an alert.
func (t *Telegram) AnswerCallbackQuery(callbackID, text string, alert bool) error {
	_, err := t.call("answerCallbackQuery", map[string]interface{}{
		"callback_query_id": callbackID,
		"text":              text,
		"show_alert":        alert,
	})
	return err
}
