package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sardorbek21324/Home/advisor"
	"github.com/sardorbek21324/Home/engine"
	"github.com/sardorbek21324/Home/models"
	"github.com/sardorbek21324/Home/notify"
	"github.com/sardorbek21324/Home/scheduler"
	"github.com/sardorbek21324/Home/store"
)

// botRecorder fakes the Bot API endpoint and records every call.
type botRecorder struct {
	mu    sync.Mutex
	calls []botCall
}

type botCall struct {
	Method  string
	Payload map[string]interface{}
}

func (b *botRecorder) handler(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	var payload map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	b.mu.Lock()
	b.calls = append(b.calls, botCall{Method: parts[len(parts)-1], Payload: payload})
	msgID := len(b.calls)
	b.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"ok":     true,
		"result": map[string]interface{}{"message_id": msgID},
	})
}

func (b *botRecorder) lastAnswerText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.calls) - 1; i >= 0; i-- {
		if b.calls[i].Method == "answerCallbackQuery" {
			if text, ok := b.calls[i].Payload["text"].(string); ok {
				return text
			}
		}
	}
	return ""
}

func (b *botRecorder) sentTexts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, c := range b.calls {
		if c.Method == "sendMessage" {
			if text, ok := c.Payload["text"].(string); ok {
				out = append(out, text)
			}
		}
	}
	return out
}

type webhookFixture struct {
	store   *store.Memory
	bot     *botRecorder
	handler *Handler
	users   []*models.User
	tpl     *models.TaskTemplate
	instID  uint
}

func newWebhookFixture(t *testing.T, userCount int) *webhookFixture {
	t.Helper()
	mem := store.NewMemory()
	rec := &botRecorder{}
	ts := httptest.NewServer(http.HandlerFunc(rec.handler))
	t.Cleanup(ts.Close)

	f := &webhookFixture{store: mem, bot: rec}
	for i := 0; i < userCount; i++ {
		u, err := mem.EnsureUser(int64(5000+i), fmt.Sprintf("User%d", i), nil)
		if err != nil {
			t.Fatalf("seed user: %v", err)
		}
		f.users = append(f.users, u)
	}
	f.tpl = &models.TaskTemplate{
		Code: "dishes", Title: "Wash the dishes", BasePoints: 20,
		Frequency: models.FreqDaily, SlaMinutes: 60,
	}
	if err := mem.CreateTemplate(f.tpl); err != nil {
		t.Fatalf("seed template: %v", err)
	}

	clock := scheduler.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))
	inst := &models.TaskInstance{
		TemplateID:      f.tpl.ID,
		Day:             clock.Now(),
		Slot:            1,
		Status:          models.StatusOpen,
		EffectivePoints: f.tpl.BasePoints,
		CreatedAt:       clock.Now(),
	}
	if err := mem.CreateInstance(inst); err != nil {
		t.Fatalf("seed instance: %v", err)
	}
	f.instID = inst.ID

	engCfg := engine.DefaultConfig()
	eng := engine.New(mem, engCfg)
	bot := notify.NewTelegram("test-token", ts.URL)
	cfg := scheduler.DefaultConfig()
	cfg.Quiet = scheduler.QuietHours{}
	sched := scheduler.New(mem, eng, engCfg, bot, advisor.NewController(mem), cfg).WithClock(clock)
	f.handler = NewHandler(mem, sched, bot)
	return f
}

func (f *webhookFixture) post(t *testing.T, update map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.handler.Webhook(w, req)
	return w
}

func callbackUpdate(fromTg int64, name, data string) map[string]interface{} {
	return map[string]interface{}{
		"update_id": 1,
		"callback_query": map[string]interface{}{
			"id":   "cb-1",
			"from": map[string]interface{}{"id": fromTg, "first_name": name},
			"data": data,
		},
	}
}

func messageUpdate(fromTg int64, name, text string) map[string]interface{} {
	return map[string]interface{}{
		"update_id": 2,
		"message": map[string]interface{}{
			"message_id": 10,
			"from":       map[string]interface{}{"id": fromTg, "first_name": name},
			"chat":       map[string]interface{}{"id": fromTg},
			"text":       text,
		},
	}
}

func TestParseCallback(t *testing.T) {
	cases := []struct {
		data   string
		action string
		id     uint
		arg    string
		ok     bool
	}{
		{"claim:7", "claim", 7, "", true},
		{"postpone:7:2", "postpone", 7, "2", true},
		{"vote:12:yes", "vote", 12, "yes", true},
		{"claim", "", 0, "", false},
		{"claim:abc", "", 0, "", false},
		{"claim:0", "", 0, "", false},
	}
	for _, c := range cases {
		action, id, arg, ok := parseCallback(c.data)
		if action != c.action || id != c.id || arg != c.arg || ok != c.ok {
			t.Errorf("parseCallback(%q) = (%q, %d, %q, %v), want (%q, %d, %q, %v)",
				c.data, action, id, arg, ok, c.action, c.id, c.arg, c.ok)
		}
	}
}

func TestCommand(t *testing.T) {
	cases := map[string]string{
		"/start":            "/start",
		"/score@homebot":    "/score",
		"/tasks extra args": "/tasks",
		"  /start  ":        "/start",
		"hello":             "",
		"":                  "",
	}
	for in, want := range cases {
		if got := command(in); got != want {
			t.Errorf("command(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWebhookAlwaysAnswers200(t *testing.T) {
	f := newWebhookFixture(t, 2)
	req := httptest.NewRequest(http.MethodPost, "/telegram/webhook", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	f.handler.Webhook(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 even for garbage", w.Code)
	}
}

func TestClaimCallbackReservesTask(t *testing.T) {
	f := newWebhookFixture(t, 2)
	w := f.post(t, callbackUpdate(f.users[0].TgID, "User0", fmt.Sprintf("claim:%d", f.instID)))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	inst, err := f.store.InstanceByID(f.instID)
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	if inst.Status != models.StatusReserved || inst.AssignedTo == nil || *inst.AssignedTo != f.users[0].ID {
		t.Fatalf("instance not reserved by the claimer: %+v", inst)
	}
	if got := f.bot.lastAnswerText(); got != "Task is yours!" {
		t.Fatalf("toast = %q", got)
	}
}

func TestLosingClaimGetsFriendlyToast(t *testing.T) {
	f := newWebhookFixture(t, 2)
	f.post(t, callbackUpdate(f.users[0].TgID, "User0", fmt.Sprintf("claim:%d", f.instID)))
	f.post(t, callbackUpdate(f.users[1].TgID, "User1", fmt.Sprintf("claim:%d", f.instID)))
	if got := f.bot.lastAnswerText(); got != "Too late, somebody else took it." {
		t.Fatalf("toast = %q", got)
	}
}

func TestCallbackForMissingTask(t *testing.T) {
	f := newWebhookFixture(t, 2)
	f.post(t, callbackUpdate(f.users[0].TgID, "User0", "vote:999:yes"))
	if got := f.bot.lastAnswerText(); got != "This task no longer exists." {
		t.Fatalf("toast = %q", got)
	}
}

func TestReportFlowViaPhoto(t *testing.T) {
	f := newWebhookFixture(t, 3)
	tg := f.users[0].TgID
	f.post(t, callbackUpdate(tg, "User0", fmt.Sprintf("claim:%d", f.instID)))
	f.post(t, callbackUpdate(tg, "User0", fmt.Sprintf("report:%d", f.instID)))

	photo := map[string]interface{}{
		"update_id": 3,
		"message": map[string]interface{}{
			"message_id": 11,
			"from":       map[string]interface{}{"id": tg, "first_name": "User0"},
			"chat":       map[string]interface{}{"id": tg},
			"photo": []map[string]interface{}{
				{"file_id": "small"},
				{"file_id": "large"},
			},
		},
	}
	f.post(t, photo)

	inst, err := f.store.InstanceByID(f.instID)
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	if inst.Status != models.StatusReportSubmitted {
		t.Fatalf("status = %s, want report_submitted", inst.Status)
	}
	report, err := f.store.ReportForInstance(f.instID)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.PhotoFileID != "large" {
		t.Fatalf("photo file = %q, want the largest size", report.PhotoFileID)
	}
}

func TestUnexpectedPhotoIsDeclined(t *testing.T) {
	f := newWebhookFixture(t, 2)
	tg := f.users[0].TgID
	photo := map[string]interface{}{
		"update_id": 4,
		"message": map[string]interface{}{
			"message_id": 12,
			"from":       map[string]interface{}{"id": tg, "first_name": "User0"},
			"chat":       map[string]interface{}{"id": tg},
			"photo":      []map[string]interface{}{{"file_id": "x"}},
		},
	}
	f.post(t, photo)
	texts := f.bot.sentTexts()
	if len(texts) == 0 || !strings.Contains(texts[len(texts)-1], "no report is expected") {
		t.Fatalf("sent = %v, want the no-report-expected hint", texts)
	}
}

func TestVoteCallbacksFinalizeRound(t *testing.T) {
	f := newWebhookFixture(t, 3)
	tg := f.users[0].TgID
	f.post(t, callbackUpdate(tg, "User0", fmt.Sprintf("claim:%d", f.instID)))
	f.post(t, callbackUpdate(tg, "User0", fmt.Sprintf("report:%d", f.instID)))
	f.post(t, map[string]interface{}{
		"update_id": 5,
		"message": map[string]interface{}{
			"message_id": 13,
			"from":       map[string]interface{}{"id": tg, "first_name": "User0"},
			"chat":       map[string]interface{}{"id": tg},
			"photo":      []map[string]interface{}{{"file_id": "p"}},
		},
	})

	f.post(t, callbackUpdate(f.users[1].TgID, "User1", fmt.Sprintf("vote:%d:yes", f.instID)))
	f.post(t, callbackUpdate(f.users[2].TgID, "User2", fmt.Sprintf("vote:%d:yes", f.instID)))

	inst, err := f.store.InstanceByID(f.instID)
	if err != nil {
		t.Fatalf("instance: %v", err)
	}
	if inst.Status != models.StatusApproved {
		t.Fatalf("status = %s, want approved", inst.Status)
	}
}

func TestScoreCommandSendsLeaderboard(t *testing.T) {
	f := newWebhookFixture(t, 2)
	f.post(t, messageUpdate(f.users[0].TgID, "User0", "/score"))
	texts := f.bot.sentTexts()
	if len(texts) == 0 || !strings.Contains(texts[len(texts)-1], "Scores") {
		t.Fatalf("sent = %v, want the leaderboard", texts)
	}
}

func TestTasksCommandListsOpenTasks(t *testing.T) {
	f := newWebhookFixture(t, 2)
	f.post(t, messageUpdate(f.users[0].TgID, "User0", "/tasks"))
	texts := f.bot.sentTexts()
	if len(texts) == 0 || !strings.Contains(texts[len(texts)-1], f.tpl.Title) {
		t.Fatalf("sent = %v, want the open task list", texts)
	}
}
