package admins

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/sardorbek21324/Home/advisor"
	"github.com/sardorbek21324/Home/models"
	"github.com/sardorbek21324/Home/scheduler"
	"github.com/sardorbek21324/Home/store"
	"github.com/sardorbek21324/Home/utils"
)

// Handler bundles the dependencies of the task administration endpoints.
type Handler struct {
	Store    store.Store
	Sched    *scheduler.Scheduler
	Adaptive *advisor.Controller
	Advice   *advisor.AdviceClient
	// Archive is optional; nil disables the proof link endpoint.
	Archive *utils.ProofArchive
}

func NewHandler(s store.Store, sched *scheduler.Scheduler, adaptive *advisor.Controller, advice *advisor.AdviceClient) *Handler {
	return &Handler{Store: s, Sched: sched, Adaptive: adaptive, Advice: advice}
}

func pathID(r *http.Request) (uint, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// GET /admin/templates
func (h *Handler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := h.Store.Templates()
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Failed to load templates"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Successfully", Data: templates})
}

type createTemplateRequest struct {
	Code                 string `json:"code"`
	Title                string `json:"title"`
	BasePoints           int    `json:"base_points"`
	Frequency            string `json:"frequency"`
	SlaMinutes           int    `json:"sla_minutes"`
	ClaimTimeoutMinutes  int    `json:"claim_timeout_minutes"`
	Kind                 string `json:"kind"`
	NobodyClaimedPenalty int    `json:"nobody_claimed_penalty"`
}

// POST /admin/templates
func (h *Handler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid JSON body"})
		return
	}
	if req.Code == "" || req.Title == "" || req.BasePoints <= 0 || req.SlaMinutes <= 0 {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "code, title, base_points and sla_minutes are required"})
		return
	}
	tpl := models.TaskTemplate{
		Code:                 req.Code,
		Title:                req.Title,
		BasePoints:           req.BasePoints,
		Frequency:            models.TaskFrequency(req.Frequency),
		SlaMinutes:           req.SlaMinutes,
		ClaimTimeoutMinutes:  req.ClaimTimeoutMinutes,
		Kind:                 models.TaskKind(req.Kind),
		NobodyClaimedPenalty: req.NobodyClaimedPenalty,
	}
	if tpl.Frequency == "" {
		tpl.Frequency = models.FreqDaily
	}
	if tpl.Kind == "" {
		tpl.Kind = models.KindHouse
	}
	if err := h.Store.CreateTemplate(&tpl); err != nil {
		utils.WriteJSON(w, http.StatusConflict, utils.APIResponse{Success: false, Message: "Failed to create template"})
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.APIResponse{Success: true, Message: "Template created", Data: tpl})
}

// GET /admin/tasks?day=YYYY-MM-DD (defaults to today)
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	day := time.Now()
	if raw := r.URL.Query().Get("day"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "day must be YYYY-MM-DD"})
			return
		}
		day = parsed
	}
	instances, err := h.Store.InstancesForDay(day)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Failed to load tasks"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Successfully", Data: instances})
}

type reannounceRequest struct {
	Penalize bool   `json:"penalize"`
	Note     string `json:"note"`
}

// POST /admin/tasks/{id}/reannounce
func (h *Handler) ReannounceTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid task id"})
		return
	}
	var req reannounceRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if err := h.Sched.AnnounceInstance(id, req.Penalize, req.Note); err != nil {
		utils.WriteJSON(w, http.StatusConflict, utils.APIResponse{Success: false, Message: "Task cannot be reannounced"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Task queued for announcement"})
}

// POST /admin/tasks/regenerate wipes and re-stamps today's tasks.
func (h *Handler) RegenerateToday(w http.ResponseWriter, r *http.Request) {
	created, err := h.Sched.RegenerateToday()
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Regeneration failed"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Today's tasks regenerated",
		Data:    map[string]interface{}{"created": created},
	})
}

// GET /admin/tasks/{id}/proof returns a short-lived link to the archived
// verification record of an approved task.
func (h *Handler) ProofLink(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid task id"})
		return
	}
	if h.Archive == nil {
		utils.WriteJSON(w, http.StatusNotImplemented, utils.APIResponse{Success: false, Message: "Proof archive is not configured"})
		return
	}
	inst, err := h.Store.InstanceByID(id)
	if err != nil {
		utils.WriteJSON(w, http.StatusNotFound, utils.APIResponse{Success: false, Message: "Task not found"})
		return
	}
	if inst.Status != models.StatusApproved {
		utils.WriteJSON(w, http.StatusConflict, utils.APIResponse{Success: false, Message: "Task has no archived proof"})
		return
	}
	url, err := h.Archive.ProofURL(id)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Failed to sign proof URL"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Successfully",
		Data:    map[string]string{"url": url},
	})
}

// GET /admin/jobs lists the armed scheduler timers.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Successfully",
		Data:    h.Sched.ListActiveJobs(),
	})
}

// GET /admin/scores
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.Leaderboard()
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Failed to load scores"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Successfully", Data: users})
}

// GET /admin/adaptive-config
func (h *Handler) GetAdaptiveConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.Store.AdaptiveConfig()
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Failed to load config"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Successfully", Data: cfg})
}

type adaptiveConfigRequest struct {
	PenaltyStep        *float64 `json:"penalty_step"`
	BonusStep          *float64 `json:"bonus_step"`
	MinCoefficient     *float64 `json:"min_coefficient"`
	MaxCoefficient     *float64 `json:"max_coefficient"`
	DefaultCoefficient *float64 `json:"default_coefficient"`
}

// PUT /admin/adaptive-config updates only the provided fields. Changes apply
// to instances generated from now on; frozen snapshots stay as they are.
func (h *Handler) UpdateAdaptiveConfig(w http.ResponseWriter, r *http.Request) {
	var req adaptiveConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "Invalid JSON body"})
		return
	}
	cfg, err := h.Store.AdaptiveConfig()
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Failed to load config"})
		return
	}
	if req.PenaltyStep != nil {
		cfg.PenaltyStep = *req.PenaltyStep
	}
	if req.BonusStep != nil {
		cfg.BonusStep = *req.BonusStep
	}
	if req.MinCoefficient != nil {
		cfg.MinCoefficient = *req.MinCoefficient
	}
	if req.MaxCoefficient != nil {
		cfg.MaxCoefficient = *req.MaxCoefficient
	}
	if req.DefaultCoefficient != nil {
		cfg.DefaultCoefficient = *req.DefaultCoefficient
	}
	if cfg.MinCoefficient > cfg.MaxCoefficient {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{Success: false, Message: "min_coefficient must not exceed max_coefficient"})
		return
	}
	if err := h.Store.SaveAdaptiveConfig(cfg); err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Failed to save config"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Config updated", Data: cfg})
}

// GET /admin/advisor/stats
func (h *Handler) AdvisorStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Adaptive.UserStats()
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{Success: false, Message: "Failed to load stats"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Successfully", Data: stats})
}

// GET /admin/advisor/health
func (h *Handler) AdvisorHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Successfully",
		Data: map[string]string{
			"adaptive": h.Adaptive.Healthcheck(),
			"llm":      h.Advice.Healthcheck(ctx),
		},
	})
}
