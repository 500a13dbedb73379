package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/query-preprocess/backend/internal/middleware"
	"github.com/zhouzirui/query-preprocess/backend/internal/model/query"
	"github.com/zhouzirui/query-preprocess/backend/internal/model/session"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/rewrite"
	sessionservice "github.com/zhouzirui/query-preprocess/backend/internal/service/session"
	"github.com/zhouzirui/query-preprocess/backend/pkg/utils"
)

// Service is the interaction core behind the JSON API.
type Service interface {
	Submit(ctx context.Context, userID, raw string, mode query.Mode) (rewrite.Outcome, error)
	Feedback(ctx context.Context, userID string, verdict session.Verdict) (rewrite.Outcome, error)
	View(ctx context.Context, userID string) (rewrite.View, error)
}

// Handler 查询预处理的 JSON 接口
type Handler struct {
	svc Service
}

// New 创建 JSON 接口处理器
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册接口路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/session", h.handleGetSession)
	r.Post("/query", h.handleQuery)
	r.Post("/feedback", h.handleFeedback)
}

// handleGetSession 返回当前会话状态
func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.svc.View(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, view)
}

// handleQuery 生成关键词或子查询
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Query string `json:"query"`
		Mode  string `json:"mode"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	mode, err := query.ParseMode(payload.Mode)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.svc.Submit(r.Context(), middleware.UserID(r.Context()), payload.Query, mode)
	if err != nil {
		if errors.Is(err, rewrite.ErrEmptyQuery) {
			utils.RespondError(w, http.StatusBadRequest, rewrite.ValidationMessage)
			return
		}
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, out)
}

// handleFeedback 记录满意度
func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Verdict string `json:"verdict"`
	}

	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	verdict, err := session.ParseVerdict(payload.Verdict)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.svc.Feedback(r.Context(), middleware.UserID(r.Context()), verdict)
	if err != nil {
		utils.RespondError(w, statusFor(err), err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, out)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, sessionservice.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, rewrite.ErrNoResult), errors.Is(err, rewrite.ErrFeedbackRecorded):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnknownVerdict):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
