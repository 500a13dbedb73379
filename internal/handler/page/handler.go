package page

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/query-preprocess/backend/internal/middleware"
	"github.com/zhouzirui/query-preprocess/backend/internal/model/query"
	"github.com/zhouzirui/query-preprocess/backend/internal/model/session"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/rewrite"
)

const title = "Query processing module"

//go:embed templates/index.html
var templatesFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templatesFS, "templates/index.html"))

// Service is the interaction core the page drives.
type Service interface {
	Submit(ctx context.Context, userID, raw string, mode query.Mode) (rewrite.Outcome, error)
	Feedback(ctx context.Context, userID string, verdict session.Verdict) (rewrite.Outcome, error)
	View(ctx context.Context, userID string) (rewrite.View, error)
}

// Handler 渲染查询表单页面
type Handler struct {
	svc    Service
	logger *zap.Logger
}

// New 创建页面处理器
func New(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger.Named("page")}
}

// RegisterRoutes 注册页面路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.handleIndex)
	r.Post("/query", h.handleQuery)
	r.Post("/feedback", h.handleFeedback)
}

type modeButton struct {
	Value string
	Label string
}

type pageData struct {
	Title        string
	UserID       string
	Query        string
	Echo         bool
	Result       string
	Notice       string
	ShowFeedback bool
	ThankYou     bool
	LastResult   string
	Modes        []modeButton
}

func newPageData(userID string) pageData {
	modes := make([]modeButton, 0, len(query.Modes))
	for _, m := range query.Modes {
		modes = append(modes, modeButton{Value: string(m), Label: m.Label()})
	}
	return pageData{Title: title, UserID: userID, Modes: modes}
}

// handleIndex 展示当前会话状态
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	data := newPageData(userID)

	view, err := h.svc.View(r.Context(), userID)
	if err != nil {
		data.Notice = "An error occurred: " + err.Error()
		h.render(w, http.StatusInternalServerError, data)
		return
	}
	h.applyView(&data, view)
	h.render(w, http.StatusOK, data)
}

// handleQuery 处理两个生成按钮
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	data := newPageData(userID)

	if err := r.ParseForm(); err != nil {
		data.Notice = "invalid form submission"
		h.render(w, http.StatusBadRequest, data)
		return
	}

	raw := r.PostFormValue("query")
	data.Query = raw

	mode, err := query.ParseMode(r.PostFormValue("mode"))
	if err != nil {
		data.Notice = err.Error()
		h.render(w, http.StatusBadRequest, data)
		return
	}

	out, err := h.svc.Submit(r.Context(), userID, raw, mode)
	switch {
	case errors.Is(err, rewrite.ErrEmptyQuery):
		data.Notice = out.Notice
		h.refresh(r.Context(), &data)
		h.render(w, http.StatusBadRequest, data)
		return
	case err != nil:
		h.logger.Error("submit failed", zap.String("user_id", userID), zap.Error(err))
		data.Notice = "An error occurred: " + err.Error()
		h.render(w, http.StatusInternalServerError, data)
		return
	}

	data.Echo = true
	data.Result = out.Result
	data.Notice = out.Notice
	data.ShowFeedback = out.ShowFeedback
	h.render(w, http.StatusOK, data)
}

// handleFeedback 记录满意度反馈
func (h *Handler) handleFeedback(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	data := newPageData(userID)

	if err := r.ParseForm(); err != nil {
		data.Notice = "invalid form submission"
		h.render(w, http.StatusBadRequest, data)
		return
	}

	verdict, err := session.ParseVerdict(r.PostFormValue("verdict"))
	if err != nil {
		data.Notice = err.Error()
		h.refresh(r.Context(), &data)
		h.render(w, http.StatusBadRequest, data)
		return
	}

	_, err = h.svc.Feedback(r.Context(), userID, verdict)
	if err != nil && !errors.Is(err, rewrite.ErrFeedbackRecorded) && !errors.Is(err, rewrite.ErrNoResult) {
		h.logger.Error("feedback failed", zap.String("user_id", userID), zap.Error(err))
		data.Notice = "An error occurred: " + err.Error()
		h.render(w, http.StatusInternalServerError, data)
		return
	}

	// repeated or premature clicks just show the current state
	h.refresh(r.Context(), &data)
	h.render(w, http.StatusOK, data)
}

func (h *Handler) refresh(ctx context.Context, data *pageData) {
	view, err := h.svc.View(ctx, data.UserID)
	if err != nil {
		return
	}
	h.applyView(data, view)
}

func (h *Handler) applyView(data *pageData, view rewrite.View) {
	data.ShowFeedback = view.ShowFeedback
	data.ThankYou = view.ThankYou
	data.LastResult = view.LastResult
	if view.ShowFeedback {
		data.Result = view.LastResult
	}
}

func (h *Handler) render(w http.ResponseWriter, status int, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := indexTemplate.Execute(w, data); err != nil {
		h.logger.Error("failed to render template", zap.Error(err))
	}
}
