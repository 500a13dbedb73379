package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/query-preprocess/backend/internal/middleware"
	"github.com/zhouzirui/query-preprocess/backend/internal/model/query"
	"github.com/zhouzirui/query-preprocess/backend/internal/model/session"
	"github.com/zhouzirui/query-preprocess/backend/internal/service/rewrite"
)

const (
	readTimeout  = 60 * time.Second
	pingInterval = 54 * time.Second
	writeTimeout = 10 * time.Second
)

// Service is the interaction core driven over the socket.
type Service interface {
	Submit(ctx context.Context, userID, raw string, mode query.Mode) (rewrite.Outcome, error)
	Feedback(ctx context.Context, userID string, verdict session.Verdict) (rewrite.Outcome, error)
	View(ctx context.Context, userID string) (rewrite.View, error)
}

// Handler WebSocket 交互处理器
type Handler struct {
	svc         Service
	logger      *zap.Logger
	upgrader    websocket.Upgrader
	readTimeout time.Duration
}

// New 创建 WebSocket 处理器
func New(svc Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:         svc,
		logger:      logger.Named("websocket"),
		readTimeout: readTimeout,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册 WebSocket 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// QueryMessage 生成请求
type QueryMessage struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
}

// FeedbackMessage 反馈请求
type FeedbackMessage struct {
	Verdict string `json:"verdict"`
}

type outgoingMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// conn serialises writers; gorilla allows one concurrent writer.
type conn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(msgType string, data interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.WriteJSON(outgoingMessage{Type: msgType, Data: data, Timestamp: time.Now().Unix()})
}

// handleWebSocket 处理 WebSocket 连接
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserID(r.Context())
	if userID == "" {
		http.Error(w, "session required", http.StatusUnauthorized)
		return
	}

	view, err := h.svc.View(r.Context(), userID)
	if err != nil {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	c := &conn{Conn: raw}
	defer c.Close()

	h.logger.Info("new connection", zap.String("user_id", userID))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = c.SetReadDeadline(time.Now().Add(h.readTimeout))
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(h.readTimeout))
	})

	go h.pingLoop(ctx, c)

	h.write(c, "session", view)

	for {
		var msg inboundMessage
		if err := c.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("read error", zap.Error(err))
			}
			return
		}
		h.handleMessage(ctx, c, userID, &msg)

		// a generation may outlast the read timeout
		_ = c.SetReadDeadline(time.Now().Add(h.readTimeout))
	}
}

func (h *Handler) handleMessage(ctx context.Context, c *conn, userID string, msg *inboundMessage) {
	switch msg.Type {
	case "query":
		h.handleQuery(ctx, c, userID, msg.Data)
	case "feedback":
		h.handleFeedback(ctx, c, userID, msg.Data)
	default:
		h.sendError(c, "unsupported message type: "+msg.Type)
	}
}

func (h *Handler) handleQuery(ctx context.Context, c *conn, userID string, raw json.RawMessage) {
	var payload QueryMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(c, "invalid query payload")
		return
	}

	mode, err := query.ParseMode(payload.Mode)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	out, err := h.svc.Submit(ctx, userID, payload.Query, mode)
	if err != nil {
		if errors.Is(err, rewrite.ErrEmptyQuery) {
			h.write(c, "validation", map[string]string{"message": rewrite.ValidationMessage})
			return
		}
		h.sendError(c, err.Error())
		return
	}

	h.write(c, "result", out)
}

func (h *Handler) handleFeedback(ctx context.Context, c *conn, userID string, raw json.RawMessage) {
	var payload FeedbackMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		h.sendError(c, "invalid feedback payload")
		return
	}

	verdict, err := session.ParseVerdict(payload.Verdict)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	out, err := h.svc.Feedback(ctx, userID, verdict)
	if err != nil {
		h.sendError(c, err.Error())
		return
	}

	h.write(c, "feedback", out)
}

func (h *Handler) write(c *conn, msgType string, data interface{}) {
	if err := c.send(msgType, data); err != nil {
		h.logger.Warn("write failed", zap.String("type", msgType), zap.Error(err))
	}
}

func (h *Handler) sendError(c *conn, message string) {
	h.write(c, "error", map[string]string{"message": message})
}

// pingLoop 定期发送ping消息
func (h *Handler) pingLoop(ctx context.Context, c *conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}
