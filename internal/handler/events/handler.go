package events

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	usersvc "github.com/zhouzirui/user-table/backend/internal/service/user"
	"github.com/zhouzirui/user-table/backend/pkg/utils"
)

// keepAliveInterval 心跳间隔
const keepAliveInterval = 15 * time.Second

// Handler 用户变更事件的 SSE 处理器
type Handler struct {
	users     *usersvc.Service
	logger    *zap.Logger
	keepAlive time.Duration
}

// New 创建事件处理器
func New(users *usersvc.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{users: users, logger: logger.Named("events"), keepAlive: keepAliveInterval}
}

// RegisterRoutes 注册事件路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleStream)
}

// handleStream 持续推送用户新增和编辑事件，直到客户端断开
func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	events := h.users.Subscribe(ctx)
	h.logger.Debug("event stream opened", zap.String("remote", r.RemoteAddr))

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("event stream closed", zap.String("remote", r.RemoteAddr))
			return
		case evt, open := <-events:
			if !open {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "user", evt); err != nil {
				h.logger.Debug("event stream write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "keepalive"); err != nil {
				return
			}
		}
	}
}
