package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"nebula-chat/internal/model"
	"nebula-chat/internal/service"
	"nebula-chat/internal/storage"
	"nebula-chat/internal/utils"
	"nebula-chat/pkg/logger"
)

const heartbeatInterval = 15 * time.Second

type ChatHandler struct {
	sessions      *service.SessionService
	streamTimeout time.Duration
}

func NewChatHandler(sessions *service.SessionService, streamTimeout time.Duration) *ChatHandler {
	return &ChatHandler{
		sessions:      sessions,
		streamTimeout: streamTimeout,
	}
}

func ok(c *gin.Context, result any) {
	c.JSON(http.StatusOK, model.Envelope[any]{Result: result})
}

func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrSessionNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidID),
		errors.Is(err, service.ErrSessionRequired),
		errors.Is(err, service.ErrEmptyMessage):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrSessionBusy):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	c.JSON(status, model.ErrorResponse{Error: err.Error()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
}

func (h *ChatHandler) CreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	// an empty body creates an untitled session
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}

	session, err := h.sessions.CreateSession(req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, session)
}

func (h *ChatHandler) ListSessions(c *gin.Context) {
	sessions, err := h.sessions.ListSessions()
	if err != nil {
		fail(c, err)
		return
	}
	if sessions == nil {
		sessions = []*model.Session{}
	}
	ok(c, sessions)
}

func (h *ChatHandler) GetSession(c *gin.Context) {
	session, err := h.sessions.GetSession(c.Param("session_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, session)
}

func (h *ChatHandler) UpdateSession(c *gin.Context) {
	var req model.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	session, err := h.sessions.UpdateSession(c.Param("session_id"), req)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, session)
}

func (h *ChatHandler) DeleteSession(c *gin.Context) {
	res, err := h.sessions.DeleteSession(c.Param("session_id"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, res)
}

// StreamChat answers one user turn as server-sent events.
func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	ctx := c.Request.Context()
	if h.streamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.streamTimeout)
		defer cancel()
	}

	events, errs, err := h.sessions.StreamChat(ctx, req)
	if err != nil {
		fail(c, err)
		return
	}

	sse := utils.NewSSEWriter(c.Writer)
	c.Status(http.StatusOK)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case ev, open := <-events:
			if !open {
				// the turn has ended; errs is closed too, possibly holding a failure
				if err := <-errs; err != nil {
					_ = writeError(sse, "responder_error", err)
					return
				}
				_ = sse.Write("", "[DONE]")
				return
			}
			if err := writeEvent(sse, ev); err != nil {
				logger.Warnf("session %s: write %s event: %v", req.SessionID, ev.Type, err)
			}

		case <-heartbeat.C:
			if err := sse.Comment("keep-alive"); err != nil {
				return
			}

		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				_ = writeError(sse, "timeout", ctx.Err())
			}
			// let the turn goroutine record the cancellation
			for range events {
			}
			return
		}
	}
}

func (h *ChatHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
	})
}
