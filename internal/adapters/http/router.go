package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/app"
	"github.com/dkeye/voicemesh/internal/app/media"
	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/domain"
)

// Views are the read-only tables the UI polls besides the orchestrator's.
type Views struct {
	Streams       *media.Streams
	Notifications *app.Notifications
}

// SetupRouter wires the local UI: static files and the /api surface.
// Commands run on the orchestrator's loop; reads go straight to the tables.
func SetupRouter(ctx context.Context, cfg *config.Config, o *orch.Orchestrator, views Views) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	h := &handlers{ctx: ctx, o: o, views: views}
	api := r.Group("/api")

	api.GET("/peers", h.listPeers)
	api.DELETE("/peers/:id", h.leavePeer)

	api.GET("/rooms", h.listRooms)
	api.PUT("/rooms/:id", h.setRoom)

	api.GET("/nicknames", h.listNicknames)
	api.PUT("/nickname", h.setNickname)

	api.GET("/gains", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"gains": o.Gains()})
	})

	api.GET("/chat", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"entries": o.Chat.Entries()})
	})
	api.GET("/chat/stream", h.streamChat)
	api.POST("/messages", h.sendMessage)
	api.POST("/files", h.sendFile)

	api.GET("/notifications", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"notifications": views.Notifications.Recent()})
	})
	api.GET("/streams", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"streams": views.Streams.Snapshot()})
	})

	return r
}

type handlers struct {
	ctx   context.Context
	o     *orch.Orchestrator
	views Views
}

// run executes fn on the event loop and reports its error.
func (h *handlers) run(c *gin.Context, fn func() error) error {
	var err error
	if callErr := h.o.Loop.Call(c.Request.Context(), func() { err = fn() }); callErr != nil {
		return callErr
	}
	return err
}

func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNicknameTooLong):
		status = http.StatusBadRequest
	case errors.Is(err, app.ErrNoSession):
		status = http.StatusNotFound
	case errors.Is(err, app.ErrFileTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, app.ErrUnsupportedCapability):
		status = http.StatusNotImplemented
	case errors.Is(err, app.ErrClosed), errors.Is(err, context.Canceled):
		status = http.StatusServiceUnavailable
	}
	log.Warn().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Int("status", status).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}

func (h *handlers) listPeers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"self":  h.o.Identity.Self(),
		"peers": h.o.Sessions.Snapshot(),
	})
}

func (h *handlers) leavePeer(c *gin.Context) {
	pid := domain.ParticipantID(c.Param("id"))
	err := h.run(c, func() error {
		if !h.o.LeavePeer(pid) {
			return app.ErrNoSession
		}
		return nil
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"rooms":       h.o.Rooms.Groups(h.o.Nicknames),
		"assignments": h.o.Rooms.Snapshot(),
	})
}

type roomRequest struct {
	Room string `json:"room"`
}

// setRoom moves a participant; "me" names the local one.
func (h *handlers) setRoom(c *gin.Context) {
	var req roomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room"})
		return
	}
	room := domain.RoomName(req.Room)
	id := c.Param("id")
	err := h.run(c, func() error {
		if id == "me" || domain.ParticipantID(id) == domain.Me {
			return h.o.SetLocalRoom(room)
		}
		return h.o.MoveParticipant(domain.ParticipantID(id), room)
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"room": room.Resolve()})
}

func (h *handlers) listNicknames(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"nicknames": h.o.Nicknames.Snapshot()})
}

type nicknameRequest struct {
	Nickname string `json:"nickname"`
}

func (h *handlers) setNickname(c *gin.Context) {
	var req nicknameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid nickname"})
		return
	}
	if err := h.run(c, func() error { return h.o.SetLocalNickname(req.Nickname) }); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"nickname": req.Nickname})
}

type messageRequest struct {
	Text string `json:"text"`
}

func (h *handlers) sendMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message"})
		return
	}
	if err := h.run(c, func() error { return h.o.SendText(req.Text) }); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *handlers) sendFile(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, err)
		return
	}
	defer f.Close()

	if err := h.o.SendFile(c.Request.Context(), fh.Filename, fh.Header.Get("Content-Type"), f); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// streamChat pushes new chat entries as server-sent events until the
// client or the server goes away.
func (h *handlers) streamChat(c *gin.Context) {
	entries, cancel := h.o.Chat.Subscribe(32)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case e, ok := <-entries:
			if !ok {
				return false
			}
			c.SSEvent("chat", e)
			return true
		case <-c.Request.Context().Done():
			return false
		case <-h.ctx.Done():
			return false
		}
	})
}
