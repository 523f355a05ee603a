package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/core"
)

var _ core.Notifier = (*Notifications)(nil)

type Notification struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Notifications is the user-facing channel: recent items for the UI,
// every item mirrored to the log.
type Notifications struct {
	mu    sync.RWMutex
	items []Notification
	limit int
}

func NewNotifications(limit int) *Notifications {
	if limit <= 0 {
		limit = 50
	}
	return &Notifications{limit: limit}
}

func (n *Notifications) Info(msg string)    { n.add(zerolog.InfoLevel, msg) }
func (n *Notifications) Warning(msg string) { n.add(zerolog.WarnLevel, msg) }
func (n *Notifications) Error(msg string)   { n.add(zerolog.ErrorLevel, msg) }

func (n *Notifications) add(level zerolog.Level, msg string) {
	log.WithLevel(level).Str("module", "app.notify").Msg(msg)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, Notification{Level: level.String(), Message: msg, Time: time.Now()})
	if over := len(n.items) - n.limit; over > 0 {
		n.items = append(n.items[:0:0], n.items[over:]...)
	}
}

func (n *Notifications) Recent() []Notification {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Notification, len(n.items))
	copy(out, n.items)
	return out
}
