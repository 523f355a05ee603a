package app

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/domain"
)

type ChatEntry struct {
	ID          string               `json:"id"`
	Participant domain.ParticipantID `json:"participantId"`
	Message     string               `json:"message"`
	Timestamp   time.Time            `json:"timestamp"`
	System      bool                 `json:"system,omitempty"`
	Image       string               `json:"image,omitempty"`
}

// ChatLog keeps the most recent entries in memory and fans new ones out to
// subscribers. Slow subscribers miss entries rather than block the writer.
type ChatLog struct {
	mu      sync.RWMutex
	entries []ChatEntry
	limit   int
	subs    map[int]chan ChatEntry
	nextSub int
}

func NewChatLog(limit int) *ChatLog {
	if limit <= 0 {
		limit = 500
	}
	return &ChatLog{
		limit: limit,
		subs:  make(map[int]chan ChatEntry),
	}
}

func (l *ChatLog) Add(e ChatEntry) ChatEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
	for id, ch := range l.subs {
		select {
		case ch <- e:
		default:
			log.Warn().Str("module", "app.chat").Int("sub", id).Msg("subscriber lagging, entry dropped")
		}
	}
	return e
}

func (l *ChatLog) Post(pid domain.ParticipantID, msg, image string) ChatEntry {
	return l.Add(ChatEntry{Participant: pid, Message: msg, Image: image})
}

func (l *ChatLog) System(msg string) ChatEntry {
	return l.Add(ChatEntry{Participant: domain.System, Message: msg, System: true})
}

func (l *ChatLog) Entries() []ChatEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ChatEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Subscribe returns a channel of new entries and a func that ends the
// subscription and closes the channel.
func (l *ChatLog) Subscribe(buffer int) (<-chan ChatEntry, func()) {
	ch := make(chan ChatEntry, buffer)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}
