package app

import (
	"maps"
	"sync"

	"github.com/dkeye/voicemesh/internal/domain"
)

// NicknameTable maps participants to display names.
type NicknameTable struct {
	mu    sync.RWMutex
	names map[domain.ParticipantID]string
}

func NewNicknameTable() *NicknameTable {
	return &NicknameTable{names: make(map[domain.ParticipantID]string)}
}

func (t *NicknameTable) Set(pid domain.ParticipantID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.names[pid] = name
}

func (t *NicknameTable) Get(pid domain.ParticipantID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	name, ok := t.names[pid]
	return name, ok
}

// Display falls back to the identifier when no nickname is set.
func (t *NicknameTable) Display(pid domain.ParticipantID) string {
	if name, _ := t.Get(pid); name != "" {
		return name
	}
	return string(pid)
}

func (t *NicknameTable) Snapshot() map[domain.ParticipantID]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.names)
}
