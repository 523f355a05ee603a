package app

import (
	"maps"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/domain"
)

// RoomTable is the participant -> room assignment. Absent or empty rooms
// resolve to domain.DefaultRoom.
type RoomTable struct {
	mu    sync.RWMutex
	rooms map[domain.ParticipantID]domain.RoomName
}

// NewRoomTable seeds the local participant with initial when it is set.
func NewRoomTable(initial domain.RoomName) *RoomTable {
	t := &RoomTable{rooms: make(map[domain.ParticipantID]domain.RoomName)}
	if initial != "" {
		t.rooms[domain.Me] = initial
	}
	return t
}

func (t *RoomTable) SetRoom(pid domain.ParticipantID, room domain.RoomName) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rooms[pid] = room
	log.Debug().Str("module", "app.rooms").Str("pid", string(pid)).Str("room", string(room)).Msg("set room")
}

func (t *RoomTable) Room(pid domain.ParticipantID) (domain.RoomName, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	room, ok := t.rooms[pid]
	return room, ok
}

func (t *RoomTable) Resolve(pid domain.ParticipantID) domain.RoomName {
	room, _ := t.Room(pid)
	return room.Resolve()
}

// ResolveGain is full volume for participants sharing a room and a
// near-silent level otherwise.
func (t *RoomTable) ResolveGain(a, b domain.ParticipantID) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.rooms[a].Resolve() == t.rooms[b].Resolve() {
		return domain.FullGain
	}
	return domain.AttenuatedGain
}

func (t *RoomTable) RemoveParticipant(pid domain.ParticipantID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms, pid)
}

func (t *RoomTable) Snapshot() map[domain.ParticipantID]domain.RoomName {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return maps.Clone(t.rooms)
}

type RoomGroup struct {
	Room    domain.RoomName `json:"room"`
	Members []domain.Member `json:"members"`
}

// Groups lists participants per room, sorted by nickname. The default room
// is always present and first; other rooms follow alphabetically.
func (t *RoomTable) Groups(nicknames *NicknameTable) []RoomGroup {
	byRoom := map[domain.RoomName][]domain.Member{domain.DefaultRoom: {}}
	for pid, room := range t.Snapshot() {
		if room == "" {
			continue
		}
		byRoom[room] = append(byRoom[room], domain.Member{ID: pid, Nickname: nicknames.Display(pid)})
	}

	out := make([]RoomGroup, 0, len(byRoom))
	for room, members := range byRoom {
		sort.Slice(members, func(i, j int) bool { return members[i].Nickname < members[j].Nickname })
		out = append(out, RoomGroup{Room: room, Members: members})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Room == domain.DefaultRoom {
			return true
		}
		if out[j].Room == domain.DefaultRoom {
			return false
		}
		return out[i].Room < out[j].Room
	})
	return out
}
