package domain

type RoomName string

// DefaultRoom is where participants without an assignment are routed.
const DefaultRoom RoomName = "main"

// Resolve maps an absent room to DefaultRoom.
func (r RoomName) Resolve() RoomName {
	if r == "" {
		return DefaultRoom
	}
	return r
}

const (
	FullGain       = 1.0
	AttenuatedGain = 0.01
)
