package session

import "openideax/collab/internal/models"

// Broadcast sends frame to every connection in the room except exclude
// (pass "" to reach everyone). The roster is read under the room lock at
// send time, so a connection being removed concurrently is either fully
// in or fully out.
func (r *Room) Broadcast(frame models.WSFrame, exclude string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.broadcastLocked(frame, exclude)
}

func (r *Room) broadcastLocked(frame models.WSFrame, exclude string) int {
	frame.RoomID = r.ID
	delivered := 0
	for _, c := range r.presence.Clients() {
		if c.ID == exclude {
			continue
		}
		if c.Send(frame) {
			delivered++
		}
	}
	return delivered
}

// Broadcast fans frame out to roomID. It reports false when the room does
// not exist; it never creates one.
func (h *Hub) Broadcast(roomID string, frame models.WSFrame, exclude string) bool {
	room, ok := h.Get(roomID)
	if !ok {
		return false
	}
	room.Broadcast(frame, exclude)
	return true
}
