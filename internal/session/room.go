package session

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"openideax/collab/internal/models"
)

// ErrRoomClosed is returned by operations on a room that was evicted
// after the caller looked it up.
var ErrRoomClosed = errors.New("room_closed")

// JoinResult is what the joining connection gets back.
type JoinResult struct {
	Roster     []models.Participant
	Document   models.DocumentSnapshot
	Superseded bool
}

// Room holds the roster, chat log and shared document for one session.
// Every operation runs under mu, so operations on one room are linearized
// while different rooms proceed independently.
type Room struct {
	ID string

	mu         sync.Mutex
	presence   *Presence
	chat       []models.ChatMessage
	doc        models.DocumentSnapshot
	createdAt  time.Time
	emptySince time.Time
	evicted    bool

	seq *Sequence
	now func() time.Time
}

func NewRoom(id string) *Room {
	return newRoom(id, &Sequence{}, time.Now)
}

func newRoom(id string, seq *Sequence, now func() time.Time) *Room {
	created := now()
	return &Room{
		ID:         id,
		presence:   NewPresence(),
		chat:       make([]models.ChatMessage, 0),
		createdAt:  created,
		emptySince: created,
		seq:        seq,
		now:        now,
	}
}

// Join inserts or supersedes the participant. The first joiner carrying a
// document seeds an empty room; later documents are ignored.
func (r *Room) Join(c *Client, ev models.JoinEvent) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.evicted {
		return JoinResult{}, ErrRoomClosed
	}

	participant := models.Participant{
		ParticipantID: ev.ParticipantID,
		DisplayName:   ev.DisplayName,
		Avatar:        ev.Avatar,
		JoinedAt:      r.now(),
	}
	upsert := r.presence.Upsert(participant, c)
	r.emptySince = time.Time{}

	if r.doc == nil && len(ev.Document) > 0 {
		r.doc = cloneDoc(ev.Document)
	}

	roster := r.presence.Roster()
	if upsert.Displaced != nil {
		r.broadcastLocked(models.WSFrame{
			Type: models.FrameParticipantLeft,
			Data: models.ParticipantLeft{ParticipantID: upsert.Displaced.ParticipantID},
		}, c.ID)
	}
	r.broadcastLocked(models.WSFrame{Type: models.FrameRosterUpdated, Data: roster}, "")

	r.broadcastLocked(models.WSFrame{Type: models.FrameParticipantJoined, Data: upsert.Participant}, c.ID)

	// snapshot and history go to the joiner only
	if r.doc != nil {
		c.Send(models.WSFrame{Type: models.FrameDocumentUpdated, RoomID: r.ID, Data: cloneDoc(r.doc)})
	}
	if len(r.chat) > 0 {
		c.Send(models.WSFrame{Type: models.FrameChatHistory, RoomID: r.ID, Data: r.chatCopyLocked()})
	}

	return JoinResult{
		Roster:     roster,
		Document:   cloneDoc(r.doc),
		Superseded: upsert.Superseded != nil,
	}, nil
}

// Leave removes whichever participant connectionID currently represents.
// Unknown or superseded connections are a no-op.
func (r *Room) Leave(connectionID string) (models.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	participant, ok := r.presence.RemoveByConnection(connectionID)
	if !ok {
		return models.Participant{}, false
	}
	if r.presence.Len() == 0 {
		r.emptySince = r.now()
	}

	r.broadcastLocked(models.WSFrame{
		Type: models.FrameParticipantLeft,
		Data: models.ParticipantLeft{ParticipantID: participant.ParticipantID},
	}, "")
	r.broadcastLocked(models.WSFrame{Type: models.FrameRosterUpdated, Data: r.presence.Roster()}, "")
	return participant, true
}

// PostChat appends msg, assigning an id and timestamp when missing, and fans
// it out to every connection except exclude.
func (r *Room) PostChat(msg models.ChatMessage, exclude string) (models.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.evicted {
		return models.ChatMessage{}, ErrRoomClosed
	}

	if msg.ID == "" {
		msg.ID = r.seq.NextMessageID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = r.now()
	}
	if msg.Type == "" {
		msg.Type = models.MessageText
	}
	msg.RoomID = r.ID
	r.chat = append(r.chat, msg)

	r.broadcastLocked(models.WSFrame{Type: models.FrameChat, Data: msg}, exclude)
	return msg, nil
}

// UpdateDocument replaces the document wholesale (last write wins) and
// sends the stored copy to everyone, the author included.
func (r *Room) UpdateDocument(doc models.DocumentSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.evicted {
		return ErrRoomClosed
	}

	r.doc = cloneDoc(doc)
	r.broadcastLocked(models.WSFrame{Type: models.FrameDocumentUpdated, Data: cloneDoc(r.doc)}, "")
	return nil
}

func (r *Room) Document() models.DocumentSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneDoc(r.doc)
}

func (r *Room) Roster() []models.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.Roster()
}

func (r *Room) ChatHistory() []models.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chatCopyLocked()
}

func (r *Room) GetClientCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presence.Len()
}

func (r *Room) Snapshot() models.RoomSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) Summary() models.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaryLocked()
}

// evictIfIdle marks the room closed when it has been empty for at least ttl.
// The caller holds the hub lock so no new lookup can hand the room out.
func (r *Room) evictIfIdle(now time.Time, ttl time.Duration) (models.RoomSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.evicted || r.presence.Len() > 0 || r.emptySince.IsZero() {
		return models.RoomSnapshot{}, false
	}
	if now.Sub(r.emptySince) < ttl {
		return models.RoomSnapshot{}, false
	}
	r.evicted = true
	return r.snapshotLocked(), true
}

func (r *Room) snapshotLocked() models.RoomSnapshot {
	return models.RoomSnapshot{
		RoomID:       r.ID,
		Participants: r.presence.Roster(),
		Document:     cloneDoc(r.doc),
		Chat:         r.chatCopyLocked(),
		CreatedAt:    r.createdAt,
	}
}

func (r *Room) summaryLocked() models.RoomSummary {
	return models.RoomSummary{
		RoomID:       r.ID,
		Participants: r.presence.Len(),
		Messages:     len(r.chat),
		HasDocument:  r.doc != nil,
		CreatedAt:    r.createdAt,
	}
}

func (r *Room) chatCopyLocked() []models.ChatMessage {
	out := make([]models.ChatMessage, len(r.chat))
	copy(out, r.chat)
	return out
}

func cloneDoc(doc models.DocumentSnapshot) models.DocumentSnapshot {
	if doc == nil {
		return nil
	}
	return bytes.Clone(doc)
}
