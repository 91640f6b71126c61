package session

import "openideax/collab/internal/models"

type presenceEntry struct {
	participant models.Participant
	client      *Client
}

// Presence is the participant <-> connection mapping of one room. It has no
// lock of its own; the owning Room serializes every call.
type Presence struct {
	byParticipant map[string]*presenceEntry
	byConnection  map[string]string // connection id -> participant id
	order         []string          // participant ids in first-join order
}

func NewPresence() *Presence {
	return &Presence{
		byParticipant: make(map[string]*presenceEntry),
		byConnection:  make(map[string]string),
	}
}

// UpsertResult describes what an Upsert replaced.
type UpsertResult struct {
	// Superseded is the connection that represented this participant before.
	Superseded *Client
	// Displaced is another participant this connection represented before.
	Displaced *models.Participant
	Added     bool
	// Participant is the entry as stored after the upsert.
	Participant models.Participant
}

// Upsert binds participant p to client c. An existing entry for the same
// participant keeps its roster position and original JoinedAt and takes the
// new connection.
func (p *Presence) Upsert(participant models.Participant, c *Client) UpsertResult {
	var res UpsertResult
	participant.ConnectionID = c.ID

	// a connection speaks for one participant per room
	if otherID, ok := p.byConnection[c.ID]; ok && otherID != participant.ParticipantID {
		if other, ok := p.remove(otherID); ok {
			res.Displaced = &other
		}
	}

	if entry, ok := p.byParticipant[participant.ParticipantID]; ok {
		if entry.client != nil && entry.client.ID != c.ID {
			res.Superseded = entry.client
		}
		delete(p.byConnection, entry.participant.ConnectionID)
		participant.JoinedAt = entry.participant.JoinedAt
		entry.participant = participant
		entry.client = c
	} else {
		p.byParticipant[participant.ParticipantID] = &presenceEntry{participant: participant, client: c}
		p.order = append(p.order, participant.ParticipantID)
		res.Added = true
	}
	p.byConnection[c.ID] = participant.ParticipantID
	res.Participant = participant
	return res
}

// RemoveByConnection resolves connection -> participant and removes that
// participant. A connection that was superseded resolves to nothing.
func (p *Presence) RemoveByConnection(connectionID string) (models.Participant, bool) {
	participantID, ok := p.byConnection[connectionID]
	if !ok {
		return models.Participant{}, false
	}
	return p.remove(participantID)
}

func (p *Presence) remove(participantID string) (models.Participant, bool) {
	entry, ok := p.byParticipant[participantID]
	if !ok {
		return models.Participant{}, false
	}
	delete(p.byParticipant, participantID)
	delete(p.byConnection, entry.participant.ConnectionID)
	for i, id := range p.order {
		if id == participantID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return entry.participant, true
}

func (p *Presence) Roster() []models.Participant {
	out := make([]models.Participant, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byParticipant[id].participant)
	}
	return out
}

// Clients returns the connections currently addressing a participant.
func (p *Presence) Clients() []*Client {
	out := make([]*Client, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byParticipant[id].client)
	}
	return out
}

func (p *Presence) Len() int { return len(p.order) }
