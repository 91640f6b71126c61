package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"openideax/collab/internal/metrics"
	"openideax/collab/internal/models"
)

var (
	ErrInvalidEvent      = errors.New("invalid_event")
	ErrUnknownEventType  = errors.New("unknown_event_type")
	ErrRoomNotFound      = errors.New("room_not_found")
	ErrUnknownConnection = errors.New("unknown_connection")
)

// Responder produces the AI participant's reply to a chat message.
// Reply must always return a message; failures become a fallback text.
type Responder interface {
	Triggered(msg models.ChatMessage) bool
	Reply(ctx context.Context, msg models.ChatMessage) models.ChatMessage
}

type validator interface {
	Validate() error
}

type connState struct {
	client *Client

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

// Gateway owns the live connections, validates inbound events and routes
// them to rooms. It never sends error frames; bad input is logged and
// dropped.
type Gateway struct {
	hub       *Hub
	log       *zap.Logger
	responder Responder

	ctx    context.Context
	cancel context.CancelFunc
	// dispatchMu orders wg.Add against cancel so Shutdown's Wait never
	// races a new dispatch.
	dispatchMu sync.Mutex
	wg         sync.WaitGroup

	mu    sync.RWMutex
	conns map[string]*connState
}

func NewGateway(hub *Hub, responder Responder, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		hub:       hub,
		log:       log,
		responder: responder,
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[string]*connState),
	}
}

func (g *Gateway) Hub() *Hub { return g.hub }

// Accept registers a freshly upgraded connection.
func (g *Gateway) Accept(c *Client) {
	g.mu.Lock()
	g.conns[c.ID] = &connState{client: c, rooms: make(map[string]struct{})}
	g.mu.Unlock()
	metrics.ConnectionsActive.Inc()
	g.log.Debug("connection accepted", zap.String("connection_id", c.ID))
}

// Send delivers a frame to a single connection.
func (g *Gateway) Send(connectionID string, frame models.WSFrame) bool {
	st := g.state(connectionID)
	if st == nil {
		return false
	}
	return st.client.Send(frame)
}

func (g *Gateway) Connections() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.conns)
}

// Receive decodes and applies one inbound payload. The returned error is
// for logging only; the connection stays usable either way.
func (g *Gateway) Receive(c *Client, raw []byte) error {
	st := g.state(c.ID)
	if st == nil {
		return ErrUnknownConnection
	}

	var frame models.InboundFrame
	var err error
	label := "invalid"
	if jsonErr := json.Unmarshal(raw, &frame); jsonErr != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidEvent, jsonErr)
	} else {
		switch frame.Type {
		case models.FrameJoin:
			label = frame.Type
			var ev models.JoinEvent
			if err = decodeEvent(frame.Data, &ev); err == nil {
				err = g.join(st, ev)
			}
		case models.FrameChat:
			label = frame.Type
			var ev models.ChatEvent
			if err = decodeEvent(frame.Data, &ev); err == nil {
				err = g.chat(st, ev)
			}
		case models.FrameDocumentUpdate:
			label = frame.Type
			var ev models.DocumentUpdateEvent
			if err = decodeEvent(frame.Data, &ev); err == nil {
				err = g.updateDocument(ev)
			}
		default:
			label = "unknown"
			err = fmt.Errorf("%w: %q", ErrUnknownEventType, frame.Type)
		}
	}

	metrics.Events.WithLabelValues(label, resultLabel(err)).Inc()
	if err != nil {
		g.log.Debug("inbound event dropped",
			zap.String("connection_id", c.ID),
			zap.String("type", frame.Type),
			zap.Error(err))
	}
	return err
}

// Close runs disconnect cleanup once per connection; later calls report
// false and do nothing.
func (g *Gateway) Close(c *Client) bool {
	g.mu.Lock()
	st, ok := g.conns[c.ID]
	if ok {
		delete(g.conns, c.ID)
	}
	g.mu.Unlock()
	if !ok {
		return false
	}
	metrics.ConnectionsActive.Dec()

	st.mu.Lock()
	st.closed = true
	roomIDs := make([]string, 0, len(st.rooms))
	for id := range st.rooms {
		roomIDs = append(roomIDs, id)
	}
	st.mu.Unlock()
	sort.Strings(roomIDs)

	for _, id := range roomIDs {
		room, ok := g.hub.Get(id)
		if !ok {
			continue
		}
		if p, left := room.Leave(c.ID); left {
			g.log.Info("participant left",
				zap.String("room_id", id),
				zap.String("participant_id", p.ParticipantID),
				zap.String("connection_id", c.ID))
		}
	}
	c.Close()
	return true
}

// Shutdown cancels in-flight AI replies and closes every connection; the
// per-connection handlers then run their normal Close path.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.dispatchMu.Lock()
	g.cancel()
	g.dispatchMu.Unlock()

	g.mu.RLock()
	clients := make([]*Client, 0, len(g.conns))
	for _, st := range g.conns {
		clients = append(clients, st.client)
	}
	g.mu.RUnlock()
	for _, c := range clients {
		c.Close()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until dispatched AI replies have been posted.
func (g *Gateway) Wait() { g.wg.Wait() }

func (g *Gateway) join(st *connState, ev models.JoinEvent) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.closed {
		return ErrUnknownConnection
	}

	for {
		room := g.hub.GetOrCreate(ev.RoomID)
		res, err := room.Join(st.client, ev)
		if errors.Is(err, ErrRoomClosed) {
			// evicted between lookup and join; the next lookup creates a fresh room
			continue
		}
		if err != nil {
			return err
		}
		st.rooms[ev.RoomID] = struct{}{}
		g.log.Info("participant joined",
			zap.String("room_id", ev.RoomID),
			zap.String("participant_id", ev.ParticipantID),
			zap.String("connection_id", st.client.ID),
			zap.Int("roster_size", len(res.Roster)),
			zap.Bool("superseded", res.Superseded))
		return nil
	}
}

func (g *Gateway) chat(st *connState, ev models.ChatEvent) error {
	room, ok := g.hub.Get(ev.RoomID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, ev.RoomID)
	}
	stored, err := room.PostChat(models.ChatMessage{
		ID:        ev.ID,
		Sender:    ev.Sender,
		PersonaID: ev.PersonaID,
		Content:   ev.Content,
		Type:      ev.Type,
	}, st.client.ID)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, ev.RoomID)
	}

	if g.responder != nil && g.responder.Triggered(stored) {
		if !g.dispatchReply(stored) {
			g.log.Debug("ai reply skipped, gateway shutting down", zap.String("room_id", ev.RoomID))
		}
	}
	return nil
}

func (g *Gateway) updateDocument(ev models.DocumentUpdateEvent) error {
	room, ok := g.hub.Get(ev.RoomID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, ev.RoomID)
	}
	if err := room.UpdateDocument(ev.Document); err != nil {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, ev.RoomID)
	}
	return nil
}

// dispatchReply asks the responder off the connection's read path; no room
// lock is held while the AI call is in flight.
func (g *Gateway) dispatchReply(trigger models.ChatMessage) bool {
	g.dispatchMu.Lock()
	if g.ctx.Err() != nil {
		g.dispatchMu.Unlock()
		return false
	}
	g.wg.Add(1)
	g.dispatchMu.Unlock()

	go func() {
		defer g.wg.Done()
		reply := g.responder.Reply(g.ctx, trigger)

		room, ok := g.hub.Get(trigger.RoomID)
		if !ok {
			g.log.Warn("ai reply dropped, room gone", zap.String("room_id", trigger.RoomID))
			return
		}
		if _, err := room.PostChat(reply, ""); err != nil {
			g.log.Warn("ai reply dropped", zap.String("room_id", trigger.RoomID), zap.Error(err))
		}
	}()
	return true
}

func (g *Gateway) state(connectionID string) *connState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conns[connectionID]
}

func decodeEvent(data json.RawMessage, v validator) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: missing data", ErrInvalidEvent)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrUnknownEventType):
		return "unknown_type"
	default:
		return "invalid"
	}
}
