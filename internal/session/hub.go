package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"openideax/collab/internal/metrics"
	"openideax/collab/internal/models"
	"openideax/collab/internal/notify"
)

const eventBuffer = 128

// Hub is the room registry. Rooms are created lazily on first join and are
// only removed by EvictIdle.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	seq      *Sequence
	now      func() time.Time
	log      *zap.Logger
	notifier notify.Notifier
	events   chan notify.RoomEvent
}

func NewHub() *Hub { return NewHubWithDeps(zap.NewNop(), notify.Nop{}) }

func NewHubWithDeps(log *zap.Logger, notifier notify.Notifier) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Hub{
		rooms:    make(map[string]*Room),
		seq:      &Sequence{},
		now:      time.Now,
		log:      log,
		notifier: notifier,
		events:   make(chan notify.RoomEvent, eventBuffer),
	}
}

// Run forwards lifecycle events to the notifier until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case ev := <-h.events:
			pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := h.notifier.Publish(pubCtx, ev); err != nil {
				h.log.Warn("room event publish failed",
					zap.String("type", string(ev.Type)),
					zap.String("room_id", ev.RoomID),
					zap.Error(err))
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}

// GetOrCreate returns the room for id, creating it if needed. Concurrent
// first callers all get the same instance.
func (h *Hub) GetOrCreate(id string) *Room {
	h.mu.RLock()
	r, ok := h.rooms[id]
	h.mu.RUnlock()
	if ok {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[id]; ok {
		return r
	}
	r = newRoom(id, h.seq, h.now)
	h.rooms[id] = r
	metrics.RoomsActive.Set(float64(len(h.rooms)))
	h.log.Info("room created", zap.String("room_id", id))
	h.emit(notify.RoomEvent{Type: notify.RoomCreated, RoomID: id, Timestamp: r.createdAt})
	return r
}

func (h *Hub) Get(id string) (*Room, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[id]
	return r, ok
}

// Rooms lists summaries sorted by room id.
func (h *Hub) Rooms() []models.RoomSummary {
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	out := make([]models.RoomSummary, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID < out[j].RoomID })
	return out
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// EvictIdle drops rooms that have had no participants for at least ttl and
// returns their ids. A ttl <= 0 disables eviction.
func (h *Hub) EvictIdle(ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}
	now := h.now()

	h.mu.Lock()
	defer h.mu.Unlock()

	var evicted []string
	for id, r := range h.rooms {
		snap, ok := r.evictIfIdle(now, ttl)
		if !ok {
			continue
		}
		delete(h.rooms, id)
		evicted = append(evicted, id)
		h.emit(notify.RoomEvent{
			Type:      notify.RoomClosed,
			RoomID:    id,
			Messages:  len(snap.Chat),
			Document:  snap.Document,
			Timestamp: now,
		})
	}
	if len(evicted) > 0 {
		metrics.RoomsActive.Set(float64(len(h.rooms)))
		sort.Strings(evicted)
		h.log.Info("idle rooms evicted", zap.Strings("room_ids", evicted))
	}
	return evicted
}

// emit never blocks; events are dropped when Run is behind.
func (h *Hub) emit(ev notify.RoomEvent) {
	select {
	case h.events <- ev:
	default:
		h.log.Warn("room event dropped", zap.String("type", string(ev.Type)), zap.String("room_id", ev.RoomID))
	}
}
