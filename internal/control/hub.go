package control

import (
	"log/slog"
	"sync"
)

// EventKind names the engine→control event families from spec §4.9.
type EventKind string

const (
	EventStateChanged      EventKind = "stateChanged"
	EventLevelState        EventKind = "levelState"
	EventTrackEnded        EventKind = "trackEnded"
	EventError             EventKind = "error"
	EventRecordingError    EventKind = "recordingError"
	EventWaveformChunk     EventKind = "waveformChunk"
	EventWaveformComplete  EventKind = "waveformComplete"
	EventTrackStructure    EventKind = "trackStructure"
	EventDeviceChanged     EventKind = "deviceChanged"
)

// Event is one engine→control message, carrying whichever payload its
// Kind implies (Delta for stateChanged, LevelState for levelState, and
// so on — see the payload types in this package).
type Event struct {
	Kind EventKind
	Data any
}

// LevelState is the levelState event payload: per-deck peaks emitted
// every callback (~46ms at 2048 frames/44100Hz).
type LevelState struct {
	PeakA, PeakB         float64
	PeakHoldA, PeakHoldB float64
}

// WaveformChunk is one piece of a track's mono mixdown fanned out after
// load, identified by the track it belongs to so a superseding load can
// be distinguished by the receiver (spec §5 cancellation: "chunks
// already posted ... are discarded by the receiver via id check").
type WaveformChunk struct {
	TrackID     string
	ChunkIndex  int
	TotalChunks int
	Samples     []float32
}

// Subscriber receives a copy of every published Event on Events until
// the control plane calls Unsubscribe; a full buffer drops the event
// rather than blocking the publisher, matching the teacher's SSE hub.
type Subscriber struct {
	id     string
	Events chan Event
}

// Hub fans out engine events to any number of subscribers (HTTP/MCP
// long-pollers, an eventual websocket bridge), generalized from the
// byte-oriented SSE hub into one carrying typed Events.
type Hub struct {
	subs       map[*Subscriber]bool
	broadcast  chan Event
	register   chan *Subscriber
	unregister chan *Subscriber
	mu         sync.RWMutex
	done       chan struct{}
}

// NewHub creates a Hub. Call Run in a goroutine before publishing.
func NewHub() *Hub {
	return &Hub{
		subs:       make(map[*Subscriber]bool),
		broadcast:  make(chan Event, 256),
		register:   make(chan *Subscriber),
		unregister: make(chan *Subscriber),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop.
func (h *Hub) Run() {
	for {
		select {
		case s := <-h.register:
			h.mu.Lock()
			h.subs[s] = true
			h.mu.Unlock()

		case s := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(s.Events)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.mu.RLock()
			for s := range h.subs {
				select {
				case s.Events <- ev:
				default:
					slog.Warn("control: subscriber buffer full, dropping event", "id", s.id, "kind", ev.Kind)
				}
			}
			h.mu.RUnlock()

		case <-h.done:
			h.mu.Lock()
			for s := range h.subs {
				close(s.Events)
				delete(h.subs, s)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Subscribe registers a new subscriber identified by id.
func (h *Hub) Subscribe(id string) *Subscriber {
	s := &Subscriber{id: id, Events: make(chan Event, 64)}
	select {
	case h.register <- s:
	case <-h.done:
	}
	return s
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// Publish broadcasts ev to every current subscriber.
func (h *Hub) Publish(ev Event) {
	select {
	case h.broadcast <- ev:
	case <-h.done:
	}
}

// Close shuts the hub down.
func (h *Hub) Close() {
	close(h.done)
}
