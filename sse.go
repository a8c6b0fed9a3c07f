package main

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	eventChannelBuffer = 16
	sseHeartbeat       = 30 * time.Second
)

// subscriber is one live connection to a session, whatever its transport.
type subscriber struct {
	ch        chan string
	sessionID string
}

// offer queues a message without blocking. A full queue drops it.
func (s *subscriber) offer(msg string) bool {
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// stream is the transport side of a subscriber.
type stream interface {
	send(msg string) error
	keepalive() error
	// end is called when the session closes the subscription.
	end()
}

// Broadcaster fans game events out to the subscribers of each session.
type Broadcaster struct {
	mu       sync.RWMutex
	sessions map[string]map[*subscriber]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		sessions: make(map[string]map[*subscriber]struct{}),
	}
}

// Register adds a subscriber for a session and returns it.
func (b *Broadcaster) Register(sessionID string) *subscriber {
	s := &subscriber{
		ch:        make(chan string, eventChannelBuffer),
		sessionID: sessionID,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.sessions[sessionID]
	if !ok {
		set = make(map[*subscriber]struct{})
		b.sessions[sessionID] = set
	}
	set[s] = struct{}{}
	return s
}

// Unregister removes a subscriber and closes its channel. It is a no-op for
// a subscriber already dropped by Close.
func (b *Broadcaster) Unregister(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.sessions[s.sessionID]
	if _, ok := set[s]; !ok {
		return
	}
	delete(set, s)
	close(s.ch)
	if len(set) == 0 {
		delete(b.sessions, s.sessionID)
	}
}

// Broadcast offers a message to every subscriber of a session. Slow
// subscribers miss it.
func (b *Broadcaster) Broadcast(sessionID, data string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.sessions[sessionID] {
		s.offer(data)
	}
}

// Close drops every subscriber of a session, ending their streams.
func (b *Broadcaster) Close(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for s := range b.sessions[sessionID] {
		close(s.ch)
	}
	delete(b.sessions, sessionID)
}

// SubscriberCount returns the number of subscribers of a session.
func (b *Broadcaster) SubscriberCount(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.sessions[sessionID])
}

// serve subscribes to a session and pumps its events into st until done
// is closed, the transport fails or the session is closed.
func (b *Broadcaster) serve(done <-chan struct{}, sessionID string, st stream, heartbeat time.Duration, onConnect func(*subscriber)) {
	s := b.Register(sessionID)
	defer b.Unregister(s)

	if onConnect != nil {
		onConnect(s)
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-s.ch:
			if !ok {
				st.end()
				return
			}
			if err := st.send(msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := st.keepalive(); err != nil {
				return
			}
		}
	}
}

type sseStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s sseStream) send(msg string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", msg); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s sseStream) keepalive() error {
	if _, err := io.WriteString(s.w, ": heartbeat\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (sseStream) end() {}

// ServeSSE streams a session's events over Server-Sent Events.
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request, sessionID string, onConnect func(*subscriber)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// The server write timeout is sized for single requests.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	b.serve(r.Context().Done(), sessionID, sseStream{w: w, flusher: flusher}, sseHeartbeat, onConnect)
}
