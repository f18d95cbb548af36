package mjpeg

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const boundary = "frame"

// Subscription is one consumer's frame sequence. It ends when the capture
// worker stops or the consumer closes it, and cannot be restarted.
type Subscription struct {
	id     int
	frames chan []byte
	hub    *Publisher
	once   sync.Once
}

// Frames yields encoded JPEGs; the channel is closed when the sequence ends
func (s *Subscription) Frames() <-chan []byte { return s.frames }

// Close detaches the subscription from the hub
func (s *Subscription) Close() { s.hub.remove(s) }

// Publisher fans annotated frames out to every open subscription, always
// keeping only the newest frame for slow consumers
type Publisher struct {
	mu          sync.RWMutex
	latest      []byte
	placeholder []byte
	subs        map[int]*Subscription
	nextID      int
	closed      bool
	keepalive   time.Duration
}

func NewPublisher(placeholder []byte) *Publisher {
	return &Publisher{
		placeholder: placeholder,
		subs:        make(map[int]*Subscription),
		keepalive:   2 * time.Second,
	}
}

// PublishFrame records jpeg as the latest frame and offers it to every
// subscriber without blocking
func (p *Publisher) PublishFrame(jpeg []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.latest = jpeg
	for _, s := range p.subs {
		select {
		case s.frames <- jpeg:
		default:
			// drop the stale frame in favour of the new one
			select {
			case <-s.frames:
			default:
			}
			select {
			case s.frames <- jpeg:
			default:
			}
		}
	}
}

// Subscribe opens a new frame sequence. After CloseAll and until Reopen the
// sequence is returned already ended.
func (p *Publisher) Subscribe() *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := &Subscription{id: p.nextID, frames: make(chan []byte, 1), hub: p}
	p.nextID++
	if p.closed {
		s.once.Do(func() { close(s.frames) })
		return s
	}
	p.subs[s.id] = s
	return s
}

// CloseAll ends every open sequence, called when the capture worker exits
func (p *Publisher) CloseAll() {
	p.mu.Lock()
	subs := p.subs
	p.subs = make(map[int]*Subscription)
	p.closed = true
	p.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() { close(s.frames) })
	}
	if len(subs) > 0 {
		log.Info().Int("subscribers", len(subs)).Msg("MJPEG streams closed")
	}
}

// Reopen accepts new sequences again, called when a capture session starts
func (p *Publisher) Reopen() {
	p.mu.Lock()
	p.closed = false
	p.mu.Unlock()
}

func (p *Publisher) remove(s *Subscription) {
	p.mu.Lock()
	delete(p.subs, s.id)
	p.mu.Unlock()
	s.once.Do(func() { close(s.frames) })
}

// Latest returns the most recent frame, or nil before the first one
func (p *Publisher) Latest() []byte {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest
}

// Subscribers reports the number of open sequences
func (p *Publisher) Subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

// StreamMJPEGHTTP writes sub as a multipart/x-mixed-replace response until
// the sequence ends or the client disconnects. The latest frame is repeated
// as a keepalive when the loop is slow.
func (p *Publisher) StreamMJPEGHTTP(w http.ResponseWriter, r *http.Request, sub *Subscription) {
	defer sub.Close()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	writePart := func(jpeg []byte) bool {
		if _, err := io.WriteString(w, "--"+boundary+"\r\n"); err != nil {
			return false
		}
		if _, err := io.WriteString(w, "Content-Type: image/jpeg\r\n"); err != nil {
			return false
		}
		if _, err := io.WriteString(w, fmt.Sprintf("Content-Length: %d\r\n\r\n", len(jpeg))); err != nil {
			return false
		}
		if _, err := w.Write(jpeg); err != nil {
			return false
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	first := p.Latest()
	if len(first) == 0 {
		first = p.placeholder
	}
	if len(first) > 0 && !writePart(first) {
		return
	}

	keepaliveTicker := time.NewTicker(p.keepalive)
	defer keepaliveTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case jpeg, ok := <-sub.Frames():
			if !ok {
				return
			}
			if !writePart(jpeg) {
				return
			}
		case <-keepaliveTicker.C:
			if buf := p.Latest(); len(buf) > 0 && !writePart(buf) {
				return
			}
		}
	}
}
