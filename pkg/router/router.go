// Package router drains pkg/queue on a fixed-size worker pool and
// dispatches each envelope to registered handlers: spec.md §4.2.
// Exact-topic handlers run before wildcard handlers; a (topic,
// message-id) pair already seen within the dedup TTL is discarded
// before either runs.
package router

import (
	"strings"
	"sync"
	"time"

	"github.com/cuemby/meek/pkg/log"
	"github.com/cuemby/meek/pkg/queue"
)

// Handler processes one envelope's payload. A panic inside a handler
// is recovered and logged; it never reaches the worker pool loop.
type Handler func(topic string, payload []byte)

// Config controls the router's worker pool and deduplication window.
type Config struct {
	Workers int
	DedupTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 5 * time.Minute
	}
	return c
}

// Router owns a set of exact and wildcard topic handlers and a pool of
// goroutines draining a queue.Queue.
type Router struct {
	cfg Config
	q   *queue.Queue

	mu       sync.RWMutex
	exact    map[string][]Handler
	wild     []wildcardHandler
	dedup    map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

type wildcardHandler struct {
	pattern string
	parts   []string
	handler Handler
}

// New creates a Router draining q with cfg's worker count and dedup
// TTL (zero values take the package defaults).
func New(q *queue.Queue, cfg Config) *Router {
	return &Router{
		cfg:    cfg.withDefaults(),
		q:      q,
		exact:  make(map[string][]Handler),
		dedup:  make(map[string]time.Time),
		stopCh: make(chan struct{}),
	}
}

// Handle registers handler for an exact topic match.
func (r *Router) Handle(topic string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exact[topic] = append(r.exact[topic], handler)
}

// HandleWildcard registers handler for a pattern using MQTT-style
// "+" (single level) and "#" (remaining levels) wildcards.
func (r *Router) HandleWildcard(pattern string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wild = append(r.wild, wildcardHandler{
		pattern: pattern,
		parts:   strings.Split(pattern, "/"),
		handler: handler,
	})
}

// Start launches cfg.Workers goroutines draining the queue. It also
// starts a background goroutine that periodically compacts the dedup
// cache.
func (r *Router) Start() {
	for i := 0; i < r.cfg.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.wg.Add(1)
	go r.compactDedupLoop()
}

// Stop signals all workers to exit and waits for them to drain.
func (r *Router) Stop() {
	close(r.stopCh)
	r.wg.Wait()
}

func (r *Router) worker() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stopCh:
			return
		default:
		}
		env, ok := r.q.Pop()
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		r.dispatch(env.Topic, env.Payload)
	}
}

func (r *Router) dispatch(topic string, payload []byte) {
	if r.seen(topic, messageID(payload)) {
		return
	}

	r.mu.RLock()
	exact := append([]Handler(nil), r.exact[topic]...)
	var matched []Handler
	for _, w := range r.wild {
		if matchTopic(w.parts, topic) {
			matched = append(matched, w.handler)
		}
	}
	r.mu.RUnlock()

	for _, h := range append(exact, matched...) {
		r.invoke(h, topic, payload)
	}
}

func (r *Router) invoke(h Handler, topic string, payload []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Logger.Error().
				Str("component", "router").
				Str("topic", topic).
				Interface("panic", rec).
				Msg("handler panicked")
		}
	}()
	h(topic, payload)
}

// seen reports whether (topic, id) was dispatched within the dedup
// TTL, recording it if not. An empty id never dedups (messages without
// an id field, e.g. plain heartbeats, are always delivered).
func (r *Router) seen(topic, id string) bool {
	if id == "" {
		return false
	}
	key := topic + "\x00" + id

	r.mu.Lock()
	defer r.mu.Unlock()

	if until, ok := r.dedup[key]; ok && time.Now().Before(until) {
		return true
	}
	r.dedup[key] = time.Now().Add(r.cfg.DedupTTL)
	return false
}

func (r *Router) compactDedupLoop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.DedupTTL)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.compactDedup()
		}
	}
}

func (r *Router) compactDedup() {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, until := range r.dedup {
		if now.After(until) {
			delete(r.dedup, key)
		}
	}
}

// matchTopic reports whether topic matches an MQTT-style pattern
// split into parts ("+" matches exactly one level, "#" matches the
// rest of the topic and must be the final part).
func matchTopic(pattern []string, topic string) bool {
	topicParts := strings.Split(topic, "/")
	for i, p := range pattern {
		if p == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if p != "+" && p != topicParts[i] {
			return false
		}
	}
	return len(pattern) == len(topicParts)
}
