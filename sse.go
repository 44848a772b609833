package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const sseHeartbeat = 30 * time.Second

// subscriber holds the next stats snapshot for one stream. The channel has
// room for a single value; a newer snapshot replaces one not yet sent.
type subscriber struct {
	next chan Stats
}

// offer queues st, replacing any snapshot the stream has not written yet.
func (sub *subscriber) offer(st Stats) {
	for {
		select {
		case sub.next <- st:
			return
		default:
		}
		select {
		case <-sub.next:
		default:
		}
	}
}

// Broadcaster fans stats snapshots out to event stream subscribers.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
	log  *slog.Logger
}

// NewBroadcaster creates a broadcaster with no subscribers.
func NewBroadcaster(log *slog.Logger) *Broadcaster {
	return &Broadcaster{
		subs: make(map[*subscriber]struct{}),
		log:  log,
	}
}

func (b *Broadcaster) subscribe() *subscriber {
	sub := &subscriber{next: make(chan Stats, 1)}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

func (b *Broadcaster) unsubscribe(sub *subscriber) {
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

// Publish hands st to every subscriber. Slow subscribers skip straight to
// the latest snapshot.
func (b *Broadcaster) Publish(st Stats) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subs {
		sub.offer(st)
	}
}

// Subscribers returns the number of open streams.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// ServeSSE streams stats events until the request ends. When initial is
// non-nil its result is sent first.
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request, initial func(context.Context) (Stats, error)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := b.subscribe()
	defer b.unsubscribe(sub)

	if initial != nil {
		st, err := initial(ctx)
		if err != nil {
			b.log.WarnContext(ctx, "initial stats", "err", err)
		} else {
			sub.offer(st)
		}
	}

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case st := <-sub.next:
			data, err := json.Marshal(st)
			if err != nil {
				b.log.ErrorContext(ctx, "encode stats event", "err", err)
				return
			}
			fmt.Fprintf(w, "event: stats\ndata: %s\n\n", data)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
