// Package registry is the in-process presence table: which users have live
// sessions on this instance, and whether their heartbeats are fresh.
package registry

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"campuschat/internal/core/contracts"
	"campuschat/internal/core/domain"
	"campuschat/internal/platform/metrics"
)

const (
	DefaultDevice           = "default"
	DefaultShards           = 32
	DefaultHeartbeatTimeout = 60 * time.Second
	DefaultSweepInterval    = 30 * time.Second
)

// Listener receives presence changes. Listeners run synchronously on the
// goroutine that caused the change.
type Listener func(ctx context.Context, ev domain.PresenceEvent)

type Options struct {
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	Shards           int
	// Store, when set, mirrors liveness so other instances can see it.
	Store   contracts.PresenceStore
	Metrics *metrics.Metrics
}

type entry struct {
	sessions      map[string]contracts.Client // device key -> session
	lastHeartbeat time.Time
	lastSeen      time.Time
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

type Registry struct {
	log      *slog.Logger
	shards   []*shard
	timeout  time.Duration
	interval time.Duration
	store    contracts.PresenceStore
	metrics  *metrics.Metrics
	now      func() time.Time
	online   atomic.Int64

	lmu       sync.RWMutex
	listeners []Listener
}

func NewRegistry(log *slog.Logger, opts Options) *Registry {
	if opts.Shards <= 0 {
		opts.Shards = DefaultShards
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	r := &Registry{
		log:      log,
		shards:   make([]*shard, opts.Shards),
		timeout:  opts.HeartbeatTimeout,
		interval: opts.SweepInterval,
		store:    opts.Store,
		metrics:  opts.Metrics,
		now:      time.Now,
	}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

func deviceKey(c contracts.Client) string {
	if d := c.DeviceID(); d != "" {
		return d
	}
	return DefaultDevice
}

// Subscribe registers l for every future presence change.
func (r *Registry) Subscribe(l Listener) {
	r.lmu.Lock()
	defer r.lmu.Unlock()
	r.listeners = append(r.listeners, l)
}

func (r *Registry) publish(ctx context.Context, ev domain.PresenceEvent) {
	r.lmu.RLock()
	listeners := append([]Listener(nil), r.listeners...)
	r.lmu.RUnlock()
	for _, l := range listeners {
		l(ctx, ev)
	}
}

// Connect records c as the session for its user and device. A different
// session already held for the same device is closed first.
func (r *Registry) Connect(ctx context.Context, c contracts.Client) {
	userID, device := c.UserID(), deviceKey(c)
	now := r.now()
	s := r.shardFor(userID)

	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok {
		e = &entry{sessions: make(map[string]contracts.Client, 1)}
		s.entries[userID] = e
		r.metrics.SetOnlineUsers(int(r.online.Add(1)))
	}
	if old, ok := e.sessions[device]; ok && old.ID() != c.ID() {
		old.Close()
		r.log.InfoContext(ctx, "registry - connect - severed previous session",
			"user_id", userID, "device", device, "session_id", old.ID())
	}
	e.sessions[device] = c
	e.lastHeartbeat = now
	e.lastSeen = now
	s.mu.Unlock()

	r.touch(ctx, userID, now)
	r.log.InfoContext(ctx, "registry - connect - success", "user_id", userID, "device", device, "session_id", c.ID())
	r.publish(ctx, domain.PresenceEvent{UserID: userID, LastSeen: now, IsOnline: true})
}

// Disconnect removes c if it is still the current session for its device.
// When the user's last session goes, an offline event is published before
// Disconnect returns.
func (r *Registry) Disconnect(ctx context.Context, c contracts.Client) {
	userID, device := c.UserID(), deviceKey(c)
	now := r.now()
	s := r.shardFor(userID)

	s.mu.Lock()
	e, ok := s.entries[userID]
	if !ok {
		s.mu.Unlock()
		return
	}
	cur, ok := e.sessions[device]
	if !ok || cur.ID() != c.ID() {
		s.mu.Unlock()
		return
	}
	delete(e.sessions, device)
	e.lastSeen = now
	offline := len(e.sessions) == 0
	if offline {
		delete(s.entries, userID)
		r.metrics.SetOnlineUsers(int(r.online.Add(-1)))
	}
	s.mu.Unlock()

	r.log.InfoContext(ctx, "registry - disconnect - success", "user_id", userID, "session_id", c.ID(), "offline", offline)
	if offline {
		r.forget(ctx, userID)
		r.publish(ctx, domain.PresenceEvent{UserID: userID, LastSeen: now, IsOnline: false})
	}
}

// Heartbeat refreshes liveness. Users without a connected session are ignored.
func (r *Registry) Heartbeat(ctx context.Context, userID string) bool {
	now := r.now()
	s := r.shardFor(userID)
	s.mu.Lock()
	e, ok := s.entries[userID]
	if ok {
		e.lastHeartbeat = now
		e.lastSeen = now
	}
	s.mu.Unlock()
	if !ok {
		r.log.DebugContext(ctx, "registry - heartbeat - unknown user ignored", "user_id", userID)
		return false
	}
	r.touch(ctx, userID, now)
	return true
}

// Sweep evicts users whose heartbeat is older than the timeout. Stale ids
// are collected under read locks; each is evicted under its shard's write
// lock after re-checking.
func (r *Registry) Sweep(ctx context.Context) int {
	now := r.now()
	evicted := 0
	for _, s := range r.shards {
		var stale []string
		s.mu.RLock()
		for userID, e := range s.entries {
			if now.Sub(e.lastHeartbeat) > r.timeout {
				stale = append(stale, userID)
			}
		}
		s.mu.RUnlock()

		for _, userID := range stale {
			s.mu.Lock()
			e, ok := s.entries[userID]
			if !ok || now.Sub(e.lastHeartbeat) <= r.timeout {
				s.mu.Unlock()
				continue
			}
			delete(s.entries, userID)
			r.metrics.SetOnlineUsers(int(r.online.Add(-1)))
			sessions := make([]contracts.Client, 0, len(e.sessions))
			for _, c := range e.sessions {
				sessions = append(sessions, c)
			}
			lastSeen := e.lastSeen
			s.mu.Unlock()

			for _, c := range sessions {
				c.Close()
			}
			evicted++
			r.metrics.Evicted()
			r.forget(ctx, userID)
			r.log.InfoContext(ctx, "registry - sweep - evicted", "user_id", userID, "sessions", len(sessions))
			r.publish(ctx, domain.PresenceEvent{UserID: userID, LastSeen: lastSeen, IsOnline: false})
		}
	}
	return evicted
}

// RunSweeper sweeps on a fixed interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.log.Info("registry - sweeper - stopped")
			return
		case <-ticker.C:
			if n := r.Sweep(ctx); n > 0 {
				r.log.InfoContext(ctx, "registry - sweeper - pass complete", "evicted", n)
			}
		}
	}
}

func (r *Registry) fresh(e *entry, now time.Time) bool {
	return now.Sub(e.lastHeartbeat) <= r.timeout
}

// IsOnline checks the local table first, then the shared store if configured.
func (r *Registry) IsOnline(ctx context.Context, userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	e, ok := s.entries[userID]
	local := ok && r.fresh(e, r.now())
	s.mu.RUnlock()
	if local || r.store == nil {
		return local
	}
	online, err := r.store.IsOnline(ctx, userID, r.timeout)
	if err != nil {
		r.log.WarnContext(ctx, "registry - is online - store lookup failed", "user_id", userID, "err", err)
		return false
	}
	return online
}

// OnlineUserIDs lists live users, cluster-wide when a shared store is set.
func (r *Registry) OnlineUserIDs(ctx context.Context) []string {
	if r.store != nil {
		ids, err := r.store.OnlineUsers(ctx, r.timeout)
		if err == nil {
			return ids
		}
		r.log.WarnContext(ctx, "registry - online users - store lookup failed", "err", err)
	}
	now := r.now()
	var ids []string
	for _, s := range r.shards {
		s.mu.RLock()
		for userID, e := range s.entries {
			if r.fresh(e, now) {
				ids = append(ids, userID)
			}
		}
		s.mu.RUnlock()
	}
	return ids
}

// Sessions returns the live session handles held for userID on this instance.
func (r *Registry) Sessions(userID string) []contracts.Client {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID]
	if !ok {
		return nil
	}
	out := make([]contracts.Client, 0, len(e.sessions))
	for _, c := range e.sessions {
		out = append(out, c)
	}
	return out
}

func (r *Registry) AllSessions() []contracts.Client {
	var out []contracts.Client
	for _, s := range r.shards {
		s.mu.RLock()
		for _, e := range s.entries {
			for _, c := range e.sessions {
				out = append(out, c)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// LastSeen reports when userID last connected or sent a heartbeat here.
func (r *Registry) LastSeen(userID string) (time.Time, bool) {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[userID]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

func (r *Registry) touch(ctx context.Context, userID string, at time.Time) {
	if r.store == nil {
		return
	}
	if err := r.store.Touch(ctx, userID, at); err != nil {
		r.log.WarnContext(ctx, "registry - presence store - touch failed", "user_id", userID, "err", err)
	}
}

func (r *Registry) forget(ctx context.Context, userID string) {
	if r.store == nil {
		return
	}
	if err := r.store.Remove(ctx, userID); err != nil {
		r.log.WarnContext(ctx, "registry - presence store - remove failed", "user_id", userID, "err", err)
	}
}
