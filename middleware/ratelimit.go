package middleware

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type rateShard struct {
	clients map[string]*client
	mu      sync.RWMutex
}

type client struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64 // unix nano
}

// RateLimiter caps per-connection command rates. Sharded so hot connections
// don't contend on one lock.
type RateLimiter struct {
	shards     []*rateShard
	shardCount int
	rate       rate.Limit
	burst      int
	cleanup    *time.Ticker
	done       chan struct{}
}

func NewRateLimiter(ratePerSec, burst, shardCount int) *RateLimiter {
	if shardCount <= 0 {
		shardCount = 32
	}
	shards := make([]*rateShard, shardCount)
	for i := range shards {
		shards[i] = &rateShard{clients: make(map[string]*client)}
	}
	rl := &RateLimiter{
		shards:     shards,
		shardCount: shardCount,
		rate:       rate.Limit(ratePerSec),
		burst:      burst,
		cleanup:    time.NewTicker(5 * time.Minute),
		done:       make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *RateLimiter) shardFor(id string) *rateShard {
	h := sha256.Sum256([]byte(id))
	idx := binary.BigEndian.Uint32(h[:4]) % uint32(rl.shardCount)
	return rl.shards[idx]
}

func (rl *RateLimiter) Allow(id string) bool {
	shard := rl.shardFor(id)

	shard.mu.RLock()
	cl, ok := shard.clients[id]
	shard.mu.RUnlock()

	if !ok {
		shard.mu.Lock()
		cl, ok = shard.clients[id]
		if !ok {
			cl = &client{limiter: rate.NewLimiter(rl.rate, rl.burst)}
			shard.clients[id] = cl
		}
		shard.mu.Unlock()
	}

	cl.lastSeen.Store(time.Now().UnixNano())
	return cl.limiter.Allow()
}

func (rl *RateLimiter) Remove(id string) {
	shard := rl.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.clients, id)
}

func (rl *RateLimiter) cleanupLoop() {
	for {
		select {
		case <-rl.cleanup.C:
			cutoff := time.Now().Add(-10 * time.Minute).UnixNano()
			for _, shard := range rl.shards {
				shard.mu.Lock()
				for id, cl := range shard.clients {
					if cl.lastSeen.Load() < cutoff {
						delete(shard.clients, id)
					}
				}
				shard.mu.Unlock()
			}
		case <-rl.done:
			return
		}
	}
}

func (rl *RateLimiter) Close() {
	rl.cleanup.Stop()
	close(rl.done)
}
