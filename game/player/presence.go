package player

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Presence tracks which players currently hold a notification stream.
// A player may hold several streams at once; it stays online until the last closes.
type Presence struct {
	mu      sync.RWMutex
	streams map[int64]int
	seen    map[int64]time.Time
	logger  *zap.Logger
}

// NewPresence creates an empty Presence tracker.
func NewPresence(logger *zap.Logger) *Presence {
	return &Presence{
		streams: make(map[int64]int),
		seen:    make(map[int64]time.Time),
		logger:  logger,
	}
}

// Connect registers a stream for playerID and returns its release func.
// The release func is safe to call more than once.
func (p *Presence) Connect(playerID int64) func() {
	p.mu.Lock()
	p.streams[playerID]++
	p.seen[playerID] = time.Now()
	n := p.streams[playerID]
	p.mu.Unlock()
	p.logger.Debug("player stream opened", zap.Int64("player_id", playerID), zap.Int("streams", n))

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			p.seen[playerID] = time.Now()
			if p.streams[playerID] <= 1 {
				delete(p.streams, playerID)
				return
			}
			p.streams[playerID]--
		})
	}
}

// Online reports whether playerID holds at least one stream.
func (p *Presence) Online(playerID int64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.streams[playerID] > 0
}

// LastSeen returns when playerID last opened or closed a stream.
func (p *Presence) LastSeen(playerID int64) (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.seen[playerID]
	return t, ok
}

// Count returns the number of online players.
func (p *Presence) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.streams)
}
