package guild

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/kasuganosora/socialgov/apperr"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// Registry is the in-memory view of active guilds. Entries are immutable
// snapshots replaced after each committed mutation.
type Registry struct {
	db     *gorm.DB
	logger *zap.Logger

	mu       sync.RWMutex
	guilds   map[int64]*Guild
	byName   map[string]int64
	byTag    map[string]int64
	memberOf map[int64]int64
	// gen counts replacements per guild id so a slow read-through load can
	// tell that a newer snapshot was published while it ran.
	gen map[int64]uint64

	locksMu sync.Mutex
	locks   map[int64]*sync.Mutex

	group singleflight.Group
}

// NewRegistry creates an empty registry backed by db.
func NewRegistry(db *gorm.DB, logger *zap.Logger) *Registry {
	return &Registry{
		db:       db,
		logger:   logger,
		guilds:   make(map[int64]*Guild),
		byName:   make(map[string]int64),
		byTag:    make(map[string]int64),
		memberOf: make(map[int64]int64),
		gen:      make(map[int64]uint64),
		locks:    make(map[int64]*sync.Mutex),
	}
}

// Load fills the registry with every active guild.
func (r *Registry) Load(ctx context.Context) error {
	guilds, err := loadActive(r.db.WithContext(ctx))
	if err != nil {
		return err
	}
	for _, g := range guilds {
		r.put(g)
	}
	r.logger.Info("guild registry loaded", zap.Int("guilds", len(guilds)))
	return nil
}

// Stop drops all cached entries.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guilds = make(map[int64]*Guild)
	r.byName = make(map[string]int64)
	r.byTag = make(map[string]int64)
	r.memberOf = make(map[int64]int64)
}

// Get returns the snapshot of an active guild, reading through the store on a miss.
// Callers must not modify the result.
func (r *Registry) Get(ctx context.Context, id int64) (*Guild, error) {
	r.mu.RLock()
	g, ok := r.guilds[id]
	gen := r.gen[id]
	r.mu.RUnlock()
	if ok {
		return g, nil
	}
	v, err, _ := r.group.Do("guild:"+strconv.FormatInt(id, 10), func() (interface{}, error) {
		g, err := loadGuild(r.db.WithContext(ctx), id)
		if err != nil {
			return nil, err
		}
		return r.fill(g, gen), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Guild), nil
}

// GuildOf returns the id of the player's guild, or 0 when unaffiliated.
func (r *Registry) GuildOf(ctx context.Context, playerID int64) (int64, error) {
	r.mu.RLock()
	id, ok := r.memberOf[playerID]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}
	v, err, _ := r.group.Do("member:"+strconv.FormatInt(playerID, 10), func() (interface{}, error) {
		return guildIDOf(r.db.WithContext(ctx), playerID)
	})
	if err != nil {
		return 0, err
	}
	id = v.(int64)
	if id != 0 {
		if _, err := r.Get(ctx, id); err != nil && apperr.KindOf(err) != apperr.KindNotFound {
			return 0, err
		}
	}
	return id, nil
}

// GuildOfPlayer returns the player's guild snapshot or NotFound.
func (r *Registry) GuildOfPlayer(ctx context.Context, playerID int64) (*Guild, error) {
	id, err := r.GuildOf(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if id == 0 {
		return nil, ErrNotInGuild
	}
	return r.Get(ctx, id)
}

// NameTaken reports whether an active guild uses name or tag (case-insensitive).
func (r *Registry) NameTaken(name, tag string) (nameTaken, tagTaken bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, nameTaken = r.byName[strings.ToLower(name)]
	_, tagTaken = r.byTag[strings.ToUpper(tag)]
	return nameTaken, tagTaken
}

// All returns every cached guild snapshot.
func (r *Registry) All() []*Guild {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Guild, 0, len(r.guilds))
	for _, g := range r.guilds {
		out = append(out, g)
	}
	return out
}

// Count returns the number of cached guilds.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.guilds)
}

// lock returns the unlock function of the per-guild writer lock.
func (r *Registry) lock(id int64) func() {
	r.locksMu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	r.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// fill caches a snapshot loaded from the store unless the guild was put or
// evicted after gen was read. It returns the entry callers should use.
func (r *Registry) fill(loaded *Guild, gen uint64) *Guild {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.guilds[loaded.ID]; ok {
		return cur
	}
	if r.gen[loaded.ID] != gen {
		return loaded
	}
	r.putLocked(loaded)
	return loaded
}

// put replaces the snapshot of g and reindexes its roster.
func (r *Registry) put(g *Guild) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.putLocked(g)
}

func (r *Registry) putLocked(g *Guild) {
	r.gen[g.ID]++
	if !g.IsActive {
		r.evictLocked(g.ID)
		return
	}
	if old, ok := r.guilds[g.ID]; ok {
		delete(r.byName, strings.ToLower(old.Name))
		delete(r.byTag, old.Tag)
		for pid := range old.Members {
			if r.memberOf[pid] == g.ID {
				delete(r.memberOf, pid)
			}
		}
	}
	r.guilds[g.ID] = g
	r.byName[strings.ToLower(g.Name)] = g.ID
	r.byTag[g.Tag] = g.ID
	for pid := range g.Members {
		r.memberOf[pid] = g.ID
	}
}

// evict removes a guild so the next Get reloads it.
func (r *Registry) evict(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked(id)
}

func (r *Registry) evictLocked(id int64) {
	r.gen[id]++
	old, ok := r.guilds[id]
	if !ok {
		return
	}
	delete(r.guilds, id)
	delete(r.byName, strings.ToLower(old.Name))
	delete(r.byTag, old.Tag)
	for pid := range old.Members {
		if r.memberOf[pid] == id {
			delete(r.memberOf, pid)
		}
	}
}
