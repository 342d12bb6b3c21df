package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

const defaultCacheTTL = 5 * time.Minute

// CachedStore serves default reads from a local badger cache in front of an
// authoritative Store. FromServer reads, queries and commits always reach the
// underlying store; commits evict every path they touch.
type CachedStore struct {
	next Store
	db   *badger.DB
	ttl  time.Duration

	// mu orders cache fills against evictions. reads holds a stamp per path
	// while a fill is in flight; evictions bump its generation.
	mu    sync.Mutex
	reads map[string]*readStamp
}

type readStamp struct {
	readers int
	gen     uint64
}

type cacheEntry struct {
	Data       map[string]any `json:"data"`
	UpdateTime time.Time      `json:"update_time"`
}

// OpenCache opens an in-memory badger instance for use by NewCachedStore.
func OpenCache() (*badger.DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	return db, nil
}

// NewCachedStore wraps next. A zero ttl uses five minutes.
func NewCachedStore(next Store, db *badger.DB, ttl time.Duration) *CachedStore {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &CachedStore{next: next, db: db, ttl: ttl, reads: make(map[string]*readStamp)}
}

func (s *CachedStore) Get(ctx context.Context, path string, opts ...GetOption) (*Snapshot, error) {
	o := resolveGetOptions(opts)
	if !o.fromServer {
		if snap, ok := s.lookup(path); ok {
			return snap, nil
		}
	}

	stamp, gen := s.beginRead(path)
	snap, err := s.next.Get(ctx, path, opts...)
	if err != nil {
		s.endRead(path, stamp)
		if errors.Is(err, ErrNotFound) {
			s.evict(path)
		}
		return nil, err
	}
	s.fill(path, stamp, gen, snap)
	return snap, nil
}

func (s *CachedStore) beginRead(path string) (*readStamp, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stamp, ok := s.reads[path]
	if !ok {
		stamp = &readStamp{}
		s.reads[path] = stamp
	}
	stamp.readers++
	return stamp, stamp.gen
}

func (s *CachedStore) endRead(path string, stamp *readStamp) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.release(path, stamp)
}

func (s *CachedStore) release(path string, stamp *readStamp) {
	stamp.readers--
	if stamp.readers == 0 {
		delete(s.reads, path)
	}
}

// fill caches snap unless the path was evicted after the read began, in
// which case snap may predate the commit that evicted it.
func (s *CachedStore) fill(path string, stamp *readStamp, gen uint64, snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.release(path, stamp)
	if stamp.gen != gen {
		return
	}
	s.store(snap)
}

func (s *CachedStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	return s.next.Query(ctx, q)
}

func (s *CachedStore) Commit(ctx context.Context, b *Batch) error {
	err := s.next.Commit(ctx, b)
	// A failed commit may still have landed (timeout), so evict either way.
	for _, path := range b.Paths() {
		s.evict(path)
	}
	return err
}

func (s *CachedStore) lookup(path string) (*Snapshot, bool) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			log.Warn().Err(err).Str("path", path).Msg("Cache read failed")
		}
		return nil, false
	}

	var entry cacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Dropping corrupt cache entry")
		s.evict(path)
		return nil, false
	}
	_, _, id, _ := splitPath(path)
	return &Snapshot{Path: path, ID: id, Data: entry.Data, UpdateTime: entry.UpdateTime}, true
}

func (s *CachedStore) store(snap *Snapshot) {
	raw, err := json.Marshal(cacheEntry{Data: snap.Data, UpdateTime: snap.UpdateTime})
	if err != nil {
		return
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry([]byte(snap.Path), raw).WithTTL(s.ttl))
	})
	if err != nil {
		log.Warn().Err(err).Str("path", snap.Path).Msg("Cache write failed")
	}
}

func (s *CachedStore) evict(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stamp, ok := s.reads[path]; ok {
		stamp.gen++
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(path))
	})
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Cache eviction failed")
	}
}
