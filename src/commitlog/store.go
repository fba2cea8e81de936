package commitlog

import "sync"

// Store holds the append-only logs and the committed offsets, keyed by log
// name. Offsets are dense per key, starting at 0.
type Store struct {
	storeLock sync.RWMutex

	logs      map[string][]int64
	committed map[string]int64
}

// NewStore is a factory method that returns an empty Store.
func NewStore() *Store {
	return &Store{
		logs:      make(map[string][]int64),
		committed: make(map[string]int64),
	}
}

// Append adds msg to key's log and returns the offset it landed on. A new
// key starts its log at offset 0.
func (s *Store) Append(key string, msg int64) int64 {
	s.storeLock.Lock()
	defer s.storeLock.Unlock()

	s.logs[key] = append(s.logs[key], msg)

	return int64(len(s.logs[key]) - 1)
}

// ReadFrom returns the [offset, msg] pairs of key's log starting at offset
// from. It returns nil when the key has no log, and an empty slice when the
// log exists but holds nothing at or past from.
func (s *Store) ReadFrom(key string, from int64) [][2]int64 {
	s.storeLock.RLock()
	defer s.storeLock.RUnlock()

	log, ok := s.logs[key]
	if !ok {
		return nil
	}

	if from < 0 {
		from = 0
	}

	out := [][2]int64{}
	for i := from; i < int64(len(log)); i++ {
		out = append(out, [2]int64{i, log[i]})
	}

	return out
}

// Commit records offset as committed for key. Committing a key that has no
// log, or an offset past the end of it, is a store error.
func (s *Store) Commit(key string, offset int64) error {
	return s.CommitAll(map[string]int64{key: offset})
}

// CommitAll records committed offsets for several keys at once, all or
// none: every offset is validated against its log before any is written.
func (s *Store) CommitAll(offsets map[string]int64) error {
	s.storeLock.Lock()
	defer s.storeLock.Unlock()

	for key, offset := range offsets {
		log, ok := s.logs[key]
		if !ok {
			return NewStoreErr(key, KeyNotFound, offset)
		}
		if offset >= int64(len(log)) {
			return NewStoreErr(key, PassedIndex, offset)
		}
	}

	for key, offset := range offsets {
		s.committed[key] = offset
	}

	return nil
}

// Committed returns the committed offset for key and whether one exists.
func (s *Store) Committed(key string) (int64, bool) {
	s.storeLock.RLock()
	defer s.storeLock.RUnlock()

	offset, ok := s.committed[key]
	return offset, ok
}

// Stats returns the number of keyed logs, the total number of entries
// across them, and the number of keys with a committed offset.
func (s *Store) Stats() (keys, entries, committedKeys int) {
	s.storeLock.RLock()
	defer s.storeLock.RUnlock()

	for _, log := range s.logs {
		entries += len(log)
	}

	return len(s.logs), entries, len(s.committed)
}
