package diag

import (
	"hash/fnv"
	"maps"
	"sort"
	"sync"

	"github.com/starford/ansuz/internal/facts"
)

const shardCount = 32

type shard struct {
	mu   sync.RWMutex
	sets map[facts.NoteFile]Set
}

// Collection keeps the latest diagnostic set per file.
// Each file is guarded by one of a fixed number of lock shards.
type Collection struct {
	shards [shardCount]*shard
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	c := &Collection{}
	for i := range c.shards {
		c.shards[i] = &shard{sets: make(map[facts.NoteFile]Set)}
	}
	return c
}

func (c *Collection) shardFor(file facts.NoteFile) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(file.Path))
	return c.shards[h.Sum32()%shardCount]
}

// Replace stores set for file and reports whether it differs from the
// previously stored set. A file seen for the first time counts as changed.
func (c *Collection) Replace(file facts.NoteFile, set Set) bool {
	if set == nil {
		set = NewSet()
	}
	sh := c.shardFor(file)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	prev, ok := sh.sets[file]
	sh.sets[file] = set
	return !ok || !prev.Equal(set)
}

// Get returns a copy of the stored set for file, or an empty set.
func (c *Collection) Get(file facts.NoteFile) Set {
	sh := c.shardFor(file)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	if s, ok := sh.sets[file]; ok {
		return maps.Clone(s)
	}
	return NewSet()
}

// Has reports whether a set was ever stored for file.
func (c *Collection) Has(file facts.NoteFile) bool {
	sh := c.shardFor(file)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	_, ok := sh.sets[file]
	return ok
}

// Remove forgets file.
func (c *Collection) Remove(file facts.NoteFile) {
	sh := c.shardFor(file)
	sh.mu.Lock()
	delete(sh.sets, file)
	sh.mu.Unlock()
}

// Files returns every file with a stored set, ordered by path.
func (c *Collection) Files() []facts.NoteFile {
	var out []facts.NoteFile
	for _, sh := range c.shards {
		sh.mu.RLock()
		for f := range sh.sets {
			out = append(out, f)
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
