package facts

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Snapshot is an immutable, consistent view of the whole vault.
type Snapshot struct {
	byPath map[string]NoteID
	byName map[NoteName]NoteID
	views  map[NoteID]*NoteView
}

var _ Facts = (*Snapshot)(nil)

func (s *Snapshot) ResolveByPath(path string) (NoteID, bool) {
	id, ok := s.byPath[path]
	return id, ok
}

func (s *Snapshot) ResolveByName(name NoteName) (NoteID, bool) {
	id, ok := s.byName[name]
	return id, ok
}

func (s *Snapshot) NoteView(id NoteID) (*NoteView, bool) {
	v, ok := s.views[id]
	return v, ok
}

// Len returns the number of notes in the snapshot.
func (s *Snapshot) Len() int { return len(s.views) }

// Paths returns every stored path in lexical order.
func (s *Snapshot) Paths() []string {
	paths := make([]string, 0, len(s.byPath))
	for p := range s.byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Views returns every view ordered by path.
func (s *Snapshot) Views() []*NoteView {
	out := make([]*NoteView, 0, len(s.views))
	for _, p := range s.Paths() {
		out = append(out, s.views[s.byPath[p]])
	}
	return out
}

// Store is an in-memory Facts implementation. Writers publish a new
// Snapshot on every change; readers never block.
type Store struct {
	mu     sync.Mutex
	nextID NoteID
	ids    map[string]NoteID
	cur    atomic.Pointer[Snapshot]
}

// NewStore returns an empty Store.
func NewStore() *Store {
	s := &Store{ids: make(map[string]NoteID)}
	s.cur.Store(&Snapshot{
		byPath: map[string]NoteID{},
		byName: map[NoteName]NoteID{},
		views:  map[NoteID]*NoteView{},
	})
	return s
}

// Snapshot returns the current snapshot.
func (s *Store) Snapshot() *Snapshot { return s.cur.Load() }

// NoteInput is the parsed content of one note revision.
type NoteInput struct {
	Path      string
	Name      NoteName
	Revision  Revision
	Text      string
	Structure *Structure
}

// Put stores a revision of a note, replacing any previous one at the same path.
func (s *Store) Put(in NoteInput) *NoteView {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.ids[in.Path]
	if !ok {
		id = s.nextID
		s.nextID++
		s.ids[in.Path] = id
	}
	st := in.Structure
	if st == nil {
		st = NewStructure(nil, nil)
	}
	view := &NoteView{
		ID:        id,
		File:      NoteFile{Path: in.Path},
		Name:      in.Name,
		Revision:  in.Revision,
		Text:      NewLineIndex(in.Text),
		Structure: st,
	}

	old := s.cur.Load()
	next := old.clone()
	next.byPath[in.Path] = id
	next.views[id] = view
	next.reindexNames()
	s.cur.Store(next)
	return view
}

// Remove drops the note at path. It reports whether the note existed.
func (s *Store) Remove(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.cur.Load()
	id, ok := old.byPath[path]
	if !ok {
		return false
	}
	next := old.clone()
	delete(next.byPath, path)
	delete(next.views, id)
	next.reindexNames()
	s.cur.Store(next)
	return true
}

func (s *Snapshot) clone() *Snapshot {
	next := &Snapshot{
		byPath: make(map[string]NoteID, len(s.byPath)+1),
		views:  make(map[NoteID]*NoteView, len(s.views)+1),
	}
	for k, v := range s.byPath {
		next.byPath[k] = v
	}
	for k, v := range s.views {
		next.views[k] = v
	}
	return next
}

// reindexNames rebuilds the name table. When several notes share a name
// the one with the smallest path wins.
func (s *Snapshot) reindexNames() {
	s.byName = make(map[NoteName]NoteID, len(s.views))
	owner := make(map[NoteName]string, len(s.views))
	for path, id := range s.byPath {
		name := s.views[id].Name
		if p, taken := owner[name]; taken && p < path {
			continue
		}
		owner[name] = path
		s.byName[name] = id
	}
}
