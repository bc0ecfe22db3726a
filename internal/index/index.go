package index

// Catalog is the persistent store of parsed notes.
// Consumers should depend on this interface rather than the concrete *DB type.
type Catalog interface {
	UpsertNote(rec NoteRecord) error
	DeleteNote(path string) error
	GetChecksum(path string) (string, error)
	GetNote(path string) (*NoteRecord, error)
	AllNotes() ([]NoteRecord, error)
	AllPaths() (map[string]struct{}, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

var _ Catalog = (*DB)(nil)
