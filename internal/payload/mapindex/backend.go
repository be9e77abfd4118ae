package mapindex

// Backend selects which of the two storage representations spec §4.6
// backs a map index with. Exactly one backend is active per open
// instance.
type Backend int

const (
	// BackendKV stores records as value|offset keys in an embedded KV
	// column family (modernc.org/sqlite here, standing in for the
	// collaborator key-value store named in spec §6).
	BackendKV Backend = iota
	// BackendBlock stores one block-compressed record per offset,
	// holding that offset's full value list.
	BackendBlock
)

// backend is the storage-side half of a map index: everything the
// in-memory map/point_to_values pair needs persisted to survive a
// reopen (spec §4.6 "Rebuild from backend").
type backend interface {
	// Put writes offset's current value list, replacing any prior record.
	Put(offset uint32, values []any) error
	// Delete tombstones offset's record.
	Delete(offset uint32) error
	// Load streams all live records, rebuilding the forward map.
	Load() (map[uint32][]any, error)
	Files() []string
	Flush() error
	Close() error
}
