package repository

// ChangeKind mirrors the remote store's per-child change notifications.
type ChangeKind int

const (
	ChangeAdded ChangeKind = iota
	ChangeModified
	ChangeRemoved
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAdded:
		return "added"
	case ChangeModified:
		return "modified"
	case ChangeRemoved:
		return "removed"
	}
	return "unknown"
}

type Change[T any] struct {
	Kind ChangeKind
	Item T
}

// Snapshot is one delivery of a watched query: the full current result set
// plus the changes since the previous delivery. The first snapshot of an
// iterator is the backfill and reports every item as added.
type Snapshot[T any] struct {
	Items   []T
	Changes []Change[T]
}

// SnapshotIterator delivers snapshots of a watched query. Next blocks until
// the next snapshot is available and returns iterator.Done after Stop.
// Delivery is at-least-once; consumers must tolerate repeated items.
type SnapshotIterator[T any] interface {
	Next() (*Snapshot[T], error)
	Stop()
}
