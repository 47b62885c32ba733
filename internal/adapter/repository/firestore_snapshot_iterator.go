package repository

import (
	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"tradeup/internal/domain/repository"
	"tradeup/pkg/errors"
)

// firestoreSnapshotIterator adapts a watched Firestore query to the generic
// snapshot contract. Stream errors are returned unmapped so the caller can
// tell a dropped stream from a permanent failure.
type firestoreSnapshotIterator[T any] struct {
	it     *firestore.QuerySnapshotIterator
	decode func(*firestore.DocumentSnapshot) (T, error)
}

func newFirestoreSnapshotIterator[T any](it *firestore.QuerySnapshotIterator, decode func(*firestore.DocumentSnapshot) (T, error)) *firestoreSnapshotIterator[T] {
	return &firestoreSnapshotIterator[T]{it: it, decode: decode}
}

func (i *firestoreSnapshotIterator[T]) Next() (*repository.Snapshot[T], error) {
	qs, err := i.it.Next()
	if err != nil {
		return nil, err
	}

	docs, err := qs.Documents.GetAll()
	if err != nil {
		return nil, err
	}
	snap := &repository.Snapshot[T]{Items: make([]T, 0, len(docs))}
	for _, doc := range docs {
		item, err := i.decode(doc)
		if err != nil {
			return nil, err
		}
		snap.Items = append(snap.Items, item)
	}

	for _, ch := range qs.Changes {
		item, err := i.decode(ch.Doc)
		if err != nil {
			return nil, err
		}
		kind := repository.ChangeModified
		switch ch.Kind {
		case firestore.DocumentAdded:
			kind = repository.ChangeAdded
		case firestore.DocumentRemoved:
			kind = repository.ChangeRemoved
		}
		snap.Changes = append(snap.Changes, repository.Change[T]{Kind: kind, Item: item})
	}
	return snap, nil
}

func (i *firestoreSnapshotIterator[T]) Stop() {
	i.it.Stop()
}

// storeError maps a Firestore failure for op. Missing documents become
// NOT_FOUND for resource; everything else goes through the remote mapping.
func storeError(resource, op string, err error) error {
	if status.Code(err) == codes.NotFound {
		return errors.NotFound(resource, err)
	}
	return errors.FromRemote(op, err)
}

func isAlreadyExists(err error) bool {
	return status.Code(err) == codes.AlreadyExists
}
