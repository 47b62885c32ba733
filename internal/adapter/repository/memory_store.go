package repository

import (
	"context"
	"reflect"
	"sort"
	"sync"

	"google.golang.org/api/iterator"

	"tradeup/internal/domain/entity"
	"tradeup/internal/domain/repository"
)

// MemoryStore is a process-local stand-in for the remote store. It keeps the
// same contracts as the Firestore adapters, including watched queries with
// per-child changes, and supports fault injection for tests.
type MemoryStore struct {
	mu sync.Mutex

	conversations map[string]*entity.Conversation
	messages      map[string]*entity.Message
	offers        map[string]*entity.Offer
	blocks        map[string]map[string]*entity.BlockRelation
	hidden        map[string]map[string]*entity.HiddenMessage
	watermarks    map[string]*entity.Watermark
	products      map[string]*entity.Product
	users         map[string]*entity.User
	notified      map[string]bool

	nextWatcher int
	watchers    map[int]*watchHandle

	faults map[string][]error
	calls  map[string]int
}

type watchHandle struct {
	signal chan struct{}
	fault  chan error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*entity.Conversation),
		messages:      make(map[string]*entity.Message),
		offers:        make(map[string]*entity.Offer),
		blocks:        make(map[string]map[string]*entity.BlockRelation),
		hidden:        make(map[string]map[string]*entity.HiddenMessage),
		watermarks:    make(map[string]*entity.Watermark),
		products:      make(map[string]*entity.Product),
		users:         make(map[string]*entity.User),
		notified:      make(map[string]bool),
		watchers:      make(map[int]*watchHandle),
		faults:        make(map[string][]error),
		calls:         make(map[string]int),
	}
}

// FailNext makes the next call of op return err. Calls queue up in order.
func (s *MemoryStore) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = append(s.faults[op], err)
}

// Calls reports how many times op was invoked.
func (s *MemoryStore) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// BreakWatches fails every live watch with err, as a dropped stream would.
func (s *MemoryStore) BreakWatches(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, h := range s.watchers {
		select {
		case h.fault <- err:
		default:
		}
	}
}

// ActiveWatches reports how many watched queries are open.
func (s *MemoryStore) ActiveWatches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watchers)
}

// enter records the call and pops an injected fault. Callers hold s.mu.
func (s *MemoryStore) enter(op string) error {
	s.calls[op]++
	if q := s.faults[op]; len(q) > 0 {
		err := q[0]
		s.faults[op] = q[1:]
		return err
	}
	return nil
}

// changed wakes every watcher. Callers hold s.mu.
func (s *MemoryStore) changed() {
	for _, h := range s.watchers {
		select {
		case h.signal <- struct{}{}:
		default:
		}
	}
}

func (s *MemoryStore) register() (int, *watchHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextWatcher++
	h := &watchHandle{signal: make(chan struct{}, 1), fault: make(chan error, 1)}
	s.watchers[s.nextWatcher] = h
	return s.nextWatcher, h
}

func (s *MemoryStore) unregister(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.watchers, id)
}

type memoryIterator[T any] struct {
	ctx     context.Context
	store   *MemoryStore
	id      int
	handle  *watchHandle
	query   func() []T
	key     func(T) string
	prev    map[string]T
	started bool
	err     error

	stopOnce sync.Once
	stopped  chan struct{}
}

func newMemoryIterator[T any](ctx context.Context, s *MemoryStore, query func() []T, key func(T) string) *memoryIterator[T] {
	id, h := s.register()
	return &memoryIterator[T]{
		ctx:     ctx,
		store:   s,
		id:      id,
		handle:  h,
		query:   query,
		key:     key,
		stopped: make(chan struct{}),
	}
}

func (it *memoryIterator[T]) Next() (*repository.Snapshot[T], error) {
	if it.err != nil {
		return nil, it.err
	}
	select {
	case <-it.stopped:
		return nil, iterator.Done
	default:
	}

	if !it.started {
		it.started = true
		return it.diff(), nil
	}

	for {
		select {
		case <-it.stopped:
			return nil, iterator.Done
		case <-it.ctx.Done():
			it.err = it.ctx.Err()
			return nil, it.err
		case err := <-it.handle.fault:
			it.err = err
			return nil, err
		case <-it.handle.signal:
		}
		if snap := it.diff(); len(snap.Changes) > 0 {
			return snap, nil
		}
	}
}

func (it *memoryIterator[T]) diff() *repository.Snapshot[T] {
	it.store.mu.Lock()
	items := it.query()
	it.store.mu.Unlock()

	sort.Slice(items, func(i, j int) bool { return it.key(items[i]) < it.key(items[j]) })

	current := make(map[string]T, len(items))
	snap := &repository.Snapshot[T]{Items: items}
	for _, item := range items {
		k := it.key(item)
		current[k] = item
		old, ok := it.prev[k]
		switch {
		case !ok:
			snap.Changes = append(snap.Changes, repository.Change[T]{Kind: repository.ChangeAdded, Item: item})
		case !reflect.DeepEqual(old, item):
			snap.Changes = append(snap.Changes, repository.Change[T]{Kind: repository.ChangeModified, Item: item})
		}
	}
	for k, old := range it.prev {
		if _, ok := current[k]; !ok {
			snap.Changes = append(snap.Changes, repository.Change[T]{Kind: repository.ChangeRemoved, Item: old})
		}
	}
	it.prev = current
	return snap
}

func (it *memoryIterator[T]) Stop() {
	it.stopOnce.Do(func() {
		close(it.stopped)
		it.store.unregister(it.id)
	})
}

func cloneConversation(c *entity.Conversation) *entity.Conversation {
	out := *c
	out.Participants = append([]string(nil), c.Participants...)
	if c.BlockedUsers != nil {
		out.BlockedUsers = make(map[string]bool, len(c.BlockedUsers))
		for k, v := range c.BlockedUsers {
			out.BlockedUsers[k] = v
		}
	}
	if c.ReportedAt != nil {
		t := *c.ReportedAt
		out.ReportedAt = &t
	}
	return &out
}
