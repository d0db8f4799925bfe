package auth

import (
	"context"
	"sync"
)

// MemoryDocumentStore is an in process DocumentStore, used in tests and for
// running without a database
type MemoryDocumentStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]Document
	watchers    *watcherSet
}

var _ DocumentStore = (*MemoryDocumentStore)(nil)
var _ DocumentWatcher = (*MemoryDocumentStore)(nil)
var _ DocumentLister = (*MemoryDocumentStore)(nil)

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		collections: make(map[string]map[string]Document),
		watchers:    newWatcherSet(),
	}
}

func (s *MemoryDocumentStore) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, withMetadata(ErrDocumentNotFound, map[string]any{
			"collection": collection,
			"id":         id,
		})
	}
	return copyDocument(doc), nil
}

func (s *MemoryDocumentStore) SetDocument(ctx context.Context, collection, id string, data Document, opts ...SetOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	options := resolveSetOptions(opts)

	s.mu.Lock()
	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]Document)
	}

	body := copyDocument(data)
	if body == nil {
		body = Document{}
	}
	if existing, ok := s.collections[collection][id]; ok && options.Merge {
		body = mergeDocuments(existing, data)
	}
	s.collections[collection][id] = body
	snapshot := copyDocument(body)
	s.mu.Unlock()

	s.watchers.notify(collection, id, snapshot, true)
	return nil
}

func (s *MemoryDocumentStore) DeleteDocument(ctx context.Context, collection, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.collections[collection], id)
	s.mu.Unlock()

	s.watchers.notify(collection, id, nil, false)
	return nil
}

func (s *MemoryDocumentStore) ListDocuments(ctx context.Context, collection string) (map[string]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Document, len(s.collections[collection]))
	for id, doc := range s.collections[collection] {
		out[id] = copyDocument(doc)
	}
	return out, nil
}

func (s *MemoryDocumentStore) WatchDocument(collection, id string, fn DocumentListener) func() {
	return s.watchers.add(collection, id, fn)
}
