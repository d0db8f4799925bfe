package auth

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/uptrace/bun"
)

type documentRecord struct {
	bun.BaseModel `bun:"table:documents,alias:doc"`

	Collection string         `bun:"collection,pk"`
	ID         string         `bun:"id,pk"`
	Body       map[string]any `bun:"body,type:jsonb"`
	UpdatedAt  time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// BunDocumentStore keeps documents as JSON bodies in a single SQL table
type BunDocumentStore struct {
	db       *bun.DB
	now      func() time.Time
	watchers *watcherSet
	logger   Logger
	provider LoggerProvider
}

var _ DocumentStore = (*BunDocumentStore)(nil)
var _ DocumentWatcher = (*BunDocumentStore)(nil)
var _ DocumentLister = (*BunDocumentStore)(nil)

// NewBunDocumentStore returns a store backed by db
func NewBunDocumentStore(db *bun.DB) *BunDocumentStore {
	provider, logger := ResolveLogger("auth.documents", nil, nil)
	return &BunDocumentStore{
		db:       db,
		now:      time.Now,
		watchers: newWatcherSet(),
		logger:   logger,
		provider: provider,
	}
}

func (s *BunDocumentStore) WithLogger(l Logger) *BunDocumentStore {
	s.provider, s.logger = ResolveLogger("auth.documents", s.provider, l)
	return s
}

// CreateSchema creates the documents table if needed
func (s *BunDocumentStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.NewCreateTable().
		Model((*documentRecord)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to create documents table")
	}
	return nil
}

func (s *BunDocumentStore) get(ctx context.Context, db bun.IDB, collection, id string) (*documentRecord, error) {
	record := &documentRecord{}
	err := db.NewSelect().
		Model(record).
		Where("?TableAlias.collection = ? AND ?TableAlias.id = ?", collection, id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, withMetadata(ErrDocumentNotFound, map[string]any{
				"collection": collection,
				"id":         id,
			})
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to read document")
	}
	return record, nil
}

// GetDocument returns the document or ErrDocumentNotFound
func (s *BunDocumentStore) GetDocument(ctx context.Context, collection, id string) (Document, error) {
	record, err := s.get(ctx, s.db, collection, id)
	if err != nil {
		return nil, err
	}
	if record.Body == nil {
		return Document{}, nil
	}
	return record.Body, nil
}

// SetDocument writes data. With Merge only the given fields change and
// nested maps are merged.
func (s *BunDocumentStore) SetDocument(ctx context.Context, collection, id string, data Document, opts ...SetOption) error {
	options := resolveSetOptions(opts)

	var written Document
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		body := copyDocument(data)
		if options.Merge {
			existing, err := s.get(ctx, tx, collection, id)
			if err != nil && !HasTextCode(err, TextCodeDocumentNotFound) {
				return err
			}
			if existing != nil {
				body = mergeDocuments(existing.Body, data)
			}
		}

		record := &documentRecord{
			Collection: collection,
			ID:         id,
			Body:       body,
			UpdatedAt:  s.now(),
		}

		_, err := tx.NewInsert().
			Model(record).
			On("CONFLICT (collection, id) DO UPDATE").
			Set("body = EXCLUDED.body").
			Set("updated_at = EXCLUDED.updated_at").
			Exec(ctx)
		if err != nil {
			return errors.Wrap(err, errors.CategoryInternal, "failed to write document")
		}

		written = body
		return nil
	})
	if err != nil {
		return err
	}

	s.watchers.notify(collection, id, written, true)
	return nil
}

// DeleteDocument removes the document. Deleting an absent document is not
// an error.
func (s *BunDocumentStore) DeleteDocument(ctx context.Context, collection, id string) error {
	_, err := s.db.NewDelete().
		Model((*documentRecord)(nil)).
		Where("collection = ? AND id = ?", collection, id).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to delete document")
	}

	s.watchers.notify(collection, id, nil, false)
	return nil
}

// ListDocuments returns every document in collection keyed by id
func (s *BunDocumentStore) ListDocuments(ctx context.Context, collection string) (map[string]Document, error) {
	var records []documentRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("collection = ?", collection).
		Order("id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to list documents")
	}

	out := make(map[string]Document, len(records))
	for _, r := range records {
		if r.Body == nil {
			r.Body = Document{}
		}
		out[r.ID] = r.Body
	}
	return out, nil
}

// WatchDocument calls fn after every committed change to the document
func (s *BunDocumentStore) WatchDocument(collection, id string, fn DocumentListener) func() {
	return s.watchers.add(collection, id, fn)
}

type watcherSet struct {
	mu     sync.Mutex
	nextID int
	byKey  map[string]map[int]DocumentListener
}

func newWatcherSet() *watcherSet {
	return &watcherSet{byKey: make(map[string]map[int]DocumentListener)}
}

func watchKey(collection, id string) string {
	return collection + "/" + id
}

func (w *watcherSet) add(collection, id string, fn DocumentListener) func() {
	if fn == nil {
		return func() {}
	}

	key := watchKey(collection, id)

	w.mu.Lock()
	n := w.nextID
	w.nextID++
	if w.byKey[key] == nil {
		w.byKey[key] = make(map[int]DocumentListener)
	}
	w.byKey[key][n] = fn
	w.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			defer w.mu.Unlock()
			delete(w.byKey[key], n)
			if len(w.byKey[key]) == 0 {
				delete(w.byKey, key)
			}
		})
	}
}

// notify runs listeners outside the lock, each with its own copy
func (w *watcherSet) notify(collection, id string, doc Document, exists bool) {
	key := watchKey(collection, id)

	w.mu.Lock()
	listeners := make([]DocumentListener, 0, len(w.byKey[key]))
	for _, fn := range w.byKey[key] {
		listeners = append(listeners, fn)
	}
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(copyDocument(doc), exists)
	}
}

// mergeDocuments returns base with patch applied. Nested maps merge
// recursively, every other value replaces.
func mergeDocuments(base, patch Document) Document {
	out := copyDocument(base)
	if out == nil {
		out = Document{}
	}
	for k, v := range patch {
		pv, ok := v.(map[string]any)
		bv, bok := out[k].(map[string]any)
		if ok && bok {
			out[k] = mergeDocuments(bv, pv)
			continue
		}
		out[k] = copyValue(v)
	}
	return out
}

func copyDocument(doc Document) Document {
	if doc == nil {
		return nil
	}
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyDocument(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = copyValue(item)
		}
		return out
	default:
		return v
	}
}
