// Package cache persists style embeddings in BadgerDB.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const keyPrefix = "emb/"

// Options configures the embedding cache.
type Options struct {
	// Dir holds the badger files. Ignored when InMemory is set.
	Dir string
	// InMemory keeps everything in RAM; entries are lost on exit.
	InMemory bool
	// TTL expires entries after the given age. Zero keeps them forever.
	TTL    time.Duration
	Logger *slog.Logger
}

// Embeddings is a badger-backed embedding store. Safe for concurrent use.
type Embeddings struct {
	db  *badger.DB
	ttl time.Duration
}

type entry struct {
	Dimension int       `msgpack:"dimension"`
	Vector    []float32 `msgpack:"vector"`
	CreatedAt int64     `msgpack:"created_at"`
}

// Open opens (or creates) the cache.
func Open(opts Options) (*Embeddings, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("cache: directory is required for on-disk mode")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(slogAdapter{logger.With(slog.String("component", "badger"))})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache: %w", err)
	}
	return &Embeddings{db: db, ttl: opts.TTL}, nil
}

// Get returns the vector stored under key.
func (c *Embeddings) Get(_ context.Context, key string) ([]float32, bool, error) {
	var raw []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}

	var e entry
	if err := msgpack.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	if len(e.Vector) != e.Dimension {
		return nil, false, fmt.Errorf("cache entry %s: %d values for dimension %d", key, len(e.Vector), e.Dimension)
	}
	return e.Vector, true, nil
}

// Put stores vec under key.
func (c *Embeddings) Put(_ context.Context, key string, vec []float32) error {
	raw, err := msgpack.Marshal(&entry{
		Dimension: len(vec),
		Vector:    vec,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(keyPrefix+key), raw)
		if c.ttl > 0 {
			e = e.WithTTL(c.ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Len counts live entries.
func (c *Embeddings) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Close flushes and closes the database.
func (c *Embeddings) Close() error {
	return c.db.Close()
}

// slogAdapter routes badger's printf-style logger to slog. Badger's info
// chatter is demoted to debug.
type slogAdapter struct {
	l *slog.Logger
}

func (a slogAdapter) Errorf(format string, args ...any) {
	a.l.Error(clean(format, args))
}

func (a slogAdapter) Warningf(format string, args ...any) {
	a.l.Warn(clean(format, args))
}

func (a slogAdapter) Infof(format string, args ...any) {
	a.l.Debug(clean(format, args))
}

func (a slogAdapter) Debugf(format string, args ...any) {
	a.l.Debug(clean(format, args))
}

func clean(format string, args []any) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
