package store

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/dgraph-io/badger/v3/options"

	"github.com/StrathCole/flux-aggregator/pkg/cbor"
	"github.com/StrathCole/flux-aggregator/pkg/flux"
	"github.com/StrathCole/flux-aggregator/pkg/logging"
)

const (
	gcInterval     = 5 * time.Minute
	gcDiscardRatio = 0.5
)

// DB is a BadgerDB database holding the state of any number of feeds.
type DB struct {
	logger *logging.Logger

	db *badger.DB
	gc *gcWorker
}

// OpenBadger opens or creates the database at path.
func OpenBadger(path string, logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	logger = logger.With("path", path)

	opts := badger.DefaultOptions(path)
	opts = opts.WithLogger(newLogAdapter(logger))
	opts = opts.WithSyncWrites(true)
	opts = opts.WithCompression(options.None)
	return open(opts, logger)
}

// OpenBadgerInMemory opens a database that lives only in memory.
func OpenBadgerInMemory(logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts = opts.WithLogger(newLogAdapter(logger))
	return open(opts, logger)
}

func open(opts badger.Options, logger *logging.Logger) (*DB, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	d := &DB{
		logger: logger,
		db:     db,
	}
	if !opts.InMemory {
		d.gc = newGCWorker(logger, db)
	}

	if err = d.ensureMetadata(); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) ensureMetadata() error {
	return d.db.Update(func(tx *badger.Txn) error {
		item, err := tx.Get(metadataKey())
		switch {
		case err == nil:
		case errors.Is(err, badger.ErrKeyNotFound):
			return tx.Set(metadataKey(), cbor.Marshal(dbMetadata{Version: dbVersion}))
		default:
			return err
		}

		var meta dbMetadata
		if err = item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &meta)
		}); err != nil {
			return err
		}
		if meta.Version != dbVersion {
			return fmt.Errorf("store: unsupported database version (expected: %d got: %d)",
				dbVersion,
				meta.Version,
			)
		}
		return nil
	})
}

// Close stops the GC worker and closes the database.
func (d *DB) Close() {
	if d.gc != nil {
		d.gc.Close()
	}
	if err := d.db.Close(); err != nil {
		d.logger.Error("failed to close database", "err", err)
	}
}

// Feed returns the backend of one feed.
func (d *DB) Feed(name string) *Feed {
	return &Feed{db: d, name: name}
}

// Feed is the state of one feed inside a DB. It implements flux.Backend and persists
// oracle statuses.
type Feed struct {
	db   *DB
	name string
}

// Load implements flux.Backend.
func (f *Feed) Load() (*flux.Snapshot, error) {
	snap := flux.NewSnapshot()
	err := f.db.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(stateKey(f.name))
		switch {
		case err == nil:
			var rec stateRecord
			if err = item.Value(func(val []byte) error {
				return cbor.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			snap.ReportingRoundID = rec.ReportingRoundID
			if rec.HasLastValueOut {
				v := natFromBytes(rec.LastValueOut)
				snap.LastValueOut = &v
			}
		case errors.Is(err, badger.ErrKeyNotFound):
		default:
			return err
		}

		if err = iteratePrefix(tx, feedPrefix(prefixRound, f.name), func(id uint64, val []byte) error {
			var rec roundRecord
			if err := cbor.Unmarshal(val, &rec); err != nil {
				return err
			}
			snap.Rounds[id] = rec.round()
			return nil
		}); err != nil {
			return err
		}

		return iteratePrefix(tx, feedPrefix(prefixDetails, f.name), func(id uint64, val []byte) error {
			var rec detailsRecord
			if err := cbor.Unmarshal(val, &rec); err != nil {
				return err
			}
			snap.Details[id] = rec.details()
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to load feed %s: %w", f.name, err)
	}
	return snap, nil
}

func iteratePrefix(tx *badger.Txn, prefix []byte, fn func(id uint64, val []byte) error) error {
	it := tx.NewIterator(badger.IteratorOptions{Prefix: prefix, PrefetchValues: true})
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		key := item.Key()
		if len(key) != len(prefix)+8 {
			continue
		}
		id := decodeRoundID(len(prefix), key)
		if err := item.Value(func(val []byte) error {
			return fn(id, val)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Commit implements flux.Backend. The change set is applied in a single transaction.
func (f *Feed) Commit(cs *flux.ChangeSet) error {
	return f.db.db.Update(func(tx *badger.Txn) error {
		if cs.ReportingRoundID != nil || cs.LastValueOut != nil {
			rec, err := f.loadState(tx)
			if err != nil {
				return err
			}
			if cs.ReportingRoundID != nil {
				rec.ReportingRoundID = *cs.ReportingRoundID
			}
			if cs.LastValueOut != nil {
				rec.LastValueOut = natBytes(cs.LastValueOut)
				rec.HasLastValueOut = true
			}
			if err = tx.Set(stateKey(f.name), cbor.Marshal(rec)); err != nil {
				return err
			}
		}

		for id, r := range cs.Rounds {
			if err := tx.Set(roundKey(prefixRound, f.name, id), cbor.Marshal(toRoundRecord(r))); err != nil {
				return err
			}
		}
		for id, d := range cs.Details {
			if err := tx.Set(roundKey(prefixDetails, f.name, id), cbor.Marshal(toDetailsRecord(d))); err != nil {
				return err
			}
		}
		for _, id := range cs.DeletedDetails {
			if err := tx.Delete(roundKey(prefixDetails, f.name, id)); err != nil {
				return err
			}
		}
		for _, s := range cs.Statuses {
			if err := tx.Set(statusKey(f.name, s.OracleID), cbor.Marshal(toStatusRecord(s))); err != nil {
				return err
			}
		}
		return nil
	})
}

func (f *Feed) loadState(tx *badger.Txn) (stateRecord, error) {
	var rec stateRecord
	item, err := tx.Get(stateKey(f.name))
	switch {
	case err == nil:
		err = item.Value(func(val []byte) error {
			return cbor.Unmarshal(val, &rec)
		})
		return rec, err
	case errors.Is(err, badger.ErrKeyNotFound):
		return rec, nil
	default:
		return rec, err
	}
}

// LoadStatuses returns all persisted oracle statuses of the feed ordered by oracle id.
func (f *Feed) LoadStatuses() ([]flux.OracleStatus, error) {
	var out []flux.OracleStatus
	err := f.db.db.View(func(tx *badger.Txn) error {
		it := tx.NewIterator(badger.IteratorOptions{
			Prefix:         feedPrefix(prefixStatus, f.name),
			PrefetchValues: true,
		})
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var rec statusRecord
			if err := it.Item().Value(func(val []byte) error {
				return cbor.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec.status())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: failed to load oracle statuses of feed %s: %w", f.name, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OracleID < out[j].OracleID })
	return out, nil
}

// PutStatus persists an oracle status.
func (f *Feed) PutStatus(status flux.OracleStatus) error {
	return f.db.db.Update(func(tx *badger.Txn) error {
		return tx.Set(statusKey(f.name, status.OracleID), cbor.Marshal(toStatusRecord(status)))
	})
}

// DeleteStatus forgets an oracle status.
func (f *Feed) DeleteStatus(oracleID string) error {
	return f.db.db.Update(func(tx *badger.Txn) error {
		return tx.Delete(statusKey(f.name, oracleID))
	})
}

type badgerLogger struct {
	logger *logging.Logger
}

func newLogAdapter(logger *logging.Logger) badger.Logger {
	return &badgerLogger{logger: logger.With("module", "badger")}
}

func (l *badgerLogger) Errorf(format string, a ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, a...)))
}

func (l *badgerLogger) Warningf(format string, a ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, a...)))
}

func (l *badgerLogger) Infof(format string, a ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, a...)))
}

func (l *badgerLogger) Debugf(format string, a ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, a...)))
}

// gcWorker periodically runs value log GC.
type gcWorker struct {
	logger *logging.Logger
	db     *badger.DB

	closeOnce sync.Once
	closeCh   chan struct{}
	closedCh  chan struct{}
}

func newGCWorker(logger *logging.Logger, db *badger.DB) *gcWorker {
	gc := &gcWorker{
		logger:   logger,
		db:       db,
		closeCh:  make(chan struct{}),
		closedCh: make(chan struct{}),
	}
	go gc.worker()
	return gc
}

func (gc *gcWorker) Close() {
	gc.closeOnce.Do(func() {
		close(gc.closeCh)
		<-gc.closedCh
	})
}

func (gc *gcWorker) worker() {
	defer close(gc.closedCh)

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-gc.closeCh:
			return
		case <-ticker.C:
		}

		var err error
		for err == nil {
			err = gc.db.RunValueLogGC(gcDiscardRatio)
		}
		if !errors.Is(err, badger.ErrNoRewrite) {
			gc.logger.Error("failed to GC value log", "err", err)
		}
	}
}
