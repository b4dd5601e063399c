package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ent0n29/interview-agent/internal/usage"
)

// BadgerStore keeps transcripts in an embedded BadgerDB. Turns live under
// turn/<job>/<created_at nanos>/<id> so a prefix scan yields them in order;
// usage summaries live under usage/<job>.
type BadgerStore struct {
	db *badger.DB
}

// BadgerOptions configures NewBadgerStore. Dir is required unless InMemory
// is set.
type BadgerOptions struct {
	Dir      string
	InMemory bool
	Logger   *slog.Logger
}

func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("transcript: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dbOpts = dbOpts.WithLogger(badgerLogger{logger: logger.With(slog.String("component", "badger"))})
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger transcript store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

type storedUsage struct {
	Room    string
	Summary usage.Summary
}

func turnPrefix(jobID string) []byte {
	return []byte("turn/" + jobID + "/")
}

func usageKey(jobID string) []byte {
	return []byte("usage/" + jobID)
}

func (s *BadgerStore) SaveTurn(_ context.Context, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	data, err := msgpack.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	key := append(turnPrefix(turn.JobID), fmt.Sprintf("%020d/%s", turn.CreatedAt.UnixNano(), turn.ID)...)
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *BadgerStore) Turns(_ context.Context, jobID string) ([]Turn, error) {
	prefix := turnPrefix(jobID)
	var out []Turn
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var turn Turn
			if err := msgpack.Unmarshal(val, &turn); err != nil {
				return fmt.Errorf("decode turn: %w", err)
			}
			out = append(out, turn)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerStore) SaveUsage(_ context.Context, jobID, room string, summary usage.Summary) error {
	data, err := msgpack.Marshal(storedUsage{Room: room, Summary: summary})
	if err != nil {
		return fmt.Errorf("encode usage: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(usageKey(jobID), data)
	})
}

func (s *BadgerStore) Usage(_ context.Context, jobID string) (usage.Summary, error) {
	var rec storedUsage
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(usageKey(jobID))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return msgpack.Unmarshal(val, &rec)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return usage.Summary{}, ErrNoUsage
	}
	if err != nil {
		return usage.Summary{}, err
	}
	return rec.Summary, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerLogger routes badger's printf logging into slog, dropping info and
// debug chatter.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...))
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...))
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
