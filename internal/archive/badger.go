package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/kylegalloway/cilearn/internal/metrics"
)

// Key layout:
//
//	run/<id>/meta          RunMeta
//	run/<id>/row/<00000>   []float64
//	run/<id>/summary       summaryRecord
const keyPrefix = "run/"

type summaryRecord struct {
	Summary    metrics.Summary `json:"summary"`
	FinishedAt time.Time       `json:"finished_at"`
}

// BadgerProvider implements Provider on an embedded BadgerDB.
type BadgerProvider struct {
	db *badger.DB
}

// Options configures OpenBadger.
type Options struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path     string
	InMemory bool
	Logger   *zap.Logger
}

// OpenBadger opens or creates the archive database.
func OpenBadger(opts Options) (*BadgerProvider, error) {
	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if opts.Path == "" {
			return nil, errors.New("archive path is required")
		}
		if err := os.MkdirAll(opts.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create archive dir %s: %w", opts.Path, err)
		}
		bopts = badger.DefaultOptions(opts.Path)
	}
	bopts = bopts.WithNumVersionsToKeep(1)
	if opts.Logger != nil {
		bopts = bopts.WithLogger(&badgerLogger{s: opts.Logger.Named("badger").Sugar()})
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &BadgerProvider{db: db}, nil
}

func metaKey(id string) []byte    { return []byte(keyPrefix + id + "/meta") }
func summaryKey(id string) []byte { return []byte(keyPrefix + id + "/summary") }
func rowPrefix(id string) []byte  { return []byte(keyPrefix + id + "/row/") }
func rowKey(id string, row int) []byte {
	return []byte(fmt.Sprintf("%s%s/row/%05d", keyPrefix, id, row))
}

func (p *BadgerProvider) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return p.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (p *BadgerProvider) Begin(meta RunMeta) error {
	if meta.ID == "" {
		return errors.New("run id is required")
	}
	if err := p.put(metaKey(meta.ID), meta); err != nil {
		return fmt.Errorf("archive run %s: %w", meta.ID, err)
	}
	return nil
}

func (p *BadgerProvider) SaveRow(runID string, row int, values []float64) error {
	if err := p.put(rowKey(runID, row), values); err != nil {
		return fmt.Errorf("archive row %d of run %s: %w", row, runID, err)
	}
	return nil
}

func (p *BadgerProvider) SaveSummary(runID string, summary metrics.Summary, finishedAt time.Time) error {
	rec := summaryRecord{Summary: summary, FinishedAt: finishedAt}
	if err := p.put(summaryKey(runID), rec); err != nil {
		return fmt.Errorf("archive summary of run %s: %w", runID, err)
	}
	return nil
}

func (p *BadgerProvider) Load(runID string) (Run, error) {
	var run Run
	err := p.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &run.Meta) }); err != nil {
			return fmt.Errorf("decode meta: %w", err)
		}

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := rowPrefix(runID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var row []float64
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &row) }); err != nil {
				return fmt.Errorf("decode row %s: %w", it.Item().Key(), err)
			}
			run.Rows = append(run.Rows, row)
		}

		item, err = txn.Get(summaryKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var rec summaryRecord
		if err := item.Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
			return fmt.Errorf("decode summary: %w", err)
		}
		run.Summary = &rec.Summary
		run.FinishedAt = rec.FinishedAt
		return nil
	})
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

// List returns every archived run, most recent first.
func (p *BadgerProvider) List() ([]RunMeta, error) {
	var metas []RunMeta
	err := p.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if !strings.HasSuffix(string(it.Item().Key()), "/meta") {
				continue
			}
			var m RunMeta
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &m) }); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			metas = append(metas, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(metas, func(i, j int) bool {
		return metas[i].StartedAt.After(metas[j].StartedAt)
	})
	return metas, nil
}

func (p *BadgerProvider) Close() error {
	return p.db.Close()
}

// badgerLogger adapts zap to BadgerDB's Logger interface.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.s.Errorf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.s.Warnf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.s.Debugf(strings.TrimSpace(format), args...)
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.s.Debugf(strings.TrimSpace(format), args...)
}
