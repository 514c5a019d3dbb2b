package favorites

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/discord-voice-lab/jukebox/internal/logging"
)

const keyPrefix = "favorites/"

// BadgerStore keeps one key per tenant so a save only rewrites what it
// was handed.
type BadgerStore struct {
	db *badger.DB
}

type BadgerOptions struct {
	// Dir is required unless InMemory is set.
	Dir      string
	InMemory bool
}

func NewBadgerStore(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("favorites: badger dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (b *BadgerStore) Load(_ context.Context) (map[string][]string, error) {
	m := map[string][]string{}
	prefix := []byte(keyPrefix)
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			tenant := strings.TrimPrefix(string(item.Key()), keyPrefix)
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			var titles []string
			if err := json.Unmarshal(val, &titles); err != nil {
				logging.Warnw("favorites: skipping unreadable badger entry", "guild.id", tenant, "err", err)
				continue
			}
			m[tenant] = titles
		}
		return nil
	})
	return m, err
}

// Save writes every tenant in m and deletes tenants that are no longer
// present.
func (b *BadgerStore) Save(_ context.Context, m map[string][]string) error {
	var stale [][]byte
	prefix := []byte(keyPrefix)
	err := b.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			if _, ok := m[strings.TrimPrefix(string(k), keyPrefix)]; !ok {
				stale = append(stale, k)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for tenant, titles := range m {
		val, err := json.Marshal(titles)
		if err != nil {
			return err
		}
		if err := wb.Set([]byte(keyPrefix+tenant), val); err != nil {
			return err
		}
	}
	for _, k := range stale {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's warnings and errors into the bot's logger.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, v ...interface{}) {
	logging.Errorw("badger", "msg", strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (badgerLogger) Warningf(f string, v ...interface{}) {
	logging.Warnw("badger", "msg", strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
