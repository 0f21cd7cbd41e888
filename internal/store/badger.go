package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"hedgie-bot-go/internal/models"

	"github.com/dgraph-io/badger/v3"
)

// Badger is the badger-backed implementation of the engine's durable
// store. All reads and writes go through short transactions; the only
// cross-record invariant, the account version guard, is enforced
// inside a single update transaction.
type Badger struct {
	db *badger.DB
}

// Open opens (or creates) the badger database at path. Badger's own
// logger is silenced; errors still surface from the operations.
func Open(path string) (*Badger, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", path, err)
	}
	return &Badger{db: db}, nil
}

// Close closes the underlying database.
func (s *Badger) Close() error {
	return s.db.Close()
}

// --- accounts ---

// GetAccount loads one account by id.
func (s *Badger) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	var account models.Account
	err := s.get(accountKey(id), &account)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// PutAccount conditionally writes an account. expectedVersion must
// match the stored version (0 for a new account); on success the
// stored and in-memory versions are bumped. A mismatch returns
// ErrVersionConflict and writes nothing.
func (s *Badger) PutAccount(ctx context.Context, account *models.Account, expectedVersion int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(accountKey(account.ID))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			if expectedVersion != 0 {
				return fmt.Errorf("account %d expected at version %d but does not exist: %w",
					account.ID, expectedVersion, ErrVersionConflict)
			}
		case err != nil:
			return err
		default:
			var current models.Account
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &current)
			}); err != nil {
				return err
			}
			if current.Version != expectedVersion {
				return fmt.Errorf("account %d is at version %d, caller expected %d: %w",
					account.ID, current.Version, expectedVersion, ErrVersionConflict)
			}
		}

		account.Version = expectedVersion + 1
		data, err := json.Marshal(account)
		if err != nil {
			return err
		}
		return txn.Set(accountKey(account.ID), data)
	})
	if err != nil {
		// Badger detects overlapping transactions itself; report that
		// the same way as a stale version.
		if errors.Is(err, badger.ErrConflict) {
			return fmt.Errorf("account %d: %w", account.ID, ErrVersionConflict)
		}
		return err
	}
	return nil
}

// ScanAccounts returns one page of accounts plus the cursor for the
// next page ("" when exhausted).
func (s *Badger) ScanAccounts(ctx context.Context, cursor string, limit int) ([]models.Account, string, error) {
	var accounts []models.Account
	next, err := s.scanPage([]byte(accountPrefix), cursor, limit, func(val []byte) error {
		var account models.Account
		if err := json.Unmarshal(val, &account); err != nil {
			return err
		}
		accounts = append(accounts, account)
		return nil
	})
	return accounts, next, err
}

// HighestAccountID returns the largest stored account id, 0 when none
// exist.
func (s *Badger) HighestAccountID(ctx context.Context) (int64, error) {
	var highest int64
	cursor := ""
	for {
		accounts, next, err := s.ScanAccounts(ctx, cursor, 256)
		if err != nil {
			return 0, err
		}
		for _, account := range accounts {
			if account.ID > highest {
				highest = account.ID
			}
		}
		if next == "" {
			return highest, nil
		}
		cursor = next
	}
}

// --- triggers ---

// PutTrigger stores (or restores) a standing trigger under its
// (accountId, timestamp) key.
func (s *Badger) PutTrigger(ctx context.Context, trigger models.Trigger) error {
	return s.put(triggerKey(trigger.AccountID, trigger.Timestamp), trigger)
}

// DeleteTrigger removes a trigger. Deleting an absent trigger is a
// no-op, which keeps fire-then-delete safe to retry.
func (s *Badger) DeleteTrigger(ctx context.Context, accountID, timestamp int64) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(triggerKey(accountID, timestamp))
	})
}

// ScanTriggers returns one page of standing triggers plus the cursor
// for the next page ("" when exhausted).
func (s *Badger) ScanTriggers(ctx context.Context, cursor string, limit int) ([]models.Trigger, string, error) {
	var triggers []models.Trigger
	next, err := s.scanPage([]byte(triggerPrefix), cursor, limit, func(val []byte) error {
		var trigger models.Trigger
		if err := json.Unmarshal(val, &trigger); err != nil {
			return err
		}
		triggers = append(triggers, trigger)
		return nil
	})
	return triggers, next, err
}

// --- price samples ---

// PutPrice stores one price sample keyed by its timestamp.
func (s *Badger) PutPrice(ctx context.Context, sample models.PriceSample) error {
	return s.put(priceKey(sample.Timestamp), sample)
}

// LatestPrice returns the most recent stored sample.
func (s *Badger) LatestPrice(ctx context.Context) (*models.PriceSample, error) {
	var sample models.PriceSample
	if err := s.latest([]byte(pricePrefix), &sample); err != nil {
		return nil, err
	}
	return &sample, nil
}

// PricesSince returns all samples at or after the given unix-ms
// timestamp, oldest first.
func (s *Badger) PricesSince(ctx context.Context, sinceMillis int64) ([]models.PriceSample, error) {
	var samples []models.PriceSample
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pricePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(priceKey(sinceMillis)); it.ValidForPrefix([]byte(pricePrefix)); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sample models.PriceSample
				if err := json.Unmarshal(val, &sample); err != nil {
					return err
				}
				samples = append(samples, sample)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return samples, err
}

// PrunePricesBefore deletes samples older than the cutoff and returns
// how many were removed.
func (s *Badger) PrunePricesBefore(ctx context.Context, cutoffMillis int64) (int, error) {
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pricePrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		cutoff := priceKey(cutoffMillis)
		for it.Rewind(); it.ValidForPrefix([]byte(pricePrefix)); it.Next() {
			key := it.Item().KeyCopy(nil)
			if string(key) >= string(cutoff) {
				break
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, key := range keys {
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		}); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

// --- averages ---

// PutAverages stores a full average-set snapshot.
func (s *Badger) PutAverages(ctx context.Context, set models.AverageSet) error {
	return s.put(averageKey(set.Timestamp), set)
}

// LatestAverages returns the most recent snapshot.
func (s *Badger) LatestAverages(ctx context.Context) (*models.AverageSet, error) {
	var set models.AverageSet
	if err := s.latest([]byte(averagePrefix), &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// --- helpers ---

func (s *Badger) put(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

func (s *Badger) get(key []byte, v interface{}) error {
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

// latest decodes the last record under prefix, relying on the
// chronological key layout.
func (s *Badger) latest(prefix []byte, v interface{}) error {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// In reverse mode the seek starts at the upper bound of the
		// prefix range.
		seek := append(append([]byte{}, prefix...), 0xFF)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		found = true
		return it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}
	return nil
}

// scanPage iterates one page under prefix, resuming after cursor, and
// returns the cursor for the following page ("" when the collection is
// exhausted).
func (s *Badger) scanPage(prefix []byte, cursor string, limit int, visit func(val []byte) error) (string, error) {
	if limit <= 0 {
		limit = 100
	}
	var lastKey []byte
	count := 0
	more := false

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = append([]byte{}, prefix...)
		it := txn.NewIterator(opts)
		defer it.Close()

		if cursor != "" {
			it.Seek([]byte(cursor))
			// The cursor is the last key of the previous page.
			if it.ValidForPrefix(prefix) && string(it.Item().Key()) == cursor {
				it.Next()
			}
		} else {
			it.Rewind()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if count == limit {
				more = true
				return nil
			}
			item := it.Item()
			if err := item.Value(visit); err != nil {
				return err
			}
			lastKey = item.KeyCopy(nil)
			count++
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !more {
		return "", nil
	}
	return string(lastKey), nil
}
