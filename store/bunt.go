package store

import (
	"context"
	"errors"
	"time"

	"github.com/tidwall/buntdb"
)

// BuntStore is the embedded store used when no Redis URL is configured.
// BuntDB gives us per-key TTL natively; set membership is modelled as one
// sub-key per member so that members expire individually.
type BuntStore struct {
	db *buntdb.DB
}

// NewBuntStore opens the store at the given path, ":memory:" for a purely
// in-process store.
func NewBuntStore(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntStore{db: db}, nil
}

func setOpts(ttl time.Duration) *buntdb.SetOptions {
	if ttl <= 0 {
		return nil
	}
	return &buntdb.SetOptions{Expires: true, TTL: ttl}
}

func (s *BuntStore) SetWithTTL(_ context.Context, key, value string, ttl time.Duration) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, value, setOpts(ttl))
		return err
	})
}

func (s *BuntStore) Get(_ context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(key)
		if err != nil {
			return err
		}
		value = v
		return nil
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *BuntStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	return err
}

func (s *BuntStore) RefreshTTL(_ context.Context, key string, ttl time.Duration) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		return refreshKey(tx, key, ttl)
	})
}

// refreshKey re-sets a key with a fresh TTL, keeping its value. An absent
// key stays absent, matching EXPIRE semantics.
func refreshKey(tx *buntdb.Tx, key string, ttl time.Duration) error {
	value, err := tx.Get(key)
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	_, _, err = tx.Set(key, value, setOpts(ttl))
	return err
}

func (s *BuntStore) AddToSet(_ context.Context, key, member string, ttl time.Duration) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key+":"+member, "1", setOpts(ttl))
		return err
	})
}

func (s *BuntStore) RemoveFromSet(_ context.Context, key, member string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(key + ":" + member)
		return err
	})
	if errors.Is(err, buntdb.ErrNotFound) {
		return nil
	}
	return err
}

func (s *BuntStore) Members(_ context.Context, key string) ([]string, error) {
	prefix := key + ":"
	var members []string
	err := s.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys(prefix+"*", func(k, _ string) bool {
			members = append(members, k[len(prefix):])
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (s *BuntStore) BulkGet(ctx context.Context, keys []string) ([]Result, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	results := make([]Result, len(keys))
	err := s.db.View(func(tx *buntdb.Tx) error {
		for i, key := range keys {
			value, err := tx.Get(key)
			if errors.Is(err, buntdb.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			results[i] = Result{Value: value, Ok: true}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *BuntStore) BulkRefresh(_ context.Context, keys []string, ttl time.Duration) error {
	if len(keys) == 0 {
		return nil
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		for _, key := range keys {
			if err := refreshKey(tx, key, ttl); err != nil {
				return err
			}
			// set keys live on as one sub-key per member
			memberKeys := make([]string, 0)
			err := tx.AscendKeys(key+":*", func(k, _ string) bool {
				memberKeys = append(memberKeys, k)
				return true
			})
			if err != nil {
				return err
			}
			for _, mk := range memberKeys {
				if err := refreshKey(tx, mk, ttl); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *BuntStore) Close() error {
	return s.db.Close()
}
