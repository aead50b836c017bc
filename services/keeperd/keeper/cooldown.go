package keeper

import (
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var cooldownBucket = []byte("cooldowns")

// CooldownStore persists per-vault attempt timestamps so a restarted keeper
// does not hammer the same vault after repeated failures.
type CooldownStore struct {
	db     *bolt.DB
	window time.Duration
}

// OpenCooldownStore opens (or creates) the bolt database at path.
func OpenCooldownStore(path string, window time.Duration) (*CooldownStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open cooldown store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(cooldownBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init cooldown store: %w", err)
	}
	return &CooldownStore{db: db, window: window}, nil
}

// Close releases the database.
func (c *CooldownStore) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Ready reports whether the vault is outside its cooldown window.
func (c *CooldownStore) Ready(vaultID uint64, now time.Time) (bool, error) {
	if c == nil || c.db == nil {
		return true, nil
	}
	var last int64
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(cooldownBucket).Get(vaultKey(vaultID))
		if len(raw) == 8 {
			last = int64(binary.BigEndian.Uint64(raw))
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if last == 0 {
		return true, nil
	}
	return now.Sub(time.Unix(0, last)) >= c.window, nil
}

// MarkAttempt records a liquidation attempt against the vault.
func (c *CooldownStore) MarkAttempt(vaultID uint64, now time.Time) error {
	if c == nil || c.db == nil {
		return nil
	}
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, uint64(now.UnixNano()))
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cooldownBucket).Put(vaultKey(vaultID), raw)
	})
}

// Clear removes the vault's cooldown after a settled liquidation.
func (c *CooldownStore) Clear(vaultID uint64) error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(cooldownBucket).Delete(vaultKey(vaultID))
	})
}

func vaultKey(id uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, id)
	return key
}
