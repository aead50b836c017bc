package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"stablevault/native/oracle"
	"stablevault/native/vault"
)

const (
	vaultKeyPrefix = "vault:"
	ownerKeyPrefix = "vault-owner:"
	vaultSeqKey    = "vault-seq"
	priceKeyPrefix = "price:"
)

// State persists protocol state in a key-value database. It implements the
// vault ledger's persistence boundary and the poller's price sink, so a node
// restart recovers every vault and the last published aggregates.
type State struct {
	mu sync.Mutex
	db Database
}

// NewState wraps the database.
func NewState(db Database) *State {
	return &State{db: db}
}

func vaultKey(id uint64) []byte {
	return []byte(vaultKeyPrefix + strconv.FormatUint(id, 10))
}

func ownerKey(owner string) []byte {
	return []byte(ownerKeyPrefix + owner)
}

func priceKey(asset string) []byte {
	return []byte(priceKeyPrefix + strings.ToUpper(strings.TrimSpace(asset)))
}

// GetVault loads the vault, returning nil without error when it is unknown.
func (s *State) GetVault(id uint64) (*vault.Vault, error) {
	raw, err := s.db.Get(vaultKey(id))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var v vault.Vault
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode vault %d: %w", id, err)
	}
	return &v, nil
}

// PutVault stores the vault under its id.
func (s *State) PutVault(v *vault.Vault) error {
	if v == nil {
		return fmt.Errorf("nil vault")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode vault %d: %w", v.ID, err)
	}
	return s.db.Put(vaultKey(v.ID), raw)
}

// VaultIDByOwner resolves the owner index.
func (s *State) VaultIDByOwner(owner string) (uint64, bool, error) {
	raw, err := s.db.Get(ownerKey(owner))
	if errors.Is(err, ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("corrupt owner index for %q", owner)
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

// IndexVaultOwner records the owner -> vault id mapping.
func (s *State) IndexVaultOwner(owner string, id uint64) error {
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, id)
	return s.db.Put(ownerKey(owner), raw)
}

// NextVaultID allocates the next vault id. Ids start at 1 and are never
// reused.
func (s *State) NextVaultID() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq, err := s.sequence()
	if err != nil {
		return 0, err
	}
	seq++
	raw := make([]byte, 8)
	binary.BigEndian.PutUint64(raw, seq)
	if err := s.db.Put([]byte(vaultSeqKey), raw); err != nil {
		return 0, err
	}
	return seq, nil
}

// VaultIDs lists every allocated vault id in ascending order.
func (s *State) VaultIDs() ([]uint64, error) {
	s.mu.Lock()
	seq, err := s.sequence()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, seq)
	for id := uint64(1); id <= seq; id++ {
		if _, err := s.db.Get(vaultKey(id)); errors.Is(err, ErrNotFound) {
			// Allocated but never persisted (first deposit aborted).
			continue
		} else if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *State) sequence() (uint64, error) {
	raw, err := s.db.Get([]byte(vaultSeqKey))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt vault sequence")
	}
	return binary.BigEndian.Uint64(raw), nil
}

// StoreAggregatedPrice persists a published aggregate so dashboards and
// restarts can read the last known price. Staleness rules still apply on
// load; persistence never extends a price's life.
func (s *State) StoreAggregatedPrice(price oracle.AggregatedPrice) error {
	raw, err := json.Marshal(price)
	if err != nil {
		return fmt.Errorf("encode price %s: %w", price.Asset, err)
	}
	return s.db.Put(priceKey(price.Asset), raw)
}

// LoadAggregatedPrice reads the last persisted aggregate for the asset.
func (s *State) LoadAggregatedPrice(asset string) (oracle.AggregatedPrice, error) {
	raw, err := s.db.Get(priceKey(asset))
	if errors.Is(err, ErrNotFound) {
		return oracle.AggregatedPrice{}, oracle.ErrNoPrice
	}
	if err != nil {
		return oracle.AggregatedPrice{}, err
	}
	var price oracle.AggregatedPrice
	if err := json.Unmarshal(raw, &price); err != nil {
		return oracle.AggregatedPrice{}, fmt.Errorf("decode price %s: %w", asset, err)
	}
	return price, nil
}
