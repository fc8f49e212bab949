package statedb

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"ledgercore/native/ledger"
	"ledgercore/native/pool"
	"ledgercore/native/voucher"
	"ledgercore/storage"
)

var (
	keyRecords  = []byte("state/records")
	keyPlans    = []byte("state/plans")
	keyVouchers = []byte("state/vouchers")
	keyBalances = []byte("state/balances")
)

// State is the serialized form of the engines' in-memory state.
type State struct {
	Records  ledger.Snapshot       `json:"records"`
	Plans    []*pool.Plan          `json:"plans"`
	Vouchers []*voucher.Voucher    `json:"vouchers"`
	Balances map[[20]byte]*big.Int `json:"-"`
}

// Store persists engine state as JSON documents in a key-value database.
// Writes happen on shutdown and after checkpoint intervals, not per
// operation; the ledger itself remains the source of truth while running.
type Store struct {
	db storage.Database
}

// New wraps the supplied database.
func New(db storage.Database) *Store {
	return &Store{db: db}
}

// Save writes a complete state checkpoint.
func (s *Store) Save(state State) error {
	if err := s.putJSON(keyRecords, state.Records); err != nil {
		return fmt.Errorf("statedb: persist records: %w", err)
	}
	if err := s.putJSON(keyPlans, state.Plans); err != nil {
		return fmt.Errorf("statedb: persist plans: %w", err)
	}
	if err := s.putJSON(keyVouchers, state.Vouchers); err != nil {
		return fmt.Errorf("statedb: persist vouchers: %w", err)
	}
	if err := s.putJSON(keyBalances, encodeBalances(state.Balances)); err != nil {
		return fmt.Errorf("statedb: persist balances: %w", err)
	}
	return nil
}

// Load reads the most recent checkpoint. A missing key yields the zero value
// for that section, so a fresh database loads an empty state.
func (s *Store) Load() (State, error) {
	state := State{Records: ledger.Snapshot{Aggregates: ledger.NewAggregates()}}
	if raw, err := s.db.Get(keyRecords); err == nil {
		if err := json.Unmarshal(raw, &state.Records); err != nil {
			return State{}, fmt.Errorf("statedb: decode records: %w", err)
		}
	}
	if raw, err := s.db.Get(keyPlans); err == nil {
		if err := json.Unmarshal(raw, &state.Plans); err != nil {
			return State{}, fmt.Errorf("statedb: decode plans: %w", err)
		}
	}
	if raw, err := s.db.Get(keyVouchers); err == nil {
		if err := json.Unmarshal(raw, &state.Vouchers); err != nil {
			return State{}, fmt.Errorf("statedb: decode vouchers: %w", err)
		}
	}
	if raw, err := s.db.Get(keyBalances); err == nil {
		var doc map[string]string
		if err := json.Unmarshal(raw, &doc); err != nil {
			return State{}, fmt.Errorf("statedb: decode balances: %w", err)
		}
		balances, err := decodeBalances(doc)
		if err != nil {
			return State{}, fmt.Errorf("statedb: decode balances: %w", err)
		}
		state.Balances = balances
	}
	if state.Balances == nil {
		state.Balances = make(map[[20]byte]*big.Int)
	}
	return state, nil
}

// Balances are keyed by raw addresses in memory; the serialized form uses hex
// address strings with decimal amounts.
func encodeBalances(balances map[[20]byte]*big.Int) map[string]string {
	doc := make(map[string]string, len(balances))
	for addr, amount := range balances {
		if amount == nil {
			continue
		}
		doc[hex.EncodeToString(addr[:])] = amount.String()
	}
	return doc
}

func decodeBalances(doc map[string]string) (map[[20]byte]*big.Int, error) {
	balances := make(map[[20]byte]*big.Int, len(doc))
	for key, raw := range doc {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) != 20 {
			return nil, fmt.Errorf("invalid address key %q", key)
		}
		amount, ok := new(big.Int).SetString(raw, 10)
		if !ok {
			return nil, fmt.Errorf("invalid amount %q for address %q", raw, key)
		}
		var addr [20]byte
		copy(addr[:], decoded)
		balances[addr] = amount
	}
	return balances, nil
}

func (s *Store) putJSON(key []byte, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return s.db.Put(key, raw)
}
