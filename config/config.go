package config

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"ledgercore/native/fees"
	"ledgercore/native/pool"
	"ledgercore/native/rewards"
	"ledgercore/native/vesting"
)

// Config is the ledgerd service configuration.
type Config struct {
	ListenAddress string       `toml:"ListenAddress"`
	DataDir       string       `toml:"DataDir"`
	Environment   string       `toml:"Environment"`
	FeeBps        uint32       `toml:"FeeBps"`
	FeeCollector  string       `toml:"FeeCollector"`
	Custody       string       `toml:"Custody"`
	Treasury      string       `toml:"Treasury"`
	Plans         []PlanConfig `toml:"Plans"`
	Sale          *SaleConfig  `toml:"Sale"`
}

// SaleConfig declares the token sale window, pricing and release schedule.
// PriceNum/PriceDen express the payment cost per sale unit as a ratio.
type SaleConfig struct {
	OpensAt        int64  `toml:"OpensAt"`
	ClosesAt       int64  `toml:"ClosesAt"`
	TGEAt          int64  `toml:"TGEAt"`
	TGEBps         uint32 `toml:"TGEBps"`
	CliffSeconds   int64  `toml:"CliffSeconds"`
	VestSeconds    int64  `toml:"VestSeconds"`
	PriceNum       int64  `toml:"PriceNum"`
	PriceDen       int64  `toml:"PriceDen"`
	AllocationRoot string `toml:"AllocationRoot"`
}

// PlanConfig declares a staking plan in the configuration file. Amounts are
// decimal strings so they survive arbitrary precision.
type PlanConfig struct {
	ID          string `toml:"ID"`
	MinAmount   string `toml:"MinAmount"`
	MaxAmount   string `toml:"MaxAmount"`
	Capacity    string `toml:"Capacity"`
	RateBps     uint32 `toml:"RateBps"`
	LockSeconds uint64 `toml:"LockSeconds"`
	Accrual     string `toml:"Accrual"`
}

// Load reads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		cfg.ListenAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./ledgerd-data"
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "local"
	}
}

// Validate checks the fee policy, addresses and plan declarations.
func (c *Config) Validate() error {
	feeCfg := fees.Config{FeeBps: c.FeeBps}
	if err := feeCfg.Validate(); err != nil {
		return fmt.Errorf("config: fee policy: %w", err)
	}
	if c.FeeBps > 0 {
		if _, err := ParseAddress(c.FeeCollector); err != nil {
			return fmt.Errorf("config: fee collector: %w", err)
		}
	}
	if c.Sale != nil {
		if err := c.Sale.Validate(); err != nil {
			return fmt.Errorf("config: sale: %w", err)
		}
	}
	scratch := pool.NewAccountant()
	for i := range c.Plans {
		plan, err := c.Plans[i].Build()
		if err != nil {
			return fmt.Errorf("config: plan %q: %w", c.Plans[i].ID, err)
		}
		if err := scratch.AddPlan(plan); err != nil {
			return fmt.Errorf("config: plan %q: %w", c.Plans[i].ID, err)
		}
	}
	return nil
}

// Validate checks the sale window, price ratio and vesting parameters.
func (s *SaleConfig) Validate() error {
	if s.ClosesAt <= s.OpensAt {
		return fmt.Errorf("window close %d not after open %d", s.ClosesAt, s.OpensAt)
	}
	if s.PriceNum <= 0 || s.PriceDen <= 0 {
		return fmt.Errorf("invalid price ratio %d/%d", s.PriceNum, s.PriceDen)
	}
	schedule := vesting.Config{
		TGEBps:          s.TGEBps,
		CliffDuration:   s.CliffSeconds,
		VestingDuration: s.VestSeconds,
	}
	if err := schedule.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(s.AllocationRoot) != "" {
		if _, err := ParseRoot(s.AllocationRoot); err != nil {
			return err
		}
	}
	return nil
}

// Schedule returns the vesting configuration the sale declares.
func (s *SaleConfig) Schedule() vesting.Config {
	return vesting.Config{
		TGEBps:          s.TGEBps,
		CliffDuration:   s.CliffSeconds,
		VestingDuration: s.VestSeconds,
	}
}

// ParseRoot decodes a 0x-prefixed or bare 64-hex-character Merkle root.
func ParseRoot(raw string) ([32]byte, error) {
	var root [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return root, fmt.Errorf("invalid root %q: %w", raw, err)
	}
	if len(decoded) != len(root) {
		return root, fmt.Errorf("invalid root %q: expected %d bytes, got %d", raw, len(root), len(decoded))
	}
	copy(root[:], decoded)
	return root, nil
}

// Build converts the declaration into a runtime plan.
func (p PlanConfig) Build() (*pool.Plan, error) {
	capacity, err := parseAmount(p.Capacity)
	if err != nil {
		return nil, fmt.Errorf("capacity: %w", err)
	}
	minAmount, err := parseAmount(p.MinAmount)
	if err != nil {
		return nil, fmt.Errorf("min amount: %w", err)
	}
	maxAmount, err := parseAmount(p.MaxAmount)
	if err != nil {
		return nil, fmt.Errorf("max amount: %w", err)
	}
	mode, err := parseAccrual(p.Accrual)
	if err != nil {
		return nil, err
	}
	plan := &pool.Plan{
		ID:          p.ID,
		MinAmount:   minAmount,
		MaxAmount:   maxAmount,
		Capacity:    capacity,
		RateBps:     p.RateBps,
		LockSeconds: p.LockSeconds,
		Accrual:     mode,
		Active:      true,
	}
	return plan, nil
}

// ParseAddress decodes a 0x-prefixed or bare 40-hex-character address.
func ParseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	if len(decoded) != len(addr) {
		return addr, fmt.Errorf("invalid address %q: expected %d bytes, got %d", raw, len(addr), len(decoded))
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", raw)
	}
	return v, nil
}

func parseAccrual(raw string) (rewards.Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "linear":
		return rewards.ModeLinearTerm, nil
	case "daily":
		return rewards.ModeDaily, nil
	default:
		return 0, fmt.Errorf("unknown accrual mode %q", raw)
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
