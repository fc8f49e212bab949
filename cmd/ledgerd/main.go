package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ledgercore/config"
	"ledgercore/native/fees"
	"ledgercore/native/ledger"
	"ledgercore/native/pool"
	"ledgercore/native/presale"
	"ledgercore/native/staking"
	"ledgercore/native/token"
	"ledgercore/native/voucher"
	"ledgercore/observability/logging"
	"ledgercore/services/ledgerd"
	"ledgercore/storage"
	"ledgercore/storage/statedb"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// LEDGERD_ENV overrides the configured environment for one-off runs.
	env := strings.TrimSpace(os.Getenv("LEDGERD_ENV"))
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("ledgerd", env)

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	store := statedb.New(db)
	state, err := store.Load()
	if err != nil {
		logger.Error("Failed to load persisted state", slog.Any("error", err))
		os.Exit(1)
	}

	records := ledger.New()
	records.Restore(state.Records)

	pools := pool.NewAccountant()
	pools.Restore(state.Plans)
	for i := range cfg.Plans {
		plan, err := cfg.Plans[i].Build()
		if err != nil {
			logger.Error("Invalid plan configuration", slog.String("plan", cfg.Plans[i].ID), slog.Any("error", err))
			os.Exit(1)
		}
		if _, err := pools.Plan(plan.ID); err == nil {
			continue
		}
		if err := pools.AddPlan(plan); err != nil {
			logger.Error("Failed to register plan", slog.String("plan", plan.ID), slog.Any("error", err))
			os.Exit(1)
		}
	}

	book := token.NewBook()
	book.Restore(state.Balances)

	custody, err := resolveAddress(cfg.Custody)
	if err != nil {
		logger.Error("Invalid custody address", slog.Any("error", err))
		os.Exit(1)
	}

	engine := staking.NewEngine(records, pools, custody)
	engine.SetToken(book.Owner(custody))
	if cfg.FeeBps > 0 {
		collector, err := config.ParseAddress(cfg.FeeCollector)
		if err != nil {
			logger.Error("Invalid fee collector address", slog.Any("error", err))
			os.Exit(1)
		}
		if err := engine.SetFeeConfig(fees.Config{FeeBps: cfg.FeeBps, Collector: collector}); err != nil {
			logger.Error("Invalid fee configuration", slog.Any("error", err))
			os.Exit(1)
		}
	}

	vouchers := voucher.NewEngine(custody)
	vouchers.SetToken(book.Owner(custody))
	vouchers.Restore(state.Vouchers)

	var serverOpts []ledgerd.Option
	if cfg.Sale != nil {
		sale, err := buildSaleEngine(cfg, records, book, custody)
		if err != nil {
			logger.Error("Invalid sale configuration", slog.Any("error", err))
			os.Exit(1)
		}
		serverOpts = append(serverOpts, ledgerd.WithSale(sale))
		logger.Info("Token sale configured",
			slog.Int64("opensAt", cfg.Sale.OpensAt),
			slog.Int64("closesAt", cfg.Sale.ClosesAt))
	}

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           ledgerd.NewServer(engine, serverOpts...),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Query API listening", slog.String("address", cfg.ListenAddress))
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("Shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", slog.Any("error", err))
	}

	checkpoint := statedb.State{
		Records:  records.Snapshot(),
		Plans:    pools.Snapshot(),
		Vouchers: vouchers.Vouchers(),
		Balances: book.Balances(),
	}
	if err := store.Save(checkpoint); err != nil {
		logger.Error("Failed to persist state", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("State checkpoint written", slog.Uint64("records", checkpoint.Records.Aggregates.TotalRecords))
}

// buildSaleEngine wires the presale engine against the shared record ledger
// and balance book. The sale shares custody with staking; the treasury
// receives purchase payments.
func buildSaleEngine(cfg *config.Config, records *ledger.Ledger, book *token.Book, custody [20]byte) (*presale.Engine, error) {
	treasury, err := resolveAddress(cfg.Treasury)
	if err != nil {
		return nil, fmt.Errorf("treasury address: %w", err)
	}
	sale := presale.NewEngine(records, custody, treasury)
	sale.SetToken(book.Owner(custody))
	sale.SetPaymentToken(book.Owner(custody))
	sale.SetWindow(cfg.Sale.OpensAt, cfg.Sale.ClosesAt)
	if err := sale.SetSchedule(cfg.Sale.Schedule(), cfg.Sale.TGEAt); err != nil {
		return nil, err
	}
	if err := sale.SetPrice(big.NewInt(cfg.Sale.PriceNum), big.NewInt(cfg.Sale.PriceDen)); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.Sale.AllocationRoot) != "" {
		root, err := config.ParseRoot(cfg.Sale.AllocationRoot)
		if err != nil {
			return nil, err
		}
		sale.SetAllocationRoot(root)
	}
	return sale, nil
}

func openDatabase(dataDir string) (storage.Database, error) {
	if strings.TrimSpace(dataDir) == ":memory:" {
		return storage.NewMemDB(), nil
	}
	return storage.NewLevelDB(dataDir)
}

// resolveAddress falls back to the reserved module account when the
// configuration leaves the custody address blank.
func resolveAddress(raw string) ([20]byte, error) {
	if strings.TrimSpace(raw) == "" {
		var addr [20]byte
		addr[19] = 0x01
		return addr, nil
	}
	return config.ParseAddress(raw)
}
