package ledgerd

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"ledgercore/config"
	"ledgercore/native/fees"
	"ledgercore/native/ledger"
	"ledgercore/native/pool"
)

// Source is the read-only query surface the HTTP server exposes. The staking
// engine satisfies it.
type Source interface {
	OwnerRecords(owner [20]byte) []*ledger.Record
	PendingReward(owner [20]byte, id uint64) (*big.Int, error)
	Plans() []*pool.Plan
	Plan(id string) (*pool.Plan, error)
	Aggregates() ledger.Aggregates
	FeeTotals() *fees.Totals
}

// SaleSource exposes the token sale's claimable view. Optional; the sale
// routes return 404 when no sale is configured.
type SaleSource interface {
	ClaimableOf(buyer [20]byte) *big.Int
	BuyerRecords(buyer [20]byte) []*ledger.Record
}

// Server serves the read-only ledger API.
type Server struct {
	source  Source
	sale    SaleSource
	limiter *rate.Limiter
	router  chi.Router
}

// NewServer wires the routes. The limiter bounds the whole query surface; the
// health and metrics endpoints are exempt.
func NewServer(source Source, opts ...Option) *Server {
	s := &Server{
		source:  source,
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}
	for _, opt := range opts {
		opt(s)
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Group(func(r chi.Router) {
		r.Use(s.throttle)
		r.Get("/v1/owners/{addr}/records", s.handleOwnerRecords)
		r.Get("/v1/plans", s.handlePlans)
		r.Get("/v1/plans/{id}", s.handlePlan)
		r.Get("/v1/totals", s.handleTotals)
		r.Get("/v1/sale/{addr}/claimable", s.handleSaleClaimable)
	})
	s.router = r
	return s
}

// Option configures optional server collaborators.
type Option func(*Server)

// WithSale exposes the sale claimable routes.
func WithSale(sale SaleSource) Option {
	return func(s *Server) { s.sale = sale }
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type recordPayload struct {
	GlobalID           uint64 `json:"globalId"`
	Owner              string `json:"owner"`
	PlanID             string `json:"planId"`
	Amount             string `json:"amount"`
	CreatedAt          int64  `json:"createdAt"`
	MaturesAt          int64  `json:"maturesAt"`
	LastAccrualAt      int64  `json:"lastAccrualAt"`
	AccumulatedClaimed string `json:"accumulatedClaimed"`
	PendingReward      string `json:"pendingReward"`
	Active             bool   `json:"active"`
}

type planPayload struct {
	ID          string `json:"id"`
	MinAmount   string `json:"minAmount"`
	MaxAmount   string `json:"maxAmount"`
	RateBps     uint32 `json:"rateBps"`
	LockSeconds uint64 `json:"lockSeconds"`
	Accrual     string `json:"accrual"`
	Capacity    string `json:"capacity"`
	Used        string `json:"used"`
	Active      bool   `json:"active"`
}

type totalsPayload struct {
	TotalLocked      string `json:"totalLocked"`
	TotalDistributed string `json:"totalDistributed"`
	TotalRecords     uint64 `json:"totalRecords"`
	FeeGross         string `json:"feeGross"`
	FeeCollected     string `json:"feeCollected"`
	FeeNet           string `json:"feeNet"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleOwnerRecords(w http.ResponseWriter, r *http.Request) {
	owner, err := config.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner address")
		return
	}
	records := s.source.OwnerRecords(owner)
	payload := make([]recordPayload, 0, len(records))
	for _, rec := range records {
		item := recordPayload{
			GlobalID:           rec.GlobalID,
			Owner:              formatAddress(rec.Owner),
			PlanID:             rec.PlanID,
			Amount:             formatAmount(rec.Amount),
			CreatedAt:          rec.CreatedAt,
			MaturesAt:          rec.MaturesAt,
			LastAccrualAt:      rec.LastAccrualAt,
			AccumulatedClaimed: formatAmount(rec.AccumulatedClaimed),
			PendingReward:      "0",
			Active:             rec.Active,
		}
		if rec.Active {
			if pending, err := s.source.PendingReward(owner, rec.GlobalID); err == nil {
				item.PendingReward = formatAmount(pending)
			}
		}
		payload = append(payload, item)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handlePlans(w http.ResponseWriter, _ *http.Request) {
	plans := s.source.Plans()
	payload := make([]planPayload, 0, len(plans))
	for _, p := range plans {
		payload = append(payload, planToPayload(p))
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	p, err := s.source.Plan(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, pool.ErrNotFound) {
			writeError(w, http.StatusNotFound, "plan not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "plan lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, planToPayload(p))
}

func (s *Server) handleTotals(w http.ResponseWriter, _ *http.Request) {
	agg := s.source.Aggregates()
	feeTotals := s.source.FeeTotals()
	payload := totalsPayload{
		TotalLocked:      formatAmount(agg.TotalLocked),
		TotalDistributed: formatAmount(agg.TotalDistributed),
		TotalRecords:     agg.TotalRecords,
		FeeGross:         formatAmount(feeTotals.Gross),
		FeeCollected:     formatAmount(feeTotals.Fee),
		FeeNet:           formatAmount(feeTotals.Net),
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleSaleClaimable(w http.ResponseWriter, r *http.Request) {
	if s.sale == nil {
		writeError(w, http.StatusNotFound, "no sale configured")
		return
	}
	buyer, err := config.ParseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid buyer address")
		return
	}
	var purchased, claimed big.Int
	for _, rec := range s.sale.BuyerRecords(buyer) {
		if rec.Amount != nil {
			purchased.Add(&purchased, rec.Amount)
		}
		if rec.AccumulatedClaimed != nil {
			claimed.Add(&claimed, rec.AccumulatedClaimed)
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"buyer":     formatAddress(buyer),
		"purchased": purchased.String(),
		"claimed":   claimed.String(),
		"claimable": formatAmount(s.sale.ClaimableOf(buyer)),
	})
}

func planToPayload(p *pool.Plan) planPayload {
	return planPayload{
		ID:          p.ID,
		MinAmount:   formatAmount(p.MinAmount),
		MaxAmount:   formatAmount(p.MaxAmount),
		RateBps:     p.RateBps,
		LockSeconds: p.LockSeconds,
		Accrual:     p.Accrual.String(),
		Capacity:    formatAmount(p.Capacity),
		Used:        formatAmount(p.Used),
		Active:      p.Active,
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatAddress(addr [20]byte) string {
	return "0x" + hex.EncodeToString(addr[:])
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
