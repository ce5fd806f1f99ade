package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketcore/market"
	"marketcore/observability/metrics"
)

// server wires a Ledger to an HTTP admin surface. Grounded on
// services/lending/server/errors.go's translateEngineError switch, adapted
// from gRPC status codes to HTTP ones since this service exposes plain
// net/http rather than gRPC.
type server struct {
	poolID  string
	ledger  *market.Ledger
	logger  *slog.Logger
	metrics *metrics.MarketMetrics
}

func newServer(poolID string, ledger *market.Ledger, logger *slog.Logger) *server {
	return &server{poolID: poolID, ledger: ledger, logger: logger, metrics: metrics.Market()}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/deposit", s.handleDeposit)
	mux.HandleFunc("/v1/withdraw", s.handleWithdrawRequest)
	mux.HandleFunc("/v1/withdraw/execute", s.handleExecuteWithdrawal)
	mux.HandleFunc("/v1/borrow", s.handleBorrow)
	mux.HandleFunc("/v1/repay", s.handleRepay)
	mux.HandleFunc("/v1/fees/collect", s.handleCollectFees)
	mux.HandleFunc("/v1/close", s.handleClose)
	return mux
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type addressAmountRequest struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

func parseAmountRequest(r *http.Request) (market.Address, *big.Int, error) {
	var req addressAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return market.Address{}, nil, err
	}
	var addr market.Address
	if err := addr.UnmarshalText([]byte(req.Address)); err != nil {
		return market.Address{}, nil, err
	}
	amount, ok := new(big.Int).SetString(req.Amount, 10)
	if !ok {
		return market.Address{}, nil, errors.New("marketcored: amount is not a valid integer")
	}
	return addr, amount, nil
}

func (s *server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	addr, amount, err := parseAmountRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.record("Deposit", func() error {
		return s.ledger.Deposit(addr, amount, now())
	}, w)
}

func (s *server) handleWithdrawRequest(w http.ResponseWriter, r *http.Request) {
	addr, amount, err := parseAmountRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.record("WithdrawRequest", func() error {
		return s.ledger.WithdrawRequest(addr, amount, now())
	}, w)
}

type executeWithdrawalRequest struct {
	Address     string `json:"address"`
	BatchExpiry uint64 `json:"batchExpiry"`
}

func (s *server) handleExecuteWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req executeWithdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var addr market.Address
	if err := addr.UnmarshalText([]byte(req.Address)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	start := time.Now()
	payout, err := s.ledger.ExecuteWithdrawal(addr, req.BatchExpiry, now())
	s.metrics.ObserveEntryPoint(s.poolID, "ExecuteWithdrawal", err, time.Since(start).Seconds())
	s.recordState()
	if err != nil {
		writeError(w, statusForMarketError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"payout": payout.String()})
}

func (s *server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	addr, amount, err := parseAmountRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.record("Borrow", func() error {
		return s.ledger.Borrow(addr, amount, now())
	}, w)
}

func (s *server) handleRepay(w http.ResponseWriter, r *http.Request) {
	addr, amount, err := parseAmountRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.record("Repay", func() error {
		return s.ledger.Repay(addr, amount, now())
	}, w)
}

func (s *server) handleCollectFees(w http.ResponseWriter, r *http.Request) {
	var req addressAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var addr market.Address
	if err := addr.UnmarshalText([]byte(req.Address)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	start := time.Now()
	collected, err := s.ledger.CollectFees(addr, now())
	s.metrics.ObserveEntryPoint(s.poolID, "CollectFees", err, time.Since(start).Seconds())
	s.recordState()
	if err != nil {
		writeError(w, statusForMarketError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"collected": collected.String()})
}

func (s *server) handleClose(w http.ResponseWriter, r *http.Request) {
	var req addressAmountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var addr market.Address
	if err := addr.UnmarshalText([]byte(req.Address)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.record("Close", func() error {
		return s.ledger.Close(addr, now())
	}, w)
}

func (s *server) record(entryPoint string, op func() error, w http.ResponseWriter) {
	start := time.Now()
	err := op()
	s.metrics.ObserveEntryPoint(s.poolID, entryPoint, err, time.Since(start).Seconds())
	s.recordState()
	if err != nil {
		s.logger.Error("entry point failed", "entry_point", entryPoint, "pool", s.poolID, "error", err)
		writeError(w, statusForMarketError(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// recordState refreshes the gauges describing the pool's current accounting
// state after an entry point call. It reads through Snapshot rather than
// UpdateState so a failed call still reports whatever state persisted.
func (s *server) recordState() {
	state, err := s.ledger.Snapshot()
	if err != nil {
		return
	}
	held, err := s.ledger.HeldAssets()
	if err != nil {
		return
	}
	depth, err := s.ledger.UnpaidQueueDepth()
	if err != nil {
		return
	}
	s.metrics.RecordState(s.poolID, state.ReserveRatioBips, state.ScaleFactor, state.IsDelinquent, state.TimeDelinquent, held, state.AccruedProtocolFees, depth)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusForMarketError translates a market sentinel error into an HTTP
// status code, grounded on services/lending/server/errors.go's
// translateEngineError switch over engine sentinel errors.
func statusForMarketError(err error) int {
	switch {
	case errors.Is(err, market.ErrNoPendingWithdrawal),
		errors.Is(err, market.ErrNoWithdrawalClaim):
		return http.StatusNotFound
	case errors.Is(err, market.ErrReentrancy):
		return http.StatusServiceUnavailable
	case errors.Is(err, market.ErrNotAuthorizedLender),
		errors.Is(err, market.ErrNotBorrower),
		errors.Is(err, market.ErrNotController),
		errors.Is(err, market.ErrAccountBlocked),
		errors.Is(err, market.ErrBorrowWhileSanctioned):
		return http.StatusForbidden
	case errors.Is(err, market.ErrNullMintAmount),
		errors.Is(err, market.ErrNullFeeAmount),
		errors.Is(err, market.ErrInvalidAmount),
		errors.Is(err, market.ErrInsufficientBalance),
		errors.Is(err, market.ErrMaxSupplyExceeded),
		errors.Is(err, market.ErrBorrowAmountTooHigh),
		errors.Is(err, market.ErrBatchNotExpired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, market.ErrDepositToClosedMarket),
		errors.Is(err, market.ErrBorrowFromClosedMarket),
		errors.Is(err, market.ErrRepayToClosedMarket),
		errors.Is(err, market.ErrMarketClosed),
		errors.Is(err, market.ErrCloseMarketWithUnpaidWithdrawals):
		return http.StatusConflict
	case errors.Is(err, market.ErrArithmeticOverflow),
		errors.Is(err, market.ErrScaleFactorUnderflow),
		errors.Is(err, market.ErrInsufficientReservesForFeeWithdrawal):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func now() uint64 {
	return uint64(time.Now().Unix())
}
