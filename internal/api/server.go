package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arbtrader/internal/model"
)

// Registrar imports tokens and trading pairs on demand.
type Registrar interface {
	EnsureToken(ctx context.Context, address common.Address) (*model.Token, error)
	ImportTradingPair(ctx context.Context, exchange model.Exchange, pool, quote common.Address) (*model.TradingPair, error)
}

// StartFunc fans out monitors and returns how many were started.
type StartFunc func(ctx context.Context) (int, error)

// Server exposes the operational HTTP surface: health, trader fan-out, and
// token/pair imports.
type Server struct {
	registrar    Registrar
	startTraders StartFunc
	startPolling StartFunc
	logger       *zap.Logger
}

func NewServer(registrar Registrar, startTraders, startPolling StartFunc, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		registrar:    registrar,
		startTraders: startTraders,
		startPolling: startPolling,
		logger:       logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /traders/start", s.handleStart(s.startTraders))
	mux.HandleFunc("POST /traders/polling/start", s.handleStart(s.startPolling))
	mux.HandleFunc("POST /tokens", s.handleCreateToken)
	mux.HandleFunc("POST /pairs", s.handleCreatePair)
	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStart(start StartFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if start == nil {
			writeError(w, http.StatusServiceUnavailable, errors.New("traders not configured"))
			return
		}
		started, err := start(r.Context())
		if err != nil {
			s.logger.Error("trader fan-out failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"started": started})
	}
}

type createTokenRequest struct {
	Address string `json:"address"`
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	if !common.IsHexAddress(req.Address) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address %q", req.Address))
		return
	}

	token, err := s.registrar.EnsureToken(r.Context(), common.HexToAddress(req.Address))
	if err != nil {
		s.logger.Error("token import failed", zap.String("address", req.Address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, token)
}

type createPairRequest struct {
	Exchange     string `json:"exchange"`
	PoolAddress  string `json:"poolAddress"`
	QuoteAddress string `json:"quoteAddress"`
}

func (s *Server) handleCreatePair(w http.ResponseWriter, r *http.Request) {
	var req createPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode body: %w", err))
		return
	}
	exchange, err := model.ParseExchange(req.Exchange)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !common.IsHexAddress(req.PoolAddress) || !common.IsHexAddress(req.QuoteAddress) {
		writeError(w, http.StatusBadRequest, errors.New("invalid pool or quote address"))
		return
	}

	pair, err := s.registrar.ImportTradingPair(r.Context(), exchange,
		common.HexToAddress(req.PoolAddress), common.HexToAddress(req.QuoteAddress))
	if err != nil {
		s.logger.Error("pair import failed",
			zap.String("exchange", req.Exchange),
			zap.String("pool", req.PoolAddress),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
