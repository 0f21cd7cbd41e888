// Package api exposes the account-management HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"hedgie-bot-go/internal/bus"
	"hedgie-bot-go/internal/engine"
	"hedgie-bot-go/internal/models"
	"hedgie-bot-go/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// AccountStore is the store surface the API needs.
type AccountStore interface {
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	PutAccount(ctx context.Context, account *models.Account, expectedVersion int64) error
	HighestAccountID(ctx context.Context) (int64, error)
	LatestPrice(ctx context.Context) (*models.PriceSample, error)
}

// Publisher is the event-bus surface the API needs.
type Publisher interface {
	Publish(topic string, v interface{}) error
}

// Server carries the handlers behind the HTTP router.
type Server struct {
	accounts AccountStore
	pub      Publisher
	validate *validator.Validate
	logger   *zap.SugaredLogger
}

// NewServer builds the API server.
func NewServer(accounts AccountStore, pub Publisher, logger *zap.SugaredLogger) *Server {
	return &Server{
		accounts: accounts,
		pub:      pub,
		validate: validator.New(),
		logger:   logger,
	}
}

// Router assembles the chi router with all routes mounted.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/accounts", s.createAccount)
	r.Get("/accounts/{id}", s.getAccount)
	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// createAccountRequest is the POST /accounts body.
type createAccountRequest struct {
	BalanceUSD        float64  `json:"accountBalanceUSD" validate:"required,gt=0"`
	TargetAmountUSD   float64  `json:"targetAmountUsd" validate:"required,gt=0"`
	ProfitDelta       float64  `json:"profitDelta" validate:"gte=0"`
	HoursToUpdate     int      `json:"hoursToUpdate" validate:"gte=0"`
	RiskFactor        *float64 `json:"riskFactor,omitempty" validate:"omitempty,gt=0,lte=1"`
	HedgeDelayMinutes *int     `json:"hedgeDelayMinutes,omitempty" validate:"omitempty,gt=0"`
}

func (s *Server) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx := r.Context()

	// New accounts start in USD with a buy target derived from the
	// current market, so a price sample must exist first.
	last, err := s.accounts.LatestPrice(ctx)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusServiceUnavailable, "no market price available yet")
		return
	}
	if err != nil {
		s.logger.Errorw("latest price lookup failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	highest, err := s.accounts.HighestAccountID(ctx)
	if err != nil {
		s.logger.Errorw("account id allocation failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	now := models.NowMillis()
	account := &models.Account{
		ID:                highest + 1,
		State:             models.StateInUSD,
		BalanceUSD:        req.BalanceUSD,
		TargetAmountUSD:   req.TargetAmountUSD,
		ProfitDelta:       req.ProfitDelta,
		HoursToUpdate:     req.HoursToUpdate,
		RiskFactor:        req.RiskFactor,
		HedgeDelayMinutes: req.HedgeDelayMinutes,
		CreatedAt:         now,
	}
	if err := engine.UpdatePrices(account, last.Price); err != nil {
		s.logger.Errorw("initial range computation failed", "accountId", account.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "range computation failed")
		return
	}

	if err := s.accounts.PutAccount(ctx, account, 0); err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			s.writeError(w, http.StatusConflict, "account id already taken, retry")
			return
		}
		s.logger.Errorw("account write failed", "accountId", account.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	trigger, err := engine.NextTrigger(account, now)
	if err != nil {
		s.logger.Errorw("initial trigger computation failed", "accountId", account.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "trigger computation failed")
		return
	}
	if err := s.pub.Publish(bus.TopicTriggerRegistered, trigger); err != nil {
		s.logger.Errorw("initial trigger publish failed", "accountId", account.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "trigger registration failed")
		return
	}

	s.logger.Infow("account created",
		"accountId", account.ID, "balanceUSD", account.BalanceUSD, "buyPrice", *account.BuyPrice)
	s.writeJSON(w, http.StatusCreated, account)
}

func (s *Server) getAccount(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	account, err := s.accounts.GetAccount(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "account not found")
		return
	}
	if err != nil {
		s.logger.Errorw("account lookup failed", "accountId", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, account)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Errorw("response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
