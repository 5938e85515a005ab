package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Strob0t/MissionControl/internal/adapter/otel"
	"github.com/Strob0t/MissionControl/internal/config"
	"github.com/Strob0t/MissionControl/internal/middleware"
)

// Estimate is a pre-dispatch cost projection for one instruction.
type Estimate struct {
	Tokens int     `json:"tokens"`
	USD    float64 `json:"usd"`
}

// CostService is the rate limiter and cost estimator consulted before every
// dispatch: a per-mission token bucket bounds call rate, and estimated spend
// is tracked against the mission budget ceiling.
type CostService struct {
	cfg     config.Cost
	limiter *middleware.RateLimiter
	metrics *otel.Metrics

	mu    sync.Mutex
	spend map[string]float64 // mission id -> estimated USD
}

// NewCostService creates a CostService from the cost configuration.
func NewCostService(cfg config.Cost, metrics *otel.Metrics) *CostService {
	return &CostService{
		cfg:     cfg,
		limiter: middleware.NewRateLimiter(cfg.CallsPerSecond, cfg.Burst),
		metrics: metrics,
		spend:   make(map[string]float64),
	}
}

// Estimate projects token and dollar cost for an instruction from its size
// and the configured model rate.
func (s *CostService) Estimate(instruction string) Estimate {
	tokens := int(float64(len(instruction)) * s.cfg.TokensPerChar)
	if tokens < 1 {
		tokens = 1
	}
	return Estimate{
		Tokens: tokens,
		USD:    float64(tokens) / 1000 * s.cfg.USDPerKiloToken,
	}
}

// Authorize decides whether a dispatch for the mission may proceed. Denials
// report the reason; an allowed call records its estimated spend.
func (s *CostService) Authorize(ctx context.Context, missionID, instruction string) (bool, string) {
	_, retryAfter, allowed := s.limiter.Allow(missionID)
	if !allowed {
		return false, fmt.Sprintf("rate limit exceeded for mission %s, retry in %.1fs", missionID, retryAfter)
	}

	est := s.Estimate(instruction)

	s.mu.Lock()
	current := s.spend[missionID]
	if s.cfg.MissionBudget > 0 && current+est.USD > s.cfg.MissionBudget {
		s.mu.Unlock()
		return false, fmt.Sprintf("mission %s budget exceeded: spent %.4f + estimated %.4f > %.4f USD",
			missionID, current, est.USD, s.cfg.MissionBudget)
	}
	s.spend[missionID] = current + est.USD
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.MissionCost.Record(ctx, est.USD)
	}
	slog.Debug("dispatch authorized", "mission_id", missionID, "tokens", est.Tokens, "usd", est.USD)
	return true, ""
}

// Spend returns the estimated spend recorded for a mission so far.
func (s *CostService) Spend(missionID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spend[missionID]
}
