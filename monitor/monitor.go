// Package monitor watches registered two-leg routes and fires the engine
// when a spread clears principal, premium and the minimum profit. Routes that
// keep failing are benched for a cooldown so one broken venue cannot burn the
// whole scan budget.
package monitor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	lru "github.com/hashicorp/golang-lru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/michaelpento.lv/arbengine/engine"
	"github.com/michaelpento.lv/arbengine/lending"
	"github.com/michaelpento.lv/arbengine/router"
	"github.com/michaelpento.lv/arbengine/strategies/arbitrage"
	"github.com/michaelpento.lv/arbengine/utils/math"
)

const (
	// maxRouteFailures benches a route after this many consecutive failures
	maxRouteFailures = 3
	// failureCooldown is how long a benched route stays out of rotation
	failureCooldown = 10 * time.Minute
	// blacklistSize bounds the failure cache
	blacklistSize = 128
)

// Route is one candidate cycle: borrow Asset, buy Mid on Buy, sell it back
// on Sell.
type Route struct {
	Name      string
	Asset     common.Address
	Mid       common.Address
	Buy       router.Router
	Sell      router.Router
	FeeTier   *big.Int
	Principal *big.Int
}

type failureRecord struct {
	count int
	until time.Time
}

// Monitor drives the engine from observed spreads. It is a collaborator, not
// a dependency: the engine works identically when called by hand.
type Monitor struct {
	metrics struct {
		scans    prometheus.Counter
		triggers prometheus.Counter
		skipped  prometheus.CounterVec
	}
	eng       *engine.Engine
	owner     common.Address
	pool      *lending.Pool
	builder   *arbitrage.Builder
	routes    []Route
	limiter   *rate.Limiter
	blacklist *lru.Cache
	minProfit *big.Int
	logger    *zap.Logger
}

// New creates a monitor scanning at scanInterval, acting as owner when it
// requests loans. minProfit is the smallest surplus worth a trigger.
func New(eng *engine.Engine, owner common.Address, pool *lending.Pool, builder *arbitrage.Builder, scanInterval time.Duration, minProfit *big.Int, logger *zap.Logger) (*Monitor, error) {
	blacklist, err := lru.New(blacklistSize)
	if err != nil {
		return nil, fmt.Errorf("create blacklist: %w", err)
	}

	m := &Monitor{
		eng:       eng,
		owner:     owner,
		pool:      pool,
		builder:   builder,
		limiter:   rate.NewLimiter(rate.Every(scanInterval), 1),
		blacklist: blacklist,
		minProfit: minProfit,
		logger:    logger,
	}

	m.metrics.scans = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_scans_total",
		Help: "Route scan passes completed",
	})
	m.metrics.triggers = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "monitor_triggers_total",
		Help: "Executions triggered from scans",
	})
	m.metrics.skipped = *prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_routes_skipped_total",
		Help: "Routes skipped during scans, by reason",
	}, []string{"reason"})

	return m, nil
}

// Collectors exposes the monitor's metrics for registration.
func (m *Monitor) Collectors() []prometheus.Collector {
	return []prometheus.Collector{m.metrics.scans, m.metrics.triggers, &m.metrics.skipped}
}

// AddRoute registers a route for scanning.
func (m *Monitor) AddRoute(route Route) {
	m.routes = append(m.routes, route)
}

// Run scans until the context is cancelled, paced by the scan interval.
func (m *Monitor) Run(ctx context.Context) error {
	for {
		if err := m.limiter.Wait(ctx); err != nil {
			return err
		}
		m.ScanOnce()
	}
}

// ScanOnce evaluates every route and fires the engine for each one whose
// expected output clears principal, premium and the minimum profit.
func (m *Monitor) ScanOnce() {
	defer m.metrics.scans.Inc()

	now := time.Now()
	for _, route := range m.routes {
		if m.benched(route.Name, now) {
			m.metrics.skipped.WithLabelValues("benched").Inc()
			continue
		}

		desc, expected, err := m.builder.TwoLeg(
			route.Asset, route.Mid, route.Principal, route.Buy, route.Sell, route.FeeTier)
		if err != nil {
			m.recordFailure(route.Name, now)
			m.metrics.skipped.WithLabelValues("plan_failed").Inc()
			m.logger.Debug("route plan failed", zap.String("route", route.Name), zap.Error(err))
			continue
		}

		required := math.TotalOwed(route.Principal, m.pool.PremiumOf(route.Principal))
		required.Add(required, m.minProfit)
		if expected.Cmp(required) <= 0 {
			m.metrics.skipped.WithLabelValues("no_spread").Inc()
			continue
		}

		params, err := engine.EncodeArbitrage(desc)
		if err != nil {
			m.recordFailure(route.Name, now)
			m.logger.Warn("descriptor encode failed", zap.String("route", route.Name), zap.Error(err))
			continue
		}

		if err := m.eng.RequestFlashLoan(m.owner, route.Asset, route.Principal, params); err != nil {
			m.recordFailure(route.Name, now)
			m.metrics.skipped.WithLabelValues("execution_failed").Inc()
			m.logger.Warn("execution failed",
				zap.String("route", route.Name),
				zap.Error(err))
			continue
		}

		m.blacklist.Remove(route.Name)
		m.metrics.triggers.Inc()
		m.logger.Info("route executed",
			zap.String("route", route.Name),
			zap.String("expected", expected.String()),
			zap.String("required", required.String()))
	}
}

func (m *Monitor) benched(name string, now time.Time) bool {
	value, ok := m.blacklist.Get(name)
	if !ok {
		return false
	}
	rec := value.(*failureRecord)
	if rec.count < maxRouteFailures {
		return false
	}
	if now.After(rec.until) {
		m.blacklist.Remove(name)
		return false
	}
	return true
}

func (m *Monitor) recordFailure(name string, now time.Time) {
	rec := &failureRecord{}
	if value, ok := m.blacklist.Get(name); ok {
		rec = value.(*failureRecord)
	}
	rec.count++
	if rec.count >= maxRouteFailures {
		rec.until = now.Add(failureCooldown)
		m.logger.Warn("route benched",
			zap.String("route", name),
			zap.Int("failures", rec.count),
			zap.Time("until", rec.until))
	}
	m.blacklist.Add(name, rec)
}
