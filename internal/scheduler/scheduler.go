// Package scheduler drives the periodic refresh of metering data
// buckets, applying the differentiated cadence policy in policy.go.
// One scheduler serves one authenticated identity; multiple identities
// run fully isolated schedulers sharing nothing.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/csgtools/csgmeter/internal/csg"
	"github.com/csgtools/csgmeter/internal/metering"
	"github.com/csgtools/csgmeter/internal/models"
)

// DataService is the slice of the metering service the scheduler
// invokes. *metering.Service satisfies it.
type DataService interface {
	BalanceAndArrears(ctx context.Context, account csg.ElectricityAccount) (metering.Balance, error)
	LadderStatus(ctx context.Context, account csg.ElectricityAccount) (metering.LadderStatus, error)
	YesterdayUsage(ctx context.Context, account csg.ElectricityAccount) (metering.DailyReading, error)
	DailyUsage(ctx context.Context, account csg.ElectricityAccount, period metering.Period) (metering.DailySeries, error)
	YearStats(ctx context.Context, account csg.ElectricityAccount, period metering.Period) (metering.YearStats, error)
}

// AccountLister enumerates the identity's electricity accounts.
// *csg.Catalog satisfies it.
type AccountLister interface {
	List(ctx context.Context) ([]csg.ElectricityAccount, error)
}

// ReadingsStore receives successfully fetched series for retention.
type ReadingsStore interface {
	BatchInsertReadings(ctx context.Context, readings []models.MeterReading) error
}

// AuthRecoveryPolicy says what the scheduler does when a fetch reports
// ErrSessionExpired.
type AuthRecoveryPolicy int

const (
	// AuthRecoveryManualOnly surfaces the expiry to the host and stops
	// there. The vendor's current protocol generation has no silent
	// refresh; re-authentication needs the host's credential.
	AuthRecoveryManualOnly AuthRecoveryPolicy = iota
	// AuthRecoveryAutoReattempt is reserved for a future protocol
	// generation. Not implemented; behaves like ManualOnly.
	AuthRecoveryAutoReattempt
)

// BucketState is the freshness state of one bucket.
type BucketState int

const (
	StateUnknown BucketState = iota
	StateFresh
	StateRefreshing
	StateStale
)

func (s BucketState) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateRefreshing:
		return "refreshing"
	case StateStale:
		return "stale"
	default:
		return "unknown"
	}
}

// BucketValue is one bucket's bookkeeping plus its last good value.
// After a failed refresh the previous Value is retained and State is
// StateStale.
type BucketValue struct {
	State          BucketState
	Value          any
	AsOf           time.Time // vendor-reported data date
	LastRefreshed  time.Time // last successful fetch
	StaleSinceTick int       // tick of the first consecutive failure
}

// Config holds scheduler options.
type Config struct {
	PollInterval  time.Duration // default 4h
	UpdateTimeout time.Duration // per-tick budget, default 5m
	Recovery      AuthRecoveryPolicy
	Identity      string // label for logs and metrics
}

// Scheduler refreshes all buckets of one identity on a cron cadence.
type Scheduler struct {
	ctx    context.Context
	cancel context.CancelFunc

	svc      DataService
	accounts AccountLister
	store    ReadingsStore // nil disables persistence
	logger   *logrus.Logger
	metrics  *metrics
	cfg      Config
	cron     *cron.Cron
	clock    func() time.Time

	onSessionExpired func()

	tickMu sync.Mutex // serializes ticks; buckets fan out inside one

	mu      sync.Mutex
	catalog []csg.ElectricityAccount
	state   map[string]map[Bucket]*BucketValue
	tick    int
}

// New builds a scheduler. reg may be nil to skip metric registration;
// store may be nil to skip persistence.
func New(ctx context.Context, svc DataService, accounts AccountLister, store ReadingsStore, cfg Config, logger *logrus.Logger, reg prometheus.Registerer) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 4 * time.Hour
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		ctx:      ctx,
		cancel:   cancel,
		svc:      svc,
		accounts: accounts,
		store:    store,
		logger:   logger,
		metrics:  newMetrics(reg, cfg.Identity),
		cfg:      cfg,
		cron:     cron.New(),
		clock:    time.Now,
		state:    make(map[string]map[Bucket]*BucketValue),
	}
}

// SetOnSessionExpired installs the host callback invoked at most once
// per tick when fetches report session expiry. Under ManualOnly the
// scheduler does nothing else; re-authentication is the host's move.
func (s *Scheduler) SetOnSessionExpired(fn func()) {
	s.onSessionExpired = fn
}

// Start registers the periodic tick and runs the first one
// immediately. On the first tick every bucket has a zero LastRefreshed
// and is therefore eligible, so historical data is populated from the
// start.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.PollInterval), func() {
		s.runTick(false)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	go s.runTick(false)
	return nil
}

// Stop cancels the in-flight tick, if any, and halts the cron.
// Partially fetched buckets keep their last-known values.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	s.cancel()
}

// ForceRefresh bypasses all windowing and refreshes every bucket
// unconditionally, exactly once.
func (s *Scheduler) ForceRefresh() {
	s.runTick(true)
}

// Snapshot returns a copy of the per-account bucket states.
func (s *Scheduler) Snapshot() map[string]map[Bucket]BucketValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]map[Bucket]BucketValue, len(s.state))
	for acct, buckets := range s.state {
		out[acct] = make(map[Bucket]BucketValue, len(buckets))
		for b, v := range buckets {
			out[acct][b] = *v
		}
	}
	return out
}

func (s *Scheduler) runTick(force bool) {
	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if s.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.cfg.UpdateTimeout)
	defer cancel()

	now := s.clock()
	s.mu.Lock()
	s.tick++
	tick := s.tick
	s.mu.Unlock()

	log := s.logger.WithFields(logrus.Fields{
		"identity": s.cfg.Identity,
		"tick":     tick,
		"force":    force,
	})
	log.Debug("tick started")

	accounts, err := s.ensureCatalog(ctx, force)
	if err != nil {
		log.WithError(err).Error("failed to list electricity accounts")
		s.handleAuthLoss(err, log)
		return
	}

	var expired bool
	for _, account := range accounts {
		if s.refreshAccount(ctx, account, now, tick, force) {
			expired = true
		}
	}
	if expired {
		s.handleAuthLoss(csg.ErrSessionExpired, log)
	}
	log.Debug("tick finished")
}

// refreshAccount runs one account's buckets: live buckets fan out
// concurrently, stabilizing ones follow sequentially because
// last-month eligibility depends on this month's freshly fetched
// series. Reports whether any fetch hit session expiry.
func (s *Scheduler) refreshAccount(ctx context.Context, account csg.ElectricityAccount, now time.Time, tick int, force bool) bool {
	var expired bool
	var mu sync.Mutex
	noteErr := func(err error) {
		if errors.Is(err, csg.ErrSessionExpired) {
			mu.Lock()
			expired = true
			mu.Unlock()
		}
	}

	var wg sync.WaitGroup
	for _, b := range []Bucket{BucketBalance, BucketLadder, BucketYesterday, BucketThisMonthDaily, BucketThisYearStats} {
		bucket := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.refreshBucket(ctx, account, bucket, now, tick, force); err != nil {
				noteErr(err)
			}
		}()
	}
	wg.Wait()

	// Last month stays eligible outside its window while this month's
	// series has nothing published yet (vendor lag at month start).
	forceLastMonth := force || s.thisMonthEmpty(account.AccountNumber)
	if err := s.refreshBucket(ctx, account, BucketLastMonthDaily, now, tick, forceLastMonth); err != nil {
		noteErr(err)
	}
	if err := s.refreshBucket(ctx, account, BucketLastYearStats, now, tick, force); err != nil {
		noteErr(err)
	}
	return expired
}

// refreshBucket runs the state machine for one bucket:
// Fresh -> (eligible) -> Refreshing -> Fresh | Stale.
// A failed fetch leaves the previous value in place, marked stale;
// sibling buckets are unaffected.
func (s *Scheduler) refreshBucket(ctx context.Context, account csg.ElectricityAccount, bucket Bucket, now time.Time, tick int, force bool) error {
	st := s.bucketState(account.AccountNumber, bucket)

	if !force && !Eligible(bucket.Cadence(), now, st.LastRefreshed) {
		return nil
	}

	log := s.logger.WithFields(logrus.Fields{
		"identity": s.cfg.Identity,
		"account":  account.AccountNumber,
		"bucket":   bucket,
	})

	s.mu.Lock()
	st.State = StateRefreshing
	s.mu.Unlock()

	start := s.clock()
	value, asOf, readings, err := s.fetch(ctx, account, bucket)
	s.metrics.duration.WithLabelValues(string(bucket)).Observe(s.clock().Sub(start).Seconds())

	s.mu.Lock()
	if err != nil {
		if st.StaleSinceTick == 0 {
			st.StaleSinceTick = tick
		}
		st.State = StateStale
		s.mu.Unlock()
		s.metrics.refreshes.WithLabelValues(string(bucket), "error").Inc()
		log.WithError(err).Warn("bucket refresh failed")
		return err
	}
	st.State = StateFresh
	st.Value = value
	st.AsOf = asOf
	st.LastRefreshed = now
	st.StaleSinceTick = 0
	s.mu.Unlock()
	s.metrics.refreshes.WithLabelValues(string(bucket), "success").Inc()
	log.Debug("bucket refreshed")

	if s.store != nil && len(readings) > 0 {
		if err := s.store.BatchInsertReadings(ctx, readings); err != nil {
			log.WithError(err).Error("failed to persist readings")
		}
	}
	return nil
}

// fetch executes the vendor read for one bucket and derives the
// records worth persisting.
func (s *Scheduler) fetch(ctx context.Context, account csg.ElectricityAccount, bucket Bucket) (any, time.Time, []models.MeterReading, error) {
	switch bucket {
	case BucketBalance:
		v, err := s.svc.BalanceAndArrears(ctx, account)
		return v, v.AsOf, nil, err
	case BucketLadder:
		v, err := s.svc.LadderStatus(ctx, account)
		return v, s.clock(), nil, err
	case BucketYesterday:
		v, err := s.svc.YesterdayUsage(ctx, account)
		if err != nil {
			return nil, time.Time{}, nil, err
		}
		return v, v.Date, dailyReadings(account.AccountNumber, []metering.DailyReading{v}), nil
	case BucketThisMonthDaily:
		v, err := s.svc.DailyUsage(ctx, account, metering.PeriodCurrent)
		return v, v.AsOf, dailyReadings(account.AccountNumber, v.Days), err
	case BucketLastMonthDaily:
		v, err := s.svc.DailyUsage(ctx, account, metering.PeriodPrevious)
		return v, v.AsOf, dailyReadings(account.AccountNumber, v.Days), err
	case BucketThisYearStats:
		v, err := s.svc.YearStats(ctx, account, metering.PeriodCurrent)
		return v, s.clock(), monthlyReadings(account.AccountNumber, v.Months), err
	case BucketLastYearStats:
		v, err := s.svc.YearStats(ctx, account, metering.PeriodPrevious)
		return v, s.clock(), monthlyReadings(account.AccountNumber, v.Months), err
	default:
		return nil, time.Time{}, nil, fmt.Errorf("unknown bucket %q", bucket)
	}
}

func (s *Scheduler) ensureCatalog(ctx context.Context, force bool) ([]csg.ElectricityAccount, error) {
	s.mu.Lock()
	cached := s.catalog
	s.mu.Unlock()
	if len(cached) > 0 && !force {
		return cached, nil
	}

	accounts, err := s.accounts.List(ctx)
	if err != nil {
		// keep the previous catalog on failure
		if len(cached) > 0 {
			return cached, nil
		}
		return nil, err
	}
	s.mu.Lock()
	s.catalog = accounts
	s.mu.Unlock()
	return accounts, nil
}

func (s *Scheduler) bucketState(accountNumber string, bucket Bucket) *BucketValue {
	s.mu.Lock()
	defer s.mu.Unlock()
	buckets, ok := s.state[accountNumber]
	if !ok {
		buckets = make(map[Bucket]*BucketValue)
		s.state[accountNumber] = buckets
	}
	st, ok := buckets[bucket]
	if !ok {
		st = &BucketValue{}
		buckets[bucket] = st
	}
	return st
}

func (s *Scheduler) thisMonthEmpty(accountNumber string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[accountNumber][BucketThisMonthDaily]
	if !ok || st.Value == nil {
		return true
	}
	series, ok := st.Value.(metering.DailySeries)
	return ok && len(series.Days) == 0
}

// handleAuthLoss reacts to session expiry according to the recovery
// policy. ManualOnly, the only implemented variant, notifies the host
// and leaves re-authentication to it.
func (s *Scheduler) handleAuthLoss(err error, log *logrus.Entry) {
	if !errors.Is(err, csg.ErrSessionExpired) {
		return
	}
	log.Warn("session expired; manual re-authentication required")
	if s.onSessionExpired != nil {
		s.onSessionExpired()
	}
}

func dailyReadings(accountNumber string, days []metering.DailyReading) []models.MeterReading {
	out := make([]models.MeterReading, 0, len(days))
	for _, d := range days {
		out = append(out, models.MeterReading{
			AccountNumber: accountNumber,
			Granularity:   models.GranularityDay,
			PeriodStart:   d.Date,
			EnergyKWh:     d.EnergyKWh,
			Cost:          d.Cost,
		})
	}
	return out
}

func monthlyReadings(accountNumber string, months []metering.MonthlyReading) []models.MeterReading {
	out := make([]models.MeterReading, 0, len(months))
	for _, m := range months {
		out = append(out, models.MeterReading{
			AccountNumber: accountNumber,
			Granularity:   models.GranularityMonth,
			PeriodStart:   time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC),
			EnergyKWh:     m.EnergyKWh,
			Cost:          decimal.NullDecimal{Decimal: m.Cost, Valid: true},
		})
	}
	return out
}
