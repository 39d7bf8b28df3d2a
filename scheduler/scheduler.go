// Package scheduler drives the periodic scan cycles: hourly auto-scans per
// market region, per-guild daily subscription checks, manual triggers and
// retention cleanup.
package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"gorm.io/gorm"

	"rsi-alert-service/models"
	"rsi-alert-service/services/alerts"
	"rsi-alert-service/services/catalog"
	"rsi-alert-service/services/marketdata"
)

// Trigger values carried on cycle results.
const (
	TriggerScheduled = "scheduled"
	TriggerDaily     = "daily"
	TriggerManual    = "manual"
)

// Retention windows for the daily cleanup job.
const (
	scanStateRetentionDays = 7
	tickerRSIRetentionDays = 30
)

// guildConcurrency bounds how many guild cycles run at once per region scan.
const guildConcurrency = 4

var (
	// ErrCycleBusy means a cycle is already running for the guild.
	ErrCycleBusy = errors.New("a scan cycle is already running for this guild")
	// ErrStoreUnavailable means the database is not ready yet.
	ErrStoreUnavailable = errors.New("data store not available")
)

// Notifier delivers cycle results. Implemented by the WebSocket hub.
type Notifier interface {
	Publish(result *alerts.CycleResult)
	PublishAlerts(fired []alerts.Alert)
}

// ResultArchiver stores finished cycle results. Implemented by the MongoDB
// archiver.
type ResultArchiver interface {
	Archive(ctx context.Context, result *alerts.CycleResult)
}

// Scheduler manages scheduled jobs.
type Scheduler struct {
	cron     *gocron.Scheduler
	db       *gorm.DB
	catalog  *catalog.Catalog
	fetcher  *marketdata.BatchFetcher
	engine   *alerts.Engine
	detector *alerts.ChangeDetector
	notifier Notifier
	archiver ResultArchiver
	windows  []ScanWindow
	loc      *time.Location

	// now is injectable for tests.
	now func() time.Time

	mu      sync.Mutex
	running map[int64]bool
	// pendingDaily holds guilds whose daily check lost the per-guild lock
	// (for example to an overlapping region scan) and is retried on the
	// next tick.
	pendingDaily map[int64]bool
}

// NewScheduler creates a scheduler instance. The notifier and archiver may
// be nil, which disables delivery and archiving respectively.
func NewScheduler(db *gorm.DB, cat *catalog.Catalog, fetcher *marketdata.BatchFetcher, notifier Notifier, archiver ResultArchiver, loc *time.Location) *Scheduler {
	return &Scheduler{
		cron:         gocron.NewScheduler(loc),
		db:           db,
		catalog:      cat,
		fetcher:      fetcher,
		engine:       alerts.NewEngine(db, cat),
		detector:     alerts.NewChangeDetector(db),
		notifier:     notifier,
		archiver:     archiver,
		windows:      DefaultWindows(),
		loc:          loc,
		now:          time.Now,
		running:      make(map[int64]bool),
		pendingDaily: make(map[int64]bool),
	}
}

// Start starts all scheduled jobs.
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// One dispatcher tick per minute covers both the region scan windows
	// and every guild's configurable daily check time.
	s.cron.Every(1).Minute().Do(func() {
		s.tick(s.now().In(s.loc))
	})

	// Cleanup old data daily at 03:00
	s.cron.Every(1).Day().At("03:00").Do(func() {
		s.cleanupOldData()
	})

	s.cron.StartAsync()
	log.Printf("Scheduler started (timezone %s, %d scan windows)", s.loc, len(s.windows))
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// tick dispatches whatever is due at the given local time.
func (s *Scheduler) tick(t time.Time) {
	for _, w := range s.windows {
		if w.Due(t) {
			go s.runRegionScan(w.Region, TriggerScheduled, t)
		}
	}

	// Weekday daily checks run at each guild's configured HH:MM.
	if t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		return
	}
	hhmm := t.Format("15:04")
	guildIDs, err := models.AllGuildIDs(s.db)
	if err != nil {
		log.Printf("Error loading guilds for daily check: %v", err)
		return
	}
	for _, guildID := range guildIDs {
		cfg, err := models.GetOrCreateGuildConfig(s.db, guildID)
		if err != nil {
			log.Printf("Error loading config for guild %d: %v", guildID, err)
			continue
		}
		if cfg.ScheduleTime == hhmm {
			go s.runDailyCheck(guildID, t)
		}
	}

	// Daily checks that lost the guild lock earlier (a guild's schedule
	// time can land inside a region scan slot) get another attempt each
	// minute until the lock frees up.
	for _, guildID := range s.takePendingDaily() {
		go s.runDailyCheck(guildID, t)
	}
}

// deferDaily queues a guild's daily check for retry on the next tick.
func (s *Scheduler) deferDaily(guildID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingDaily[guildID] = true
}

// takePendingDaily drains the deferred daily checks.
func (s *Scheduler) takePendingDaily() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pendingDaily) == 0 {
		return nil
	}
	guilds := make([]int64, 0, len(s.pendingDaily))
	for guildID := range s.pendingDaily {
		guilds = append(guilds, guildID)
	}
	s.pendingDaily = make(map[int64]bool)
	return guilds
}

// runRegionScan fetches the region's tickers once and processes every guild
// against the shared readings.
func (s *Scheduler) runRegionScan(region, trigger string, t time.Time) {
	tickers := s.regionTickers(region)
	if len(tickers) == 0 {
		log.Printf("No tickers for region %s, skipping scan", region)
		return
	}

	log.Printf("Region scan %s: fetching %d tickers", region, len(tickers))
	readings, summary := s.fetcher.FetchReadings(context.Background(), tickers)
	s.persistSnapshots(readings)

	guildIDs, err := models.AllGuildIDs(s.db)
	if err != nil {
		log.Printf("Error loading guilds for region scan: %v", err)
		return
	}
	// Guild cycles run concurrently on a bounded pool; a failing guild
	// never stops the others.
	sem := make(chan struct{}, guildConcurrency)
	var wg sync.WaitGroup
	for _, guildID := range guildIDs {
		cfg, err := models.GetOrCreateGuildConfig(s.db, guildID)
		if err != nil {
			log.Printf("Error loading config for guild %d: %v", guildID, err)
			continue
		}
		if !cfg.ScheduleEnabled {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(guildID int64, cfg models.GuildConfig) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.processGuild(guildID, cfg, region, trigger, readings, summary, t); err != nil {
				log.Printf("Guild %d scan failed: %v", guildID, err)
			}
		}(guildID, cfg)
	}
	wg.Wait()
}

// regionTickers collects catalog tickers of the region plus any subscribed
// tickers that classify into it.
func (s *Scheduler) regionTickers(region string) []string {
	seen := make(map[string]bool)
	var tickers []string
	for _, t := range s.catalog.AllTickers() {
		if ClassifyRegion(t) == region && !seen[t] {
			seen[t] = true
			tickers = append(tickers, t)
		}
	}
	subscribed, err := models.DistinctSubscribedTickers(s.db, 0)
	if err != nil {
		log.Printf("Error loading subscribed tickers: %v", err)
		return tickers
	}
	for _, t := range subscribed {
		if ClassifyRegion(t) == region && !seen[t] {
			seen[t] = true
			tickers = append(tickers, t)
		}
	}
	return tickers
}

// persistSnapshots upserts the latest RSI for every successful reading.
func (s *Scheduler) persistSnapshots(readings map[string]marketdata.Reading) {
	var snapshots []models.TickerRSI
	for _, r := range readings {
		if !r.OK() {
			continue
		}
		snapshots = append(snapshots, models.TickerRSI{
			Ticker:    r.Ticker,
			RSI14:     r.RSI,
			Close:     r.Close,
			DataDate:  r.DataDate,
			FetchedAt: r.FetchedAt,
		})
	}
	if err := models.UpsertTickerRSI(s.db, snapshots); err != nil {
		log.Printf("Error persisting RSI snapshots: %v", err)
	}
}

// processGuild runs one guild's full cycle against already-fetched readings:
// auto-scan change detection for both classes plus subscription evaluation.
// One cycle per guild at a time; overlapping cycles are rejected.
func (s *Scheduler) processGuild(guildID int64, cfg models.GuildConfig, region, trigger string, readings map[string]marketdata.Reading, summary marketdata.Summary, t time.Time) error {
	if !s.tryLock(guildID) {
		return ErrCycleBusy
	}
	defer s.unlock(guildID)

	scanDate := t.In(s.loc).Format("2006-01-02")
	result := &alerts.CycleResult{
		Trigger:   trigger,
		Region:    region,
		GuildID:   guildID,
		ScanDate:  scanDate,
		StartedAt: t,
		Fetch:     summary,
	}

	oversold, overbought := s.engine.QualifyingSets(cfg, readings)

	postOS, prevOS, err := s.detector.DetectChange(guildID, models.ClassOversold, alerts.EntryTickers(oversold), scanDate, t)
	if err != nil {
		return err
	}
	alerts.LabelEntries(oversold, prevOS)

	postOB, prevOB, err := s.detector.DetectChange(guildID, models.ClassOverbought, alerts.EntryTickers(overbought), scanDate, t)
	if err != nil {
		return err
	}
	alerts.LabelEntries(overbought, prevOB)

	fired, err := s.engine.EvaluateGuild(guildID, cfg, readings, t)
	if err != nil {
		return err
	}

	result.Oversold = oversold
	result.Overbought = overbought
	result.PostedOversold = postOS
	result.PostedOverbought = postOB
	result.SubscriptionAlerts = fired
	result.FinishedAt = s.now()
	result.BuildStatusSummary()

	s.deliver(result)
	return nil
}

// runDailyCheck evaluates a guild's subscriptions at its configured daily
// time, fetching only the tickers that guild subscribes to.
func (s *Scheduler) runDailyCheck(guildID int64, t time.Time) {
	cfg, err := models.GetOrCreateGuildConfig(s.db, guildID)
	if err != nil {
		log.Printf("Error loading config for guild %d: %v", guildID, err)
		return
	}
	if !cfg.ScheduleEnabled {
		return
	}

	tickers, err := models.DistinctSubscribedTickers(s.db, guildID)
	if err != nil {
		log.Printf("Error loading tickers for guild %d: %v", guildID, err)
		return
	}
	if len(tickers) == 0 {
		return
	}

	if !s.tryLock(guildID) {
		log.Printf("Guild %d daily check deferred: %v", guildID, ErrCycleBusy)
		s.deferDaily(guildID)
		return
	}
	defer s.unlock(guildID)

	readings, summary := s.fetcher.FetchReadings(context.Background(), tickers)
	s.persistSnapshots(readings)

	fired, err := s.engine.EvaluateGuild(guildID, cfg, readings, t)
	if err != nil {
		log.Printf("Guild %d daily evaluation failed: %v", guildID, err)
		return
	}

	result := &alerts.CycleResult{
		Trigger:            TriggerDaily,
		GuildID:            guildID,
		ScanDate:           t.In(s.loc).Format("2006-01-02"),
		StartedAt:          t,
		FinishedAt:         s.now(),
		SubscriptionAlerts: fired,
		Fetch:              summary,
	}
	result.BuildStatusSummary()
	s.deliver(result)
}

// RunNow runs a full cycle for one guild immediately. Manual triggers
// bypass the schedule-enabled gate but share the per-guild lock with
// scheduled cycles.
func (s *Scheduler) RunNow(guildID int64) (*alerts.CycleResult, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}
	cfg, err := models.GetOrCreateGuildConfig(s.db, guildID)
	if err != nil {
		return nil, err
	}

	if !s.tryLock(guildID) {
		return nil, ErrCycleBusy
	}
	defer s.unlock(guildID)

	t := s.now().In(s.loc)
	scanDate := t.Format("2006-01-02")

	// Manual runs cover the whole catalog plus this guild's subscriptions,
	// regardless of market region.
	seen := make(map[string]bool)
	var tickers []string
	for _, ticker := range s.catalog.AllTickers() {
		if !seen[ticker] {
			seen[ticker] = true
			tickers = append(tickers, ticker)
		}
	}
	subscribed, err := models.DistinctSubscribedTickers(s.db, guildID)
	if err != nil {
		return nil, err
	}
	for _, ticker := range subscribed {
		if !seen[ticker] {
			seen[ticker] = true
			tickers = append(tickers, ticker)
		}
	}
	if len(tickers) == 0 {
		return nil, errors.New("no tickers to scan")
	}

	readings, summary := s.fetcher.FetchReadings(context.Background(), tickers)
	s.persistSnapshots(readings)

	result := &alerts.CycleResult{
		Trigger:   TriggerManual,
		GuildID:   guildID,
		ScanDate:  scanDate,
		StartedAt: t,
		Fetch:     summary,
	}

	oversold, overbought := s.engine.QualifyingSets(cfg, readings)

	postOS, prevOS, err := s.detector.DetectChange(guildID, models.ClassOversold, alerts.EntryTickers(oversold), scanDate, t)
	if err != nil {
		return nil, err
	}
	alerts.LabelEntries(oversold, prevOS)

	postOB, prevOB, err := s.detector.DetectChange(guildID, models.ClassOverbought, alerts.EntryTickers(overbought), scanDate, t)
	if err != nil {
		return nil, err
	}
	alerts.LabelEntries(overbought, prevOB)

	fired, err := s.engine.EvaluateGuild(guildID, cfg, readings, t)
	if err != nil {
		return nil, err
	}

	result.Oversold = oversold
	result.Overbought = overbought
	result.PostedOversold = postOS
	result.PostedOverbought = postOB
	result.SubscriptionAlerts = fired
	result.FinishedAt = s.now()
	result.BuildStatusSummary()

	s.deliver(result)
	return result, nil
}

func (s *Scheduler) deliver(result *alerts.CycleResult) {
	log.Println(result.StatusSummary)
	if s.notifier != nil {
		s.notifier.Publish(result)
		s.notifier.PublishAlerts(result.SubscriptionAlerts)
	}
	if s.archiver != nil {
		s.archiver.Archive(context.Background(), result)
	}
}

// cleanupOldData purges expired scan states and stale RSI snapshots.
func (s *Scheduler) cleanupOldData() {
	log.Println("Cleaning up old data...")

	now := s.now().In(s.loc)
	cutoffDate := now.AddDate(0, 0, -scanStateRetentionDays).Format("2006-01-02")
	if n, err := models.PurgeAutoScanStates(s.db, cutoffDate); err != nil {
		log.Printf("Error purging scan states: %v", err)
	} else if n > 0 {
		log.Printf("Purged %d scan state rows older than %s", n, cutoffDate)
	}

	cutoff := now.AddDate(0, 0, -tickerRSIRetentionDays)
	if n, err := models.PurgeTickerRSI(s.db, cutoff); err != nil {
		log.Printf("Error purging RSI snapshots: %v", err)
	} else if n > 0 {
		log.Printf("Purged %d RSI snapshots not refreshed since %s", n, cutoff.Format("2006-01-02"))
	}
}

func (s *Scheduler) tryLock(guildID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[guildID] {
		return false
	}
	s.running[guildID] = true
	return true
}

func (s *Scheduler) unlock(guildID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, guildID)
}
