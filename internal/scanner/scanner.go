// Package scanner schedules and runs feed scans.
package scanner

import (
	"context"
	"log"
	"sync"
	"time"

	"storyscan/internal/config"
	"storyscan/internal/fetch"
	"storyscan/internal/limiter"
	"storyscan/internal/scan"
	"storyscan/internal/site"
	"storyscan/internal/snapshot"
	"storyscan/internal/store"
)

// tick is how often the scheduler looks for due feeds.
const tick = 60 * time.Second

// Activity states shown on the scoreboard.
const (
	ActivityScanning = "scanning"
	ActivitySaving   = "saving"
)

// Status is a point-in-time scoreboard of the scanner.
type Status struct {
	Online    bool              `json:"online"`
	Running   bool              `json:"running"`
	Started   int64             `json:"started,omitempty"`  // unix ms, current batch start
	Finished  int64             `json:"finished,omitempty"` // unix ms, last batch completion
	Completed int               `json:"completed"`
	Queued    int               `json:"queued"`
	Active    map[string]string `json:"active"`
}

type feedState struct {
	conf    *config.Feed
	feedID  int64
	adapter site.Site
	path    string
	lastRun time.Time
}

// Scanner owns the feed table and drives scans through a shared concurrency
// limit. All exported methods are safe for concurrent use.
type Scanner struct {
	cfg     *config.Config
	st      store.Store
	fetchFn fetch.Func
	limit   *limiter.Limiter

	mu        sync.Mutex
	feeds     []*feedState
	active    map[string]string
	started   time.Time
	finished  time.Time
	completed int
	queued    int
	stopped   bool

	wg sync.WaitGroup
}

// New builds a scanner over the configured feeds. Nothing runs until Init
// and Run or RunOnce are called.
func New(cfg *config.Config, st store.Store, fetchFn fetch.Func) *Scanner {
	return &Scanner{
		cfg:     cfg,
		st:      st,
		fetchFn: fetchFn,
		limit:   limiter.New(cfg.ScanLimit),
		active:  map[string]string{},
	}
}

// Init registers every configured feed in the store and, for feeds the store
// has never scanned, replays their snapshot file so an empty database can be
// rebuilt without refetching anything.
func (s *Scanner) Init(ctx context.Context) error {
	for _, conf := range s.cfg.Feeds {
		adapter, err := site.ForEngine(conf.Engine, conf.Link)
		if err != nil {
			return err
		}
		feedID, err := s.st.AddFeed(ctx, conf.Name, conf.Tags)
		if err != nil {
			return err
		}

		fs := &feedState{
			conf:    conf,
			feedID:  feedID,
			adapter: adapter,
			path:    s.cfg.SnapshotPath(conf),
		}

		lastScan, err := s.st.LastScan(ctx, feedID)
		if err != nil {
			return err
		}
		if lastScan == 0 {
			found, err := snapshot.Load(ctx, s.st, feedID, fs.path)
			if err != nil {
				return err
			}
			if found {
				log.Printf("[scanner] feed %s: restored snapshot %s", conf.Name, fs.path)
			}
		}
		s.feeds = append(s.feeds, fs)
	}
	return nil
}

// RunOnce scans every due feed and returns when all of them have finished.
func (s *Scanner) RunOnce(ctx context.Context) {
	s.runBatch(ctx, true)
	s.wg.Wait()
}

// Run scans due feeds on a fixed tick until ctx is cancelled, then waits for
// scans already dispatched to finish. If now is set, every feed counts as due
// on the first pass regardless of its schedule.
func (s *Scanner) Run(ctx context.Context, now bool) {
	s.runBatch(ctx, now)

	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()
			s.wg.Wait()
			return
		case <-t.C:
			s.runBatch(ctx, false)
		}
	}
}

// runBatch dispatches one scan goroutine per due feed. Feeds already queued
// or active are left alone.
func (s *Scanner) runBatch(ctx context.Context, force bool) {
	now := time.Now()

	// The stop signal gates dispatch only. A feed that made it into a
	// batch finishes its scan, watermark write and snapshot save even if
	// ctx is cancelled mid-run.
	scanCtx := context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	for _, fs := range s.feeds {
		if _, busy := s.active[fs.conf.Name]; busy {
			continue
		}
		if !force && !due(fs, now) {
			continue
		}
		if s.queued == 0 && len(s.active) == 0 {
			s.started = now
		}
		fs.lastRun = now
		s.queued++
		s.wg.Add(1)
		go s.scanFeed(scanCtx, fs)
	}
}

func due(fs *feedState, now time.Time) bool {
	if fs.lastRun.IsZero() {
		return true
	}
	return now.Sub(fs.lastRun) >= time.Duration(fs.conf.Schedule)*time.Second
}

func (s *Scanner) scanFeed(ctx context.Context, fs *feedState) {
	defer s.wg.Done()

	started := false
	err := s.limit.Do(ctx, func() error {
		started = true
		s.setActivity(fs.conf.Name, ActivityScanning)
		defer s.clearActivity(fs.conf.Name)

		scanErr := scan.Update(ctx, s.fetchFn, s.st, fs.feedID, fs.conf, fs.adapter)
		if scanErr != nil {
			log.Printf("[scanner] feed %s: skipping due to error: %v", fs.conf.Name, scanErr)
		}
		// the scan ran, whatever it found
		if err := s.st.SetLastScan(ctx, fs.feedID, time.Now().Unix()); err != nil {
			return err
		}

		s.setActivity(fs.conf.Name, ActivitySaving)
		return snapshot.Save(ctx, s.st, fs.feedID, fs.path)
	})
	if err != nil {
		log.Printf("[scanner] feed %s: %v", fs.conf.Name, err)
	}

	s.mu.Lock()
	if !started {
		s.queued--
	}
	s.completed++
	if s.queued == 0 && len(s.active) == 0 {
		s.finished = time.Now()
	}
	s.mu.Unlock()
}

// setActivity marks a feed's current phase, moving it out of the queued
// count the first time it starts scanning.
func (s *Scanner) setActivity(name, state string) {
	s.mu.Lock()
	if state == ActivityScanning {
		s.queued--
	}
	s.active[name] = state
	s.mu.Unlock()
}

func (s *Scanner) clearActivity(name string) {
	s.mu.Lock()
	delete(s.active, name)
	s.mu.Unlock()
}

// Status snapshots the scoreboard.
func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := make(map[string]string, len(s.active))
	for k, v := range s.active {
		active[k] = v
	}
	st := Status{
		Online:    !s.stopped,
		Running:   s.queued > 0 || len(s.active) > 0,
		Completed: s.completed,
		Queued:    s.queued,
		Active:    active,
	}
	if st.Running {
		st.Started = s.started.UnixMilli()
	}
	if !s.finished.IsZero() {
		st.Finished = s.finished.UnixMilli()
	}
	return st
}
