package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	loaderrors "chatload/errors"
	"chatload/metrics"
	"chatload/models"
	"chatload/websocket"

	"github.com/alphadose/haxmap"
)

const DefaultProgressInterval = 10 * time.Second

type activeUser struct {
	vu     *VirtualUser
	cancel context.CancelFunc
}

// Scheduler keeps the number of live virtual users on the staged ramp.
type Scheduler struct {
	stages []models.Stage
	tick   time.Duration
	opts   SessionOptions
	dialer *websocket.Dialer
	sink   *metrics.Sink
	logger *models.LoadLogger

	// ProgressInterval controls the periodic progress log; 0 disables it.
	ProgressInterval time.Duration

	users *haxmap.Map[int, *activeUser]
	// order and all are only touched by the Run goroutine.
	order  []int
	all    []*VirtualUser
	nextID int
	stage  int

	running       atomic.Bool
	startedAt     atomic.Int64
	desired       atomic.Int64
	spawned       atomic.Int64
	peak          atomic.Int64
	sessionErrors atomic.Int64
	wg            sync.WaitGroup
}

func NewScheduler(cfg *models.Config, sink *metrics.Sink, logger *models.LoadLogger) *Scheduler {
	stages := append([]models.Stage(nil), cfg.Stages...)
	return &Scheduler{
		stages:           stages,
		tick:             cfg.Scheduler.TickInterval.Duration,
		opts:             NewSessionOptions(cfg),
		dialer:           websocket.NewDialer(cfg.Target.HandshakeTimeout.Duration),
		sink:             sink,
		logger:           logger,
		ProgressInterval: DefaultProgressInterval,
		users:            haxmap.New[int, *activeUser](),
		stage:            -1,
	}
}

// RunResult is what a finished run reports.
type RunResult struct {
	StartedAt     time.Time                   `json:"started_at"`
	FinishedAt    time.Time                   `json:"finished_at"`
	Elapsed       time.Duration               `json:"elapsed"`
	Spawned       int                         `json:"spawned"`
	PeakActive    int                         `json:"peak_active"`
	SessionErrors int                         `json:"session_errors"`
	States        map[models.SessionState]int `json:"states"`
	Interrupted   bool                        `json:"interrupted"`
}

// Run drives the whole profile and blocks until every session has drained.
// Cancelling ctx ends the run early; the partial result is still returned.
func (s *Scheduler) Run(ctx context.Context) (*RunResult, error) {
	if err := models.ValidateStages(s.stages); err != nil {
		return nil, loaderrors.NewConfigError(err)
	}
	if s.tick <= 0 {
		return nil, loaderrors.NewConfigError(errors.New("tick interval must be greater than 0"))
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, errors.New("scheduler is already running")
	}
	defer s.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := time.Now()
	s.startedAt.Store(start.UnixNano())
	total := models.TotalDuration(s.stages)

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	deadline := time.NewTimer(total)
	defer deadline.Stop()

	var progress <-chan time.Time
	if s.ProgressInterval > 0 {
		t := time.NewTicker(s.ProgressInterval)
		defer t.Stop()
		progress = t.C
	}

	interrupted := false
	s.reconcile(runCtx, 0)

loop:
	for {
		select {
		case <-ctx.Done():
			interrupted = true
			break loop
		case <-deadline.C:
			s.reconcile(runCtx, total)
			break loop
		case <-ticker.C:
			s.reconcile(runCtx, time.Since(start))
		case <-progress:
			s.logger.Info("%s", metrics.ProgressLine(s.sink.Snapshot(), s.Active()))
		}
	}

	s.retireAll()
	s.wg.Wait()
	s.sink.SetGauge(metrics.MetricVUs, 0)

	finished := time.Now()
	result := &RunResult{
		StartedAt:     start,
		FinishedAt:    finished,
		Elapsed:       finished.Sub(start),
		Spawned:       int(s.spawned.Load()),
		PeakActive:    int(s.peak.Load()),
		SessionErrors: int(s.sessionErrors.Load()),
		States:        make(map[models.SessionState]int),
		Interrupted:   interrupted,
	}
	for _, vu := range s.all {
		result.States[vu.State()]++
	}

	return result, nil
}

func (s *Scheduler) reconcile(ctx context.Context, elapsed time.Duration) {
	desired := TargetAt(s.stages, elapsed)
	s.desired.Store(int64(desired))

	if idx := StageIndex(s.stages, elapsed); idx != s.stage && idx < len(s.stages) {
		s.stage = idx
		s.logger.LogStageChange(idx+1, s.stages[idx].Target)
	}

	for len(s.order) < desired {
		s.spawn(ctx)
	}
	for len(s.order) > desired {
		s.retireNewest()
	}

	active := len(s.order)
	if int64(active) > s.peak.Load() {
		s.peak.Store(int64(active))
	}
	s.sink.SetGauge(metrics.MetricVUs, float64(active))
}

func (s *Scheduler) spawn(ctx context.Context) {
	s.nextID++
	id := s.nextID

	userCtx, cancel := context.WithCancel(ctx)
	vu := NewVirtualUser(id, s.opts, s.dialer, s.sink, s.logger)
	s.users.Set(id, &activeUser{vu: vu, cancel: cancel})
	s.order = append(s.order, id)
	s.all = append(s.all, vu)
	s.spawned.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		if err := vu.Run(userCtx); err != nil {
			s.sessionErrors.Add(1)
		}
	}()
}

// retireNewest cancels the most recently spawned user.
func (s *Scheduler) retireNewest() {
	last := len(s.order) - 1
	id := s.order[last]
	s.order = s.order[:last]

	if u, ok := s.users.Get(id); ok {
		u.cancel()
		s.users.Del(id)
	}
}

func (s *Scheduler) retireAll() {
	for len(s.order) > 0 {
		s.retireNewest()
	}
}

// Active returns the number of users currently holding a slot.
func (s *Scheduler) Active() int {
	return int(s.users.Len())
}

// Status is a snapshot of the scheduler for the monitor API.
type Status struct {
	Running bool                        `json:"running"`
	Elapsed time.Duration               `json:"elapsed"`
	Desired int                         `json:"desired"`
	Active  int                         `json:"active"`
	Spawned int                         `json:"spawned"`
	States  map[models.SessionState]int `json:"states"`
	Users   []VirtualUserInfo           `json:"users,omitempty"`
}

// Status may be called from any goroutine while Run is in progress.
// maxUsers bounds the per-user detail; 0 omits it.
func (s *Scheduler) Status(maxUsers int) Status {
	st := Status{
		Running: s.running.Load(),
		Desired: int(s.desired.Load()),
		Spawned: int(s.spawned.Load()),
		States:  make(map[models.SessionState]int),
	}
	if started := s.startedAt.Load(); started > 0 && st.Running {
		st.Elapsed = time.Since(time.Unix(0, started))
	}

	s.users.ForEach(func(id int, u *activeUser) bool {
		st.Active++
		st.States[u.vu.State()]++
		if maxUsers > 0 {
			st.Users = append(st.Users, u.vu.Info())
		}
		return true
	})

	sort.Slice(st.Users, func(i, j int) bool { return st.Users[i].ID < st.Users[j].ID })
	if maxUsers > 0 && len(st.Users) > maxUsers {
		st.Users = st.Users[:maxUsers]
	}

	return st
}
