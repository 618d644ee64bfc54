package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/gameinstall-go/internal/domain"
	"github.com/yourusername/gameinstall-go/internal/infrastructure"
	"github.com/yourusername/gameinstall-go/internal/ratelimit"
	"github.com/yourusername/gameinstall-go/pkg/logger"
)

var (
	// ErrCannotPause is returned by Pause while archives are being extracted
	ErrCannotPause = errors.New("cannot pause while decompressing")

	// ErrEngineStarted is returned by a second Start
	ErrEngineStarted = errors.New("engine already started")
)

// Extractor unpacks an ordered list of archive volumes
type Extractor interface {
	Extract(ctx context.Context, paths []string, target string, onWrite func(n int64)) (int64, error)
}

// DiffApplier applies the delete and patch lists an archive leaves behind
type DiffApplier interface {
	Apply(ctx context.Context, installPath string) error
}

// LockFunc takes an exclusive lock on an install root
type LockFunc func(root string) (release func() error, err error)

// EngineDeps are the collaborators an engine uses
type EngineDeps struct {
	Downloader domain.PackageDownloader
	Limiter    *ratelimit.Limiter
	Extractor  Extractor
	Diff       DiffApplier
	Volumes    VolumeInspector
	Files      GameFileStore
	Lock       LockFunc
}

// EngineConfig tunes one engine
type EngineConfig struct {
	Workers            int
	BufferSize         int
	MaxChecksumRetries int
	CheckDiskSpace     bool
	Retry              infrastructure.RetryPolicy
}

// EngineConfigFrom derives the engine settings from the app config
func EngineConfigFrom(cfg *domain.Config) EngineConfig {
	return EngineConfig{
		Workers:            cfg.Install.Workers,
		BufferSize:         cfg.Install.BufferSize,
		MaxChecksumRetries: cfg.Install.MaxChecksumRetries,
		CheckDiskSpace:     cfg.Install.CheckDiskSpace,
		Retry:              infrastructure.RetryPolicyFromConfig(&cfg.HTTP),
	}
}

// EventType names an engine event
type EventType string

const (
	EventStateChanged EventType = "state_changed"
	EventProgress     EventType = "progress"
	EventPaused       EventType = "paused"
	EventContinued    EventType = "continued"
	EventFinished     EventType = "finished"
	EventFailed       EventType = "failed"
	EventCanceled     EventType = "canceled"
)

// IsTerminal reports whether the event ends the engine
func (t EventType) IsTerminal() bool {
	return t == EventFinished || t == EventFailed || t == EventCanceled
}

// Event is published to engine subscribers
type Event struct {
	Title    string              `json:"title"`
	Task     domain.InstallTask  `json:"task"`
	Type     EventType           `json:"type"`
	State    domain.InstallState `json:"state"`
	Paused   bool                `json:"paused"`
	Counters domain.Counters     `json:"counters"`
	Error    string              `json:"error,omitempty"`
	At       time.Time           `json:"at"`
}

// Engine runs the plan of one title: a state machine driving a fixed pool
// of workers over a shared item queue
type Engine struct {
	plan        *Plan
	deps        EngineDeps
	config      EngineConfig
	logger      *zap.Logger
	multiLogger *logger.MultiLogger

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	release  func() error

	mu      sync.Mutex
	state   domain.InstallState
	err     error
	queue   *workQueue
	started bool

	paused   atomic.Bool
	canceled atomic.Bool

	totalCount  atomic.Int64
	finishCount atomic.Int64
	totalBytes  atomic.Int64
	finishBytes atomic.Int64

	progressMu sync.Mutex
	written    map[string]int64

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
	closed  bool
}

// NewEngine creates an engine for plan. Nothing runs until Start.
func NewEngine(plan *Plan, deps EngineDeps, config EngineConfig, log *zap.Logger, multiLogger *logger.MultiLogger) *Engine {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.BufferSize < 1024 {
		config.BufferSize = 1 << 14
	}
	if config.Retry.MaxAttempts < 1 {
		config.Retry = infrastructure.DefaultRetryPolicy()
	}
	if log == nil {
		log = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		plan:        plan,
		deps:        deps,
		config:      config,
		logger:      log.With(zap.String("title", plan.Title.ID), zap.String("task", string(plan.Task))),
		multiLogger: multiLogger,
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		state:       domain.StateNone,
		written:     make(map[string]int64),
		subs:        make(map[int]chan Event),
	}
}

// Title returns the title the engine installs
func (e *Engine) Title() domain.Title { return e.plan.Title }

// Task returns the engine's fixed task
func (e *Engine) Task() domain.InstallTask { return e.plan.Task }

// Plan returns the plan the engine runs
func (e *Engine) Plan() *Plan { return e.plan }

// State returns the current state
func (e *Engine) State() domain.InstallState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the error that ended the engine, if any
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// IsPaused reports whether dequeuing is paused
func (e *Engine) IsPaused() bool {
	return e.paused.Load()
}

// Counters returns a snapshot of the progress counters of the current phase
func (e *Engine) Counters() domain.Counters {
	return domain.Counters{
		TotalCount:  e.totalCount.Load(),
		FinishCount: e.finishCount.Load(),
		TotalBytes:  e.totalBytes.Load(),
		FinishBytes: e.finishBytes.Load(),
	}
}

// Done is closed once the engine reached Finish or Error
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Wait blocks until the engine ends or ctx is done
func (e *Engine) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return e.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start checks disk space, locks the install root and launches the worker
// pool. Preflight failures move the engine to Error and are returned.
// Cancelling ctx cancels the engine.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return ErrEngineStarted
	}
	e.started = true
	e.mu.Unlock()

	if err := e.transition(domain.StateQueue); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, e.cancel)

	if e.multiLogger != nil {
		e.multiLogger.LogQueueEvent("engine_started",
			zap.String("title", e.plan.Title.ID),
			zap.String("task", string(e.plan.Task)),
			zap.Int("items", len(e.plan.Items)))
	}

	if err := e.preflight(); err != nil {
		stop()
		e.finish(err)
		return err
	}

	go func() {
		defer stop()
		e.finish(e.run())
	}()
	return nil
}

// Pause stops workers from taking new items. Items already in flight finish.
func (e *Engine) Pause() error {
	e.mu.Lock()
	state := e.state
	if state.IsTerminal() {
		e.mu.Unlock()
		return fmt.Errorf("engine already ended in %s", state)
	}
	if state == domain.StateDecompress {
		e.mu.Unlock()
		return ErrCannotPause
	}
	if e.paused.Swap(true) {
		e.mu.Unlock()
		return nil
	}
	if e.queue != nil {
		e.queue.SetPaused(true)
	}
	e.mu.Unlock()

	e.logger.Info("Install paused")
	e.publish(EventPaused, nil)
	return nil
}

// Continue resumes a paused engine on the same queue
func (e *Engine) Continue() error {
	e.mu.Lock()
	state := e.state
	if state.IsTerminal() {
		e.mu.Unlock()
		return fmt.Errorf("engine already ended in %s", state)
	}
	if !e.paused.Swap(false) {
		e.mu.Unlock()
		return nil
	}
	if e.queue != nil {
		e.queue.SetPaused(false)
	}
	e.mu.Unlock()

	e.logger.Info("Install continued")
	e.publish(EventContinued, nil)
	return nil
}

// Cancel stops the engine. Partial files stay on disk for a later resume.
func (e *Engine) Cancel() {
	if e.canceled.Swap(true) {
		return
	}
	e.logger.Info("Install canceled")
	e.cancel()

	e.mu.Lock()
	q := e.queue
	started := e.started
	e.mu.Unlock()
	if q != nil {
		q.Close()
	}
	if !started {
		e.finish(domain.ErrCanceled)
	}
}

// Subscribe returns a channel of engine events. Slow subscribers miss
// progress events rather than blocking workers. The channel is closed when
// the engine ends or the returned func is called.
func (e *Engine) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	e.subMu.Lock()
	defer e.subMu.Unlock()
	if e.closed {
		close(ch)
		return ch, func() {}
	}
	id := e.nextSub
	e.nextSub++
	e.subs[id] = ch

	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

func (e *Engine) publish(t EventType, err error) {
	ev := Event{
		Title:    e.plan.Title.ID,
		Task:     e.plan.Task,
		Type:     t,
		State:    e.State(),
		Paused:   e.paused.Load(),
		Counters: e.Counters(),
		At:       time.Now(),
	}
	if err != nil {
		ev.Error = err.Error()
	}

	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *Engine) closeSubscribers() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	e.closed = true
	for id, ch := range e.subs {
		delete(e.subs, id)
		close(ch)
	}
}

func (e *Engine) transition(next domain.InstallState) error {
	e.mu.Lock()
	cur := e.state
	if !cur.CanTransition(next) {
		e.mu.Unlock()
		return fmt.Errorf("invalid state transition %s -> %s", cur, next)
	}
	e.state = next
	e.mu.Unlock()

	e.logger.Debug("State changed",
		zap.String("from", string(cur)),
		zap.String("to", string(next)))
	e.publish(EventStateChanged, nil)
	return nil
}

// preflight locks the install root and checks the volume has room for
// everything the plan still has to write
func (e *Engine) preflight() error {
	root := e.plan.Title.InstallPath
	if err := os.MkdirAll(root, 0755); err != nil {
		return fmt.Errorf("failed to create install path: %w", err)
	}

	if e.deps.Lock != nil {
		release, err := e.deps.Lock(root)
		if err != nil {
			return fmt.Errorf("failed to lock install root: %w", err)
		}
		e.release = release
	}

	if e.config.CheckDiskSpace && e.deps.Volumes != nil {
		required := e.requiredBytes()
		free, err := e.deps.Volumes.FreeSpace(root)
		if err != nil {
			return fmt.Errorf("failed to check free space: %w", err)
		}
		if required > free {
			return &domain.DiskSpaceError{Path: root, Required: required, Available: free}
		}
		e.logger.Debug("Disk space checked",
			zap.Uint64("required", required),
			zap.Uint64("available", free))
	}
	return nil
}

// requiredBytes sums what downloads still have to fetch plus what
// extraction will write
func (e *Engine) requiredBytes() uint64 {
	var total int64
	for _, item := range e.plan.Items {
		if item.Type != domain.ItemDownload {
			continue
		}
		remaining := item.ExpectedLength()
		if item.WriteAsTempFile && stagedLength(item.Path) == remaining {
			continue
		}
		if info, err := os.Stat(item.WorkingPath()); err == nil && info.Size() <= remaining {
			remaining -= info.Size()
		}
		total += remaining
	}
	for _, item := range e.plan.Decompress {
		total += item.DecompressedSize
	}
	if total < 0 {
		return 0
	}
	return uint64(total)
}

// stagedLength returns the size of a finished file, or -1 when there is none
func stagedLength(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return -1
	}
	return info.Size()
}

// run drains the primary queue, then the decompress queue, then records the
// installed version
func (e *Engine) run() error {
	if err := e.runPhase(e.plan.Task.InitialState(), e.plan.Items); err != nil {
		return err
	}

	if len(e.plan.Decompress) > 0 {
		if err := e.runPhase(domain.StateDecompress, e.plan.Decompress); err != nil {
			return err
		}
	}

	if e.plan.Task.WritesVersion() && e.plan.Version != "" && e.deps.Files != nil {
		if err := e.deps.Files.WriteVersion(e.plan.Title.InstallPath, e.plan.Version); err != nil {
			return fmt.Errorf("failed to write game version: %w", err)
		}
	}
	return nil
}

func (e *Engine) runPhase(state domain.InstallState, items []domain.InstallItem) error {
	if err := e.ctx.Err(); err != nil {
		return err
	}
	e.resetCounters(state, items)

	q := newWorkQueue(items)
	e.mu.Lock()
	q.SetPaused(e.paused.Load())
	e.queue = q
	e.mu.Unlock()

	if err := e.transition(state); err != nil {
		return err
	}
	if e.multiLogger != nil {
		e.multiLogger.LogQueueEvent("phase_started",
			zap.String("title", e.plan.Title.ID),
			zap.String("state", string(state)),
			zap.Int("items", len(items)))
	}

	// archives share the diff lists in the install root
	workers := e.config.Workers
	if state == domain.StateDecompress {
		workers = 1
	}

	g, gctx := errgroup.WithContext(e.ctx)
	stop := context.AfterFunc(gctx, q.Close)
	defer stop()

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			return e.work(gctx, q)
		})
	}
	return g.Wait()
}

func (e *Engine) resetCounters(state domain.InstallState, items []domain.InstallItem) {
	var bytes int64
	for _, item := range items {
		bytes += itemWeight(state, item)
	}

	e.progressMu.Lock()
	e.written = make(map[string]int64, len(items))
	e.progressMu.Unlock()

	e.totalCount.Store(int64(len(items)))
	e.totalBytes.Store(bytes)
	e.finishCount.Store(0)
	e.finishBytes.Store(0)
}

// itemWeight is the number of bytes an item contributes to TotalBytes
func itemWeight(state domain.InstallState, item domain.InstallItem) int64 {
	if state == domain.StateDecompress {
		return decompressBudget(item)
	}
	return item.ExpectedLength()
}

func decompressBudget(item domain.InstallItem) int64 {
	if item.DecompressedSize > 0 {
		return item.DecompressedSize
	}
	return item.Size
}

func (e *Engine) work(ctx context.Context, q *workQueue) error {
	for {
		item, ok := q.Pop()
		if !ok {
			return ctx.Err()
		}
		err := e.process(ctx, q, item)
		q.Done()
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
				return err
			}
			e.logger.Error("Install item failed",
				zap.String("type", item.Type.String()),
				zap.String("path", item.Path),
				zap.String("url", item.URL),
				zap.Error(err))
			return fmt.Errorf("failed to %s %s: %w", item.Type, item.FileName(), err)
		}
		e.publish(EventProgress, nil)
	}
}

// process dispatches an item to the handler of its type
func (e *Engine) process(ctx context.Context, q *workQueue, item domain.InstallItem) error {
	switch item.Type {
	case domain.ItemDownload:
		return e.download(ctx, item)
	case domain.ItemVerify:
		return e.verify(ctx, q, item)
	case domain.ItemDecompress:
		return e.decompress(ctx, item)
	case domain.ItemHardLink:
		return e.hardLink(ctx, q, item)
	default:
		return fmt.Errorf("unknown item type %s", item.Type)
	}
}

// advanceTo credits FinishBytes up to pos bytes of the item at path. Each
// byte position is credited once, so rewrites after a restart add nothing.
func (e *Engine) advanceTo(path string, pos, limit int64) {
	if pos > limit {
		pos = limit
	}
	e.progressMu.Lock()
	prev := e.written[path]
	if pos > prev {
		e.written[path] = pos
		e.finishBytes.Add(pos - prev)
	}
	e.progressMu.Unlock()
}

// complete counts a finished item, crediting any bytes not seen yet
func (e *Engine) complete(path string, weight int64) {
	e.advanceTo(path, weight, weight)
	e.finishCount.Add(1)
}

// requeue puts follow-up work for an item on the queue
func (e *Engine) requeue(q *workQueue, item domain.InstallItem) {
	e.logger.Debug("Install item requeued",
		zap.String("type", item.Type.String()),
		zap.String("path", item.Path))

	if item.Type == domain.ItemDownload {
		e.mu.Lock()
		verifying := e.state == domain.StateVerify
		e.mu.Unlock()
		if verifying {
			if err := e.transition(domain.StateDownload); err != nil {
				e.logger.Warn("State change skipped", zap.Error(err))
			}
		}
	}
	q.Push(item)
}

// finish moves the engine to its terminal state exactly once
func (e *Engine) finish(err error) {
	e.doneOnce.Do(func() {
		if e.release != nil {
			if rerr := e.release(); rerr != nil {
				e.logger.Warn("Failed to release install lock", zap.Error(rerr))
			}
		}

		event := EventFinished
		switch {
		case e.canceled.Load(), err != nil && errors.Is(err, context.Canceled):
			err = domain.ErrCanceled
			event = EventCanceled
		case err != nil:
			event = EventFailed
		}

		e.mu.Lock()
		e.err = err
		if e.queue != nil {
			e.queue.Close()
		}
		e.mu.Unlock()

		next := domain.StateFinish
		if err != nil {
			next = domain.StateError
		}
		if terr := e.transition(next); terr != nil {
			// force the terminal state so watchers never hang
			e.mu.Lock()
			e.state = next
			e.mu.Unlock()
		}

		switch event {
		case EventFinished:
			e.logger.Info("Install finished", zap.Int64("bytes", e.finishBytes.Load()))
		case EventCanceled:
			e.logger.Info("Install stopped", zap.Int64("bytes", e.finishBytes.Load()))
		default:
			e.logger.Error("Install failed", zap.Error(err))
		}
		if e.multiLogger != nil {
			e.multiLogger.LogQueueEvent("engine_"+string(event),
				zap.String("title", e.plan.Title.ID),
				zap.String("task", string(e.plan.Task)))
		}

		e.publish(event, err)
		e.cancel()
		e.closeSubscribers()
		close(e.done)
	})
}
