package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/internal/domain"
	"github.com/yourusername/gameinstall-go/internal/ratelimit"
	"github.com/yourusername/gameinstall-go/pkg/logger"
)

// RegistryEventType names a registry lifecycle event
type RegistryEventType string

const (
	InstallTaskAdded   RegistryEventType = "InstallTaskAdded"
	InstallTaskRemoved RegistryEventType = "InstallTaskRemoved"
)

// RegistryEvent announces an engine joining or leaving the registry
type RegistryEvent struct {
	Type   RegistryEventType   `json:"type"`
	Title  string              `json:"title"`
	Task   domain.InstallTask  `json:"task"`
	Status domain.RecordStatus `json:"status,omitempty"`
	Error  string              `json:"error,omitempty"`
	At     time.Time           `json:"at"`
}

// Notifier tells the user about install milestones
type Notifier interface {
	NotifyInstallStarted(title string, task domain.InstallTask)
	NotifyInstallFinished(title string, task domain.InstallTask)
	NotifyInstallFailed(title string, task domain.InstallTask, err error)
}

// StartRequest asks the registry to run a task for a title
type StartRequest struct {
	Title     string             `json:"title" binding:"required"`
	Task      domain.InstallTask `json:"task" binding:"required"`
	LinkTitle string             `json:"link_title,omitempty"`
}

// InstallInfo describes one active engine
type InstallInfo struct {
	Title     string             `json:"title"`
	Task      domain.InstallTask `json:"task"`
	Version   string             `json:"version,omitempty"`
	RecordID  string             `json:"record_id,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	Progress  ProgressSnapshot   `json:"progress"`
}

type activeInstall struct {
	engine    *Engine
	progress  *ProgressAdapter
	record    *domain.InstallRecord
	startedAt time.Time
	stop      context.CancelFunc
}

// Registry owns the active engines, at most one per title, and the rate
// limiter they all share
type Registry struct {
	config      *domain.Config
	planner     *Planner
	resolver    *Resolver
	deps        EngineDeps
	limiter     *ratelimit.Limiter
	repo        domain.InstallRecordRepository
	notifier    Notifier
	logger      *zap.Logger
	multiLogger *logger.MultiLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	engines map[string]*activeInstall

	subMu   sync.Mutex
	subs    map[int]chan RegistryEvent
	nextSub int
}

// NewRegistry creates a registry. deps.Limiter is replaced by the limiter
// the registry owns.
func NewRegistry(
	config *domain.Config,
	planner *Planner,
	resolver *Resolver,
	deps EngineDeps,
	repo domain.InstallRecordRepository,
	notifier Notifier,
	log *zap.Logger,
	multiLogger *logger.MultiLogger,
) *Registry {
	if log == nil {
		log = zap.NewNop()
	}
	limiter := ratelimit.New(config.RateLimit.BytesPerSecond, config.Install.BufferSize)
	deps.Limiter = limiter

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		config:      config,
		planner:     planner,
		resolver:    resolver,
		deps:        deps,
		limiter:     limiter,
		repo:        repo,
		notifier:    notifier,
		logger:      log,
		multiLogger: multiLogger,
		ctx:         ctx,
		cancel:      cancel,
		engines:     make(map[string]*activeInstall),
		subs:        make(map[int]chan RegistryEvent),
	}
}

// Titles returns the configured titles
func (r *Registry) Titles() []domain.Title {
	return append([]domain.Title(nil), r.config.Titles...)
}

// Resolver returns the manifest resolver
func (r *Registry) Resolver() *Resolver {
	return r.resolver
}

// StartInstall plans and starts a task for a title
func (r *Registry) StartInstall(ctx context.Context, req StartRequest) (*InstallInfo, error) {
	title, ok := r.config.FindTitle(req.Title)
	if !ok {
		return nil, fmt.Errorf("%w: title %q", domain.ErrNotFound, req.Title)
	}
	task, err := domain.ParseInstallTask(string(req.Task))
	if err != nil {
		return nil, err
	}
	if _, running := r.Get(title.ID); running {
		return nil, fmt.Errorf("%w: %s", domain.ErrInstallInProgress, title.ID)
	}

	planReq := PlanRequest{Title: title, Task: task}
	if task == domain.TaskHardLink {
		link, ok := r.config.FindTitle(req.LinkTitle)
		if !ok {
			return nil, fmt.Errorf("%w: link title %q", domain.ErrNotFound, req.LinkTitle)
		}
		planReq.LinkTitle = &link
	}

	plan, err := r.planner.Build(ctx, planReq)
	if err != nil {
		return nil, err
	}

	engine := NewEngine(plan, r.deps, EngineConfigFrom(r.config), r.logger, r.multiLogger)
	if err := r.AddInstallService(engine); err != nil {
		return nil, err
	}

	if err := engine.Start(r.ctx); err != nil {
		// watch removes the failed engine
		return nil, err
	}

	info, _ := r.Info(title.ID)
	if info == nil {
		info = &InstallInfo{Title: title.ID, Task: task, Version: plan.Version}
	}
	return info, nil
}

// AddInstallService registers an engine and starts watching it. A second
// engine for the same title is rejected.
func (r *Registry) AddInstallService(engine *Engine) error {
	title := engine.Title().ID

	r.mu.Lock()
	if _, exists := r.engines[title]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrInstallInProgress, title)
	}

	record := domain.NewInstallRecord(title, engine.Task(), engine.Plan().Version)
	if r.repo != nil {
		if err := r.repo.Create(record); err != nil {
			r.logger.Warn("Failed to create install record", zap.String("title", title), zap.Error(err))
		}
	}

	ctx, stop := context.WithCancel(r.ctx)
	entry := &activeInstall{
		engine:    engine,
		progress:  NewProgressAdapter(title, engine),
		record:    record,
		startedAt: time.Now(),
		stop:      stop,
	}
	r.engines[title] = entry
	r.mu.Unlock()

	events, unsubscribe := engine.Subscribe(16)
	r.wg.Add(2)
	go func() {
		defer r.wg.Done()
		defer unsubscribe()
		entry.progress.Run(ctx, r.config.Progress.Interval, events)
	}()
	go func() {
		defer r.wg.Done()
		r.watch(entry)
	}()

	if r.multiLogger != nil {
		r.multiLogger.LogQueueEvent("install_added",
			zap.String("title", title),
			zap.String("task", string(engine.Task())))
	}
	if r.notifier != nil {
		r.notifier.NotifyInstallStarted(engine.Title().Name, engine.Task())
	}
	r.publish(RegistryEvent{Type: InstallTaskAdded, Title: title, Task: engine.Task(), At: time.Now()})
	return nil
}

// watch waits for an engine to end, records the outcome and removes it
func (r *Registry) watch(entry *activeInstall) {
	engine := entry.engine
	<-engine.Done()

	entry.progress.Tick()
	entry.stop()

	title := engine.Title()
	err := engine.Err()
	record := entry.record
	record.UpdateProgress(engine.Counters())

	switch {
	case err == nil:
		record.MarkFinished()
		if r.notifier != nil {
			r.notifier.NotifyInstallFinished(title.Name, engine.Task())
		}
	case errors.Is(err, domain.ErrCanceled):
		record.MarkCanceled()
	default:
		record.MarkFailed(err)
		if r.notifier != nil {
			r.notifier.NotifyInstallFailed(title.Name, engine.Task(), err)
		}
		if r.multiLogger != nil {
			r.multiLogger.LogAppError("Install failed",
				zap.String("title", title.ID),
				zap.String("task", string(engine.Task())),
				zap.Error(err))
		}
	}

	if r.repo != nil {
		if uerr := r.repo.Update(record); uerr != nil {
			r.logger.Warn("Failed to update install record", zap.String("title", title.ID), zap.Error(uerr))
		}
	}

	r.mu.Lock()
	if cur, ok := r.engines[title.ID]; ok && cur == entry {
		delete(r.engines, title.ID)
	}
	r.mu.Unlock()

	if r.multiLogger != nil {
		r.multiLogger.LogQueueEvent("install_removed",
			zap.String("title", title.ID),
			zap.String("status", string(record.Status)))
	}
	ev := RegistryEvent{
		Type:   InstallTaskRemoved,
		Title:  title.ID,
		Task:   engine.Task(),
		Status: record.Status,
		At:     time.Now(),
	}
	if err != nil {
		ev.Error = domain.UserMessage(err)
	}
	r.publish(ev)
}

// Get returns the active engine of a title
func (r *Registry) Get(title string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.engines[title]
	if !ok {
		return nil, false
	}
	return entry.engine, true
}

func (r *Registry) entry(title string) (*activeInstall, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.engines[title]
	if !ok {
		return nil, fmt.Errorf("%w: no active install for %s", domain.ErrNotFound, title)
	}
	return entry, nil
}

// Info returns the description of one active engine
func (r *Registry) Info(title string) (*InstallInfo, error) {
	entry, err := r.entry(title)
	if err != nil {
		return nil, err
	}
	return entry.info(), nil
}

func (a *activeInstall) info() *InstallInfo {
	info := &InstallInfo{
		Title:     a.engine.Title().ID,
		Task:      a.engine.Task(),
		Version:   a.engine.Plan().Version,
		StartedAt: a.startedAt,
		Progress:  a.progress.Snapshot(),
	}
	if a.record != nil {
		info.RecordID = a.record.ID
	}
	return info
}

// List returns every active engine ordered by title
func (r *Registry) List() []*InstallInfo {
	r.mu.RLock()
	infos := make([]*InstallInfo, 0, len(r.engines))
	for _, entry := range r.engines {
		infos = append(infos, entry.info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Title < infos[j].Title })
	return infos
}

// Pause pauses the engine of a title
func (r *Registry) Pause(title string) error {
	entry, err := r.entry(title)
	if err != nil {
		return err
	}
	return entry.engine.Pause()
}

// Continue resumes the engine of a title
func (r *Registry) Continue(title string) error {
	entry, err := r.entry(title)
	if err != nil {
		return err
	}
	return entry.engine.Continue()
}

// Cancel stops the engine of a title. It is removed once it has wound down.
func (r *Registry) Cancel(title string) error {
	entry, err := r.entry(title)
	if err != nil {
		return err
	}
	entry.engine.Cancel()
	return nil
}

// SubscribeInstall streams the events of one engine
func (r *Registry) SubscribeInstall(title string, buffer int) (<-chan Event, func(), error) {
	entry, err := r.entry(title)
	if err != nil {
		return nil, nil, err
	}
	ch, unsubscribe := entry.engine.Subscribe(buffer)
	return ch, unsubscribe, nil
}

// Progress returns the latest progress snapshot of a title
func (r *Registry) Progress(title string) (ProgressSnapshot, error) {
	entry, err := r.entry(title)
	if err != nil {
		return ProgressSnapshot{}, err
	}
	return entry.progress.Snapshot(), nil
}

// Speed returns the combined smoothed speed of all engines in bytes/sec
func (r *Registry) Speed() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var total float64
	for _, entry := range r.engines {
		total += entry.progress.Snapshot().Speed
	}
	return total
}

// SetRateLimit changes the shared bandwidth ceiling. 0 removes it.
func (r *Registry) SetRateLimit(bytesPerSecond int64) error {
	if bytesPerSecond < 0 {
		return fmt.Errorf("rate limit must be >= 0, got %d", bytesPerSecond)
	}
	r.limiter.SetLimit(bytesPerSecond)
	r.logger.Info("Rate limit changed", zap.Int64("bytes_per_second", bytesPerSecond))
	return nil
}

// RateLimit returns the current ceiling in bytes per second, 0 when unlimited
func (r *Registry) RateLimit() int64 {
	return r.limiter.Limit()
}

// CheckPreDownload reports whether a title's pre-download is fully staged
func (r *Registry) CheckPreDownload(ctx context.Context, titleID string) (bool, error) {
	title, ok := r.config.FindTitle(titleID)
	if !ok {
		return false, fmt.Errorf("%w: title %q", domain.ErrNotFound, titleID)
	}
	return r.resolver.CheckPreDownloadComplete(ctx, title)
}

// History returns persisted install records
func (r *Registry) History(filters map[string]interface{}) ([]*domain.InstallRecord, error) {
	if r.repo == nil {
		return nil, nil
	}
	return r.repo.FindAll(filters)
}

// HistoryStats returns counts of persisted install records
func (r *Registry) HistoryStats() (*domain.InstallStats, error) {
	if r.repo == nil {
		return &domain.InstallStats{}, nil
	}
	return r.repo.GetStats()
}

// Subscribe streams registry lifecycle events. The channel is closed by the
// returned func.
func (r *Registry) Subscribe(buffer int) (<-chan RegistryEvent, func()) {
	ch := make(chan RegistryEvent, buffer)
	r.subMu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.subMu.Unlock()

	return ch, func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
}

func (r *Registry) publish(ev RegistryEvent) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Shutdown cancels every engine and waits for them to be removed
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	for _, entry := range r.engines {
		entry.engine.Cancel()
	}
	r.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		return ctx.Err()
	}
}
