package app

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yourusername/gameinstall-go/internal/domain"
)

const (
	speedSamples      = 9
	speedTolerance    = 0.25
	maxSpeedDiscards  = 3
	defaultTickPeriod = time.Second
)

// ProgressSource is what the adapter samples on every tick
type ProgressSource interface {
	State() domain.InstallState
	IsPaused() bool
	Counters() domain.Counters
}

// ProgressSnapshot is the display state of one engine
type ProgressSnapshot struct {
	Title     string              `json:"title"`
	State     domain.InstallState `json:"state"`
	StateText string              `json:"state_text"`
	Paused    bool                `json:"paused"`
	CanPause  bool                `json:"can_pause"`
	Percent   float64             `json:"percent"`
	Text      string              `json:"text"`
	Speed     float64             `json:"speed"`
	SpeedText string              `json:"speed_text"`
	ETA       time.Duration       `json:"eta"`
	ETAText   string              `json:"eta_text,omitempty"`
	Counters  domain.Counters     `json:"counters"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// ProgressAdapter turns raw engine counters into percentages, text, a
// smoothed speed and an ETA
type ProgressAdapter struct {
	title string
	src   ProgressSource
	now   func() time.Time

	mu        sync.Mutex
	samples   []float64
	discards  int
	lastBytes int64
	lastAt    time.Time
	lastState domain.InstallState
	snapshot  ProgressSnapshot
}

// NewProgressAdapter creates an adapter for one engine
func NewProgressAdapter(title string, src ProgressSource) *ProgressAdapter {
	return &ProgressAdapter{
		title: title,
		src:   src,
		now:   time.Now,
	}
}

// Run ticks every interval until ctx is done. Engine events, when given,
// trigger an extra tick so state changes show up without waiting.
func (p *ProgressAdapter) Run(ctx context.Context, interval time.Duration, events <-chan Event) {
	if interval <= 0 {
		interval = defaultTickPeriod
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.Tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick()
		case ev, ok := <-events:
			if !ok {
				events = nil
				p.Tick()
				continue
			}
			if ev.Type != EventProgress {
				p.Tick()
			}
		}
	}
}

// Snapshot returns the result of the last tick
func (p *ProgressAdapter) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot
}

// Tick samples the source and recomputes the snapshot
func (p *ProgressAdapter) Tick() ProgressSnapshot {
	state := p.src.State()
	paused := p.src.IsPaused()
	c := p.src.Counters()
	now := p.now()

	p.mu.Lock()
	defer p.mu.Unlock()

	// a new phase restarts the counters
	if state != p.lastState || c.FinishBytes < p.lastBytes {
		p.resetSpeed()
		p.lastBytes = c.FinishBytes
		p.lastAt = now
		p.lastState = state
	}

	if paused || !state.IsWorking() {
		p.resetSpeed()
		p.lastBytes = c.FinishBytes
		p.lastAt = now
	} else if elapsed := now.Sub(p.lastAt).Seconds(); elapsed > 0 {
		p.addSample(float64(c.FinishBytes-p.lastBytes) / elapsed)
		p.lastBytes = c.FinishBytes
		p.lastAt = now
	}

	speed := p.speed()
	snap := ProgressSnapshot{
		Title:     p.title,
		State:     state,
		StateText: StateText(state, paused),
		Paused:    paused,
		CanPause:  state != domain.StateDecompress && !state.IsTerminal(),
		Percent:   percent(state, c),
		Text:      progressText(state, c),
		Speed:     speed,
		Counters:  c,
		UpdatedAt: now,
	}
	if speed > 0 {
		snap.SpeedText = humanize.IBytes(uint64(speed)) + "/s"
		if remaining := c.TotalBytes - c.FinishBytes; remaining > 0 {
			snap.ETA = time.Duration(float64(remaining) / speed * float64(time.Second)).Round(time.Second)
			snap.ETAText = snap.ETA.String()
		}
	}
	p.snapshot = snap
	return snap
}

// addSample keeps instantaneous speeds within 25% of the rolling mean.
// Three rejected samples in a row mean the rate really changed, so the
// window restarts from the new sample.
func (p *ProgressAdapter) addSample(v float64) {
	mean := p.speed()
	if len(p.samples) == 0 || mean == 0 {
		p.samples = append(p.samples[:0], v)
		p.discards = 0
		return
	}
	if math.Abs(v-mean) > speedTolerance*mean {
		p.discards++
		if p.discards >= maxSpeedDiscards {
			p.samples = append(p.samples[:0], v)
			p.discards = 0
		}
		return
	}
	p.discards = 0
	p.samples = append(p.samples, v)
	if len(p.samples) > speedSamples {
		p.samples = p.samples[len(p.samples)-speedSamples:]
	}
}

func (p *ProgressAdapter) speed() float64 {
	if len(p.samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range p.samples {
		sum += s
	}
	return sum / float64(len(p.samples))
}

func (p *ProgressAdapter) resetSpeed() {
	p.samples = p.samples[:0]
	p.discards = 0
}

// StateText is the label shown for a state
func StateText(state domain.InstallState, paused bool) string {
	if paused && !state.IsTerminal() {
		return "Paused"
	}
	switch state {
	case domain.StateNone, domain.StateQueue:
		return "Queued"
	case domain.StateDownload:
		return "Downloading"
	case domain.StateVerify:
		return "Verifying"
	case domain.StateDecompress:
		return "Decompressing"
	case domain.StateFinish:
		return "Finished"
	case domain.StateError:
		return "Error"
	default:
		return string(state)
	}
}

func percent(state domain.InstallState, c domain.Counters) float64 {
	if state == domain.StateFinish {
		return 100
	}
	done, total := c.FinishBytes, c.TotalBytes
	if state == domain.StateVerify {
		done, total = c.FinishCount, c.TotalCount
	}
	if total <= 0 {
		return 0
	}
	return math.Min(100, float64(done)*100/float64(total))
}

func progressText(state domain.InstallState, c domain.Counters) string {
	if state == domain.StateVerify {
		return fmt.Sprintf("%d/%d", c.FinishCount, c.TotalCount)
	}
	return fmt.Sprintf("%s / %s", humanize.IBytes(uint64(max(c.FinishBytes, 0))), humanize.IBytes(uint64(max(c.TotalBytes, 0))))
}
