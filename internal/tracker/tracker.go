// Package tracker runs the background observation loop: poll the device,
// detect UI state changes, buffer snapshots, periodically infer observations
// and flush rotated observations to the memory store.
package tracker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"portablebrain/internal/device"
	"portablebrain/internal/store"
	"portablebrain/internal/types"
)

const (
	changesCapacity      = 10
	snapshotsCapacity    = 50
	observationsCapacity = 20

	// stopDeadline is the cooperative-shutdown budget before the loop is
	// force-cancelled.
	stopDeadline = 5 * time.Second
	// pauseGrace lets the loop observe the cleared running flag.
	pauseGrace = 100 * time.Millisecond
)

// ErrAlreadyRunning is returned by Start when a loop is active.
var ErrAlreadyRunning = errors.New("tracker: background task already running")

// Config carries the tracker knobs.
type Config struct {
	PollInterval      time.Duration
	ContextSize       int
	PersistStructured bool
}

// Tracker owns the recent-state buffers and the background loop. Accessors
// may be called concurrently with the loop.
type Tracker struct {
	driver   device.Driver
	inferrer *Inferencer
	embedder *EmbeddingGenerator
	store    *store.Store
	logger   *zap.Logger

	contextSize       int
	persistStructured bool
	defaultPoll       time.Duration
	burstDelay        time.Duration
	errorBackoff      time.Duration
	now               func() time.Time

	mu              sync.RWMutex // guards the deques, counter, lastState
	changes         *deque[*types.UIStateChange]
	snapshots       *deque[types.UIStateSnapshot]
	observations    *deque[*types.Observation]
	snapshotCounter int
	lastState       *types.UIState

	lifeMu       sync.Mutex // guards running transitions
	running      atomic.Bool
	pollInterval time.Duration
	cancel       context.CancelFunc
	done         chan struct{}
}

// New creates a tracker.
func New(driver device.Driver, inferrer *Inferencer, embedder *EmbeddingGenerator, st *store.Store, cfg Config, logger *zap.Logger) *Tracker {
	contextSize := cfg.ContextSize
	if contextSize <= 0 {
		contextSize = 10
	}
	defaultPoll := cfg.PollInterval
	if defaultPoll <= 0 {
		defaultPoll = time.Second
	}
	return &Tracker{
		driver:            driver,
		inferrer:          inferrer,
		embedder:          embedder,
		store:             st,
		logger:            logger,
		contextSize:       contextSize,
		persistStructured: cfg.PersistStructured,
		defaultPoll:       defaultPoll,
		burstDelay:        200 * time.Millisecond,
		errorBackoff:      5 * time.Second,
		now:               time.Now,
		changes:           newDeque[*types.UIStateChange](changesCapacity),
		snapshots:         newDeque[types.UIStateSnapshot](snapshotsCapacity),
		observations:      newDeque[*types.Observation](observationsCapacity),
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Start launches the background loop. Fails when one is already running.
func (t *Tracker) Start(pollInterval time.Duration) error {
	t.lifeMu.Lock()
	defer t.lifeMu.Unlock()
	if t.running.Load() {
		return ErrAlreadyRunning
	}
	if pollInterval <= 0 {
		pollInterval = t.defaultPoll
	}

	// A paused loop may still be draining its poll sleep. Cancel it and
	// wait for it to exit, otherwise two loops would write the deques.
	if t.done != nil {
		t.cancel()
		<-t.done
		t.done = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel = cancel
	t.done = done
	t.pollInterval = pollInterval
	t.running.Store(true)

	go t.loop(ctx, cancel, done, pollInterval)
	t.logger.Info("tracker started", zap.Duration("poll_interval", pollInterval))
	return nil
}

// Pause clears the running flag and gives the loop a short grace period to
// observe it. State and history are preserved. Returns whether the loop was
// running.
func (t *Tracker) Pause() bool {
	t.lifeMu.Lock()
	was := t.running.Load()
	t.running.Store(false)
	t.lifeMu.Unlock()
	if was {
		time.Sleep(pauseGrace)
		t.logger.Info("tracker paused")
	}
	return was
}

// Stop shuts the loop down (cooperatively, then forcibly after the 5 s
// deadline), flushes the tail observation, and clears all buffers.
func (t *Tracker) Stop(ctx context.Context) error {
	t.lifeMu.Lock()
	done := t.done
	cancel := t.cancel
	t.running.Store(false)
	t.lifeMu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-time.After(stopDeadline):
			t.logger.Warn("tracker loop missed the stop deadline, cancelling")
			cancel()
			<-done
		}
	}

	t.flushTail(ctx)

	t.mu.Lock()
	t.changes.clear()
	t.snapshots.clear()
	t.observations.clear()
	t.snapshotCounter = 0
	t.lastState = nil
	t.mu.Unlock()

	t.logger.Info("tracker stopped")
	return nil
}

// Replay pauses tracking, feeds the snapshots through the regular
// counter/inference/rotation path, flushes the tail, and resumes at the
// prior poll interval if the loop was running.
func (t *Tracker) Replay(ctx context.Context, snapshots []types.UIStateSnapshot) error {
	wasRunning := t.Pause()
	t.lifeMu.Lock()
	prior := t.pollInterval
	t.lifeMu.Unlock()

	for _, snap := range snapshots {
		t.mu.Lock()
		t.snapshots.push(snap)
		t.snapshotCounter++
		shouldInfer := t.snapshotCounter >= t.contextSize
		if shouldInfer {
			t.snapshotCounter = 0
		}
		t.mu.Unlock()

		if shouldInfer {
			t.runInference(ctx)
		}
	}

	t.flushTail(ctx)

	if wasRunning {
		return t.Start(prior)
	}
	return nil
}

// =============================================================================
// MAIN LOOP
// =============================================================================

func (t *Tracker) loop(ctx context.Context, cancel context.CancelFunc, done chan struct{}, pollInterval time.Duration) {
	defer func() {
		cancel()
		close(done)
	}()

	for t.running.Load() && ctx.Err() == nil {
		state, err := t.driver.GetState(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Never exit on error: log and back off.
			t.logger.Warn("get_state failed", zap.Error(err))
			t.sleep(ctx, t.errorBackoff)
			continue
		}

		changed, shouldInfer := t.recordState(state)
		if shouldInfer {
			t.runInference(ctx)
		}

		if changed {
			// A burst likely continues; poll again quickly.
			t.sleep(ctx, t.burstDelay)
		} else {
			t.sleep(ctx, pollInterval)
		}
	}
}

// recordState classifies the new state against the last one and, on a real
// change, appends the change and snapshot and bumps the counter. Reports
// whether a change was recorded and whether the window filled up (the
// counter resets here regardless of what inference later yields).
func (t *Tracker) recordState(state *types.UIState) (changed, shouldInfer bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	change := types.NewUIStateChange(t.lastState, state, types.SourceObservation, t.now())
	if change.ChangeType == types.ChangeNoChange {
		return false, false
	}

	t.changes.push(change)
	t.snapshots.push(types.SnapshotFromChange(change))
	t.snapshotCounter++
	t.lastState = state

	if t.snapshotCounter >= t.contextSize {
		t.snapshotCounter = 0
		return true, true
	}
	return true, false
}

// runInference applies the two-step policy: try to update the tail
// observation first; when that yields nothing, try to create a new one and
// rotate it in. Inference errors are logged, never fatal to the loop.
func (t *Tracker) runInference(ctx context.Context) {
	t.mu.RLock()
	window := t.snapshots.newestFirst(t.contextSize)
	tail, hasTail := t.observations.tail()
	t.mu.RUnlock()

	// newestFirst is reversed for the prompt: oldest first reads naturally.
	reverse(window)

	if hasTail {
		updated, err := t.inferrer.UpdateObservation(ctx, tail, window)
		if err != nil {
			t.logger.Warn("observation update failed", zap.Error(err))
			return
		}
		if updated != nil {
			t.mu.Lock()
			t.observations.replaceTail(updated)
			t.mu.Unlock()
			return
		}
	}

	created, err := t.inferrer.CreateNewObservation(ctx, window)
	if err != nil {
		t.logger.Warn("observation creation failed", zap.Error(err))
		return
	}
	if created != nil {
		t.saveAndRotate(ctx, created)
	}
}

// saveAndRotate persists the current tail observation (at most one
// embed-and-persist sequence per call), then appends the new observation.
// Deque eviction of the head does not persist; rotation persists the
// previous tail only.
func (t *Tracker) saveAndRotate(ctx context.Context, newObs *types.Observation) {
	t.mu.RLock()
	tail, hasTail := t.observations.tail()
	t.mu.RUnlock()

	if hasTail {
		t.persistObservation(ctx, tail)
	}

	t.mu.Lock()
	t.observations.push(newObs)
	t.mu.Unlock()
}

// flushTail persists the current tail once. Persistence is keyed by
// observation id and upserts, so a flush after an earlier rotation of the
// same observation cannot duplicate rows.
func (t *Tracker) flushTail(ctx context.Context) {
	t.mu.RLock()
	tail, hasTail := t.observations.tail()
	t.mu.RUnlock()
	if hasTail {
		t.persistObservation(ctx, tail)
	}
}

// persistObservation writes the structured row (when enabled) and the
// embedding row. Failures are logged; a failed flush loses this one
// observation from the affected store, nothing more.
func (t *Tracker) persistObservation(ctx context.Context, obs *types.Observation) {
	if t.persistStructured {
		if err := t.store.SaveObservation(ctx, obs); err != nil {
			t.logger.Warn("structured write failed",
				zap.String("observation_id", obs.ID), zap.Error(err))
		}
	}
	if err := t.embedder.GenerateAndSave(ctx, obs.ID, obs.Node); err != nil {
		t.logger.Warn("embedding flush failed",
			zap.String("observation_id", obs.ID), zap.Error(err))
	}
}

func (t *Tracker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Running reports whether the loop is active.
func (t *Tracker) Running() bool { return t.running.Load() }

// Observations returns newest-first copies of the observation deque.
func (t *Tracker) Observations(limit int) []*types.Observation {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.observations.newestFirst(limit)
}

// StateSnapshots returns newest-first copies of the snapshot deque.
func (t *Tracker) StateSnapshots(limit int) []types.UIStateSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshots.newestFirst(limit)
}

// StateChanges returns newest-first copies of the change deque, optionally
// filtered by change type.
func (t *Tracker) StateChanges(limit int, changeType types.ChangeType) []*types.UIStateChange {
	t.mu.RLock()
	all := t.changes.newestFirst(0)
	t.mu.RUnlock()

	out := make([]*types.UIStateChange, 0, len(all))
	for _, c := range all {
		if changeType != "" && c.ChangeType != changeType {
			continue
		}
		out = append(out, c)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Overview summarizes the tracker state for the monitoring endpoint.
type Overview struct {
	Running         bool `json:"running"`
	Changes         int  `json:"state_changes"`
	Snapshots       int  `json:"state_snapshots"`
	Observations    int  `json:"observations"`
	SnapshotCounter int  `json:"snapshot_counter"`
}

// MonitoringOverview reports deque sizes and the running flag.
func (t *Tracker) MonitoringOverview() Overview {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Overview{
		Running:         t.running.Load(),
		Changes:         t.changes.len(),
		Snapshots:       t.snapshots.len(),
		Observations:    t.observations.len(),
		SnapshotCounter: t.snapshotCounter,
	}
}

func reverse[T any](s []T) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
