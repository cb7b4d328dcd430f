package syncer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	stash "github.com/goliatone/go-stash"
	"github.com/goliatone/go-stash/pkg/activity"
)

// Syncer binds one stash entry to a Transport.
type Syncer struct {
	entry     stash.Entry
	transport Transport
	origin    string
	logger    *zap.Logger
	observer  Observer
	emitter   *activity.Emitter

	// applyMu serializes inbound applies and resyncs.
	applyMu sync.Mutex

	mu      sync.Mutex
	known   uint64
	ready   bool
	pending *Message
	closed  bool

	// baseline is the persisted version read before the first fetch, so it
	// never describes a value newer than the one that fetch returns.
	baseline    uint64
	baselineSet bool

	cancelSub   func()
	removeSaved func()
	removeLoad  func()
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

// Attach subscribes entry to transport. Messages received before the entry's
// first load resolves are held back; only the newest is kept and it is
// applied once the load is done if it is newer than the version persisted
// when that load started. Attach before the first Load; for an entry that is
// already loading the version is read once the load resolves.
func Attach(entry stash.Entry, transport Transport, opts ...Option) (*Syncer, error) {
	if entry == nil {
		return nil, ErrNilEntry
	}
	if transport == nil {
		return nil, ErrNilTransport
	}
	cfg := applyOptions(opts)

	s := &Syncer{
		entry:     entry,
		transport: transport,
		origin:    cfg.origin,
		logger: cfg.logger.With(
			zap.String("key", entry.Key()),
			zap.String("area", entry.Area()),
			zap.String("origin", cfg.origin),
		),
		observer: cfg.observer,
		emitter:  activity.NewEmitter(cfg.hooks, activity.Config{Enabled: true, Origin: cfg.origin}),
		done:     make(chan struct{}),
	}

	cancel, err := transport.Subscribe(s.receive)
	if err != nil {
		return nil, fmt.Errorf("syncer: subscribe %q: %w", entry.Key(), err)
	}
	s.cancelSub = cancel
	s.removeSaved = entry.OnSaved(s.onSaved)
	s.removeLoad = entry.BeforeLoad(s.beforeLoad)

	s.wg.Add(1)
	go s.awaitReady()
	return s, nil
}

// Origin returns the id stamped on outgoing messages.
func (s *Syncer) Origin() string {
	return s.origin
}

// Known returns the newest version this context applied or produced.
func (s *Syncer) Known() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.known
}

// Ready reports whether the initial load and version read have completed.
func (s *Syncer) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Close stops receiving and publishing. It is safe to call more than once.
func (s *Syncer) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.cancelSub != nil {
			s.cancelSub()
		}
		if s.removeSaved != nil {
			s.removeSaved()
		}
		if s.removeLoad != nil {
			s.removeLoad()
		}
		close(s.done)
	})
	s.wg.Wait()
	return nil
}

// onSaved stamps the next version after a local save and broadcasts it.
func (s *Syncer) onSaved(ctx context.Context, raw any) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	persisted, err := s.readVersion(ctx)
	if err != nil {
		s.logger.Warn("syncer version read failed, using known version", zap.Error(err))
	}
	next := max(persisted, s.known) + 1
	if err := s.entry.Adapter().SetItem(ctx, VersionKey(s.entry.Key()), float64(next)); err != nil {
		s.logger.Warn("syncer version write failed", zap.Uint64("version", next), zap.Error(err))
	}
	s.known = next
	s.mu.Unlock()

	msg := Message{
		Key:     s.entry.Key(),
		Area:    s.entry.Area(),
		State:   raw,
		Version: next,
		Origin:  s.origin,
	}
	if err := s.transport.Publish(ctx, msg); err != nil {
		s.logger.Warn("syncer publish failed", zap.Uint64("version", next), zap.Error(err))
		s.observe(msg, OutcomeFailed)
		return
	}
	s.logger.Debug("syncer published", zap.Uint64("version", next))
	s.observe(msg, OutcomePublished)
}

func (s *Syncer) receive(msg Message) {
	if msg.Key != s.entry.Key() || msg.Area != s.entry.Area() {
		s.observe(msg, OutcomeForeign)
		return
	}
	if msg.Origin == s.origin {
		s.logger.Debug("syncer dropped echo", zap.Uint64("version", msg.Version))
		s.observe(msg, OutcomeEcho)
		return
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if !s.ready {
		if s.pending != nil && msg.Version <= s.pending.Version {
			s.mu.Unlock()
			s.observe(msg, OutcomeStale)
			return
		}
		queued := msg
		s.pending = &queued
		s.mu.Unlock()
		s.logger.Debug("syncer queued message until loaded", zap.Uint64("version", msg.Version))
		s.observe(msg, OutcomeQueued)
		return
	}
	if msg.Version <= s.known {
		known := s.known
		s.mu.Unlock()
		s.logger.Debug("syncer dropped stale message", zap.Uint64("version", msg.Version), zap.Uint64("known", known))
		s.observe(msg, OutcomeStale)
		return
	}
	s.known = msg.Version
	s.mu.Unlock()

	s.apply(msg)
}

// apply writes msg through the silent path. Callers hold applyMu.
func (s *Syncer) apply(msg Message) {
	if err := s.entry.ApplyRaw(msg.State, stash.Silent()); err != nil {
		s.logger.Warn("syncer could not apply message", zap.Uint64("version", msg.Version), zap.Error(err))
		s.observe(msg, OutcomeFailed)
		return
	}
	s.logger.Debug("syncer applied message", zap.Uint64("version", msg.Version), zap.String("from", msg.Origin))
	s.observe(msg, OutcomeApplied)

	if err := s.emitter.Emit(context.Background(), activity.BuildSyncedEvent(activity.EntryEventInput{
		Origin:  msg.Origin,
		Area:    msg.Area,
		Key:     msg.Key,
		Version: msg.Version,
	})); err != nil {
		s.logger.Warn("syncer activity hook failed", zap.Error(err))
	}
}

// beforeLoad records the persisted version ahead of the first fetch.
func (s *Syncer) beforeLoad(ctx context.Context) {
	s.mu.Lock()
	skip := s.closed || s.ready || s.baselineSet
	s.mu.Unlock()
	if skip {
		return
	}

	version, err := s.readVersion(ctx)
	if err != nil {
		s.logger.Warn("syncer version read before load failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	if !s.ready && !s.baselineSet {
		s.baseline = version
		s.baselineSet = true
	}
	s.mu.Unlock()
}

func (s *Syncer) awaitReady() {
	defer s.wg.Done()
	select {
	case <-s.entry.WhenReady():
	case <-s.done:
		return
	}
	if s.removeLoad != nil {
		s.removeLoad()
	}

	s.mu.Lock()
	version, exact := s.baseline, s.baselineSet
	s.mu.Unlock()
	if !exact {
		// the load started before Attach; the version can only be read now
		var err error
		version, err = s.readVersion(context.Background())
		if err != nil {
			s.logger.Warn("syncer initial version read failed", zap.Error(err))
		}
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if version > s.known {
		s.known = version
	}
	s.ready = true
	pending := s.pending
	s.pending = nil
	apply := pending != nil && (pending.Version > s.known || (!exact && pending.Version == s.known))
	if apply && pending.Version > s.known {
		s.known = pending.Version
	}
	s.mu.Unlock()

	if apply {
		s.apply(*pending)
	} else if pending != nil {
		s.observe(*pending, OutcomeStale)
	}
}

// Resync force-reloads the entry when the persisted version is newer than the
// known one, covering lost broadcasts and writers that never publish. It
// reports whether a reload happened.
func (s *Syncer) Resync(ctx context.Context) (bool, error) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	version, err := s.readVersion(ctx)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	stale := s.ready && version > s.known
	s.mu.Unlock()
	if !stale {
		return false, nil
	}

	if err := s.entry.Load(ctx, stash.WithForce()); err != nil {
		return false, err
	}

	s.mu.Lock()
	if version > s.known {
		s.known = version
	}
	s.mu.Unlock()
	s.logger.Debug("syncer resynced from storage", zap.Uint64("version", version))
	return true, nil
}

func (s *Syncer) readVersion(ctx context.Context) (uint64, error) {
	raw, err := s.entry.Adapter().GetItem(ctx, VersionKey(s.entry.Key()))
	if err != nil {
		return 0, fmt.Errorf("syncer: read version of %q: %w", s.entry.Key(), err)
	}
	version, err := ParseVersion(raw)
	if err != nil {
		return 0, fmt.Errorf("syncer: read version of %q: %w", s.entry.Key(), err)
	}
	return version, nil
}

func (s *Syncer) observe(msg Message, outcome Outcome) {
	s.observer.ObserveSync(Event{
		Key:     msg.Key,
		Area:    msg.Area,
		Origin:  msg.Origin,
		Version: msg.Version,
		Outcome: outcome,
	})
}
