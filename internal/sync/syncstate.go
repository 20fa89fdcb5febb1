package sync

import (
	"fmt"
	gosync "sync"
)

// Counters are the per-cycle transfer statistics.
type Counters struct {
	Downloaded int
	Uploaded   int
	Failed     int
}

// String renders the counters for status displays.
func (c Counters) String() string {
	return fmt.Sprintf("%d uploaded, %d downloaded, %d failed", c.Uploaded, c.Downloaded, c.Failed)
}

// Status is the snapshot delivered to a [StatusSink].
type Status struct {
	Message    string
	Summary    string
	InProgress bool
	ErrorState bool
	Counters   Counters
}

// SyncState is the progress, cancellation and statistics hub shared between
// the sync worker and its observers. Every field is guarded by one mutex.
// Status changes are delivered to the sink from a dispatcher goroutine outside
// the lock; rapid updates are coalesced so the sink sees the latest snapshot
// rather than every intermediate one.
type SyncState struct {
	mu         gosync.Mutex
	inProgress bool
	cancelled  bool
	errorState bool
	lastStatus string
	counters   Counters

	sink      StatusSink
	notify    chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce gosync.Once
}

// NewSyncState creates a SyncState. If sink is non-nil a dispatcher goroutine
// is started; call [SyncState.Close] to stop it.
func NewSyncState(sink StatusSink) *SyncState {
	s := &SyncState{sink: sink}
	if sink != nil {
		s.notify = make(chan struct{}, 1)
		s.done = make(chan struct{})
		s.stopped = make(chan struct{})
		go s.dispatch()
	}
	return s
}

// Start marks a cycle as running and resets the counters. It returns false
// without changing anything if a cycle is already in progress.
func (s *SyncState) Start() bool {
	s.mu.Lock()
	if s.inProgress {
		s.mu.Unlock()
		return false
	}
	s.inProgress = true
	s.cancelled = false
	s.errorState = false
	s.counters = Counters{}
	s.lastStatus = "Sync started."
	s.mu.Unlock()

	s.signal()
	return true
}

// Cancel ends the current cycle. withError marks the final status as a
// failure for the sink.
func (s *SyncState) Cancel(withError bool) {
	s.mu.Lock()
	s.cancelled = true
	s.inProgress = false
	s.errorState = withError
	s.mu.Unlock()

	s.signal()
}

// RequestCancel sets the cooperative cancellation flag. The worker observes
// it between items and albums; a transfer already in flight is not interrupted.
func (s *SyncState) RequestCancel() {
	s.mu.Lock()
	s.cancelled = true
	s.mu.Unlock()
}

// SetStatus replaces the status message.
func (s *SyncState) SetStatus(msg string) {
	s.mu.Lock()
	s.lastStatus = msg
	s.errorState = false
	s.mu.Unlock()

	s.signal()
}

// AddDownloaded increments the downloaded counter.
func (s *SyncState) AddDownloaded(n int) {
	s.mu.Lock()
	s.counters.Downloaded += n
	s.mu.Unlock()
}

// AddUploaded increments the uploaded counter.
func (s *SyncState) AddUploaded(n int) {
	s.mu.Lock()
	s.counters.Uploaded += n
	s.mu.Unlock()
}

// AddFailed increments the failed counter.
func (s *SyncState) AddFailed(n int) {
	s.mu.Lock()
	s.counters.Failed += n
	s.mu.Unlock()
}

// InProgress reports whether a cycle is running.
func (s *SyncState) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inProgress
}

// Cancelled reports whether cancellation was requested or the cycle ended.
func (s *SyncState) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Counters returns a copy of the current counters.
func (s *SyncState) Counters() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Snapshot returns the current status.
func (s *SyncState) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Message:    s.lastStatus,
		Summary:    s.counters.String(),
		InProgress: s.inProgress,
		ErrorState: s.errorState,
		Counters:   s.counters,
	}
}

// Close stops the dispatcher after delivering any pending snapshot.
func (s *SyncState) Close() {
	if s.sink == nil {
		return
	}
	s.closeOnce.Do(func() {
		close(s.done)
		<-s.stopped
	})
}

func (s *SyncState) signal() {
	if s.notify == nil {
		return
	}
	select {
	case s.notify <- struct{}{}:
	default:
		// A delivery is already pending; it will read the newest snapshot.
	}
}

func (s *SyncState) dispatch() {
	defer close(s.stopped)
	for {
		select {
		case <-s.notify:
			s.sink.SyncStatus(s.Snapshot())
		case <-s.done:
			select {
			case <-s.notify:
				s.sink.SyncStatus(s.Snapshot())
			default:
			}
			return
		}
	}
}
