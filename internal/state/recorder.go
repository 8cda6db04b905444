package state

import (
	"sync"
	"time"

	"github.com/matt-riley/surveyz/internal/core"
)

const DefaultLogLimit = 500

// Recorder owns the mutable LocalState. Evaluations read copies taken with
// Snapshot.
type Recorder struct {
	mu       sync.Mutex
	state    core.LocalState
	logLimit int
}

type RecorderOption func(*Recorder)

// WithLogLimit caps the event and page logs. Values below 1 are ignored.
func WithLogLimit(limit int) RecorderOption {
	return func(r *Recorder) {
		if limit > 0 {
			r.logLimit = limit
		}
	}
}

func NewRecorder(initial core.LocalState, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		state:    initial.Clone(),
		logLimit: DefaultLogLimit,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.state.Events == nil {
		r.state.Events = []string{}
	}
	if r.state.Pages == nil {
		r.state.Pages = []string{}
	}
	r.state.Events = capLog(r.state.Events, r.logLimit)
	r.state.Pages = capLog(r.state.Pages, r.logLimit)
	return r
}

// RecordLaunch counts an app launch. The first launch also stamps the first
// session time.
func (r *Recorder) RecordLaunch(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.LaunchCount == 0 || r.state.FirstSessionEpochSec == 0 {
		r.state.FirstSessionEpochSec = now.Unix()
	}
	r.state.LaunchCount++
}

func (r *Recorder) RecordEvent(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Events = capLog(append(r.state.Events, name), r.logLimit)
}

func (r *Recorder) RecordPage(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Pages = capLog(append(r.state.Pages, name), r.logLimit)
}

// EndSession records the length of the session that just finished. Negative
// durations are treated as zero.
func (r *Recorder) EndSession(d time.Duration) {
	seconds := int(max(d, 0) / time.Second)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.LastSessionDurationSec = seconds
	r.state.TotalSessionDurationSec += seconds
}

func (r *Recorder) SetUser(user core.UserData) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.User = user
}

// Snapshot returns a deep copy of the current state.
func (r *Recorder) Snapshot() core.LocalState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state.Clone()
}

// capLog drops the oldest entries beyond limit.
func capLog(log []string, limit int) []string {
	if len(log) <= limit {
		return log
	}
	trimmed := make([]string, limit)
	copy(trimmed, log[len(log)-limit:])
	return trimmed
}
