package campaign

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one running campaign. The stop channel is the per-job cancellation
// handle observed before every send.
type Job struct {
	AccountID int64
	StartedAt time.Time

	duration   time.Duration
	delay      time.Duration
	recipients []string
	message    string
	credential string

	sent   atomic.Int64
	errors atomic.Int64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func newJob(id int64, now time.Time, recipients []string, message, credential string, duration, delay time.Duration) *Job {
	return &Job{
		AccountID:  id,
		StartedAt:  now,
		duration:   duration,
		delay:      delay,
		recipients: recipients,
		message:    message,
		credential: credential,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// RequestStop flags the job. It reports whether this call set the flag.
func (j *Job) RequestStop() bool {
	first := false
	j.stopOnce.Do(func() {
		close(j.stop)
		first = true
	})
	return first
}

func (j *Job) stopRequested() bool {
	select {
	case <-j.stop:
		return true
	default:
		return false
	}
}

// Done is closed once the job has been finalized.
func (j *Job) Done() <-chan struct{} { return j.done }

func (j *Job) snapshot(now time.Time) Snapshot {
	rem := j.duration - now.Sub(j.StartedAt)
	if rem < 0 {
		rem = 0
	}
	return Snapshot{
		AccountID:  j.AccountID,
		StartedAt:  j.StartedAt,
		Sent:       j.sent.Load(),
		Errors:     j.errors.Load(),
		Recipients: len(j.recipients),
		Duration:   j.duration,
		Delay:      j.delay,
		Remaining:  rem,
		Stopping:   j.stopRequested(),
	}
}

// Registry is the single source of truth for "is this account busy".
type Registry struct {
	mu   sync.Mutex
	jobs map[int64]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: map[int64]*Job{}}
}

// TryAdd inserts j unless the account already has a job.
func (r *Registry) TryAdd(j *Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.jobs[j.AccountID]; busy {
		return false
	}
	r.jobs[j.AccountID] = j
	return true
}

func (r *Registry) Get(id int64) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	return j, ok
}

// Remove deletes the entry for id only if it is still j. It reports whether
// an entry was removed.
func (r *Registry) Remove(id int64, j *Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.jobs[id]; ok && cur == j {
		delete(r.jobs, id)
		return true
	}
	return false
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Jobs returns the running jobs ordered by account id.
func (r *Registry) Jobs() []*Job {
	r.mu.Lock()
	out := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j)
	}
	r.mu.Unlock()
	sort.Slice(out, func(a, b int) bool { return out[a].AccountID < out[b].AccountID })
	return out
}

// Snapshot reports every running job as of now, ordered by account id.
func (r *Registry) Snapshot(now time.Time) []Snapshot {
	jobs := r.Jobs()
	out := make([]Snapshot, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j.snapshot(now))
	}
	return out
}
