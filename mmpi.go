// Package mmpi provides the public API for joining and running a
// zero-copy, shared-memory message-passing job between cooperating
// processes on a single host.
package mmpi

import (
	"context"
	"fmt"
	"time"

	"github.com/behrlich/mmpi/internal/driller"
	"github.com/behrlich/mmpi/internal/fdproxy"
	"github.com/behrlich/mmpi/internal/logging"
	"github.com/behrlich/mmpi/mmpi"
)

// Job is one rank's handle onto a running mmpi job: its shared-memory
// messenger, metrics, and observer.
type Job struct {
	m *messenger.Messenger

	ctx    context.Context
	cancel context.CancelFunc

	metrics  *Metrics
	observer Observer

	started bool
}

// JobParams contains parameters for joining an mmpi job.
type JobParams struct {
	// JobID identifies the job; all ranks in the same job must pass the
	// same value, and it is used to name the job's well-known broker
	// socket and shared segment.
	JobID string

	// NProcs is the number of ranks participating in the job.
	NProcs int

	// Rank is this process's rank, in [0, NProcs).
	Rank int

	// TmpDir is the directory used for the job's backing files and
	// broker socket. Defaults to /dev/shm, falling back to os.TempDir.
	TmpDir string

	// ForkBroker requests that rank 0 run the descriptor broker's event
	// loop in a background goroutine of this process, rather than
	// assuming a separate broker process has already been started.
	ForkBroker bool

	// CPUAffinity optionally pins each rank's hot loop to one CPU,
	// selected round-robin by rank. Nil disables pinning.
	CPUAffinity []int
}

// Options contains additional options for joining a job.
type Options struct {
	// Context for cancellation (if nil, uses context.Background())
	Context context.Context

	// Logger for debug/info messages (if nil, uses the package default)
	Logger *logging.Logger

	// Observer for metrics collection (if nil, uses a MetricsObserver
	// backed by Job.Metrics())
	Observer Observer
}

// DefaultParams returns default job parameters for the given job ID and
// participant count.
func DefaultParams(jobID string, nprocs, rank int) JobParams {
	return JobParams{
		JobID:  jobID,
		NProcs: nprocs,
		Rank:   rank,
	}
}

// Join joins an mmpi job: it dials (and, for rank 0 with ForkBroker set,
// starts) the descriptor broker, maps the job's shared segment, brings
// up this rank's address-space driller, and waits at the startup
// barrier until every rank has joined.
//
// Example:
//
//	params := mmpi.DefaultParams("job-1", 4, rank)
//	job, err := mmpi.Join(context.Background(), params, nil)
func Join(ctx context.Context, params JobParams, options *Options) (*Job, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}
	if params.NProcs <= 0 || params.Rank < 0 || params.Rank >= params.NProcs {
		return nil, NewError("mmpi.Join", ErrCodeInvalidParameters, "NProcs/Rank out of range")
	}

	logger := options.Logger
	if logger == nil {
		logger = logging.Default()
	}

	metrics := NewMetrics()
	var observer Observer = NoOpObserver{}
	if options.Observer != nil {
		observer = options.Observer
	} else {
		observer = NewMetricsObserver(metrics)
	}

	msgr, err := messenger.Init(ctx, messenger.Config{
		JobID:       params.JobID,
		NProcs:      params.NProcs,
		Rank:        params.Rank,
		TmpDir:      params.TmpDir,
		Logger:      logger,
		ForkBroker:  params.ForkBroker,
		CPUAffinity: params.CPUAffinity,
	})
	if err != nil {
		return nil, WrapError("mmpi.Join", err)
	}

	job := &Job{
		m:        msgr,
		metrics:  metrics,
		observer: observer,
		started:  true,
	}
	job.ctx, job.cancel = context.WithCancel(ctx)

	logger.Info("joined mmpi job", "job_id", params.JobID, "rank", params.Rank, "nprocs", params.NProcs)
	return job, nil
}

// Barrier blocks until every rank in the job has called Barrier.
func (j *Job) Barrier() {
	start := time.Now()
	j.m.Barrier()
	j.observer.ObserveBarrier(uint64(time.Since(start).Nanoseconds()), 0)
}

// Send delivers buf to destRank, taking the rendezvous path when buf
// falls entirely within a region the local driller has already drilled,
// and fragmenting over inline slots otherwise.
func (j *Job) Send(destRank int, buf []byte) error {
	start := time.Now()
	rendezvous, err := j.m.Send(destRank, buf)
	j.observer.ObserveSend(uint64(len(buf)), uint64(time.Since(start).Nanoseconds()), rendezvous, err == nil)
	if err != nil {
		return WrapError("mmpi.Send", err)
	}
	return nil
}

// Recv blocks until a complete message from srcRank is received and
// returns its bytes.
func (j *Job) Recv(srcRank int) ([]byte, error) {
	start := time.Now()
	buf, err := j.m.Recv(srcRank)
	j.observer.ObserveRecv(uint64(len(buf)), uint64(time.Since(start).Nanoseconds()), err == nil)
	if err != nil {
		return nil, WrapError("mmpi.Recv", err)
	}
	return buf, nil
}

// Driller exposes this rank's address-space driller, for demo programs
// that reserve stack-scratch storage directly rather than only moving
// bytes through Send/Recv.
func (j *Job) Driller() *driller.Driller { return j.m.Driller() }

// Broker exposes this rank's descriptor-broker connection, for demo
// programs that publish or look up descriptors directly rather than
// only moving bytes through Send/Recv.
func (j *Job) Broker() *fdproxy.Client { return j.m.Broker() }

// Rank returns this job handle's rank.
func (j *Job) Rank() int { return j.m.Rank() }

// NProcs returns the job's participant count.
func (j *Job) NProcs() int { return j.m.NProcs() }

// Metrics returns the job's metrics counters.
func (j *Job) Metrics() *Metrics { return j.metrics }

// MetricsSnapshot returns a point-in-time snapshot of the job's metrics.
func (j *Job) MetricsSnapshot() MetricsSnapshot {
	if j == nil || j.metrics == nil {
		return MetricsSnapshot{}
	}
	return j.metrics.Snapshot()
}

// JobState represents the current state of a Job.
type JobState string

const (
	JobStateJoined  JobState = "joined"
	JobStateRunning JobState = "running"
	JobStateStopped JobState = "stopped"
)

// State returns the current state of the job.
func (j *Job) State() JobState {
	if j == nil || !j.started {
		return JobStateStopped
	}
	if j.ctx != nil {
		select {
		case <-j.ctx.Done():
			return JobStateStopped
		default:
		}
	}
	return JobStateRunning
}

// Leave tears down this rank's participation in the job: it records the
// metrics stop time, releases the shared segment mapping, and
// closes the broker connection.
func Leave(job *Job) error {
	if job == nil {
		return NewError("mmpi.Leave", ErrCodeInvalidParameters, "job is nil")
	}

	if job.cancel != nil {
		job.cancel()
	}
	if job.metrics != nil {
		job.metrics.Stop()
	}

	if err := job.m.Close(); err != nil {
		return fmt.Errorf("mmpi: leave job: %w", err)
	}

	job.started = false
	return nil
}
