// Package messenger implements the shared-memory messenger of spec.md
// §4.3: per-job shared segment, startup barrier, fragmented and
// rendezvous send/recv, and the invalidation-callback wiring between the
// driller and the descriptor broker.
package messenger

import (
	"context"
	"fmt"
	"os"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"

	"github.com/behrlich/mmpi/internal/constants"
	"github.com/behrlich/mmpi/internal/driller"
	"github.com/behrlich/mmpi/internal/fdproxy"
	"github.com/behrlich/mmpi/internal/logging"
	"github.com/behrlich/mmpi/internal/mapcache"
	"github.com/behrlich/mmpi/internal/msgqueue"
	"github.com/behrlich/mmpi/internal/wire"
)

// segmentKeyID is the well-known descriptor-key local-id rank 0
// publishes the shared segment's backing descriptor under, so every
// other rank can find it without prior coordination.
const segmentKeyID = 0x5a

// Messenger is one rank's view of a job: its shared segment, its
// driller, its broker client, and its region cache.
type Messenger struct {
	jobID  string
	nprocs int
	rank   int

	broker  *fdproxy.Client
	driller *driller.Driller
	cache   *mapcache.Cache
	logger  *logging.Logger

	segFile *os.File
	segBuf  []byte
	records []*msgqueue.RankRecord

	barrier *Barrier
}

// Config configures a Messenger's Init.
type Config struct {
	JobID   string
	NProcs  int
	Rank    int
	TmpDir  string
	Logger  *logging.Logger
	ProxyID string // defaults to JobID
	// ForkBroker requests that rank 0 run the broker's event loop in a
	// background goroutine of this process rather than assuming a
	// separate broker process is already running.
	ForkBroker bool

	// CPUAffinity optionally pins this rank's hot loop to one CPU,
	// selected round-robin by rank (CPUAffinity[Rank % len(CPUAffinity)]).
	// Nil disables pinning.
	CPUAffinity []int
}

// Init performs spec.md §4.3's per-rank initialization sequence:
// participate in broker setup, establish the shared segment, call
// driller init, register the invalidation callback, initialize the
// region-cache directory, then join the startup barrier.
func Init(ctx context.Context, cfg Config) (*Messenger, error) {
	if cfg.NProcs <= 0 {
		return nil, fmt.Errorf("messenger: NProcs must be positive")
	}
	if cfg.Rank < 0 || cfg.Rank >= cfg.NProcs {
		return nil, fmt.Errorf("messenger: Rank %d out of range [0,%d)", cfg.Rank, cfg.NProcs)
	}
	if cfg.ProxyID == "" {
		cfg.ProxyID = cfg.JobID
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}

	pinToCPU(cfg.Rank, cfg.CPUAffinity, logger)

	m := &Messenger{
		jobID:  cfg.JobID,
		nprocs: cfg.NProcs,
		rank:   cfg.Rank,
		cache:  mapcache.New(),
		logger: logger,
	}

	if cfg.Rank == 0 && cfg.ForkBroker {
		b, err := fdproxy.NewBroker(fdproxy.Config{ProxyID: cfg.ProxyID, TmpDir: cfg.TmpDir, Logger: logger})
		if err != nil {
			return nil, fmt.Errorf("messenger: start broker: %w", err)
		}
		go func() {
			if err := b.Serve(); err != nil {
				logger.Error("broker exited with error", "error", err)
			}
		}()
	}

	broker, err := fdproxy.Dial(ctx, cfg.ProxyID, cfg.TmpDir)
	if err != nil {
		return nil, fmt.Errorf("messenger: dial broker: %w", err)
	}
	m.broker = broker

	if err := m.setupSegment(cfg.TmpDir); err != nil {
		return nil, err
	}

	var drillerOpts []driller.Option
	if cfg.TmpDir != "" {
		drillerOpts = append(drillerOpts, driller.WithTempDir(cfg.TmpDir))
	}
	m.driller = driller.New(drillerOpts...)
	m.driller.RegisterInvalidateCallback(m.onInvalidate)
	if err := m.driller.Init(); err != nil {
		return nil, fmt.Errorf("messenger: driller init: %w", err)
	}
	if err := m.driller.InitStack(constants.StackMinGrow); err != nil {
		return nil, fmt.Errorf("messenger: driller init stack: %w", err)
	}

	m.barrier = newBarrier(m.records, m.rank)
	m.barrier.Wait()

	return m, nil
}

// setupSegment creates (rank 0) or fetches (other ranks) the shared
// segment's backing descriptor via the broker, then maps it.
func (m *Messenger) setupSegment(tmpDir string) error {
	size := m.nprocs * msgqueue.RankRecordSize

	if m.rank == 0 {
		f, err := newUnlinkedTempFile(tmpDir, m.jobID)
		if err != nil {
			return fmt.Errorf("messenger: create segment file: %w", err)
		}
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return fmt.Errorf("messenger: size segment file: %w", err)
		}
		m.segFile = f

		key := wire.Key{Owner: fdproxy.WellKnownOwner, Local: segmentKeyID}
		if err := m.broker.Publish(&key, int(f.Fd())); err != nil {
			return fmt.Errorf("messenger: publish segment descriptor: %w", err)
		}
	} else {
		// Rank 0 may not have published yet: retry the lookup with
		// bounded exponential backoff up to CONNECT_TIMEOUT.
		key := wire.Key{Owner: fdproxy.WellKnownOwner, Local: segmentKeyID}
		fd := -1
		fetch := func() error {
			var err error
			if fd, err = m.broker.Lookup(key); err != nil {
				return backoff.Permanent(fmt.Errorf("messenger: lookup segment descriptor: %w", err))
			}
			if fd < 0 {
				return fmt.Errorf("messenger: segment descriptor not yet published")
			}
			return nil
		}
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = constants.ConnectTimeout
		if err := backoff.Retry(fetch, b); err != nil {
			return err
		}
		m.segFile = os.NewFile(uintptr(fd), "mmpi-segment")
	}

	buf, err := unix.Mmap(int(m.segFile.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("messenger: mmap segment: %w", err)
	}
	m.segBuf = buf

	records, err := msgqueue.Segment(buf, m.nprocs)
	if err != nil {
		return err
	}
	m.records = records
	m.records[m.rank].InitPool(int32(m.rank))

	return nil
}

func newUnlinkedTempFile(tmpDir, label string) (*os.File, error) {
	if tmpDir == "" {
		tmpDir = defaultTmpDir()
	}
	path := tmpDir + "/mmpi-seg-" + label
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, err
	}
	if err := os.Remove(path); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// Barrier blocks until every rank in the job has called Barrier, per
// spec.md §4.3's flip-polarity two-phase barrier.
func (m *Messenger) Barrier() {
	m.barrier.Wait()
}

// Close releases the messenger's segment mapping, broker connection,
// and backing file descriptor.
func (m *Messenger) Close() error {
	if m.segBuf != nil {
		_ = unix.Munmap(m.segBuf)
	}
	if m.segFile != nil {
		_ = m.segFile.Close()
	}
	if m.broker != nil {
		_ = m.broker.Close()
	}
	return nil
}

// Driller exposes this rank's address-space driller, for callers that
// need to reserve stack-scratch storage directly (spec.md §8's stack
// transfer and stack-growth-on-demand scenarios).
func (m *Messenger) Driller() *driller.Driller { return m.driller }

// Broker exposes this rank's descriptor-broker connection, for callers
// that publish or look up descriptors directly rather than only through
// the rendezvous send/recv path (spec.md §8's descriptor-directory
// scenario).
func (m *Messenger) Broker() *fdproxy.Client { return m.broker }

// Rank returns this messenger's rank within the job.
func (m *Messenger) Rank() int { return m.rank }

// NProcs returns the job's participant count.
func (m *Messenger) NProcs() int { return m.nprocs }

func defaultTmpDir() string {
	if st, err := os.Stat("/dev/shm"); err == nil && st.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}
