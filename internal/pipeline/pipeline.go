// Package pipeline drives a QC run: it pulls record batches from a source
// and pushes each batch through every accumulator, serially or with one
// goroutine per accumulator.
package pipeline

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/tkoski/seqvet/internal/metrics"
	"github.com/tkoski/seqvet/internal/sequence"
)

// Source yields record batches until io.EOF.
type Source interface {
	ReadBatch(*sequence.RecordBatch) error
}

// inflightBatches is how many batches rotate between the producer and the
// accumulator goroutines. A batch is refilled only once every accumulator
// has released it.
const inflightBatches = 3

// Config tunes a run. Zero values select the defaults; out-of-range values
// surface as configuration errors from Run.
type Config struct {
	BatchSize int // records per batch
	Workers   int // 1 runs everything on the calling goroutine

	FragmentLength     int // overrepresentation fragment length k
	SampleEvery        int // sample every n-th read for overrepresentation
	MaxUniqueFragments int // fragment store capacity
	DedupBits          int // duplication estimate table size, log2

	Adapters []string // adapter probe sequences
}

func (cfg Config) withDefaults() Config {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = sequence.DefaultBatchCapacity
	}
	if cfg.Workers == 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	if cfg.FragmentLength == 0 {
		cfg.FragmentLength = metrics.DefaultFragmentLength
	}
	if cfg.SampleEvery == 0 {
		cfg.SampleEvery = metrics.DefaultSampleEvery
	}
	if cfg.MaxUniqueFragments == 0 {
		cfg.MaxUniqueFragments = metrics.DefaultMaxUnique
	}
	if cfg.DedupBits == 0 {
		cfg.DedupBits = metrics.DefaultDedupBits
	}
	return cfg
}

// Result carries the final summaries of all six accumulators.
type Result struct {
	QC          metrics.QCSummary
	Tiles       metrics.TileSummary
	Adapters    metrics.AdapterSummary
	Duplication metrics.DuplicationSummary
	Dedup       metrics.DedupSummary
	Nano        metrics.NanoSummary
}

// collectors bundles the accumulators of one run.
type collectors struct {
	qc          *metrics.QCMetrics
	tiles       *metrics.PerTileQuality
	adapters    *metrics.AdapterCounter
	duplication *metrics.SequenceDuplication
	dedup       *metrics.DedupEstimator
	nano        *metrics.NanoStats
}

func newCollectors(cfg Config) (*collectors, error) {
	adapters, err := metrics.NewAdapterCounter(cfg.Adapters)
	if err != nil {
		return nil, err
	}
	duplication, err := metrics.NewSequenceDuplication(cfg.MaxUniqueFragments, cfg.FragmentLength, cfg.SampleEvery)
	if err != nil {
		return nil, err
	}
	dedup, err := metrics.NewDedupEstimator(cfg.DedupBits)
	if err != nil {
		return nil, err
	}
	return &collectors{
		qc:          metrics.NewQCMetrics(),
		tiles:       metrics.NewPerTileQuality(),
		adapters:    adapters,
		duplication: duplication,
		dedup:       dedup,
		nano:        metrics.NewNanoStats(),
	}, nil
}

func (c *collectors) all() []metrics.Accumulator {
	return []metrics.Accumulator{c.qc, c.tiles, c.adapters, c.duplication, c.nano, c.dedup}
}

func (c *collectors) result() *Result {
	return &Result{
		QC:          *c.qc.Summary(),
		Tiles:       *c.tiles.Summary(),
		Adapters:    *c.adapters.Summary(),
		Duplication: *c.duplication.Summary(),
		Dedup:       *c.dedup.Summary(),
		Nano:        *c.nano.Summary(),
	}
}

// Run consumes src to exhaustion and returns the assembled summaries.
// Parse and read errors abort the run and are returned as-is.
func Run(src Source, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	c, err := newCollectors(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Workers == 1 {
		err = runSerial(src, c, cfg.BatchSize)
	} else {
		err = runParallel(src, c, cfg.BatchSize)
	}
	if err != nil {
		return nil, err
	}
	return c.result(), nil
}

func runSerial(src Source, c *collectors, batchSize int) error {
	accs := c.all()
	batch := sequence.NewRecordBatch(batchSize)
	for {
		if err := src.ReadBatch(batch); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		for _, acc := range accs {
			acc.AddBatch(batch)
		}
	}
}

// job is one filled batch in flight. done is released once per accumulator;
// the producer refills the batch only after the last release.
type job struct {
	batch *sequence.RecordBatch
	done  sync.WaitGroup
}

func runParallel(src Source, c *collectors, batchSize int) error {
	accs := c.all()
	feeds := make([]chan *job, len(accs))
	for i := range feeds {
		feeds[i] = make(chan *job, inflightBatches)
	}

	g, ctx := errgroup.WithContext(context.Background())

	// One goroutine per accumulator. Each feed delivers batches in stream
	// order, which the sampling accumulators depend on.
	for i, acc := range accs {
		acc := acc
		feed := feeds[i]
		g.Go(func() error {
			for j := range feed {
				acc.AddBatch(j.batch)
				j.done.Done()
			}
			return nil
		})
	}

	g.Go(func() error {
		defer func() {
			for _, feed := range feeds {
				close(feed)
			}
		}()
		return produceBatches(ctx, src, feeds, batchSize)
	})

	return g.Wait()
}

func produceBatches(ctx context.Context, src Source, feeds []chan *job, batchSize int) error {
	jobs := make([]*job, inflightBatches)
	for i := range jobs {
		jobs[i] = &job{batch: sequence.NewRecordBatch(batchSize)}
	}

	for slot := 0; ; slot++ {
		j := jobs[slot%inflightBatches]
		j.done.Wait()

		if err := src.ReadBatch(j.batch); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		j.done.Add(len(feeds))
		for _, feed := range feeds {
			select {
			case feed <- j:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
