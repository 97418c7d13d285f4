package metrics

import (
	"fmt"
	"math"
	"sort"

	"github.com/tkoski/seqvet/internal/sequence"
)

// Dedup table sizing. Two bytes per slot puts the default table at 4 MiB;
// the upper bound keeps a mistyped flag from allocating gigabytes.
const (
	MinDedupBits     = 4
	MaxDedupBits     = 26
	DefaultDedupBits = 21
)

// dedupCounterMax is where slot counters saturate. A slot stuck at the
// ceiling undercounts extreme duplication but never overflows.
const dedupCounterMax = math.MaxUint16

// DedupEstimator estimates the whole-library duplication rate in fixed
// memory. Every read hashes to one slot of a 2^bits table of saturating
// counters. Distinct reads colliding into one slot are indistinguishable, so
// the occupied-slot count undercounts distinct reads; Summary corrects for
// that with the standard linear-counting estimate
//
//	distinct ≈ m * ln(m / (m - occupied))
//
// which is accurate while the table is not nearly full. Unlike the sampled
// fragment table, this estimator sees every read in full length.
type DedupEstimator struct {
	bits  int
	slots []uint16
	mask  uint64

	occupied uint64
	total    uint64
}

// NewDedupEstimator builds an estimator with a 2^bits slot table.
func NewDedupEstimator(bits int) (*DedupEstimator, error) {
	if bits < MinDedupBits || bits > MaxDedupBits {
		return nil, &sequence.ConfigError{
			Param: "dedup table bits",
			Msg:   fmt.Sprintf("must be between %d and %d, got %d", MinDedupBits, MaxDedupBits, bits),
		}
	}
	return &DedupEstimator{
		bits:  bits,
		slots: make([]uint16, 1<<bits),
		mask:  1<<bits - 1,
	}, nil
}

// AddBatch hashes a batch of reads into the slot table.
func (d *DedupEstimator) AddBatch(batch *sequence.RecordBatch) {
	for i := range batch.Records {
		slot := fnv1a(batch.Records[i].Sequence) & d.mask
		c := d.slots[slot]
		if c == 0 {
			d.occupied++
		}
		if c < dedupCounterMax {
			d.slots[slot] = c + 1
		}
		d.total++
	}
}

// fnv1a is the 64-bit FNV-1a hash. It is deterministic across runs, so two
// passes over the same input produce identical tables.
func fnv1a(b []byte) uint64 {
	const (
		offset64 = 14695981039346656037
		prime64  = 1099511628211
	)
	h := uint64(offset64)
	for _, c := range b {
		h ^= uint64(c)
		h *= prime64
	}
	return h
}

// CopyCount is one entry of the copy number histogram: how many slots hold
// exactly Copies reads.
type CopyCount struct {
	Copies uint64 `json:"copies"`
	Slots  uint64 `json:"slots"`
}

// DedupSummary is the point-in-time view of a DedupEstimator.
type DedupSummary struct {
	TotalReads uint64 `json:"total_reads"`
	TableBits  int    `json:"table_bits"`
	Slots      uint64 `json:"slots"`
	Occupied   uint64 `json:"occupied_slots"`

	// EstimatedDistinct is the collision-corrected distinct read count.
	EstimatedDistinct float64 `json:"estimated_distinct"`

	// DuplicationFraction is 1 - distinct/total, clamped to [0, 1].
	DuplicationFraction float64 `json:"duplication_fraction"`

	// RemainingFraction is the fraction of reads a deduplication pass
	// would keep.
	RemainingFraction float64 `json:"remaining_fraction"`

	// CopyHistogram is sorted by ascending copy number. Counters saturate
	// at 65535; a final entry there means "at least".
	CopyHistogram []CopyCount `json:"copy_histogram"`
}

// Summary derives the exported view without modifying the estimator.
func (d *DedupEstimator) Summary() *DedupSummary {
	s := &DedupSummary{
		TotalReads: d.total,
		TableBits:  d.bits,
		Slots:      uint64(len(d.slots)),
		Occupied:   d.occupied,
	}

	if d.occupied > 0 {
		m := float64(len(d.slots))
		free := m - float64(d.occupied)
		if free < 1 {
			free = 1
		}
		s.EstimatedDistinct = m * math.Log(m/free)
	}
	if d.total > 0 {
		s.DuplicationFraction = 1 - s.EstimatedDistinct/float64(d.total)
		if s.DuplicationFraction < 0 {
			s.DuplicationFraction = 0
		}
		if s.DuplicationFraction > 1 {
			s.DuplicationFraction = 1
		}
		s.RemainingFraction = 1 - s.DuplicationFraction
	}

	hist := make(map[uint16]uint64)
	for _, c := range d.slots {
		if c > 0 {
			hist[c]++
		}
	}
	s.CopyHistogram = make([]CopyCount, 0, len(hist))
	for copies, slots := range hist {
		s.CopyHistogram = append(s.CopyHistogram, CopyCount{Copies: uint64(copies), Slots: slots})
	}
	sort.Slice(s.CopyHistogram, func(i, j int) bool {
		return s.CopyHistogram[i].Copies < s.CopyHistogram[j].Copies
	})
	return s
}
