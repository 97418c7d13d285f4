package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tkoski/seqvet/internal/sequence"
)

// SequenceDuplication defaults. Sampling every 8th read keeps the table
// representative at a fraction of the work; the capacity cap bounds memory
// no matter how diverse the library is.
const (
	MaxFragmentLength     = 31
	DefaultFragmentLength = 21
	DefaultSampleEvery    = 8
	DefaultMaxUnique      = 5_000_000
)

// twoBit packs unambiguous bases into two bits. The sentinel marks bases
// that cannot be packed; fragments containing one are skipped.
var twoBit [256]uint8

func init() {
	for i := range twoBit {
		twoBit[i] = 0xff
	}
	twoBit['A'], twoBit['a'] = 0, 0
	twoBit['C'], twoBit['c'] = 1, 1
	twoBit['G'], twoBit['g'] = 2, 2
	twoBit['T'], twoBit['t'] = 3, 3
}

// SequenceDuplication profiles overrepresented sequence content by counting
// occurrences of each read's leading fragment, packed into a 64-bit word.
// Every sample-interval-th read contributes its first k bases. The fragment
// table is capped: once maxUnique distinct fragments are stored, unseen
// fragments are dropped while known ones keep counting. That bounds memory
// but biases the table toward fragments seen early, so results depend
// slightly on read order near the cap.
type SequenceDuplication struct {
	k           int
	sampleEvery int
	maxUnique   int

	fragments map[uint64]uint64
	seen      uint64
	sampled   uint64
	shortSkip uint64
	ambiguous uint64
	dropped   uint64
}

// NewSequenceDuplication builds a profiler holding at most maxUnique
// distinct fragments of k bases, sampling every sampleEvery-th read.
func NewSequenceDuplication(maxUnique, k, sampleEvery int) (*SequenceDuplication, error) {
	if k < 1 || k > MaxFragmentLength {
		return nil, &sequence.ConfigError{
			Param: "fragment length",
			Msg:   fmt.Sprintf("must be between 1 and %d, got %d", MaxFragmentLength, k),
		}
	}
	if sampleEvery < 1 {
		return nil, &sequence.ConfigError{
			Param: "sample interval",
			Msg:   fmt.Sprintf("must be at least 1, got %d", sampleEvery),
		}
	}
	if maxUnique < 1 {
		return nil, &sequence.ConfigError{
			Param: "fragment capacity",
			Msg:   fmt.Sprintf("must be at least 1, got %d", maxUnique),
		}
	}
	return &SequenceDuplication{
		k:           k,
		sampleEvery: sampleEvery,
		maxUnique:   maxUnique,
		fragments:   make(map[uint64]uint64),
	}, nil
}

// AddBatch samples a batch of reads into the fragment table.
func (d *SequenceDuplication) AddBatch(batch *sequence.RecordBatch) {
	for i := range batch.Records {
		d.addRead(batch.Records[i].Sequence)
	}
}

func (d *SequenceDuplication) addRead(seq []byte) {
	d.seen++
	if (d.seen-1)%uint64(d.sampleEvery) != 0 {
		return
	}
	if len(seq) < d.k {
		d.shortSkip++
		return
	}

	var frag uint64
	for i := 0; i < d.k; i++ {
		code := twoBit[seq[i]]
		if code > 3 {
			d.ambiguous++
			return
		}
		frag = frag<<2 | uint64(code)
	}

	if _, ok := d.fragments[frag]; ok {
		d.fragments[frag]++
	} else if len(d.fragments) < d.maxUnique {
		d.fragments[frag] = 1
	} else {
		d.dropped++
		return
	}
	d.sampled++
}

// FragmentCount is one counted fragment.
type FragmentCount struct {
	Sequence string `json:"sequence"`
	Count    uint64 `json:"count"`
}

// DuplicationSummary is the point-in-time view of a SequenceDuplication
// profiler.
type DuplicationSummary struct {
	FragmentLength int `json:"fragment_length"`
	SampleEvery    int `json:"sample_every"`
	MaxUnique      int `json:"max_unique_fragments"`

	TotalReads uint64 `json:"total_reads"`

	// Sampled counts reads whose fragment was tallied.
	Sampled uint64 `json:"sampled"`

	// SkippedShort and SkippedAmbiguous count sampled reads that could
	// not contribute a fragment; Dropped counts fragments lost to the
	// capacity cap.
	SkippedShort     uint64 `json:"skipped_short"`
	SkippedAmbiguous uint64 `json:"skipped_ambiguous"`
	Dropped          uint64 `json:"dropped"`

	AtCapacity bool `json:"at_capacity"`

	// Fragments is sorted by descending count, ties broken by sequence,
	// so the most duplicated content comes first.
	Fragments []FragmentCount `json:"fragments"`
}

// Summary derives the exported view without modifying the profiler.
func (d *SequenceDuplication) Summary() *DuplicationSummary {
	s := &DuplicationSummary{
		FragmentLength:   d.k,
		SampleEvery:      d.sampleEvery,
		MaxUnique:        d.maxUnique,
		TotalReads:       d.seen,
		Sampled:          d.sampled,
		SkippedShort:     d.shortSkip,
		SkippedAmbiguous: d.ambiguous,
		Dropped:          d.dropped,
		AtCapacity:       len(d.fragments) >= d.maxUnique,
		Fragments:        make([]FragmentCount, 0, len(d.fragments)),
	}
	for frag, count := range d.fragments {
		s.Fragments = append(s.Fragments, FragmentCount{
			Sequence: decodeFragment(frag, d.k),
			Count:    count,
		})
	}
	sort.Slice(s.Fragments, func(i, j int) bool {
		if s.Fragments[i].Count != s.Fragments[j].Count {
			return s.Fragments[i].Count > s.Fragments[j].Count
		}
		return s.Fragments[i].Sequence < s.Fragments[j].Sequence
	})
	return s
}

func decodeFragment(frag uint64, k int) string {
	const bases = "ACGT"
	var sb strings.Builder
	sb.Grow(k)
	for i := k - 1; i >= 0; i-- {
		sb.WriteByte(bases[(frag>>(2*uint(i)))&3])
	}
	return sb.String()
}
