package metrics

import (
	"fmt"
	"math/bits"

	"github.com/tkoski/seqvet/internal/sequence"
)

// MaxAdapterLength is the longest supported adapter probe. The shift-and
// matcher keeps its whole state in one machine word, which caps probes at 64
// bases; real adapter probes are far shorter.
const MaxAdapterLength = 64

// AdapterCounter counts exact adapter occurrences by read position using
// bit-parallel shift-and matching: one AND, one shift and one OR per read
// base per adapter. A full occurrence increments the counter at its start
// position; a partial occurrence still in progress when the read ends (an
// adapter prefix at the read tail) is counted at its start position too,
// since a longer read would have completed it.
//
// Matching is case-normalized and otherwise exact; IUPAC codes are matched
// literally, not as wildcards.
type AdapterCounter struct {
	matchers []matcher
	reads    uint64
	maxLen   int
}

type matcher struct {
	sequence string
	masks    [256]uint64
	accept   uint64 // bit set when a full occurrence ends at the current base
	length   int
	counts   []uint64
}

// NewAdapterCounter builds a counter for the given adapter sequences. The
// order of sequences is preserved in summaries.
func NewAdapterCounter(sequences []string) (*AdapterCounter, error) {
	c := &AdapterCounter{matchers: make([]matcher, 0, len(sequences))}
	for i, seq := range sequences {
		m, err := newMatcher(seq)
		if err != nil {
			return nil, &sequence.ConfigError{
				Param: "adapter",
				Msg:   fmt.Sprintf("sequence %d: %v", i+1, err),
			}
		}
		c.matchers = append(c.matchers, m)
	}
	return c, nil
}

func newMatcher(seq string) (matcher, error) {
	if len(seq) == 0 {
		return matcher{}, fmt.Errorf("must not be empty")
	}
	if len(seq) > MaxAdapterLength {
		return matcher{}, fmt.Errorf("%d bases exceeds the maximum of %d", len(seq), MaxAdapterLength)
	}

	m := matcher{
		sequence: seq,
		accept:   1 << (len(seq) - 1),
		length:   len(seq),
	}
	for i := 0; i < len(seq); i++ {
		c := seq[i]
		switch {
		case c >= 'A' && c <= 'Z':
			m.masks[c] |= 1 << i
			m.masks[c+'a'-'A'] |= 1 << i
		case c >= 'a' && c <= 'z':
			m.masks[c] |= 1 << i
			m.masks[c-'a'+'A'] |= 1 << i
		default:
			return matcher{}, fmt.Errorf("base %d is not a letter", i+1)
		}
	}
	return m, nil
}

// AddBatch scans a batch of reads for all adapters.
func (c *AdapterCounter) AddBatch(batch *sequence.RecordBatch) {
	for i := range batch.Records {
		c.addRead(batch.Records[i].Sequence)
	}
}

func (c *AdapterCounter) addRead(seq []byte) {
	n := len(seq)
	if n > c.maxLen {
		c.maxLen = n
	}

	for k := range c.matchers {
		m := &c.matchers[k]
		if n > len(m.counts) {
			m.counts = append(m.counts, make([]uint64, n-len(m.counts))...)
		}

		var state uint64
		for i := 0; i < n; i++ {
			state = ((state << 1) | 1) & m.masks[seq[i]]
			if state&m.accept != 0 {
				m.counts[i-m.length+1]++
			}
		}

		// Bits still set below the accept bit are adapter prefixes that
		// ran into the end of the read.
		for tail := state &^ m.accept; tail != 0; tail &= tail - 1 {
			j := bits.TrailingZeros64(tail)
			m.counts[n-1-j]++
		}
	}
	c.reads++
}

// AdapterCount summarizes one adapter.
type AdapterCount struct {
	Sequence string `json:"sequence"`

	// Counts holds occurrences by 0-based start position, sized to the
	// longest read seen.
	Counts []uint64 `json:"counts_by_position"`

	Total uint64 `json:"total"`
}

// AdapterSummary is the point-in-time view of an AdapterCounter.
type AdapterSummary struct {
	TotalReads uint64 `json:"total_reads"`

	// Adapters appear in construction order.
	Adapters []AdapterCount `json:"adapters"`
}

// Summary derives the exported view without modifying the collector.
func (c *AdapterCounter) Summary() *AdapterSummary {
	s := &AdapterSummary{
		TotalReads: c.reads,
		Adapters:   make([]AdapterCount, len(c.matchers)),
	}
	for i := range c.matchers {
		m := &c.matchers[i]
		counts := make([]uint64, c.maxLen)
		copy(counts, m.counts)

		var total uint64
		for _, v := range counts {
			total += v
		}
		s.Adapters[i] = AdapterCount{
			Sequence: m.sequence,
			Counts:   counts,
			Total:    total,
		}
	}
	return s
}
