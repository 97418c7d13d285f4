// Package metrics implements the streaming statistics collectors that
// consume record batches. Every collector follows the same contract: feed it
// batches one at a time with AddBatch, never let it retain batch memory, and
// ask for a summary whenever one is needed. Summaries are pure views of the
// accumulated state, so interleaving AddBatch and Summary calls is fine.
//
// Memory use of every collector is bounded by its configuration and the
// longest read seen, never by the number of reads processed.
package metrics

import (
	"math"

	"github.com/tkoski/seqvet/internal/sequence"
)

// Accumulator is the shared contract of all collectors.
type Accumulator interface {
	AddBatch(batch *sequence.RecordBatch)
}

// Base tally columns. Anything that is not an unambiguous A, C, G or T is
// tallied as N, which covers IUPAC ambiguity codes and the '=' bases BAM
// records may carry.
const (
	baseA = iota
	baseC
	baseG
	baseT
	baseN
	numBases
)

var baseIndex [256]uint8

// phredError maps a phred+33 quality byte to its error probability.
var phredError [256]float64

func init() {
	for i := range baseIndex {
		baseIndex[i] = baseN
	}
	baseIndex['A'], baseIndex['a'] = baseA, baseA
	baseIndex['C'], baseIndex['c'] = baseC, baseC
	baseIndex['G'], baseIndex['g'] = baseG, baseG
	baseIndex['T'], baseIndex['t'] = baseT, baseT

	for i := range phredError {
		phred := i - sequence.PhredOffset
		if phred < 0 {
			phredError[i] = 1
			continue
		}
		phredError[i] = math.Pow(10, -float64(phred)/10)
	}
}

// meanError returns the mean base error probability of a read, the right way
// to average phred scores. An empty read has no defined error rate; callers
// handle that case themselves.
func meanError(qual []byte) float64 {
	var sum float64
	for _, q := range qual {
		sum += phredError[q]
	}
	return sum / float64(len(qual))
}

// errToPhred converts an error probability back to the phred scale, clamped
// to the representable range.
func errToPhred(e float64) float64 {
	if e <= 0 {
		return float64(sequence.MaxPhred)
	}
	p := -10 * math.Log10(e)
	if p < 0 {
		return 0
	}
	if p > float64(sequence.MaxPhred) {
		return float64(sequence.MaxPhred)
	}
	return p
}
