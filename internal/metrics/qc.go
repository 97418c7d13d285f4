package metrics

import (
	"math"

	"github.com/tkoski/seqvet/internal/sequence"
)

// Per-position qualities are tallied into fixed-width phred bins; the last
// bin is open-ended.
const (
	numQualBins  = 12
	qualBinWidth = 4
)

// QCMetrics tallies base composition and quality per read position together
// with whole-read aggregates: length distribution, GC content distribution
// and per-read mean quality.
type QCMetrics struct {
	reads   uint64
	bases   uint64
	q20     uint64
	q30     uint64
	gcBases uint64
	atBases uint64
	errSum  float64
	minLen  int
	maxLen  int

	positions   []positionTally
	lengths     []uint64
	gcContent   [101]uint64
	readQuality [sequence.MaxPhred + 1]uint64
}

type positionTally struct {
	bases    [numBases]uint64
	qualBins [numQualBins]uint64
	errSum   float64
}

// NewQCMetrics returns an empty collector.
func NewQCMetrics() *QCMetrics {
	return &QCMetrics{}
}

// AddBatch folds a batch of reads into the tallies.
func (m *QCMetrics) AddBatch(batch *sequence.RecordBatch) {
	for i := range batch.Records {
		m.addRead(&batch.Records[i])
	}
}

func (m *QCMetrics) addRead(rec *sequence.Read) {
	n := len(rec.Sequence)

	if m.reads == 0 {
		m.minLen, m.maxLen = n, n
	} else if n < m.minLen {
		m.minLen = n
	} else if n > m.maxLen {
		m.maxLen = n
	}
	m.reads++
	m.bases += uint64(n)

	if n > len(m.positions) {
		m.positions = append(m.positions, make([]positionTally, n-len(m.positions))...)
	}
	if n >= len(m.lengths) {
		m.lengths = append(m.lengths, make([]uint64, n-len(m.lengths)+1)...)
	}
	m.lengths[n]++

	var gc, at uint64
	var errSum float64
	for j := 0; j < n; j++ {
		pos := &m.positions[j]

		switch idx := baseIndex[rec.Sequence[j]]; idx {
		case baseG, baseC:
			gc++
			pos.bases[idx]++
		case baseA, baseT:
			at++
			pos.bases[idx]++
		default:
			pos.bases[baseN]++
		}

		q := rec.Quality[j]
		phred := int(q) - sequence.PhredOffset
		bin := phred / qualBinWidth
		if bin >= numQualBins {
			bin = numQualBins - 1
		}
		pos.qualBins[bin]++

		e := phredError[q]
		pos.errSum += e
		errSum += e

		if phred >= 20 {
			m.q20++
			if phred >= 30 {
				m.q30++
			}
		}
	}
	m.gcBases += gc
	m.atBases += at
	m.errSum += errSum

	if n > 0 {
		pct := int(math.Round(float64(gc) * 100 / float64(n)))
		m.gcContent[pct]++

		// Round, not truncate: a read of uniform phred q must land in
		// bin q even when the log conversion is off by an ulp.
		m.readQuality[int(math.Round(errToPhred(errSum/float64(n))))]++
	}
}

// BaseCounts is a per-position base composition tally.
type BaseCounts struct {
	A uint64 `json:"a"`
	C uint64 `json:"c"`
	G uint64 `json:"g"`
	T uint64 `json:"t"`
	N uint64 `json:"n"`
}

// Total returns the number of reads covering the position.
func (b BaseCounts) Total() uint64 { return b.A + b.C + b.G + b.T + b.N }

// PositionSummary describes one read position across all reads long enough
// to cover it.
type PositionSummary struct {
	// Position is 1-based.
	Position int `json:"position"`

	Bases BaseCounts `json:"bases"`

	// MeanQuality is the phred value of the mean error rate at this
	// position.
	MeanQuality float64 `json:"mean_quality"`

	// QualityBins counts bases by phred range; bin i covers phred 4i to
	// 4i+3 and the last bin is open-ended.
	QualityBins [numQualBins]uint64 `json:"quality_bins"`
}

// LengthCount is one entry of the sparse read length histogram.
type LengthCount struct {
	Length int    `json:"length"`
	Count  uint64 `json:"count"`
}

// PhredCount is one entry of the sparse per-read quality histogram.
type PhredCount struct {
	Quality int    `json:"quality"`
	Count   uint64 `json:"count"`
}

// QCSummary is the point-in-time view of a QCMetrics collector.
type QCSummary struct {
	TotalReads  uint64  `json:"total_reads"`
	TotalBases  uint64  `json:"total_bases"`
	MinLength   int     `json:"min_length"`
	MaxLength   int     `json:"max_length"`
	MeanLength  float64 `json:"mean_length"`
	GCFraction  float64 `json:"gc_fraction"`
	Q20Fraction float64 `json:"q20_fraction"`
	Q30Fraction float64 `json:"q30_fraction"`

	// MeanQuality is the phred value of the mean error rate over all
	// bases, not the arithmetic mean of phred scores.
	MeanQuality float64 `json:"mean_quality"`

	Positions []PositionSummary `json:"per_position"`

	// Lengths is sparse: only lengths that occurred appear.
	Lengths []LengthCount `json:"length_histogram"`

	// GCContent counts reads by rounded GC percentage, 0 through 100.
	GCContent [101]uint64 `json:"gc_content"`

	// ReadQuality is sparse: per-read mean quality, error-rate averaged.
	ReadQuality []PhredCount `json:"read_quality"`
}

// Summary derives the exported view. It does not modify the collector and
// can be called between batches.
func (m *QCMetrics) Summary() *QCSummary {
	s := &QCSummary{
		TotalReads: m.reads,
		TotalBases: m.bases,
		MinLength:  m.minLen,
		MaxLength:  m.maxLen,
		GCContent:  m.gcContent,
	}
	if m.reads > 0 {
		s.MeanLength = float64(m.bases) / float64(m.reads)
	}
	if m.bases > 0 {
		s.Q20Fraction = float64(m.q20) / float64(m.bases)
		s.Q30Fraction = float64(m.q30) / float64(m.bases)
		s.MeanQuality = errToPhred(m.errSum / float64(m.bases))
	}
	if gcat := m.gcBases + m.atBases; gcat > 0 {
		s.GCFraction = float64(m.gcBases) / float64(gcat)
	}

	s.Positions = make([]PositionSummary, len(m.positions))
	for i := range m.positions {
		pos := &m.positions[i]
		ps := PositionSummary{
			Position: i + 1,
			Bases: BaseCounts{
				A: pos.bases[baseA],
				C: pos.bases[baseC],
				G: pos.bases[baseG],
				T: pos.bases[baseT],
				N: pos.bases[baseN],
			},
			QualityBins: pos.qualBins,
		}
		if total := ps.Bases.Total(); total > 0 {
			ps.MeanQuality = errToPhred(pos.errSum / float64(total))
		}
		s.Positions[i] = ps
	}

	for length, count := range m.lengths {
		if count > 0 {
			s.Lengths = append(s.Lengths, LengthCount{Length: length, Count: count})
		}
	}
	for phred, count := range m.readQuality {
		if count > 0 {
			s.ReadQuality = append(s.ReadQuality, PhredCount{Quality: phred, Count: count})
		}
	}
	return s
}
