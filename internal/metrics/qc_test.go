package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQCMetrics_KnownBatch(t *testing.T) {
	t.Parallel()

	m := NewQCMetrics()
	m.AddBatch(buildBatch(
		testRead{seq: "ACGT", qual: "IIII"}, // phred 40 everywhere
		testRead{seq: "GGGG", qual: "5555"}, // phred 20 everywhere
		testRead{seq: "NNAT", qual: "!!!!"}, // phred 0 everywhere
	))
	s := m.Summary()

	assert.Equal(t, uint64(3), s.TotalReads)
	assert.Equal(t, uint64(12), s.TotalBases)
	assert.Equal(t, 4, s.MinLength)
	assert.Equal(t, 4, s.MaxLength)
	assert.InDelta(t, 4.0, s.MeanLength, 1e-9)

	// 8 of 12 bases are phred >= 20, 4 are >= 30.
	assert.InDelta(t, 8.0/12, s.Q20Fraction, 1e-9)
	assert.InDelta(t, 4.0/12, s.Q30Fraction, 1e-9)

	// GC counts G+C against A+T, ignoring N.
	assert.InDelta(t, 6.0/10, s.GCFraction, 1e-9)

	// Mean quality is the phred of the mean error rate:
	// (4*1e-4 + 4*1e-2 + 4*1) / 12.
	assert.InDelta(t, errToPhred((4e-4+4e-2+4)/12), s.MeanQuality, 1e-9)

	require.Len(t, s.Positions, 4)
	p1 := s.Positions[0]
	assert.Equal(t, 1, p1.Position)
	assert.Equal(t, BaseCounts{A: 1, G: 1, N: 1}, p1.Bases)
	assert.InDelta(t, errToPhred((1e-4+1e-2+1)/3), p1.MeanQuality, 1e-9)

	// Quality bins are 4 phred wide: 40 -> bin 10, 20 -> bin 5, 0 -> bin 0.
	assert.Equal(t, uint64(1), p1.QualityBins[10])
	assert.Equal(t, uint64(1), p1.QualityBins[5])
	assert.Equal(t, uint64(1), p1.QualityBins[0])

	assert.Equal(t, []LengthCount{{Length: 4, Count: 3}}, s.Lengths)

	assert.Equal(t, uint64(1), s.GCContent[0])
	assert.Equal(t, uint64(1), s.GCContent[50])
	assert.Equal(t, uint64(1), s.GCContent[100])

	assert.Equal(t, []PhredCount{
		{Quality: 0, Count: 1},
		{Quality: 20, Count: 1},
		{Quality: 40, Count: 1},
	}, s.ReadQuality)
}

func TestQCMetrics_MixedLengths(t *testing.T) {
	t.Parallel()

	m := NewQCMetrics()
	m.AddBatch(buildBatch(
		testRead{seq: "ACGTACGT"},
		testRead{seq: "AC"},
	))
	s := m.Summary()

	assert.Equal(t, 2, s.MinLength)
	assert.Equal(t, 8, s.MaxLength)
	assert.InDelta(t, 5.0, s.MeanLength, 1e-9)

	// Positions past the short read only count the long one.
	require.Len(t, s.Positions, 8)
	assert.Equal(t, uint64(2), s.Positions[0].Bases.Total())
	assert.Equal(t, uint64(1), s.Positions[2].Bases.Total())
}

func TestQCMetrics_EmptyRead(t *testing.T) {
	t.Parallel()

	m := NewQCMetrics()
	m.AddBatch(buildBatch(
		testRead{seq: ""},
		testRead{seq: "ACGT"},
	))
	s := m.Summary()

	assert.Equal(t, uint64(2), s.TotalReads)
	assert.Equal(t, uint64(4), s.TotalBases)
	assert.Equal(t, 0, s.MinLength)
	assert.Equal(t, []LengthCount{{Length: 0, Count: 1}, {Length: 4, Count: 1}}, s.Lengths)

	// Zero-length reads have no GC percentage or mean quality.
	var gcReads uint64
	for _, c := range s.GCContent {
		gcReads += c
	}
	assert.Equal(t, uint64(1), gcReads)
}

func TestQCMetrics_NoReads(t *testing.T) {
	t.Parallel()

	s := NewQCMetrics().Summary()
	assert.Equal(t, uint64(0), s.TotalReads)
	assert.Equal(t, 0, s.MaxLength)
	assert.Empty(t, s.Positions)
	assert.Empty(t, s.Lengths)
}

func TestQCMetrics_OrderAndSplitInvariance(t *testing.T) {
	t.Parallel()

	reads := []testRead{
		{seq: "ACGTACGTAA", qual: "IIIIIIIIII"},
		{seq: "GGGGCCCC", qual: "55555555"},
		{seq: "TTTT", qual: "!!!!"},
		{seq: "ACGTNNNN", qual: "IIII####"},
		{seq: "A", qual: "I"},
		{seq: "CCCCCCCCCCCC", qual: "IIIIII555555"},
	}

	whole := NewQCMetrics()
	whole.AddBatch(buildBatch(reads...))

	split := NewQCMetrics()
	split.AddBatch(buildBatch(reads[:2]...))
	split.AddBatch(buildBatch(reads[2:5]...))
	split.AddBatch(buildBatch(reads[5:]...))

	single := NewQCMetrics()
	for _, r := range reads {
		single.AddBatch(buildBatch(r))
	}

	reversed := NewQCMetrics()
	for i := len(reads) - 1; i >= 0; i-- {
		reversed.AddBatch(buildBatch(reads[i]))
	}

	assert.Equal(t, whole.Summary(), split.Summary())
	assert.Equal(t, whole.Summary(), single.Summary())

	// Reversing the reads permutes the float additions behind the mean
	// qualities, so those get a tolerance; every counted tally must
	// still match exactly.
	ws, rs := whole.Summary(), reversed.Summary()
	assert.Equal(t, ws.TotalReads, rs.TotalReads)
	assert.Equal(t, ws.TotalBases, rs.TotalBases)
	assert.Equal(t, ws.Lengths, rs.Lengths)
	assert.Equal(t, ws.GCContent, rs.GCContent)
	assert.Equal(t, ws.ReadQuality, rs.ReadQuality)
	assert.InDelta(t, ws.MeanQuality, rs.MeanQuality, 1e-9)
	require.Len(t, rs.Positions, len(ws.Positions))
	for i := range ws.Positions {
		assert.Equal(t, ws.Positions[i].Bases, rs.Positions[i].Bases)
		assert.Equal(t, ws.Positions[i].QualityBins, rs.Positions[i].QualityBins)
		assert.InDelta(t, ws.Positions[i].MeanQuality, rs.Positions[i].MeanQuality, 1e-9)
	}
}

func TestQCMetrics_SummaryIsRepeatable(t *testing.T) {
	t.Parallel()

	m := NewQCMetrics()
	m.AddBatch(buildBatch(testRead{seq: "ACGT"}))

	first := m.Summary()
	assert.Equal(t, first, m.Summary())

	// Summaries between batches do not disturb later results.
	m.AddBatch(buildBatch(testRead{seq: "TTTT"}))
	after := m.Summary()
	assert.Equal(t, uint64(2), after.TotalReads)
}
