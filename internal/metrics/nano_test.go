package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNanoStats_GroupsByChannel(t *testing.T) {
	t.Parallel()

	n := NewNanoStats()
	n.AddBatch(buildBatch(
		testRead{seq: "ACGTACGT", qual: "IIIIIIII", channel: 7, start: 1686135845},
		testRead{seq: "ACGT", qual: "!!!!", channel: 7, start: 1686135850},
		testRead{seq: "GGGG", qual: "IIII", channel: 2, start: 1686135902},
	))
	s := n.Summary()

	assert.Equal(t, uint64(3), s.TotalReads)
	assert.Equal(t, uint64(3), s.ReadsWithMetadata)

	require.Len(t, s.Channels, 2)
	assert.Equal(t, int32(2), s.Channels[0].Channel)
	assert.Equal(t, int32(7), s.Channels[1].Channel)

	ch7 := s.Channels[1]
	assert.Equal(t, uint64(2), ch7.Reads)
	assert.Equal(t, uint64(12), ch7.Bases)
	assert.Equal(t, int64(1686135845), ch7.FirstTime)
	assert.Equal(t, int64(1686135850), ch7.LastTime)

	// Channel quality averages the per-read mean error rates.
	assert.InDelta(t, errToPhred((1e-4+1)/2), ch7.MeanQuality, 1e-9)
	assert.InDelta(t, 40, s.Channels[0].MeanQuality, 1e-9)
}

func TestNanoStats_MinuteBuckets(t *testing.T) {
	t.Parallel()

	n := NewNanoStats()
	n.AddBatch(buildBatch(
		testRead{seq: "ACGT", channel: 1, start: 1686135845},     // 11:04:05
		testRead{seq: "ACGT", channel: 1, start: 1686135850},     // 11:04:10
		testRead{seq: "ACGTACGT", channel: 2, start: 1686135902}, // 11:05:02
	))
	s := n.Summary()

	require.Len(t, s.TimeSeries, 2)
	assert.Equal(t, TimeBucket{Start: 1686135840, Reads: 2, Bases: 8}, s.TimeSeries[0])
	assert.Equal(t, TimeBucket{Start: 1686135900, Reads: 1, Bases: 8}, s.TimeSeries[1])
}

func TestNanoStats_PartialMetadata(t *testing.T) {
	t.Parallel()

	n := NewNanoStats()
	n.AddBatch(buildBatch(
		testRead{seq: "ACGT", channel: 3},        // channel, no timestamp
		testRead{seq: "ACGT", start: 1686135845}, // timestamp, no channel
		testRead{seq: "ACGT"},                    // neither
	))
	s := n.Summary()

	assert.Equal(t, uint64(3), s.TotalReads)
	assert.Equal(t, uint64(2), s.ReadsWithMetadata)

	require.Len(t, s.Channels, 1)
	assert.Equal(t, int64(0), s.Channels[0].FirstTime)
	assert.Equal(t, int64(0), s.Channels[0].LastTime)

	require.Len(t, s.TimeSeries, 1)
	assert.Equal(t, uint64(1), s.TimeSeries[0].Reads)
}

func TestNanoStats_NoMetadataIsNoop(t *testing.T) {
	t.Parallel()

	n := NewNanoStats()
	n.AddBatch(buildBatch(
		testRead{name: "illumina:1:FC:1:1101:5:9", seq: "ACGT"},
		testRead{name: "illumina:1:FC:1:1101:6:9", seq: "ACGT"},
	))
	s := n.Summary()

	assert.Equal(t, uint64(2), s.TotalReads)
	assert.Equal(t, uint64(0), s.ReadsWithMetadata)
	assert.Empty(t, s.Channels)
	assert.Empty(t, s.TimeSeries)
}
