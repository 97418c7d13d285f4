package metrics

import (
	"sort"

	"github.com/tkoski/seqvet/internal/sequence"
)

// timeBucketSeconds is the width of the throughput time series buckets.
const timeBucketSeconds = 60

// NanoStats aggregates nanopore run metadata: per-channel activity and a
// per-minute throughput time series. Reads without channel or timestamp
// metadata, which is every read from other platforms, are counted but
// otherwise ignored, so the collector is a cheap no-op on Illumina data.
type NanoStats struct {
	channels map[int32]*channelTally
	buckets  map[int64]*bucketTally

	total   uint64
	skipped uint64
}

type channelTally struct {
	reads     uint64
	bases     uint64
	errSum    float64 // sum of per-read mean error rates
	firstTime int64
	lastTime  int64
}

type bucketTally struct {
	reads uint64
	bases uint64
}

// NewNanoStats returns an empty collector.
func NewNanoStats() *NanoStats {
	return &NanoStats{
		channels: make(map[int32]*channelTally),
		buckets:  make(map[int64]*bucketTally),
	}
}

// AddBatch folds a batch of reads into the run statistics.
func (n *NanoStats) AddBatch(batch *sequence.RecordBatch) {
	for i := range batch.Records {
		rec := &batch.Records[i]
		n.total++

		hasMeta := false
		if rec.Channel > 0 {
			hasMeta = true
			c := n.channels[rec.Channel]
			if c == nil {
				c = &channelTally{}
				n.channels[rec.Channel] = c
			}
			c.reads++
			c.bases += uint64(len(rec.Sequence))
			if len(rec.Quality) > 0 {
				c.errSum += meanError(rec.Quality)
			}
			if rec.StartTime > 0 {
				if c.firstTime == 0 || rec.StartTime < c.firstTime {
					c.firstTime = rec.StartTime
				}
				if rec.StartTime > c.lastTime {
					c.lastTime = rec.StartTime
				}
			}
		}
		if rec.StartTime > 0 {
			hasMeta = true
			start := rec.StartTime - rec.StartTime%timeBucketSeconds
			b := n.buckets[start]
			if b == nil {
				b = &bucketTally{}
				n.buckets[start] = b
			}
			b.reads++
			b.bases += uint64(len(rec.Sequence))
		}
		if !hasMeta {
			n.skipped++
		}
	}
}

// ChannelActivity summarizes one nanopore channel.
type ChannelActivity struct {
	Channel int32  `json:"channel"`
	Reads   uint64 `json:"reads"`
	Bases   uint64 `json:"bases"`

	// MeanQuality is the phred value of the mean of per-read error rates.
	MeanQuality float64 `json:"mean_quality"`

	// FirstTime and LastTime bound the channel's activity in Unix
	// seconds, 0 when no read carried a timestamp.
	FirstTime int64 `json:"first_time"`
	LastTime  int64 `json:"last_time"`
}

// TimeBucket is one minute of sequencing throughput.
type TimeBucket struct {
	// Start is the bucket's start in Unix seconds.
	Start int64  `json:"start"`
	Reads uint64 `json:"reads"`
	Bases uint64 `json:"bases"`
}

// NanoSummary is the point-in-time view of a NanoStats collector.
type NanoSummary struct {
	TotalReads uint64 `json:"total_reads"`

	// ReadsWithMetadata counts reads carrying a channel, a timestamp or
	// both. Zero on non-nanopore inputs.
	ReadsWithMetadata uint64 `json:"reads_with_metadata"`

	// Channels is sorted by channel number.
	Channels []ChannelActivity `json:"channels"`

	// TimeSeries is sorted by bucket start.
	TimeSeries []TimeBucket `json:"time_series"`
}

// Summary derives the exported view without modifying the collector.
func (n *NanoStats) Summary() *NanoSummary {
	s := &NanoSummary{
		TotalReads:        n.total,
		ReadsWithMetadata: n.total - n.skipped,
		Channels:          make([]ChannelActivity, 0, len(n.channels)),
		TimeSeries:        make([]TimeBucket, 0, len(n.buckets)),
	}

	for ch, c := range n.channels {
		a := ChannelActivity{
			Channel:   ch,
			Reads:     c.reads,
			Bases:     c.bases,
			FirstTime: c.firstTime,
			LastTime:  c.lastTime,
		}
		if c.reads > 0 {
			a.MeanQuality = errToPhred(c.errSum / float64(c.reads))
		}
		s.Channels = append(s.Channels, a)
	}
	sort.Slice(s.Channels, func(i, j int) bool { return s.Channels[i].Channel < s.Channels[j].Channel })

	for start, b := range n.buckets {
		s.TimeSeries = append(s.TimeSeries, TimeBucket{Start: start, Reads: b.reads, Bases: b.bases})
	}
	sort.Slice(s.TimeSeries, func(i, j int) bool { return s.TimeSeries[i].Start < s.TimeSeries[j].Start })
	return s
}
