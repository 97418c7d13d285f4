// Package report assembles the accumulator summaries produced by a QC run
// into one document and renders it as JSON or a terminal summary.
package report

import (
	"math"

	"github.com/tkoski/seqvet/internal/metrics"
)

// Default overrepresentation thresholds.
const (
	DefaultFractionThreshold = 0.0001
	DefaultMinThreshold      = 100
)

// tileDeviationPhred is the mean per-position deviation, in phred units,
// beyond which a tile is flagged as deviating from the flow cell average.
const tileDeviationPhred = 2.0

// Thresholds classifies sampled fragments as overrepresented. A fragment
// qualifies when its count reaches Max outright, or when its fraction of
// sampled reads reaches Fraction and its count reaches min(Min, Max).
type Thresholds struct {
	Fraction float64 `json:"fraction"`
	Min      uint64  `json:"min_count"`
	Max      uint64  `json:"max_count"`
}

// DefaultThresholds mirrors the command-line defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Fraction: DefaultFractionThreshold,
		Min:      DefaultMinThreshold,
		Max:      math.MaxUint64,
	}
}

func (t Thresholds) overrepresented(count, sampled uint64) bool {
	if count >= t.Max {
		return true
	}
	if sampled == 0 {
		return false
	}
	if float64(count)/float64(sampled) < t.Fraction {
		return false
	}
	return count >= min(t.Min, t.Max)
}

// Meta identifies the tool that produced a document.
type Meta struct {
	Tool    string `json:"tool"`
	Version string `json:"version"`
}

// Input describes the file a document was computed from.
type Input struct {
	Filename    string `json:"filename"`
	Format      string `json:"format"`
	Compression string `json:"compression"`
	Technology  string `json:"technology,omitempty"`
}

// Summaries carries the final state of all six accumulators.
type Summaries struct {
	QC          metrics.QCSummary
	Tiles       metrics.TileSummary
	Adapters    metrics.AdapterSummary
	Duplication metrics.DuplicationSummary
	Dedup       metrics.DedupSummary
	Nano        metrics.NanoSummary
}

// TileQuality is one tile's aggregate in the assembled document.
type TileQuality struct {
	Tile  int    `json:"tile"`
	Reads uint64 `json:"reads"`

	// MeanQuality per position, as accumulated.
	MeanQuality []float64 `json:"mean_quality"`

	// Deviation is the tile's mean phred offset from the per-position
	// flow cell means, averaged over the positions the tile covers.
	Deviation float64 `json:"deviation"`
	Flagged   bool    `json:"flagged"`
}

// PerTile reports spatial quality variation across the flow cell.
type PerTile struct {
	CountedReads  uint64        `json:"counted_reads"`
	SkippedReads  uint64        `json:"reads_without_tile"`
	PositionMeans []float64     `json:"position_means"`
	Tiles         []TileQuality `json:"tiles"`
	FlaggedTiles  []int         `json:"flagged_tiles"`
}

// AdapterOccurrence is one probe's match profile.
type AdapterOccurrence struct {
	Name     string `json:"name"`
	Sequence string `json:"sequence"`
	Total    uint64 `json:"total_matches"`

	// Counts holds raw match-start counts per read position.
	Counts []uint64 `json:"counts_by_position"`

	// CumulativeFraction[i] is the fraction of reads with a match starting
	// at or before position i.
	CumulativeFraction []float64 `json:"cumulative_fraction"`
}

// AdapterContent reports adapter contamination along the read length.
type AdapterContent struct {
	TotalReads uint64              `json:"total_reads"`
	Adapters   []AdapterOccurrence `json:"adapters"`
}

// OverrepresentedSequence is a sampled fragment that passed the thresholds.
type OverrepresentedSequence struct {
	Sequence string  `json:"sequence"`
	Count    uint64  `json:"count"`
	Fraction float64 `json:"fraction"`
}

// Overrepresented reports fragments exceeding the configured thresholds,
// most frequent first.
type Overrepresented struct {
	SampledReads      uint64                    `json:"sampled_reads"`
	FragmentLength    int                       `json:"fragment_length"`
	SampleEvery       int                       `json:"sample_every"`
	MaxUnique         int                       `json:"max_unique_fragments"`
	AtCapacity        bool                      `json:"at_capacity"`
	DroppedFragments  uint64                    `json:"dropped_fragments"`
	Thresholds        Thresholds                `json:"thresholds"`
	DistinctFragments int                       `json:"distinct_fragments"`
	Sequences         []OverrepresentedSequence `json:"sequences"`
}

// Document is the complete assembled QC report.
type Document struct {
	Meta            Meta                 `json:"meta"`
	Input           Input                `json:"input"`
	Summary         metrics.QCSummary    `json:"summary"`
	PerTile         PerTile              `json:"per_tile_quality"`
	AdapterContent  AdapterContent       `json:"adapter_content"`
	Overrepresented Overrepresented      `json:"overrepresented_sequences"`
	Duplication     metrics.DedupSummary `json:"duplication_estimate"`
	Nanopore        metrics.NanoSummary  `json:"nanopore"`
}

// Build assembles the document. adapterNames pairs with the adapter counts
// in order; missing names fall back to the probe sequence.
func Build(meta Meta, input Input, s Summaries, adapterNames []string, thr Thresholds) *Document {
	return &Document{
		Meta:            meta,
		Input:           input,
		Summary:         s.QC,
		PerTile:         buildPerTile(s.Tiles),
		AdapterContent:  buildAdapterContent(s.Adapters, adapterNames),
		Overrepresented: buildOverrepresented(s.Duplication, thr),
		Duplication:     s.Dedup,
		Nanopore:        s.Nano,
	}
}

func buildPerTile(s metrics.TileSummary) PerTile {
	out := PerTile{
		CountedReads:  s.CountedReads,
		SkippedReads:  s.SkippedReads,
		PositionMeans: s.PositionMeans,
		Tiles:         make([]TileQuality, 0, len(s.Tiles)),
	}
	for _, tile := range s.Tiles {
		dev := tileDeviation(tile.MeanQuality, s.PositionMeans)
		tq := TileQuality{
			Tile:        tile.Tile,
			Reads:       tile.Reads,
			MeanQuality: tile.MeanQuality,
			Deviation:   dev,
			Flagged:     math.Abs(dev) > tileDeviationPhred,
		}
		out.Tiles = append(out.Tiles, tq)
		if tq.Flagged {
			out.FlaggedTiles = append(out.FlaggedTiles, tq.Tile)
		}
	}
	return out
}

// tileDeviation averages the tile's phred offset from the flow cell means
// over the positions the tile actually covers.
func tileDeviation(tile, global []float64) float64 {
	n := min(len(tile), len(global))
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += tile[i] - global[i]
	}
	return sum / float64(n)
}

func buildAdapterContent(s metrics.AdapterSummary, names []string) AdapterContent {
	out := AdapterContent{
		TotalReads: s.TotalReads,
		Adapters:   make([]AdapterOccurrence, 0, len(s.Adapters)),
	}
	for i, a := range s.Adapters {
		name := a.Sequence
		if i < len(names) && names[i] != "" {
			name = names[i]
		}
		occ := AdapterOccurrence{
			Name:               name,
			Sequence:           a.Sequence,
			Total:              a.Total,
			Counts:             a.Counts,
			CumulativeFraction: make([]float64, len(a.Counts)),
		}
		var running uint64
		for j, c := range a.Counts {
			running += c
			if s.TotalReads > 0 {
				occ.CumulativeFraction[j] = float64(running) / float64(s.TotalReads)
			}
		}
		out.Adapters = append(out.Adapters, occ)
	}
	return out
}

func buildOverrepresented(s metrics.DuplicationSummary, thr Thresholds) Overrepresented {
	out := Overrepresented{
		SampledReads:      s.Sampled,
		FragmentLength:    s.FragmentLength,
		SampleEvery:       s.SampleEvery,
		MaxUnique:         s.MaxUnique,
		AtCapacity:        s.AtCapacity,
		DroppedFragments:  s.Dropped,
		Thresholds:        thr,
		DistinctFragments: len(s.Fragments),
	}
	for _, frag := range s.Fragments {
		if !thr.overrepresented(frag.Count, s.Sampled) {
			continue
		}
		var fraction float64
		if s.Sampled > 0 {
			fraction = float64(frag.Count) / float64(s.Sampled)
		}
		out.Sequences = append(out.Sequences, OverrepresentedSequence{
			Sequence: frag.Sequence,
			Count:    frag.Count,
			Fraction: fraction,
		})
	}
	return out
}
