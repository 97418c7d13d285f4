package metrics

import (
	"bytes"
	"sort"

	"github.com/tkoski/seqvet/internal/sequence"
)

// PerTileQuality tracks per-position quality per Illumina flow cell tile, so
// a single misbehaving tile shows up instead of disappearing into the
// overall average. Reads whose names carry no parseable tile number are
// skipped by this collector only; other collectors still see them.
type PerTileQuality struct {
	tiles   map[int]*tileTally
	counted uint64
	skipped uint64
}

type tileTally struct {
	reads   uint64
	errSums []float64
	counts  []uint64
}

// NewPerTileQuality returns an empty collector.
func NewPerTileQuality() *PerTileQuality {
	return &PerTileQuality{tiles: make(map[int]*tileTally)}
}

// AddBatch folds a batch of reads into the per-tile tallies.
func (p *PerTileQuality) AddBatch(batch *sequence.RecordBatch) {
	for i := range batch.Records {
		rec := &batch.Records[i]
		tile, ok := tileFromName(rec.Name)
		if !ok {
			p.skipped++
			continue
		}

		t := p.tiles[tile]
		if t == nil {
			t = &tileTally{}
			p.tiles[tile] = t
		}
		t.add(rec.Quality)
		p.counted++
	}
}

func (t *tileTally) add(qual []byte) {
	t.reads++
	if n := len(qual); n > len(t.counts) {
		t.errSums = append(t.errSums, make([]float64, n-len(t.errSums))...)
		t.counts = append(t.counts, make([]uint64, n-len(t.counts))...)
	}
	for i, q := range qual {
		t.errSums[i] += phredError[q]
		t.counts[i]++
	}
}

// tileFromName extracts the tile number from an Illumina read name. Names
// with seven or more colon-separated fields carry the tile in the fifth
// field; the older five-field layout carries it in the third. Anything else
// has no tile.
func tileFromName(name []byte) (int, bool) {
	// Only the part before the first space is the read id.
	if i := bytes.IndexByte(name, ' '); i >= 0 {
		name = name[:i]
	}

	var fields [8][]byte
	n := 0
	for len(name) > 0 && n < len(fields) {
		i := bytes.IndexByte(name, ':')
		if i < 0 {
			fields[n] = name
			n++
			break
		}
		fields[n] = name[:i]
		name = name[i+1:]
		n++
	}

	switch {
	case n >= 7:
		return parseTile(fields[4])
	case n == 5:
		return parseTile(fields[2])
	}
	return 0, false
}

func parseTile(field []byte) (int, bool) {
	if len(field) == 0 || len(field) > 9 {
		return 0, false
	}
	tile := 0
	for _, c := range field {
		if c < '0' || c > '9' {
			return 0, false
		}
		tile = tile*10 + int(c-'0')
	}
	return tile, true
}

// TileReport summarizes one tile.
type TileReport struct {
	Tile  int    `json:"tile"`
	Reads uint64 `json:"reads"`

	// MeanQuality is the phred value of the tile's mean error rate at
	// each read position.
	MeanQuality []float64 `json:"mean_quality"`
}

// TileSummary is the point-in-time view of a PerTileQuality collector.
type TileSummary struct {
	// Tiles is sorted by tile number.
	Tiles []TileReport `json:"tiles"`

	// PositionMeans is the mean quality across all tiles per position,
	// the baseline tile deviations are measured against.
	PositionMeans []float64 `json:"position_means"`

	CountedReads uint64 `json:"counted_reads"`
	SkippedReads uint64 `json:"reads_without_tile"`
}

// Summary derives the exported view without modifying the collector.
func (p *PerTileQuality) Summary() *TileSummary {
	s := &TileSummary{
		Tiles:        make([]TileReport, 0, len(p.tiles)),
		CountedReads: p.counted,
		SkippedReads: p.skipped,
	}

	maxLen := 0
	for _, t := range p.tiles {
		if len(t.counts) > maxLen {
			maxLen = len(t.counts)
		}
	}
	totalErr := make([]float64, maxLen)
	totalCount := make([]uint64, maxLen)

	for tile, t := range p.tiles {
		r := TileReport{
			Tile:        tile,
			Reads:       t.reads,
			MeanQuality: make([]float64, len(t.counts)),
		}
		for i := range t.counts {
			if t.counts[i] > 0 {
				r.MeanQuality[i] = errToPhred(t.errSums[i] / float64(t.counts[i]))
			}
			totalErr[i] += t.errSums[i]
			totalCount[i] += t.counts[i]
		}
		s.Tiles = append(s.Tiles, r)
	}
	sort.Slice(s.Tiles, func(i, j int) bool { return s.Tiles[i].Tile < s.Tiles[j].Tile })

	s.PositionMeans = make([]float64, maxLen)
	for i := range s.PositionMeans {
		if totalCount[i] > 0 {
			s.PositionMeans[i] = errToPhred(totalErr[i] / float64(totalCount[i]))
		}
	}
	return s
}
