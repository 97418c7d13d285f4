package report

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// WriteJSON writes the document as indented JSON.
func WriteJSON(w io.Writer, doc *Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}

// Load reads a document previously written by WriteJSON.
func Load(r io.Reader) (*Document, error) {
	var doc Document
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &doc, nil
}

// maxListedSequences caps the overrepresented list in the text rendering;
// the JSON document keeps the full list.
const maxListedSequences = 10

// WriteText renders the document as a terminal summary.
func WriteText(w io.Writer, doc *Document) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "%s %s report for %s\n", doc.Meta.Tool, doc.Meta.Version, doc.Input.Filename)
	fmt.Fprintf(tw, "format:\t%s", doc.Input.Format)
	if doc.Input.Compression != "" && doc.Input.Compression != "none" {
		fmt.Fprintf(tw, " (%s)", doc.Input.Compression)
	}
	fmt.Fprintln(tw)
	if doc.Input.Technology != "" {
		fmt.Fprintf(tw, "technology:\t%s\n", doc.Input.Technology)
	}
	fmt.Fprintln(tw)

	s := doc.Summary
	fmt.Fprintf(tw, "reads:\t%d\n", s.TotalReads)
	fmt.Fprintf(tw, "bases:\t%d\n", s.TotalBases)
	fmt.Fprintf(tw, "read length:\t%d..%d (mean %.1f)\n", s.MinLength, s.MaxLength, s.MeanLength)
	fmt.Fprintf(tw, "GC content:\t%.1f%%\n", s.GCFraction*100)
	fmt.Fprintf(tw, "Q20 / Q30 bases:\t%.1f%% / %.1f%%\n", s.Q20Fraction*100, s.Q30Fraction*100)
	fmt.Fprintf(tw, "mean read quality:\t%.1f\n", s.MeanQuality)
	fmt.Fprintln(tw)

	d := doc.Duplication
	fmt.Fprintf(tw, "estimated duplication:\t%.1f%% (%.0f distinct of %d reads)\n",
		d.DuplicationFraction*100, d.EstimatedDistinct, d.TotalReads)

	writeAdapterText(tw, doc)
	writeOverrepresentedText(tw, doc)
	writeTileText(tw, doc)
	writeNanoText(tw, doc)

	return tw.Flush()
}

func writeAdapterText(w io.Writer, doc *Document) {
	ac := doc.AdapterContent
	if len(ac.Adapters) == 0 {
		return
	}
	fmt.Fprintf(w, "\nadapter content (%d reads):\n", ac.TotalReads)
	for _, a := range ac.Adapters {
		var fraction float64
		if ac.TotalReads > 0 {
			fraction = float64(a.Total) / float64(ac.TotalReads)
		}
		fmt.Fprintf(w, "  %s:\t%d matches\t%.2f%% of reads\n", a.Name, a.Total, fraction*100)
	}
}

func writeOverrepresentedText(w io.Writer, doc *Document) {
	ov := doc.Overrepresented
	if len(ov.Sequences) == 0 {
		fmt.Fprintf(w, "\noverrepresented sequences:\tnone (of %d sampled reads)\n", ov.SampledReads)
		return
	}
	fmt.Fprintf(w, "\noverrepresented sequences (%d of %d fragments",
		len(ov.Sequences), ov.DistinctFragments)
	if ov.AtCapacity {
		fmt.Fprintf(w, ", fragment store at capacity")
	}
	fmt.Fprintf(w, "):\n")
	for i, seq := range ov.Sequences {
		if i == maxListedSequences {
			fmt.Fprintf(w, "  ... %d more in the JSON report\n", len(ov.Sequences)-maxListedSequences)
			break
		}
		fmt.Fprintf(w, "  %s\t%d\t%.4f%%\n", seq.Sequence, seq.Count, seq.Fraction*100)
	}
}

func writeTileText(w io.Writer, doc *Document) {
	pt := doc.PerTile
	if pt.CountedReads == 0 {
		return
	}
	fmt.Fprintf(w, "\nper-tile quality (%d tiles, %d reads):\n", len(pt.Tiles), pt.CountedReads)
	if len(pt.FlaggedTiles) == 0 {
		fmt.Fprintf(w, "  no deviating tiles\n")
		return
	}
	for _, tile := range pt.Tiles {
		if !tile.Flagged {
			continue
		}
		fmt.Fprintf(w, "  tile %d deviates by %+.1f phred over %d reads\n",
			tile.Tile, tile.Deviation, tile.Reads)
	}
}

func writeNanoText(w io.Writer, doc *Document) {
	n := doc.Nanopore
	if n.ReadsWithMetadata == 0 {
		return
	}
	fmt.Fprintf(w, "\nnanopore: %d reads with metadata over %d channels\n",
		n.ReadsWithMetadata, len(n.Channels))
	if len(n.TimeSeries) > 0 {
		first := n.TimeSeries[0].Start
		last := n.TimeSeries[len(n.TimeSeries)-1].Start
		fmt.Fprintf(w, "  run spans %s\n", time.Duration(last-first+60)*time.Second)
	}
}
