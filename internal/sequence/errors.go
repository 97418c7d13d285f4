package sequence

import (
	"fmt"
)

// FormatError reports input that is structurally invalid for its format:
// missing FASTQ markers, length mismatches, bad BAM magic, truncated records
// and the like. It is distinct from StreamError so callers can tell corrupt
// data apart from a failing byte source.
type FormatError struct {
	// Format names the input format ("fastq", "bam") or the container
	// layer ("gzip", "bgzf", "zstd") that rejected the data.
	Format string

	// Record is the 1-based index of the offending record in the stream,
	// or 0 when the error is not tied to a single record.
	Record int64

	// Msg describes the violation.
	Msg string
}

func (e *FormatError) Error() string {
	if e.Record > 0 {
		return fmt.Sprintf("%s: record %d: %s", e.Format, e.Record, e.Msg)
	}
	return fmt.Sprintf("%s: %s", e.Format, e.Msg)
}

// StreamError reports a failure of the underlying byte source while reading
// records: disk errors, closed pipes, anything that is not the input's fault.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string { return "read failure: " + e.Err.Error() }

func (e *StreamError) Unwrap() error { return e.Err }

// ConfigError reports an invalid construction-time parameter such as an
// out-of-range table size or a malformed adapter sequence.
type ConfigError struct {
	// Param names the offending parameter.
	Param string

	// Msg describes the constraint that was violated.
	Msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Param, e.Msg)
}
