// Package source detects input container and content formats and hands out
// record batches from a single reader regardless of how the input is stored.
//
// Detection happens in two stages. The container stage sniffs magic bytes to
// pick a decompressor (gzip, BGZF, zstd, or none), then the content stage
// peeks at the decoded stream to choose between BAM and FASTQ. BGZF is valid
// multistream gzip, so even a missed BGZF detection still decodes; telling
// the two apart only changes which reader does the work.
package source

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"io/fs"
	"runtime"

	"github.com/biogo/hts/bgzf"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/tkoski/seqvet/internal/bam"
	"github.com/tkoski/seqvet/internal/fastq"
	"github.com/tkoski/seqvet/internal/sequence"
)

// Format is the record format of the decoded stream.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatFastq
	FormatBam
)

func (f Format) String() string {
	switch f {
	case FormatFastq:
		return "fastq"
	case FormatBam:
		return "bam"
	}
	return "unknown"
}

// Compression is the container the input arrived in.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionGzip
	CompressionBgzf
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionBgzf:
		return "bgzf"
	case CompressionZstd:
		return "zstd"
	}
	return "none"
}

// Source yields batches of reads in input order. Both parsers satisfy it.
type Source interface {
	ReadBatch(*sequence.RecordBatch) error
}

const (
	bufferSize  = 1 << 20
	previewSize = 4096
)

var (
	bamMagic  = []byte{'B', 'A', 'M', 0x01}
	zstdMagic = uint32(0xfd2fb528)
)

// Input is an open, format-detected stream of records.
type Input struct {
	// Name is the display name the caller opened, kept for reporting.
	Name string

	Format      Format
	Compression Compression

	// Preview holds a copy of the first decoded bytes, enough to guess
	// the sequencing technology from the first read name.
	Preview []byte

	// HeaderText is the SAM header text for BAM inputs, nil otherwise.
	HeaderText []byte

	reader  Source
	closers []func() error
}

// New detects the container and content format of r and returns an Input
// ready for ReadBatch. The caller remains responsible for closing r itself;
// Close releases only what New opened on top of it.
func New(r io.Reader, name string) (*Input, error) {
	in := &Input{Name: name}
	br := bufio.NewReaderSize(r, bufferSize)
	in.Compression = detectCompression(br)

	var stream io.Reader
	switch in.Compression {
	case CompressionGzip:
		zr, err := pgzip.NewReader(br)
		if err != nil {
			return nil, containerErr("gzip", err)
		}
		stream = classifyReader{container: "gzip", r: zr}
		in.closers = append(in.closers, zr.Close)
	case CompressionBgzf:
		zr, err := bgzf.NewReader(br, runtime.GOMAXPROCS(0))
		if err != nil {
			return nil, containerErr("bgzf", err)
		}
		stream = classifyReader{container: "bgzf", r: zr}
		in.closers = append(in.closers, zr.Close)
	case CompressionZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, containerErr("zstd", err)
		}
		stream = classifyReader{container: "zstd", r: zr}
		in.closers = append(in.closers, func() error { zr.Close(); return nil })
	default:
		stream = br
	}

	content := bufio.NewReaderSize(stream, bufferSize)
	preview, err := content.Peek(previewSize)
	if err != nil && !errors.Is(err, io.EOF) {
		in.Close()
		return nil, wrapStream(err)
	}
	// Peek aliases the bufio buffer; copy before the parsers advance it.
	in.Preview = append([]byte(nil), preview...)

	if bytes.HasPrefix(in.Preview, bamMagic) {
		p, err := bam.New(content)
		if err != nil {
			in.Close()
			return nil, err
		}
		in.Format = FormatBam
		in.HeaderText = p.Header().Text
		in.reader = p
		return in, nil
	}

	in.Format = FormatFastq
	in.reader = fastq.New(content)
	return in, nil
}

// ReadBatch fills batch from the detected parser.
func (in *Input) ReadBatch(batch *sequence.RecordBatch) error {
	return in.reader.ReadBatch(batch)
}

// Close releases the decompressors New stacked on the caller's reader.
func (in *Input) Close() error {
	var first error
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	in.closers = nil
	return first
}

// detectCompression sniffs container magic bytes without consuming them.
// BGZF is recognized by the "BC" extra subfield inside an otherwise normal
// gzip member header.
func detectCompression(br *bufio.Reader) Compression {
	hdr, _ := br.Peek(18)
	if len(hdr) >= 2 && hdr[0] == 0x1f && hdr[1] == 0x8b {
		if len(hdr) >= 16 && hdr[3]&0x04 != 0 &&
			hdr[12] == 'B' && hdr[13] == 'C' && hdr[14] == 2 && hdr[15] == 0 {
			return CompressionBgzf
		}
		return CompressionGzip
	}
	if len(hdr) >= 4 && binary.LittleEndian.Uint32(hdr) == zstdMagic {
		return CompressionZstd
	}
	return CompressionNone
}

// classifyReader rebrands corrupt-container errors from a decompressor as
// FormatError so a bad archive is not mistaken for a failing disk. Errors
// that originate below the decompressor, from the file itself, pass through
// untouched.
type classifyReader struct {
	container string
	r         io.Reader
}

func (c classifyReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		err = containerErr(c.container, err)
	}
	return n, err
}

func containerErr(container string, err error) error {
	var ferr *sequence.FormatError
	if errors.As(err, &ferr) {
		return err
	}
	var perr *fs.PathError
	if errors.As(err, &perr) {
		return err
	}
	return &sequence.FormatError{Format: container, Msg: "corrupt compressed stream: " + err.Error()}
}

func wrapStream(err error) error {
	var ferr *sequence.FormatError
	if errors.As(err, &ferr) {
		return err
	}
	return &sequence.StreamError{Err: err}
}
