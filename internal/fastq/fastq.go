// Package fastq provides fast FASTQ stream parsing into record batches.
package fastq

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"time"

	"github.com/tkoski/seqvet/internal/sequence"
)

// Parser reads FASTQ records from an input stream.
type Parser struct {
	reader  *bufio.Reader
	name    []byte // reusable line buffers, one per record line we keep
	seq     []byte
	qual    []byte
	scratch []byte
	records int64 // records parsed so far, for error positions
}

// New creates a new FASTQ parser.
func New(r io.Reader) *Parser {
	return &Parser{
		reader:  bufio.NewReaderSize(r, 1<<20), // 1MB buffer
		name:    make([]byte, 0, 256),
		seq:     make([]byte, 0, 512),
		qual:    make([]byte, 0, 512),
		scratch: make([]byte, 0, 256),
	}
}

// ReadBatch resets batch and fills it with up to its capacity of records.
// It returns io.EOF only when the input is exhausted and no records were
// read; a final short batch is returned with a nil error first.
func (p *Parser) ReadBatch(batch *sequence.RecordBatch) error {
	batch.Reset()
	for !batch.Full() {
		if err := p.next(batch); err != nil {
			if errors.Is(err, io.EOF) && batch.Len() > 0 {
				return nil
			}
			return err
		}
	}
	return nil
}

// next parses a single record and appends it to batch. It returns io.EOF at
// a clean end of input, a FormatError for structural violations and a
// StreamError when the underlying reader fails.
func (p *Parser) next(batch *sequence.RecordBatch) error {
	// Line 1: header (starts with @). Blank lines between records are
	// tolerated; anything else without the marker is an error.
	var err error
	for {
		p.name, err = p.readLine(p.name[:0])
		if err != nil {
			return p.readErr(err)
		}
		if len(p.name) > 0 {
			break
		}
	}
	if p.name[0] != '@' {
		return p.formatErr("header line must start with @")
	}

	// Line 2: sequence.
	p.seq, err = p.readLine(p.seq[:0])
	if err != nil {
		return p.truncatedOr(err)
	}

	// Line 3: separator (starts with +, rest ignored).
	p.scratch, err = p.readLine(p.scratch[:0])
	if err != nil {
		return p.truncatedOr(err)
	}
	if len(p.scratch) == 0 || p.scratch[0] != '+' {
		return p.formatErr("separator line must start with +")
	}

	// Line 4: quality scores.
	p.qual, err = p.readLine(p.qual[:0])
	if err != nil {
		return p.truncatedOr(err)
	}

	if len(p.seq) != len(p.qual) {
		return p.formatErr("sequence and quality lengths must match")
	}
	if err := p.validate(p.seq, p.qual); err != nil {
		return err
	}

	name := p.name[1:] // strip leading @
	channel, startTime := nanoMetadata(name)
	batch.Append(name, p.seq, p.qual, channel, startTime)
	p.records++
	return nil
}

// validate rejects bytes outside the printable ASCII range. Sequences may
// use any uppercase or lowercase symbol alphabet, but control bytes mean the
// input is not FASTQ text; quality bytes outside '!'..'~' have no phred+33
// interpretation.
func (p *Parser) validate(seq, qual []byte) error {
	for i := 0; i < len(seq); i++ {
		if seq[i] < '!' || seq[i] > '~' {
			return p.formatErr("sequence contains bytes outside the printable ASCII range")
		}
		if qual[i] < '!' || qual[i] > '~' {
			return p.formatErr("quality contains bytes outside the phred+33 range")
		}
	}
	return nil
}

func (p *Parser) formatErr(msg string) error {
	return &sequence.FormatError{Format: "fastq", Record: p.records + 1, Msg: msg}
}

// truncatedOr maps an end of input in the middle of a record to a
// FormatError and passes other read failures to readErr.
func (p *Parser) truncatedOr(err error) error {
	if errors.Is(err, io.EOF) {
		return p.formatErr("record truncated at end of input")
	}
	return p.readErr(err)
}

func (p *Parser) readErr(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	// Decompressing readers report corrupt container framing as a
	// FormatError already; keep it intact instead of wrapping.
	var ferr *sequence.FormatError
	if errors.As(err, &ferr) {
		return err
	}
	return &sequence.StreamError{Err: err}
}

// readLine appends one line to buf, without the newline, and returns the
// extended buffer. A trailing CR is trimmed for Windows line endings.
func (p *Parser) readLine(buf []byte) ([]byte, error) {
	for {
		segment, isPrefix, err := p.reader.ReadLine()
		if err != nil {
			return buf, err
		}

		buf = append(buf, segment...)

		if !isPrefix {
			break
		}
	}

	return bytes.TrimSuffix(buf, []byte{'\r'}), nil
}

var (
	channelKey   = []byte("ch=")
	startTimeKey = []byte("start_time=")
)

// nanoMetadata extracts the channel number and read start time that nanopore
// basecallers store as space-separated key=value pairs in the read name
// comment. Either value is 0 when absent or unparseable; records without the
// metadata are common and not an error.
func nanoMetadata(name []byte) (channel int32, startTime int64) {
	rest := name
	i := bytes.IndexByte(rest, ' ')
	if i < 0 {
		return 0, 0
	}
	rest = rest[i+1:]

	for len(rest) > 0 {
		token := rest
		if j := bytes.IndexByte(rest, ' '); j >= 0 {
			token = rest[:j]
			rest = rest[j+1:]
		} else {
			rest = nil
		}

		switch {
		case bytes.HasPrefix(token, channelKey):
			channel = parseChannel(token[len(channelKey):])
		case bytes.HasPrefix(token, startTimeKey):
			startTime = parseStartTime(token[len(startTimeKey):])
		}
	}
	return channel, startTime
}

func parseChannel(v []byte) int32 {
	if len(v) == 0 || len(v) > 9 {
		return 0
	}
	var n int32
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int32(c-'0')
	}
	return n
}

func parseStartTime(v []byte) int64 {
	ts, err := time.Parse(time.RFC3339, string(v))
	if err != nil {
		return 0
	}
	return ts.Unix()
}
