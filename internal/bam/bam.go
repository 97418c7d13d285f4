// Package bam decodes uncompressed BAM streams into record batches. The
// caller is responsible for BGZF decompression; this package sees the raw
// "BAM\x01" byte stream.
package bam

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/tkoski/seqvet/internal/sequence"
)

// magic identifies an uncompressed BAM stream.
var magic = []byte{'B', 'A', 'M', 0x01}

// Fixed byte offsets of the BAM alignment record, counted from the start of
// the record block (after the 4-byte block_size field).
const (
	refIDOffset    = 0
	posOffset      = 4
	lReadNameOff   = 8
	mapqOffset     = 9
	binOffset      = 10
	nCigarOpOffset = 12
	flagOffset     = 14
	lSeqOffset     = 16
	nextRefIDOff   = 20
	nextPosOffset  = 24
	tlenOffset     = 28
	readNameOffset = 32
)

// Sanity limits. A corrupt block_size field would otherwise drive scratch
// buffer allocation.
const (
	minBlockSize  = readNameOffset + 1 // fixed fields plus the name terminator
	maxBlockSize  = 1 << 26
	maxHeaderText = 1 << 28
	maxReferences = 1 << 24
)

// nibbleBases maps 4-bit BAM sequence codes to base characters.
var nibbleBases = [16]byte{
	'=', 'A', 'C', 'M', 'G', 'R', 'S', 'V',
	'T', 'W', 'Y', 'H', 'K', 'D', 'B', 'N',
}

// nibblePairs expands one packed byte to its two bases in a single lookup.
var nibblePairs [256][2]byte

func init() {
	for i := range nibblePairs {
		nibblePairs[i][0] = nibbleBases[i>>4]
		nibblePairs[i][1] = nibbleBases[i&0x0f]
	}
}

// Reference describes one reference sequence from the BAM header.
type Reference struct {
	Name   string
	Length int32
}

// Header holds the BAM file header, read in full before any record.
type Header struct {
	// Text is the SAM-formatted header text, including @RG and @PG lines
	// used for sequencing technology detection.
	Text []byte

	// References lists the reference sequences in file order.
	References []Reference
}

// Parser reads alignment records from an uncompressed BAM stream.
type Parser struct {
	r       io.Reader
	header  *Header
	block   []byte // scratch for one record block
	seq     []byte // scratch for the decoded sequence
	qual    []byte // scratch for phred+33 qualities
	records int64
}

// New reads the BAM magic and the complete file header from r and returns a
// parser positioned at the first alignment record.
func New(r io.Reader) (*Parser, error) {
	p := &Parser{
		r:     r,
		block: make([]byte, 0, 4096),
		seq:   make([]byte, 0, 512),
		qual:  make([]byte, 0, 512),
	}
	if err := p.readHeader(); err != nil {
		return nil, err
	}
	return p, nil
}

// Header returns the file header. The returned value is shared, not copied.
func (p *Parser) Header() *Header { return p.header }

func (p *Parser) readHeader() error {
	var buf [4]byte
	if err := p.readFull(buf[:], "magic bytes"); err != nil {
		return err
	}
	if string(buf[:]) != string(magic) {
		return p.formatErr(0, "invalid magic bytes")
	}

	if err := p.readFull(buf[:], "header text length"); err != nil {
		return err
	}
	textLen := int32(binary.LittleEndian.Uint32(buf[:]))
	if textLen < 0 || textLen > maxHeaderText {
		return p.formatErr(0, fmt.Sprintf("implausible header text length %d", textLen))
	}

	text := make([]byte, textLen)
	if err := p.readFull(text, "header text"); err != nil {
		return err
	}

	if err := p.readFull(buf[:], "reference count"); err != nil {
		return err
	}
	numRefs := int32(binary.LittleEndian.Uint32(buf[:]))
	if numRefs < 0 || numRefs > maxReferences {
		return p.formatErr(0, fmt.Sprintf("implausible reference count %d", numRefs))
	}

	refs := make([]Reference, 0, numRefs)
	for i := int32(0); i < numRefs; i++ {
		if err := p.readFull(buf[:], "reference name length"); err != nil {
			return err
		}
		nameLen := int32(binary.LittleEndian.Uint32(buf[:]))
		if nameLen < 1 || nameLen > maxBlockSize {
			return p.formatErr(0, fmt.Sprintf("implausible reference name length %d", nameLen))
		}

		name := make([]byte, nameLen)
		if err := p.readFull(name, "reference name"); err != nil {
			return err
		}

		if err := p.readFull(buf[:], "reference length"); err != nil {
			return err
		}
		refs = append(refs, Reference{
			Name:   string(name[:nameLen-1]), // strip the NUL terminator
			Length: int32(binary.LittleEndian.Uint32(buf[:])),
		})
	}

	p.header = &Header{Text: text, References: refs}
	return nil
}

// ReadBatch resets batch and fills it with up to its capacity of records.
// It returns io.EOF only when the stream is exhausted and no records were
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

func (p *Parser) next(batch *sequence.RecordBatch) error {
	var szBuf [4]byte
	if _, err := io.ReadFull(p.r, szBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return p.formatErr(p.records+1, "truncated block size")
		}
		return p.readErrOrFormat(err)
	}

	blockSize := int32(binary.LittleEndian.Uint32(szBuf[:]))
	if blockSize < minBlockSize || blockSize > maxBlockSize {
		return p.formatErr(p.records+1, fmt.Sprintf("implausible block size %d", blockSize))
	}

	if cap(p.block) < int(blockSize) {
		p.block = make([]byte, blockSize)
	}
	p.block = p.block[:blockSize]
	if err := p.readFull(p.block, "record block"); err != nil {
		return err
	}

	return p.decode(p.block, batch)
}

// decode unpacks one record block and appends the read to batch.
func (p *Parser) decode(block []byte, batch *sequence.RecordBatch) error {
	record := p.records + 1

	nameLen := int(block[lReadNameOff])
	if nameLen < 1 {
		return p.formatErr(record, "read name length must be at least 1")
	}
	numCigarOps := int(binary.LittleEndian.Uint16(block[nCigarOpOffset:]))
	seqLen := int(int32(binary.LittleEndian.Uint32(block[lSeqOffset:])))
	if seqLen < 0 {
		return p.formatErr(record, "negative sequence length")
	}

	nameEnd := readNameOffset + nameLen
	cigarEnd := nameEnd + 4*numCigarOps
	seqEnd := cigarEnd + (seqLen+1)/2
	qualEnd := seqEnd + seqLen
	if qualEnd > len(block) {
		return p.formatErr(record, "record fields exceed block size")
	}

	name := block[readNameOffset : nameEnd-1] // strip the NUL terminator

	p.seq = decodeSequence(p.seq[:0], block[cigarEnd:seqEnd], seqLen)
	p.qual = decodeQualities(p.qual[:0], block[seqEnd:qualEnd])

	channel, startTime, err := p.parseAux(block[qualEnd:], record)
	if err != nil {
		return err
	}

	batch.Append(name, p.seq, p.qual, channel, startTime)
	p.records++
	return nil
}

// decodeSequence expands 4-bit packed bases into dst. Two bases per packed
// byte, high nibble first; an odd final base uses only the high nibble.
func decodeSequence(dst, packed []byte, n int) []byte {
	for i := 0; i < n/2; i++ {
		pair := nibblePairs[packed[i]]
		dst = append(dst, pair[0], pair[1])
	}
	if n%2 == 1 {
		dst = append(dst, nibbleBases[packed[n/2]>>4])
	}
	return dst
}

// decodeQualities converts raw phred scores to phred+33 ASCII. A leading
// 0xff byte marks a record stored without qualities; those bases are given
// phred 0 so downstream tallies stay well defined.
func decodeQualities(dst, raw []byte) []byte {
	if len(raw) > 0 && raw[0] == 0xff {
		for range raw {
			dst = append(dst, sequence.MissingQuality)
		}
		return dst
	}
	for _, q := range raw {
		if q > sequence.MaxPhred {
			q = sequence.MaxPhred
		}
		dst = append(dst, q+sequence.PhredOffset)
	}
	return dst
}

// auxFixedSize gives the value size of fixed-width auxiliary field types,
// or 0 for variable-width and unknown types.
var auxFixedSize = [256]int{
	'A': 1, 'c': 1, 'C': 1,
	's': 2, 'S': 2,
	'i': 4, 'I': 4, 'f': 4,
}

// parseAux walks the auxiliary fields of one record looking for the
// nanopore channel ("ch", any integer type) and start time ("st", an
// RFC 3339 string) tags that basecallers emit.
func (p *Parser) parseAux(aux []byte, record int64) (channel int32, startTime int64, err error) {
	for len(aux) > 0 {
		if len(aux) < 4 {
			return 0, 0, p.formatErr(record, "truncated auxiliary field")
		}
		tag0, tag1, typ := aux[0], aux[1], aux[2]
		body := aux[3:]

		var valueLen int
		switch typ {
		case 'A', 'c', 'C', 's', 'S', 'i', 'I', 'f':
			valueLen = auxFixedSize[typ]
			if len(body) < valueLen {
				return 0, 0, p.formatErr(record, "truncated auxiliary field")
			}
		case 'Z', 'H':
			end := 0
			for end < len(body) && body[end] != 0 {
				end++
			}
			if end == len(body) {
				return 0, 0, p.formatErr(record, "unterminated auxiliary string")
			}
			valueLen = end + 1
		case 'B':
			if len(body) < 5 {
				return 0, 0, p.formatErr(record, "truncated auxiliary array")
			}
			elemSize := auxFixedSize[body[0]]
			if elemSize == 0 {
				return 0, 0, p.formatErr(record, fmt.Sprintf("invalid auxiliary array type %q", body[0]))
			}
			count := int(binary.LittleEndian.Uint32(body[1:]))
			valueLen = 5 + elemSize*count
			if valueLen < 5 || len(body) < valueLen {
				return 0, 0, p.formatErr(record, "truncated auxiliary array")
			}
		default:
			return 0, 0, p.formatErr(record, fmt.Sprintf("unknown auxiliary field type %q", typ))
		}

		value := body[:valueLen]
		if tag0 == 'c' && tag1 == 'h' {
			if n, ok := auxInt(typ, value); ok && n > 0 && n <= 1<<31-1 {
				channel = int32(n)
			}
		} else if tag0 == 's' && tag1 == 't' && typ == 'Z' {
			if ts, perr := time.Parse(time.RFC3339, string(value[:valueLen-1])); perr == nil {
				startTime = ts.Unix()
			}
		}

		aux = body[valueLen:]
	}
	return channel, startTime, nil
}

// auxInt reads an integer auxiliary value of any of the six integer types.
func auxInt(typ byte, v []byte) (int64, bool) {
	switch typ {
	case 'c':
		return int64(int8(v[0])), true
	case 'C':
		return int64(v[0]), true
	case 's':
		return int64(int16(binary.LittleEndian.Uint16(v))), true
	case 'S':
		return int64(binary.LittleEndian.Uint16(v)), true
	case 'i':
		return int64(int32(binary.LittleEndian.Uint32(v))), true
	case 'I':
		return int64(binary.LittleEndian.Uint32(v)), true
	}
	return 0, false
}

// readFull fills buf or fails. Any short read here is mid-structure, so EOF
// becomes a truncation FormatError naming what was being read.
func (p *Parser) readFull(buf []byte, what string) error {
	if _, err := io.ReadFull(p.r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			record := int64(0)
			if p.header != nil {
				record = p.records + 1
			}
			return p.formatErr(record, "truncated "+what)
		}
		return p.readErrOrFormat(err)
	}
	return nil
}

func (p *Parser) formatErr(record int64, msg string) error {
	return &sequence.FormatError{Format: "bam", Record: record, Msg: msg}
}

func (p *Parser) readErrOrFormat(err error) error {
	// The BGZF layer reports corrupt compressed blocks as a FormatError;
	// keep it intact instead of wrapping.
	var ferr *sequence.FormatError
	if errors.As(err, &ferr) {
		return err
	}
	return &sequence.StreamError{Err: err}
}
