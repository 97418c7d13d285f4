// Package sequence defines the record and batch types shared by the FASTQ and
// BAM readers and by every statistics collector.
package sequence

// Phred quality handling. Qualities are carried through the whole program as
// ASCII phred+33 bytes, the FASTQ on-disk encoding. The BAM reader converts
// its raw phred scores to the same representation so collectors never need to
// know which format a batch came from.
const (
	// PhredOffset is the ASCII offset of phred+33 encoded quality bytes.
	PhredOffset = 33

	// MaxPhred is the highest phred score representable in phred+33 ASCII.
	MaxPhred = 93

	// MissingQuality marks a base whose quality was absent in the input,
	// as in BAM records written without quality strings.
	MissingQuality = byte(PhredOffset)
)

// Read is a single sequencing record. Name, Sequence and Quality alias the
// owning batch's backing buffer: they stay valid until the batch is reset or
// refilled, and must not be retained or modified by consumers.
type Read struct {
	// Name is the record identifier without the leading '@' marker and
	// including any comment after the first space.
	Name []byte

	// Sequence holds the called bases, unmodified from the input.
	Sequence []byte

	// Quality holds phred+33 ASCII quality bytes, one per base.
	Quality []byte

	// Channel is the nanopore channel number, or 0 when the record
	// carries no channel metadata.
	Channel int32

	// StartTime is the nanopore read start time in Unix seconds, or 0
	// when the record carries no timestamp.
	StartTime int64
}

// RecordBatch is a reusable block of reads backed by a single buffer. A
// reader fills it with ReadBatch, consumers walk Records, and the owner calls
// Reset before handing it back for the next fill. Reusing one batch keeps the
// steady-state allocation rate near zero regardless of input size.
type RecordBatch struct {
	// Records holds the filled reads. Its capacity is the batch capacity
	// fixed at construction.
	Records []Read

	data []byte
}

// DefaultBatchCapacity is the batch size used by the processing pipeline
// when the caller does not choose one.
const DefaultBatchCapacity = 4096

// bytesPerRead sizes the initial backing buffer. Short-read inputs fit
// without growing; long-read inputs grow the buffer once and then reuse it.
const bytesPerRead = 256

// NewRecordBatch returns an empty batch that holds up to capacity reads.
func NewRecordBatch(capacity int) *RecordBatch {
	if capacity <= 0 {
		capacity = DefaultBatchCapacity
	}
	return &RecordBatch{
		Records: make([]Read, 0, capacity),
		data:    make([]byte, 0, capacity*bytesPerRead),
	}
}

// Len returns the number of reads currently in the batch.
func (b *RecordBatch) Len() int { return len(b.Records) }

// Cap returns the fixed batch capacity.
func (b *RecordBatch) Cap() int { return cap(b.Records) }

// Full reports whether the batch holds its full capacity of reads.
func (b *RecordBatch) Full() bool { return len(b.Records) == cap(b.Records) }

// Reset empties the batch for reuse. Reads previously handed out alias
// memory that the next fill overwrites, so consumers must be done with them.
func (b *RecordBatch) Reset() {
	b.Records = b.Records[:0]
	b.data = b.data[:0]
}

// Append copies name, seq and qual into the batch's backing buffer and adds a
// Read viewing the copies. Callers must not append to a full batch.
func (b *RecordBatch) Append(name, seq, qual []byte, channel int32, startTime int64) {
	nameOff := len(b.data)
	b.data = append(b.data, name...)
	seqOff := len(b.data)
	b.data = append(b.data, seq...)
	qualOff := len(b.data)
	b.data = append(b.data, qual...)

	// Offsets survive buffer growth; reslice from the final buffer so all
	// three views share one array.
	d := b.data
	b.Records = append(b.Records, Read{
		Name:      d[nameOff:seqOff:seqOff],
		Sequence:  d[seqOff:qualOff:qualOff],
		Quality:   d[qualOff:len(d):len(d)],
		Channel:   channel,
		StartTime: startTime,
	})
}
