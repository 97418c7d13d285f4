package source

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"io"
	"testing"

	"github.com/biogo/hts/bgzf"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkoski/seqvet/internal/sequence"
)

const fastqFixture = "@r1 ch=3\nACGT\n+\nIIII\n@r2\nTTTT\n+\n!!!!\n"

// bamStream builds a record-free BAM byte stream with the given header text.
func bamStream(text string) []byte {
	var buf bytes.Buffer
	buf.Write(bamMagic)
	binary.Write(&buf, binary.LittleEndian, int32(len(text)))
	buf.WriteString(text)
	binary.Write(&buf, binary.LittleEndian, int32(0)) // no references
	return buf.Bytes()
}

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func bgzfBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := bgzf.NewWriter(&buf, 1)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func readAll(t *testing.T, in *Input) []sequence.Read {
	t.Helper()
	var reads []sequence.Read
	batch := sequence.NewRecordBatch(3)
	for {
		err := in.ReadBatch(batch)
		if err == io.EOF {
			return reads
		}
		require.NoError(t, err)
		for _, rec := range batch.Records {
			reads = append(reads, sequence.Read{
				Name:     append([]byte(nil), rec.Name...),
				Sequence: append([]byte(nil), rec.Sequence...),
				Quality:  append([]byte(nil), rec.Quality...),
				Channel:  rec.Channel,
			})
		}
	}
}

func TestNew_PlainFastq(t *testing.T) {
	t.Parallel()

	in, err := New(bytes.NewReader([]byte(fastqFixture)), "reads.fastq")
	require.NoError(t, err)
	defer in.Close()

	assert.Equal(t, "reads.fastq", in.Name)
	assert.Equal(t, FormatFastq, in.Format)
	assert.Equal(t, CompressionNone, in.Compression)
	assert.Nil(t, in.HeaderText)
	assert.True(t, bytes.HasPrefix(in.Preview, []byte("@r1")))

	reads := readAll(t, in)
	require.Len(t, reads, 2)
	assert.Equal(t, []byte("ACGT"), reads[0].Sequence)
	assert.Equal(t, int32(3), reads[0].Channel)
}

func TestNew_GzipFastq(t *testing.T) {
	t.Parallel()

	in, err := New(bytes.NewReader(gzipBytes(t, []byte(fastqFixture))), "reads.fastq.gz")
	require.NoError(t, err)
	defer in.Close()

	assert.Equal(t, FormatFastq, in.Format)
	assert.Equal(t, CompressionGzip, in.Compression)
	assert.Len(t, readAll(t, in), 2)
}

func TestNew_BgzfFastq(t *testing.T) {
	t.Parallel()

	in, err := New(bytes.NewReader(bgzfBytes(t, []byte(fastqFixture))), "reads.fastq.gz")
	require.NoError(t, err)
	defer in.Close()

	assert.Equal(t, FormatFastq, in.Format)
	assert.Equal(t, CompressionBgzf, in.Compression)
	assert.Len(t, readAll(t, in), 2)
}

func TestNew_ZstdFastq(t *testing.T) {
	t.Parallel()

	in, err := New(bytes.NewReader(zstdBytes(t, []byte(fastqFixture))), "reads.fastq.zst")
	require.NoError(t, err)
	defer in.Close()

	assert.Equal(t, FormatFastq, in.Format)
	assert.Equal(t, CompressionZstd, in.Compression)
	assert.Len(t, readAll(t, in), 2)
}

func TestNew_BgzfBam(t *testing.T) {
	t.Parallel()

	text := "@HD\tVN:1.6\n@PG\tID:basecaller\tPN:dorado\n"
	in, err := New(bytes.NewReader(bgzfBytes(t, bamStream(text))), "reads.bam")
	require.NoError(t, err)
	defer in.Close()

	assert.Equal(t, FormatBam, in.Format)
	assert.Equal(t, CompressionBgzf, in.Compression)
	assert.Equal(t, []byte(text), in.HeaderText)

	batch := sequence.NewRecordBatch(4)
	assert.Equal(t, io.EOF, in.ReadBatch(batch))
}

func TestNew_GzipBam(t *testing.T) {
	t.Parallel()

	// BAM wrapped in ordinary gzip instead of BGZF still decodes; only the
	// container label differs.
	in, err := New(bytes.NewReader(gzipBytes(t, bamStream("@HD\tVN:1.6\n"))), "reads.bam")
	require.NoError(t, err)
	defer in.Close()

	assert.Equal(t, FormatBam, in.Format)
	assert.Equal(t, CompressionGzip, in.Compression)
}

func TestNew_UncompressedBam(t *testing.T) {
	t.Parallel()

	in, err := New(bytes.NewReader(bamStream("@HD\tVN:1.6\n")), "reads.ubam")
	require.NoError(t, err)
	defer in.Close()

	assert.Equal(t, FormatBam, in.Format)
	assert.Equal(t, CompressionNone, in.Compression)
}

func TestNew_EmptyInput(t *testing.T) {
	t.Parallel()

	in, err := New(bytes.NewReader(nil), "empty.fastq")
	require.NoError(t, err)
	defer in.Close()

	assert.Equal(t, FormatFastq, in.Format)
	assert.Equal(t, CompressionNone, in.Compression)
	assert.Empty(t, in.Preview)

	batch := sequence.NewRecordBatch(4)
	assert.Equal(t, io.EOF, in.ReadBatch(batch))
}

func TestNew_TruncatedGzip(t *testing.T) {
	t.Parallel()

	data := gzipBytes(t, []byte(fastqFixture))
	in, err := New(bytes.NewReader(data[:len(data)-6]), "reads.fastq.gz")
	require.NoError(t, err)
	defer in.Close()

	batch := sequence.NewRecordBatch(4)
	for {
		err = in.ReadBatch(batch)
		if err != nil {
			break
		}
	}

	var ferr *sequence.FormatError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "gzip", ferr.Format)
	assert.Contains(t, ferr.Msg, "corrupt compressed stream")
}

func TestDetectCompression(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data []byte
		want Compression
	}{
		{name: "plain text", data: []byte("@r1\nACGT\n+\nIIII\n"), want: CompressionNone},
		{name: "empty", data: nil, want: CompressionNone},
		{name: "gzip", data: gzipBytes(t, []byte("hello")), want: CompressionGzip},
		{name: "bgzf", data: bgzfBytes(t, []byte("hello")), want: CompressionBgzf},
		{name: "zstd", data: zstdBytes(t, []byte("hello")), want: CompressionZstd},
		{name: "short gzip prefix", data: []byte{0x1f, 0x8b}, want: CompressionGzip},
		{name: "zstd magic only", data: []byte{0x28, 0xb5, 0x2f, 0xfd}, want: CompressionZstd},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			br := bufio.NewReader(bytes.NewReader(tt.data))
			assert.Equal(t, tt.want, detectCompression(br))
		})
	}
}

func TestFormatString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fastq", FormatFastq.String())
	assert.Equal(t, "bam", FormatBam.String())
	assert.Equal(t, "unknown", FormatUnknown.String())
	assert.Equal(t, "none", CompressionNone.String())
	assert.Equal(t, "gzip", CompressionGzip.String())
	assert.Equal(t, "bgzf", CompressionBgzf.String())
	assert.Equal(t, "zstd", CompressionZstd.String())
}
