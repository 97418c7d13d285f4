package main

import (
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tkoski/seqvet/internal/report"
)

const testFastq = `@NS500:7:FC1:2:1101:5:10
ACGTACGT
+
IIIIIIII
@NS500:7:FC1:2:1101:6:10
ACGTACGT
+
IIIIIIII
@NS500:7:FC1:2:2203:7:10
TTTTGGGG
+
IIIIIIII
@NS500:7:FC1:2:2203:8:10
CCCCAAAA
+
IIIIIIII
`

func TestOpenInputFile(t *testing.T) {
	t.Parallel()

	want := []byte(testFastq)
	path := filepath.Join(t.TempDir(), "reads.fastq")
	if err := os.WriteFile(path, want, 0o600); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	r, size, cleanup, err := openInput(path)
	if err != nil {
		t.Fatalf("openInput: %v", err)
	}
	defer cleanup()

	if size != int64(len(want)) {
		t.Fatalf("size = %d, want %d", size, len(want))
	}

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read input: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("content mismatch: got %q want %q", got, want)
	}
}

func TestOpenInputStdin(t *testing.T) {
	t.Parallel()

	r, size, cleanup, err := openInput("-")
	if err != nil {
		t.Fatalf("openInput: %v", err)
	}
	defer cleanup()

	if r != os.Stdin {
		t.Fatal("expected stdin reader")
	}
	if size != 0 {
		t.Fatalf("stdin size = %d, want 0", size)
	}
}

func TestOpenInputMissingFile(t *testing.T) {
	t.Parallel()

	_, _, _, err := openInput(filepath.Join(t.TempDir(), "missing.fastq"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaultJSONPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{"/data/sample.fastq.gz", "sample.fastq.gz.json"},
		{"sample.bam", "sample.bam.json"},
		{"-", "seqvet.json"},
		{"", "seqvet.json"},
	}
	for _, tt := range tests {
		if got := defaultJSONPath(tt.path); got != tt.want {
			t.Errorf("defaultJSONPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestValidateTechnology(t *testing.T) {
	t.Parallel()

	for _, ok := range []string{"", "illumina", "nanopore", "all"} {
		if err := validateTechnology(ok); err != nil {
			t.Errorf("validateTechnology(%q): %v", ok, err)
		}
	}
	if err := validateTechnology("solexa"); err == nil {
		t.Error("expected error for unknown technology")
	}
}

func TestRunEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "reads.fastq")
	if err := os.WriteFile(input, []byte(testFastq), 0o600); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	out := filepath.Join(dir, "report.json")

	cmd := rootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{
		input,
		"--json", out,
		"--quiet",
		"--workers", "2",
		"--overrepresentation-fragment-length", "4",
		"--overrepresentation-sample-every", "1",
		"--overrepresentation-min-threshold", "2",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer func() { _ = f.Close() }()

	doc, err := report.Load(f)
	if err != nil {
		t.Fatalf("load report: %v", err)
	}

	if doc.Summary.TotalReads != 4 {
		t.Errorf("total reads = %d, want 4", doc.Summary.TotalReads)
	}
	if doc.Input.Format != "fastq" {
		t.Errorf("format = %q, want fastq", doc.Input.Format)
	}
	if doc.Input.Technology != "illumina" {
		t.Errorf("technology = %q, want illumina (guessed from read names)", doc.Input.Technology)
	}
	if len(doc.Overrepresented.Sequences) != 1 || doc.Overrepresented.Sequences[0].Sequence != "ACGT" {
		t.Errorf("overrepresented = %+v, want the duplicated ACGT prefix", doc.Overrepresented.Sequences)
	}
	if len(doc.PerTile.Tiles) != 2 {
		t.Errorf("tiles = %d, want 2", len(doc.PerTile.Tiles))
	}
}

func TestRunGzipInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "reads.fastq.gz")
	writeGzipFile(t, input, []byte(testFastq))
	out := filepath.Join(dir, "report.json")

	cmd := rootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{input, "--json", out, "--quiet"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer func() { _ = f.Close() }()

	doc, err := report.Load(f)
	if err != nil {
		t.Fatalf("load report: %v", err)
	}
	if doc.Input.Compression != "gzip" {
		t.Errorf("compression = %q, want gzip", doc.Input.Compression)
	}
}

func TestRunRejectsMalformedInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	input := filepath.Join(dir, "broken.fastq")
	if err := os.WriteFile(input, []byte("@r1\nACGT\n+\nII\n"), 0o600); err != nil {
		t.Fatalf("write test file: %v", err)
	}

	cmd := rootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{input, "--json", filepath.Join(dir, "report.json"), "--quiet"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for malformed input")
	}
}

func TestRunRejectsUnknownTechnology(t *testing.T) {
	t.Parallel()

	cmd := rootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"whatever.fastq", "--technology", "solexa"})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected error for unknown technology")
	}
}

func TestReportSubcommand(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "reads.fastq")
	if err := os.WriteFile(input, []byte(testFastq), 0o600); err != nil {
		t.Fatalf("write test file: %v", err)
	}
	out := filepath.Join(dir, "report.json")

	runCmd := rootCommand()
	runCmd.SetOut(io.Discard)
	runCmd.SetErr(io.Discard)
	runCmd.SetArgs([]string{input, "--json", out, "--quiet"})
	if err := runCmd.Execute(); err != nil {
		t.Fatalf("execute run: %v", err)
	}

	// The text summary goes to os.Stdout; capture it through a pipe.
	pr, pw, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}
	originalStdout := os.Stdout
	os.Stdout = pw
	defer func() { os.Stdout = originalStdout }()

	reportCmd := rootCommand()
	reportCmd.SetOut(io.Discard)
	reportCmd.SetErr(io.Discard)
	reportCmd.SetArgs([]string{"report", out})
	execErr := reportCmd.Execute()

	_ = pw.Close()
	os.Stdout = originalStdout
	captured, readErr := io.ReadAll(pr)
	_ = pr.Close()
	if readErr != nil {
		t.Fatalf("read captured output: %v", readErr)
	}

	if execErr != nil {
		t.Fatalf("execute report: %v", execErr)
	}
	if !strings.Contains(string(captured), "reads:") {
		t.Errorf("summary output missing read count: %q", captured)
	}
}

func writeGzipFile(t *testing.T, path string, data []byte) {
	t.Helper()

	f, err := os.Create(path) //nolint:gosec // test fixture path
	if err != nil {
		t.Fatalf("create gzip file: %v", err)
	}
	defer func() { _ = f.Close() }()

	gz := gzip.NewWriter(f)
	if _, err := gz.Write(data); err != nil {
		t.Fatalf("write gzip data: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}
}
