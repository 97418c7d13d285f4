package adapters

import (
	"bytes"
	"strings"
)

// GuessTechnology inspects the start of a decoded input and reports the
// sequencing technology, or "" when nothing recognizable is found. For BAM
// inputs pass the SAM header text, for FASTQ inputs the first decoded bytes.
func GuessTechnology(preview, bamHeader []byte) string {
	if len(bamHeader) > 0 {
		return guessFromBamHeader(bamHeader)
	}
	return guessFromPreview(preview)
}

func guessFromPreview(preview []byte) string {
	if len(preview) == 0 || preview[0] != '@' {
		return ""
	}
	line := preview[1:]
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	line = bytes.TrimSuffix(line, []byte{'\r'})
	id, comment, _ := bytes.Cut(line, []byte{' '})
	for _, marker := range [][]byte{[]byte("runid="), []byte("ch="), []byte("start_time="), []byte("basecall_model_version_id=")} {
		if containsToken(comment, marker) {
			return TechNanopore
		}
	}
	// Illumina read names are colon-separated coordinate tuples:
	// instrument:run:flowcell:lane:tile:x:y or the five-field legacy layout.
	switch bytes.Count(id, []byte{':'}) {
	case 4, 6:
		return TechIllumina
	}
	return ""
}

func guessFromBamHeader(header []byte) string {
	for _, line := range bytes.Split(header, []byte{'\n'}) {
		if !bytes.HasPrefix(line, []byte("@")) {
			continue
		}
		for _, field := range bytes.Split(line, []byte{'\t'}) {
			tag, value, ok := bytes.Cut(field, []byte{':'})
			if !ok {
				continue
			}
			v := strings.ToLower(string(value))
			switch string(tag) {
			case "PL":
				switch v {
				case "ont", "nanopore", "oxford_nanopore":
					return TechNanopore
				case "illumina":
					return TechIllumina
				}
			case "PN", "CL":
				for _, caller := range []string{"dorado", "guppy", "minknow", "bonito"} {
					if strings.Contains(v, caller) {
						return TechNanopore
					}
				}
			}
		}
	}
	return ""
}

// containsToken reports whether marker occurs at the start of a
// space-separated token in comment.
func containsToken(comment, marker []byte) bool {
	for len(comment) > 0 {
		token, rest, _ := bytes.Cut(comment, []byte{' '})
		if bytes.HasPrefix(token, marker) {
			return true
		}
		comment = rest
	}
	return false
}
