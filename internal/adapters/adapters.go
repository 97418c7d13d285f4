// Package adapters ships the built-in adapter probe list and guesses the
// sequencing technology of an input so only the relevant probes are searched.
package adapters

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tkoski/seqvet/internal/sequence"
)

// Technology labels used in the probe list and by GuessTechnology.
const (
	TechIllumina = "illumina"
	TechNanopore = "nanopore"
	TechAll      = "all"
)

//go:embed adapter_list.tsv
var builtinList []byte

// Adapter is one probe from an adapter list.
type Adapter struct {
	Name       string
	Technology string
	Sequence   string
}

// Builtin returns the embedded probe list filtered for technology.
// An empty technology keeps every probe.
func Builtin(technology string) ([]Adapter, error) {
	return parseList(bytes.NewReader(builtinList), "builtin adapter list", technology)
}

// FromFile reads a user-supplied probe list in the same tab-separated
// format as the builtin one.
func FromFile(path, technology string) ([]Adapter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &sequence.ConfigError{Param: "adapter list", Msg: err.Error()}
	}
	defer f.Close()
	return parseList(f, path, technology)
}

// Sequences returns just the probe sequences, in list order.
func Sequences(list []Adapter) []string {
	seqs := make([]string, len(list))
	for i, a := range list {
		seqs[i] = a.Sequence
	}
	return seqs
}

func parseList(r io.Reader, origin, technology string) ([]Adapter, error) {
	var list []Adapter
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimRight(scanner.Text(), "\r")
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Split(text, "\t")
		if len(fields) != 3 {
			return nil, &sequence.ConfigError{
				Param: "adapter list",
				Msg:   fmt.Sprintf("%s line %d: expected 3 tab-separated fields, got %d", origin, line, len(fields)),
			}
		}
		a := Adapter{
			Name:       strings.TrimSpace(fields[0]),
			Technology: strings.ToLower(strings.TrimSpace(fields[1])),
			Sequence:   strings.ToUpper(strings.TrimSpace(fields[2])),
		}
		if a.Name == "" || a.Technology == "" || a.Sequence == "" {
			return nil, &sequence.ConfigError{
				Param: "adapter list",
				Msg:   fmt.Sprintf("%s line %d: empty field", origin, line),
			}
		}
		if !matchesTechnology(a.Technology, technology) {
			continue
		}
		list = append(list, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, &sequence.ConfigError{Param: "adapter list", Msg: fmt.Sprintf("%s: %v", origin, err)}
	}
	return list, nil
}

func matchesTechnology(entry, requested string) bool {
	if requested == "" || requested == TechAll || entry == TechAll {
		return true
	}
	return entry == requested
}
