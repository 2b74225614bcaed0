//go:build tinygo || wasm

package main

import (
	"strings"

	"github.com/narralabs/narra-core/filters/examples/internal/host"
)

// Spoken forms keyed by the written abbreviation.
var expansions = []struct{ from, to string }{
	{"Mr.", "Mister"},
	{"Mrs.", "Missus"},
	{"Dr.", "Doctor"},
	{"St.", "Saint"},
	{"Ave.", "Avenue"},
	{"vs.", "versus"},
	{"etc.", "et cetera"},
	{"No.", "Number"},
}

//export apply
func apply() {
	text := string(host.ReadInput())
	if text == "" {
		host.Log("abbrev filter received empty chapter")
		return
	}
	for _, e := range expansions {
		text = strings.ReplaceAll(text, e.from, e.to)
	}
	if !host.WriteOutput([]byte(text)) {
		host.Log("abbrev filter failed to write output")
	}
}

func main() {}
