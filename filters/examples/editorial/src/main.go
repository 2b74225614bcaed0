//go:build tinygo || wasm

package main

import (
	"github.com/narralabs/narra-core/filters/examples/internal/host"
)

// apply removes bracketed editorial notes such as "[Illustration: A
// map of the island.]" that would otherwise be read aloud. Nested
// brackets are dropped with their enclosing note.
//
//export apply
func apply() {
	in := host.ReadInput()
	if len(in) == 0 {
		host.Log("editorial filter received empty chapter")
		return
	}
	out := make([]byte, 0, len(in))
	depth := 0
	for _, b := range in {
		switch {
		case b == '[':
			depth++
		case b == ']' && depth > 0:
			depth--
		case depth == 0:
			out = append(out, b)
		}
	}
	if !host.WriteOutput(out) {
		host.Log("editorial filter failed to write output")
	}
}

func main() {}
