// Package units holds the built-in analysis units. Each one is a small
// decoder or extractor that reports what it produces back to the host.
package units

import (
	"bytes"

	"github.com/rafabd1/Nightshade/internal/unit"
)

// Group names used to keep cipher units from chaining into each other.
const (
	GroupDecode  = "decode"
	GroupCipher  = "cipher"
	GroupExtract = "extract"
)

// maxCipherInput bounds the targets brute-force ciphers accept.
const maxCipherInput = 1 << 16

// Definitions returns every built-in unit definition.
func Definitions() []unit.Definition {
	return []unit.Definition{
		Raw,
		Strings,
		Base64,
		Hex,
		URLDecode,
		Reverse,
		Caesar,
		Rot47,
		XOR,
	}
}

// RegisterAll adds every built-in unit to reg.
func RegisterAll(reg *unit.Registry) error {
	for _, def := range Definitions() {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// content loads the target bytes for a constructor, turning read errors
// into a not-applicable result.
func content(b *unit.Base) ([]byte, unit.Result, bool) {
	data, err := b.Bytes()
	if err != nil {
		return nil, unit.NotApplicable("cannot read target: %v", err), false
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, unit.NotApplicable("empty target"), false
	}
	return data, unit.Result{}, true
}

// compact removes every ASCII whitespace byte.
func compact(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, c := range data {
		switch c {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			continue
		}
		out = append(out, c)
	}
	return out
}
