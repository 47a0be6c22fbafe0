package units

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/rafabd1/Nightshade/internal/unit"
)

// Reverse flips the target content.
var Reverse = unit.Definition{
	Name:             "reverse",
	Description:      "reverse the target content",
	Priority:         60,
	ProtectedRecurse: true,
	Groups:           []string{GroupDecode},
	New: func(b *unit.Base) unit.Result {
		if !b.Target().IsPrintable() {
			return unit.NotApplicable("target is not printable")
		}
		data, res, ok := content(b)
		if !ok {
			return res
		}
		trimmed := bytes.TrimSpace(data)
		reversed := make([]byte, len(trimmed))
		for i, c := range trimmed {
			reversed[len(trimmed)-1-i] = c
		}
		return unit.Applicable(&decodedUnit{Base: b, decoded: reversed})
	},
}

// Caesar tries every rotation of the Latin alphabet.
var Caesar = unit.Definition{
	Name:             "caesar",
	Description:      "brute force every caesar shift",
	Priority:         70,
	ProtectedRecurse: true,
	Groups:           []string{GroupCipher},
	BlockedGroups:    []string{GroupCipher},
	New: func(b *unit.Base) unit.Result {
		t := b.Target()
		if !t.IsPrintable() {
			return unit.NotApplicable("target is not printable")
		}
		if t.Size() > maxCipherInput {
			return unit.NotApplicable("target too large")
		}
		data, res, ok := content(b)
		if !ok {
			return res
		}
		if !bytes.ContainsFunc(data, isLetter) {
			return unit.NotApplicable("no letters to rotate")
		}
		return unit.Applicable(&caesarUnit{Base: b, data: data})
	},
}

type caesarUnit struct {
	*unit.Base
	data []byte
}

// Enumerate yields the shifts 1..25.
func (u *caesarUnit) Enumerate() unit.Cursor {
	return unit.Range(1, 26)
}

func (u *caesarUnit) Evaluate(c unit.Case) error {
	shift, ok := c.(int)
	if !ok {
		return fmt.Errorf("caesar: unexpected case %T", c)
	}
	u.Host().RegisterData(u, rotate(u.data, shift), false)
	return nil
}

func rotate(data []byte, shift int) []byte {
	out := make([]byte, len(data))
	for i, c := range data {
		switch {
		case c >= 'a' && c <= 'z':
			out[i] = 'a' + byte((int(c-'a')+shift)%26)
		case c >= 'A' && c <= 'Z':
			out[i] = 'A' + byte((int(c-'A')+shift)%26)
		default:
			out[i] = c
		}
	}
	return out
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// Rot47 rotates the printable ASCII range by 47.
var Rot47 = unit.Definition{
	Name:             "rot47",
	Description:      "apply rot47",
	Priority:         70,
	ProtectedRecurse: true,
	Groups:           []string{GroupCipher},
	BlockedGroups:    []string{GroupCipher},
	New: func(b *unit.Base) unit.Result {
		if !b.Target().IsPrintable() {
			return unit.NotApplicable("target is not printable")
		}
		data, res, ok := content(b)
		if !ok {
			return res
		}
		out := make([]byte, len(data))
		for i, c := range data {
			if c >= '!' && c <= '~' {
				out[i] = '!' + (c-'!'+47)%94
			} else {
				out[i] = c
			}
		}
		return unit.Applicable(&rot47Unit{decodedUnit{Base: b, decoded: out}})
	},
}

// rot47Unit does not recurse: rot47 is its own inverse.
type rot47Unit struct {
	decodedUnit
}

func (u *rot47Unit) Evaluate(unit.Case) error {
	u.Host().RegisterData(u, u.decoded, false)
	return nil
}

// XOR brute forces single-byte keys, or applies the configured key.
// Its output only counts when the whole result is the flag.
var XOR = unit.Definition{
	Name:             "xor",
	Description:      "brute force single-byte xor keys",
	Priority:         80,
	ProtectedRecurse: true,
	Strict:           true,
	Groups:           []string{GroupCipher},
	BlockedGroups:    []string{GroupCipher},
	New: func(b *unit.Base) unit.Result {
		if b.Target().Size() > maxCipherInput {
			return unit.NotApplicable("target too large")
		}
		data, res, ok := content(b)
		if !ok {
			return res
		}
		u := &xorUnit{Base: b, data: data, key: -1}
		if raw := b.Option("key", ""); raw != "" {
			key, err := parseKey(raw)
			if err != nil {
				return unit.NotApplicable("invalid key %q: %v", raw, err)
			}
			u.key = key
		}
		return unit.Applicable(u)
	},
}

type xorUnit struct {
	*unit.Base
	data []byte
	key  int // -1 means brute force
}

func (u *xorUnit) Enumerate() unit.Cursor {
	if u.key >= 0 {
		return unit.Single(u.key)
	}
	return unit.Range(1, 256)
}

func (u *xorUnit) Evaluate(c unit.Case) error {
	key, ok := c.(int)
	if !ok {
		return fmt.Errorf("xor: unexpected case %T", c)
	}
	out := make([]byte, len(u.data))
	for i, b := range u.data {
		out[i] = b ^ byte(key)
	}
	u.Host().FindFlag(u, out)
	return nil
}

func parseKey(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	base := 10
	if strings.HasPrefix(strings.ToLower(raw), "0x") {
		raw, base = raw[2:], 16
	}
	key, err := strconv.ParseUint(raw, base, 8)
	if err != nil {
		return 0, err
	}
	return int(key), nil
}
