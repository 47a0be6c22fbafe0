package units

import (
	"github.com/rafabd1/Nightshade/internal/unit"
)

// Raw searches the target content itself for a flag.
var Raw = unit.Definition{
	Name:        "raw",
	Description: "search the raw target content for a flag",
	Priority:    unit.HighestPriority,
	Groups:      []string{GroupExtract},
	New: func(b *unit.Base) unit.Result {
		data, res, ok := content(b)
		if !ok {
			return res
		}
		return unit.Applicable(&rawUnit{Base: b, data: data})
	},
}

type rawUnit struct {
	*unit.Base
	data []byte
}

func (u *rawUnit) Evaluate(unit.Case) error {
	u.Host().FindFlag(u, u.data)
	return nil
}

// Strings extracts printable runs from binary targets, like strings(1).
var Strings = unit.Definition{
	Name:             "strings",
	Description:      "extract printable strings from binary data",
	Priority:         20,
	ProtectedRecurse: true,
	Groups:           []string{GroupExtract},
	New: func(b *unit.Base) unit.Result {
		if b.Target().IsPrintable() {
			return unit.NotApplicable("target is already printable")
		}
		data, res, ok := content(b)
		if !ok {
			return res
		}
		return unit.Applicable(&stringsUnit{Base: b, data: data})
	},
}

type stringsUnit struct {
	*unit.Base
	data []byte
}

func (u *stringsUnit) Evaluate(unit.Case) error {
	minLen := u.Host().Config().MinData
	if minLen < 4 {
		minLen = 4
	}
	var found []string
	start := -1
	for i, c := range u.data {
		if (c >= 0x20 && c < 0x7f) || c == '\t' {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 && i-start >= minLen {
			found = append(found, string(u.data[start:i]))
		}
		start = -1
	}
	if start >= 0 && len(u.data)-start >= minLen {
		found = append(found, string(u.data[start:]))
	}
	u.Host().RegisterData(u, found, false)
	return nil
}
