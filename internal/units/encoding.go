package units

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"regexp"

	"github.com/rafabd1/Nightshade/internal/unit"
)

var (
	base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/_-]+={0,2}$`)
	hexPattern    = regexp.MustCompile(`^(?:0x)?(?:[0-9a-fA-F]{2})+$`)
	percentEscape = regexp.MustCompile(`%[0-9a-fA-F]{2}`)
)

// Base64 decodes standard, URL-safe and unpadded base64.
var Base64 = unit.Definition{
	Name:        "base64",
	Description: "decode base64 encoded data",
	Priority:    25,
	Groups:      []string{GroupDecode},
	New: func(b *unit.Base) unit.Result {
		if !b.Target().IsPrintable() {
			return unit.NotApplicable("target is not printable")
		}
		data, res, ok := content(b)
		if !ok {
			return res
		}
		encoded := compact(data)
		if len(encoded) < 4 || !base64Pattern.Match(encoded) {
			return unit.NotApplicable("not base64")
		}
		decoded, ok := decodeBase64(encoded)
		if !ok {
			return unit.NotApplicable("base64 does not decode")
		}
		return unit.Applicable(&decodedUnit{Base: b, decoded: decoded})
	},
}

func decodeBase64(encoded []byte) ([]byte, bool) {
	s := string(encoded)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.URLEncoding,
		base64.RawStdEncoding,
		base64.RawURLEncoding,
	} {
		if out, err := enc.DecodeString(s); err == nil {
			return out, true
		}
	}
	return nil, false
}

// Hex decodes hexadecimal strings, with or without a 0x prefix.
var Hex = unit.Definition{
	Name:        "hex",
	Description: "decode hexadecimal data",
	Priority:    25,
	Groups:      []string{GroupDecode},
	New: func(b *unit.Base) unit.Result {
		if !b.Target().IsPrintable() {
			return unit.NotApplicable("target is not printable")
		}
		data, res, ok := content(b)
		if !ok {
			return res
		}
		encoded := compact(data)
		if !hexPattern.Match(encoded) {
			return unit.NotApplicable("not hex")
		}
		decoded, err := hex.DecodeString(string(bytes.TrimPrefix(encoded, []byte("0x"))))
		if err != nil {
			return unit.NotApplicable("hex does not decode: %v", err)
		}
		return unit.Applicable(&decodedUnit{Base: b, decoded: decoded})
	},
}

// URLDecode resolves percent escapes.
var URLDecode = unit.Definition{
	Name:        "urldecode",
	Description: "decode percent-encoded data",
	Priority:    30,
	Groups:      []string{GroupDecode},
	New: func(b *unit.Base) unit.Result {
		if !b.Target().IsPrintable() {
			return unit.NotApplicable("target is not printable")
		}
		data, res, ok := content(b)
		if !ok {
			return res
		}
		if !percentEscape.Match(data) {
			return unit.NotApplicable("no percent escapes")
		}
		decoded, err := url.QueryUnescape(string(bytes.TrimSpace(data)))
		if err != nil {
			return unit.NotApplicable("invalid escape: %v", err)
		}
		return unit.Applicable(&decodedUnit{Base: b, decoded: []byte(decoded)})
	},
}

// decodedUnit registers output computed by its constructor.
type decodedUnit struct {
	*unit.Base
	decoded []byte
}

func (u *decodedUnit) Evaluate(unit.Case) error {
	u.Host().RegisterData(u, u.decoded, true)
	return nil
}
