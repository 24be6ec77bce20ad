package extract

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// decodeText tries UTF-8 (BOM stripped), then Big5, then Latin-1, which
// cannot fail.
func decodeText(data []byte) string {
	if utf8.Valid(data) {
		if out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), data); err == nil {
			return string(out)
		}
		return string(data)
	}

	if out, _, err := transform.Bytes(traditionalchinese.Big5.NewDecoder(), data); err == nil &&
		!strings.ContainsRune(string(out), utf8.RuneError) {
		return string(out)
	}

	out, _, err := transform.Bytes(charmap.ISO8859_1.NewDecoder(), data)
	if err != nil {
		return strings.ToValidUTF8(string(data), "�")
	}
	return string(out)
}
