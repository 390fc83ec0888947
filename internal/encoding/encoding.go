// Package encoding implements the byte-classification and decode rules of
// the encoding detector (C3): UTF-8 passthrough, BOM-directed decode, and a
// best-effort Windows-1252 fallback, built on golang.org/x/text's codec
// registry rather than a hand-rolled byte-range classifier.
package encoding

import (
	"bytes"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Result is the outcome of classifying one file's raw bytes.
type Result struct {
	Text     string
	Encoding string
	Binary   bool
}

var (
	utf8BOM    = []byte{0xEF, 0xBB, 0xBF}
	utf16leBOM = []byte{0xFF, 0xFE}
	utf16beBOM = []byte{0xFE, 0xFF}
)

// Detect classifies raw bytes per spec §4.3, in order:
//  1. any 0x00 byte -> binary
//  2. valid UTF-8 -> pass through unchanged as UTF-8 (a leading UTF-8 BOM is kept)
//  3. a BOM -> decode with the indicated encoding; malformed sequences -> binary
//  4. otherwise, best-effort Windows-1252 decode; any replacement rune -> binary
func Detect(raw []byte) Result {
	if bytes.IndexByte(raw, 0x00) >= 0 {
		return Result{Binary: true}
	}

	if utf8.Valid(raw) {
		return Result{Text: string(raw), Encoding: "UTF-8"}
	}

	if bytes.HasPrefix(raw, utf8BOM) {
		return decodeWith(unicode.UTF8BOM.NewDecoder(), raw, "UTF-8")
	}
	if bytes.HasPrefix(raw, utf16leBOM) {
		return decodeWith(unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder(), raw, "UTF-16LE")
	}
	if bytes.HasPrefix(raw, utf16beBOM) {
		return decodeWith(unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewDecoder(), raw, "UTF-16BE")
	}

	return decodeWith(charmap.Windows1252.NewDecoder(), raw, "windows-1252")
}

func decodeWith(dec *encoding.Decoder, raw []byte, name string) Result {
	decoded, err := dec.Bytes(raw)
	if err != nil {
		return Result{Binary: true}
	}
	if bytes.ContainsRune(decoded, utf8.RuneError) {
		return Result{Binary: true}
	}
	if !utf8.Valid(decoded) {
		return Result{Binary: true}
	}
	return Result{Text: string(decoded), Encoding: name}
}
