package leb128

import (
	"unicode/utf8"

	"github.com/dtvmgo/dtvm/internal/werr"
)

// ValidateUTF8 checks b against RFC 3629: the Go standard library's UTF-8
// decoder already rejects over-long encodings, surrogate halves
// (U+D800..U+DFFF) and sequences longer than 4 bytes, so there is no
// ecosystem decoder that does anything more for this bounded, non-streaming
// check.
func ValidateUTF8(b []byte) *werr.Error {
	if !utf8.Valid(b) {
		return werr.New(werr.PhaseLoad, werr.KindInvalidUTF8Encoding)
	}
	return nil
}
