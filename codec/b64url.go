// Package codec holds the small encoders shared by the rest of the
// module: unpadded base64url for binary fields and the winston/AR
// currency conversion.
package codec

import (
	"encoding/base64"
	"strings"

	"github.com/pkg/errors"
)

// B64UrlEncode returns buf as unpadded base64url, the encoding used by
// every binary field on the wire.
func B64UrlEncode(buf []byte) string {
	return base64.RawURLEncoding.EncodeToString(buf)
}

// B64UrlDecode accepts base64url with or without padding, and also
// tolerates the standard alphabet.
func B64UrlDecode(s string) (buf []byte, err error) {
	s = strings.TrimRight(s, "=")
	s = strings.NewReplacer("+", "-", "/", "_").Replace(s)
	buf, err = base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid base64url %.16q", s)
	}
	return
}

func StringToB64Url(s string) string {
	return B64UrlEncode([]byte(s))
}

func B64UrlToString(s string) (string, error) {
	buf, err := B64UrlDecode(s)
	return string(buf), err
}
