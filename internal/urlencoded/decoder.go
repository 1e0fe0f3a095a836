package urlencoded

import (
	"bytes"
	"strings"

	"github.com/indigo-web/utils/uf"
	"github.com/indigo-web/webserv/http/status"
	"github.com/indigo-web/webserv/internal/hexconv"
)

// Decode decodes percent-encoded sequences of src into dst. If there's nothing to be
// decoded, src is returned as is and dst stays untouched.
func Decode(src, dst []byte) (decoded []byte, err error) {
	percent := bytes.IndexByte(src, '%')
	if percent == -1 {
		return src, nil
	}

	for percent != -1 {
		if percent >= len(src)-2 {
			return nil, status.ErrURLDecoding
		}

		dst = append(dst, src[:percent]...)
		a, b := hexconv.Halfbyte[src[percent+1]], hexconv.Halfbyte[src[percent+2]]
		if a|b > 0x0f {
			return nil, status.ErrURLDecoding
		}

		dst = append(dst, (a<<4)|b)
		src = src[percent+3:]
		percent = bytes.IndexByte(src, '%')
	}

	return append(dst, src...), nil
}

// ExtendedDecodeString is the same as Decode, but on top also decodes + as spaces.
func ExtendedDecodeString(src string) (string, error) {
	if strings.IndexByte(src, '+') != -1 {
		src = strings.ReplaceAll(src, "+", " ")
	}

	decoded, err := Decode(uf.S2B(src), nil)
	if err != nil {
		return "", err
	}

	return string(decoded), nil
}

// ParseQuery splits the raw query into pairs separated by ampersands. Keys are unique:
// the last occurrence wins. Pairs without a value are stored with an empty one.
func ParseQuery(raw string) (map[string]string, error) {
	query := make(map[string]string)

	for len(raw) > 0 {
		var pair string
		pair, raw, _ = strings.Cut(raw, "&")
		if len(pair) == 0 {
			continue
		}

		key, value, _ := strings.Cut(pair, "=")
		key, err := ExtendedDecodeString(key)
		if err != nil {
			return nil, err
		}

		value, err = ExtendedDecodeString(value)
		if err != nil {
			return nil, err
		}

		query[key] = value
	}

	return query, nil
}
