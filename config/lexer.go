package config

import (
	"fmt"
	"strings"
)

type tokenKind uint8

const (
	tokenWord tokenKind = iota + 1
	tokenOpen
	tokenClose
	tokenSemicolon
	tokenEOF
)

type token struct {
	kind  tokenKind
	value string
	line  int
}

func (t token) String() string {
	switch t.kind {
	case tokenOpen:
		return "'{'"
	case tokenClose:
		return "'}'"
	case tokenSemicolon:
		return "';'"
	case tokenEOF:
		return "end of file"
	default:
		return fmt.Sprintf("%q", t.value)
	}
}

// tokenize splits the configuration into words and punctuation. Words may be double-quoted
// in order to contain spaces or punctuation; # starts a comment till the end of the line.
func tokenize(src string) ([]token, error) {
	var (
		tokens []token
		line   = 1
	)

	for i := 0; i < len(src); {
		switch c := src[i]; c {
		case '\n':
			line++
			i++
		case ' ', '\t', '\r':
			i++
		case '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case '{':
			tokens = append(tokens, token{kind: tokenOpen, line: line})
			i++
		case '}':
			tokens = append(tokens, token{kind: tokenClose, line: line})
			i++
		case ';':
			tokens = append(tokens, token{kind: tokenSemicolon, line: line})
			i++
		case '"':
			end := strings.IndexByte(src[i+1:], '"')
			if end == -1 {
				return nil, &Error{Line: line, Msg: "unterminated quoted string"}
			}

			value := src[i+1 : i+1+end]
			tokens = append(tokens, token{kind: tokenWord, value: value, line: line})
			line += strings.Count(value, "\n")
			i += end + 2
		default:
			start := i
			for i < len(src) && !isDelimiter(src[i]) {
				i++
			}

			tokens = append(tokens, token{kind: tokenWord, value: src[start:i], line: line})
		}
	}

	return append(tokens, token{kind: tokenEOF, line: line}), nil
}

func isDelimiter(c byte) bool {
	switch c {
	case ' ', '\t', '\r', '\n', '{', '}', ';', '#', '"':
		return true
	default:
		return false
	}
}
