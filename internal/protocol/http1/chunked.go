package http1

import (
	"bytes"
	"io"
	"math"

	"github.com/indigo-web/webserv/http/status"
	"github.com/indigo-web/webserv/internal/hexconv"
)

type chunkedParserState uint8

const (
	eChunkLength chunkedParserState = iota
	eChunkBody
	eLastChunkCRLF
)

// chunkedParser decodes chunked bodies out of an accumulation buffer. Chunk extensions and
// trailer fields aren't supported and are rejected as malformed.
type chunkedParser struct {
	state chunkedParserState
	// length is the size of the chunk which size line was consumed, but the data wasn't.
	length int64
	// total is the sum of lengths of all the chunks met so far.
	total int64
	// limit is the maximal total. Zero disables the check.
	limit int64
}

func newChunkedParser(limit int64) chunkedParser {
	return chunkedParser{state: eChunkLength, limit: limit}
}

// Parse consumes as many complete chunks out of data as possible, appending their payload
// to body. It returns the number of consumed bytes, so the remainder must be fed again
// once more data arrives. io.EOF is returned once the terminal chunk is consumed.
func (c *chunkedParser) Parse(data, body []byte) (n int, _ []byte, err error) {
	for {
		switch c.state {
		case eChunkLength:
			length, lineLen, err := c.parseLength(data[n:])
			if err != nil || lineLen == 0 {
				return n, body, err
			}

			n += lineLen
			c.length = length
			c.total += length
			if length == 0 {
				c.state = eLastChunkCRLF
			} else {
				c.state = eChunkBody
			}
		case eChunkBody:
			rest := data[n:]
			if int64(len(rest)) <= c.length {
				return n, body, nil
			}

			delim := int(c.length)
			switch rest[delim] {
			case '\n':
				body = append(body, rest[:delim]...)
				n += delim + 1
			case '\r':
				if len(rest) < delim+2 {
					return n, body, nil
				}

				if rest[delim+1] != '\n' {
					return n, body, status.ErrBadChunk
				}

				body = append(body, rest[:delim]...)
				n += delim + 2
			default:
				return n, body, status.ErrBadChunk
			}

			c.state = eChunkLength
		case eLastChunkCRLF:
			rest := data[n:]
			if len(rest) == 0 {
				return n, body, nil
			}

			switch rest[0] {
			case '\n':
				return n + 1, body, io.EOF
			case '\r':
				if len(rest) < 2 {
					return n, body, nil
				}

				if rest[1] != '\n' {
					return n, body, status.ErrBadChunk
				}

				return n + 2, body, io.EOF
			default:
				// trailer fields
				return n, body, status.ErrBadChunk
			}
		default:
			panic("unreachable code")
		}
	}
}

// parseLength parses the chunk size line. Zero lineLen means the line isn't complete yet.
// Even an incomplete line is checked against the limit, so an oversized chunk is rejected
// before its data arrives.
func (c *chunkedParser) parseLength(data []byte) (length int64, lineLen int, err error) {
	lf := bytes.IndexByte(data, '\n')
	line := data
	if lf != -1 {
		line = data[:lf]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}

		if len(line) == 0 {
			return 0, 0, status.ErrBadChunk
		}
	} else if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}

	if len(line) > maxChunkSizeLength {
		return 0, 0, status.ErrBadChunk
	}

	for _, char := range line {
		val := hexconv.Halfbyte[char]
		if val == 0xFF {
			return 0, 0, status.ErrBadChunk
		}

		if length > math.MaxInt64>>4 {
			return 0, 0, status.ErrBodyTooLarge
		}

		length = (length << 4) | int64(val)
		if c.exceeds(length) {
			return 0, 0, status.ErrBodyTooLarge
		}
	}

	if lf == -1 {
		return 0, 0, nil
	}

	return length, lf + 1, nil
}

// maxChunkSizeLength is the count of hex digits of the largest int64. Longer size lines
// carry nothing but leading zeroes.
const maxChunkSizeLength = 16

func (c *chunkedParser) exceeds(length int64) bool {
	return c.limit > 0 && length > c.limit-c.total
}
