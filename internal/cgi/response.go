package cgi

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/indigo-web/utils/strcomp"
	"github.com/indigo-web/utils/uf"
	"github.com/indigo-web/webserv/http"
	"github.com/indigo-web/webserv/http/status"
)

// ParseResponse fills the response out of the script's output. The output must consist
// of a header block separated from the body by an empty line and must carry Content-Type.
// The Status header overrides the response code, while Location turns the response into
// 302 Found as long as the code is still 200.
func ParseResponse(output []byte, response *http.Response) error {
	end, sepLen := findSeparator(output)
	if end == -1 {
		return status.ErrBadGateway
	}

	block := uf.B2S(output[:end])

	for len(block) > 0 {
		var line string
		line, block, _ = strings.Cut(block, "\n")
		line = strings.TrimSuffix(line, "\r")

		colon := strings.IndexByte(line, ':')
		if colon <= 0 {
			return status.ErrBadGateway
		}

		key, value := line[:colon], strings.TrimSpace(line[colon+1:])

		if strcomp.EqualFold(key, "Status") {
			code, reason, err := parseStatus(value)
			if err != nil {
				return err
			}

			response.Code(code)
			if len(reason) > 0 {
				response.Status(status.Status(reason))
			}

			continue
		}

		response.AddHeader(key, value)
	}

	fields := response.Expose()
	if fields.Code == status.OK && fields.Headers.Has("Location") {
		response.Code(status.Found)
	}

	if !fields.Headers.Has("Content-Type") {
		return status.ErrBadGateway
	}

	response.Bytes(output[end+sepLen:])

	return nil
}

func parseStatus(value string) (code status.Code, reason string, err error) {
	rawCode, reason, _ := strings.Cut(value, " ")
	num, err := strconv.Atoi(rawCode)
	if err != nil || num < 100 || num > 999 {
		return 0, "", status.ErrBadGateway
	}

	return status.Code(num), strings.TrimSpace(reason), nil
}

// findSeparator returns the index of the empty line terminating the header block.
func findSeparator(output []byte) (end, sepLen int) {
	crlf := bytes.Index(output, []byte("\r\n\r\n"))
	lf := bytes.Index(output, []byte("\n\n"))

	switch {
	case crlf == -1 && lf == -1:
		return -1, 0
	case lf == -1 || (crlf != -1 && crlf < lf):
		return crlf, 4
	default:
		return lf, 2
	}
}
