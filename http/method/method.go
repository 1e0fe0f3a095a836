package method

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

type Method uint8

const (
	Unknown Method = iota
	GET
	HEAD
	POST
	DELETE
)

// List contains all the supported HTTP methods.
var List = []Method{GET, HEAD, POST, DELETE}

func Parse(str string) Method {
	switch len(str) {
	case 3:
		if str == "GET" {
			return GET
		}
	case 4:
		if str == "POST" {
			return POST
		} else if str == "HEAD" {
			return HEAD
		}
	case 6:
		if str == "DELETE" {
			return DELETE
		}
	}

	return Unknown
}

func (m Method) String() string {
	switch m {
	case GET:
		return "GET"
	case HEAD:
		return "HEAD"
	case POST:
		return "POST"
	case DELETE:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Set is a bitmask of methods.
type Set uint8

func NewSet(methods ...Method) (s Set) {
	for _, m := range methods {
		s = s.With(m)
	}

	return s
}

func (s Set) With(m Method) Set {
	return s | 1<<m
}

func (s Set) Has(m Method) bool {
	return s&(1<<m) != 0
}

// Methods returns the set members in the List order.
func (s Set) Methods() (methods []Method) {
	for _, m := range List {
		if s.Has(m) {
			methods = append(methods, m)
		}
	}

	return methods
}

// MarshalJSON represents the set as a list of method names.
func (s Set) MarshalJSON() ([]byte, error) {
	buff := []byte{'['}
	for i, m := range s.Methods() {
		if i > 0 {
			buff = append(buff, ',')
		}

		buff = append(buff, '"')
		buff = append(buff, m.String()...)
		buff = append(buff, '"')
	}

	return append(buff, ']'), nil
}

// UnmarshalJSON accepts the list of method names, as produced by MarshalJSON.
func (s *Set) UnmarshalJSON(data []byte) error {
	var names []string
	if err := jsoniter.Unmarshal(data, &names); err != nil {
		return err
	}

	*s = 0
	for _, name := range names {
		m := Parse(name)
		if m == Unknown {
			return fmt.Errorf("unsupported method %q", name)
		}

		*s = s.With(m)
	}

	return nil
}
