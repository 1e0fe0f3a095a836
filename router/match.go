package router

import (
	"strings"

	"github.com/indigo-web/webserv/config"
)

// LocationMatch is the result of matching a URI against configured locations.
type LocationMatch struct {
	Location *config.Location
	// Remainder is the part of the URI following the location prefix. It always starts
	// with a slash.
	Remainder string
}

// FindLocationForURI picks the location with the longest name being a prefix of the URI.
// A prefix matches only on a segment boundary, that is, the URI either equals it or
// continues with a slash. So /kapouet2/x doesn't match /kapouet, but falls back to /,
// if one is configured.
func FindLocationForURI(locations []config.Location, uri string) (match LocationMatch, found bool) {
	best := -1

	for i := range locations {
		name := config.NormalizeLocation(locations[i].Name)
		if !matchesPrefix(uri, name) {
			continue
		}

		if best == -1 || len(name) > len(config.NormalizeLocation(locations[best].Name)) {
			best = i
		}
	}

	if best == -1 {
		return match, false
	}

	loc := &locations[best]
	remainder := uri
	if name := config.NormalizeLocation(loc.Name); name != "/" {
		remainder = uri[len(name):]
	}

	if len(remainder) == 0 || remainder[0] != '/' {
		remainder = "/" + remainder
	}

	return LocationMatch{Location: loc, Remainder: remainder}, true
}

func matchesPrefix(uri, name string) bool {
	if name == "/" {
		return strings.HasPrefix(uri, "/")
	}

	return strings.HasPrefix(uri, name) && (len(uri) == len(name) || uri[len(name)] == '/')
}
