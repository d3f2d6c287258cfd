package kbsync

import "strings"

// CombineURI joins base and uri with exactly one slash. Either side may be
// empty.
func CombineURI(base, uri string) string {
	base = strings.TrimRight(base, "/")
	uri = strings.TrimLeft(uri, "/")
	switch {
	case base == "":
		return uri
	case uri == "":
		return base
	default:
		return base + "/" + uri
	}
}

func splitURI(uri string) []string {
	parts := strings.Split(strings.Trim(uri, "/"), "/")
	out := parts[:0]
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
