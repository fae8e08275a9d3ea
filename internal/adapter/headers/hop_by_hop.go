package headers

import "net/http"

// Hop-by-hop headers per RFC 7230 §6.1. These never cross the proxy in
// either direction; Host is always recomputed for the outbound dial.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHop removes hop-by-hop headers in place, including any header
// named by a Connection token.
func StripHopByHop(h http.Header) {
	for _, token := range h.Values("Connection") {
		h.Del(token)
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
	h.Del("Host")
}

// CloneStripped returns a stripped copy, leaving the source untouched.
func CloneStripped(h http.Header) http.Header {
	out := h.Clone()
	StripHopByHop(out)
	return out
}
