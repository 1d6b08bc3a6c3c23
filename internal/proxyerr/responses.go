// Package proxyerr renders the relay's own canned responses (denials,
// auth challenges, redirects) and carries the WHO/WHEN/WHAT error
// taxonomy logged around them (spec §6).
package proxyerr

import (
	"fmt"
	"strconv"
)

// reasonPhrases gives the canned reason phrase for each status this
// package builds a body for.
var reasonPhrases = map[int]string{
	200: "OK",
	301: "Moved Permanently",
	302: "Found",
	303: "See Other",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	407: "Proxy Authentication Required",
	408: "Request Timeout",
	500: "Internal Server Error",
	502: "Bad Gateway",
	503: "Service Unavailable",
	504: "Gateway Timeout",
}

var cannedBodies = map[int]string{
	200: "<html><body><h1>200 OK</h1></body></html>",
	400: "<html><body><h1>400 Bad Request</h1><p>The request could not be understood.</p></body></html>",
	401: "<html><body><h1>401 Unauthorized</h1></body></html>",
	403: "<html><body><h1>403 Forbidden</h1><p>Access denied.</p></body></html>",
	407: "<html><body><h1>407 Proxy Authentication Required</h1></body></html>",
	408: "<html><body><h1>408 Request Timeout</h1><p>The client did not produce a request in time.</p></body></html>",
	500: "<html><body><h1>500 Internal Server Error</h1></body></html>",
	502: "<html><body><h1>502 Bad Gateway</h1><p>The server returned an invalid response.</p></body></html>",
	503: "<html><body><h1>503 Service Unavailable</h1><p>No server is available.</p></body></html>",
	504: "<html><body><h1>504 Gateway Timeout</h1><p>The server did not respond in time.</p></body></html>",
}

// field is one header line; canned responses keep an ordered slice rather
// than a map since their wire order must stay deterministic for tests and
// for any client that reads headers positionally.
type field struct{ name, value string }

// render serializes the status line, an ordered header list plus
// Content-Length, and body directly to wire bytes. Canned responses never
// need chunked framing or a body longer than fits comfortably in memory,
// so this stays a flat byte-slice builder rather than routing through the
// ring-buffer relay path real transactions use.
func render(code int, headers []field, body string) []byte {
	var buf []byte
	buf = append(buf, fmt.Sprintf("HTTP/1.1 %d %s\r\n", code, reasonPhrases[code])...)
	for _, h := range headers {
		buf = append(buf, h.name...)
		buf = append(buf, ": "...)
		buf = append(buf, h.value...)
		buf = append(buf, "\r\n"...)
	}
	buf = append(buf, "Content-Length: "...)
	buf = append(buf, strconv.Itoa(len(body))...)
	buf = append(buf, "\r\n\r\n"...)
	buf = append(buf, body...)
	return buf
}

// CannedResponse builds "HTTP/1.1 <code> <reason>\r\n...Connection:
// close\r\nContent-Length: <n>\r\n\r\n<body>" for one of the canonical
// status codes (spec §6
// "Canned bodies for 200/400/403/408/500/502/503/504 and 401/407").
func CannedResponse(code int) []byte {
	return render(code, []field{
		{"Content-Type", "text/html"},
		{"Connection", "close"},
	}, cannedBodies[code])
}

// AuthChallenge builds a 401 or 407 response carrying a WWW-Authenticate
// or Proxy-Authenticate challenge with the given realm (spec §4.8 "AUTH
// (challenge 401/407 with realm)").
func AuthChallenge(code int, realm string) []byte {
	headerName := "WWW-Authenticate"
	if code == 407 {
		headerName = "Proxy-Authenticate"
	}
	return render(code, []field{
		{headerName, fmt.Sprintf("Basic realm=%q", realm)},
		{"Content-Type", "text/html"},
		{"Connection", "close"},
	}, cannedBodies[code])
}

// RedirectResponse builds a 301/302/303 response per spec §6: "HTTP/1.1
// <code> <reason>\r\nCache-Control: no-cache\r\nContent-length:
// 0\r\nLocation: <built>\r\n" with an optional Set-Cookie, and either
// Connection: keep-alive (keepAlive=true) or Connection: close.
func RedirectResponse(code int, location string, setCookie string, keepAlive bool) []byte {
	conn := "close"
	if keepAlive {
		conn = "keep-alive"
	}
	buf := []byte(fmt.Sprintf("HTTP/1.1 %d %s\r\nCache-Control: no-cache\r\nContent-length: 0\r\nLocation: %s\r\n",
		code, reasonPhrases[code], location))
	if setCookie != "" {
		buf = append(buf, "Set-Cookie: "+setCookie+"\r\n"...)
	}
	buf = append(buf, "Connection: "+conn+"\r\n\r\n"...)
	return buf
}
