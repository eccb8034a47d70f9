// Package httpmsg composes the HTTP responses sent back on connections that
// switched to HTTP framing. The header block is a fixed template; only the
// status line, dates and body-derived headers vary.
package httpmsg

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cyberinferno/gamenet/netsocket"
	"github.com/cyberinferno/gamenet/packet"
	"github.com/cyberinferno/gamenet/utils"
)

// Code is an HTTP response status code.
type Code int

const (
	OK                 Code = 200
	NotFound           Code = 404
	ServerNotAvailable Code = 500
)

// DefaultServerName is sent in the Server header unless overridden.
const DefaultServerName = "gamenet"

// DefaultContentType is sent in the Content-Type header unless overridden.
const DefaultContentType = "text/html; charset=utf-8"

// Reason returns the reason phrase of the status line.
func (c Code) Reason() string {
	switch c {
	case OK:
		return "OK"
	case NotFound:
		return "Not Found"
	case ServerNotAvailable:
		return "Server Not Available"
	}

	if text := http.StatusText(int(c)); text != "" {
		return text
	}

	return "Unknown"
}

// Response is one HTTP response.
type Response struct {
	Code         Code
	Body         string
	ContentType  string
	ServerName   string
	LastModified time.Time

	now func() time.Time
}

// NewResponse returns a response with the default server name and content type.
//
// Parameters:
//   - code: The status code
//   - body: The response body
//
// Returns:
//   - A new Response; LastModified defaults to the time Build runs
func NewResponse(code Code, body string) *Response {
	return &Response{
		Code:        code,
		Body:        body,
		ContentType: DefaultContentType,
		ServerName:  DefaultServerName,
		now:         time.Now,
	}
}

// Build renders the full response text.
func (r *Response) Build() string {
	now := time.Now
	if r.now != nil {
		now = r.now
	}

	date := utils.FormatHTTPDate(now())
	modified := date
	if !r.LastModified.IsZero() {
		modified = utils.FormatHTTPDate(r.LastModified)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.Code, r.Code.Reason())
	fmt.Fprintf(&b, "Date: %s\r\n", date)
	fmt.Fprintf(&b, "Server: %s\r\n", r.ServerName)
	fmt.Fprintf(&b, "Last-Modified: %s\r\n", modified)
	fmt.Fprintf(&b, "Content-Type: %s\r\n", r.ContentType)
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(r.Body))
	b.WriteString("Accept-Ranges: bytes\r\n")
	b.WriteString("Connection: close\r\n")
	b.WriteString("Access-Control-Allow-Origin: *\r\n")
	b.WriteString("\r\n")
	b.WriteString(r.Body)
	return b.String()
}

// Packet wraps the rendered response in an Http packet.
func (r *Response) Packet() *packet.Packet {
	return packet.NewHTTP(r.Build())
}

// Reply queues a response on c and closes c once it has been written.
//
// Parameters:
//   - c: The connection that carried the request
//   - code: The status code
//   - body: The response body
//
// Returns:
//   - An error if c no longer accepts output
func Reply(c *netsocket.Conn, code Code, body string) error {
	if err := c.Send(NewResponse(code, body).Packet()); err != nil {
		return fmt.Errorf("reply %d: %w", code, err)
	}

	c.CloseWhenDrained()
	return nil
}
