package main

import (
	"bufio"
	"context"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"

	"github.com/cyberinferno/gamenet/httpmsg"
	"github.com/cyberinferno/gamenet/logger"
	"github.com/cyberinferno/gamenet/netsocket"
	"github.com/cyberinferno/gamenet/packet"
	"github.com/cyberinferno/gamenet/resolver"
	"github.com/cyberinferno/gamenet/tcpserver"
)

const (
	pingText = "PING"
	pongText = "PONG"
)

// session answers one connection. Framed PING gets PONG and any other frame
// is echoed. HTTP requests for / get a status page; internal peers also see
// the byte counters.
type session struct {
	name  string
	stats func() netsocket.Stats
	log   logger.Logger
}

func newSessionFunc(name string, stats func() netsocket.Stats, log logger.Logger) tcpserver.NewSessionFunc {
	return func(conn *netsocket.Conn) tcpserver.TCPServerSession {
		return &session{name: name, stats: stats, log: log.With(logger.Field{Key: "peer", Value: conn.PeerAddr()})}
	}
}

// resolvingSessionFunc wraps next and logs each peer's reverse DNS name. The
// lookup runs off the poll goroutine and never touches the connection.
func resolvingSessionFunc(ctx context.Context, names *resolver.Resolver, next tcpserver.NewSessionFunc, log logger.Logger) tcpserver.NewSessionFunc {
	return func(conn *netsocket.Conn) tcpserver.TCPServerSession {
		peer, ip := conn.PeerAddr(), conn.PeerIP()
		go func() {
			ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			name, err := names.LookupAddr(ctx, ip)
			if err != nil {
				log.Debug("peer lookup failed", logger.Field{Key: "peer", Value: peer}, logger.Field{Key: "error", Value: err.Error()})
				return
			}
			log.Info("peer resolved", logger.Field{Key: "peer", Value: peer}, logger.Field{Key: "name", Value: name})
		}()

		return next(conn)
	}
}

func (s *session) HandlePacket(conn *netsocket.Conn, p *packet.Packet) {
	var err error
	switch p.Type() {
	case packet.Http:
		err = s.serveHTTP(conn, p)
	case packet.Text, packet.Binary:
		if p.Text() == pingText {
			err = conn.Send(packet.NewText(pongText))
		} else {
			err = conn.Send(packet.NewBinary(p.Data()))
		}
	}

	if err != nil {
		s.log.Debug("reply dropped", logger.Field{Key: "error", Value: err.Error()})
	}
}

func (s *session) serveHTTP(conn *netsocket.Conn, p *packet.Packet) error {
	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(p.Text())))
	if err != nil {
		s.log.Info("bad http request", logger.Field{Key: "error", Value: err.Error()})
		return httpmsg.Reply(conn, httpmsg.ServerNotAvailable, "<h1>Bad request</h1>")
	}

	if req.Method != http.MethodGet || req.URL.Path != "/" {
		return httpmsg.Reply(conn, httpmsg.NotFound, "<h1>Not found</h1>")
	}

	return httpmsg.Reply(conn, httpmsg.OK, s.statusPage(conn.Internal()))
}

func (s *session) statusPage(internal bool) string {
	st := s.stats()

	var b strings.Builder
	fmt.Fprintf(&b, "<html><head><title>%s</title></head><body>", html.EscapeString(s.name))
	fmt.Fprintf(&b, "<h1>%s</h1><p>%d connections</p>", html.EscapeString(s.name), st.Open)
	if internal {
		fmt.Fprintf(&b, "<p>%d bytes in, %d bytes out</p>", st.BytesIn, st.BytesOut)
	}

	b.WriteString("</body></html>")
	return b.String()
}
