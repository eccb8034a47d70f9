package tcpserver

import (
	"github.com/cyberinferno/gamenet/netsocket"
	"github.com/cyberinferno/gamenet/packet"
)

// TCPServerSession handles the packets of one accepted connection. The server
// creates one per connection and calls it on the poll goroutine.
type TCPServerSession interface {
	// HandlePacket is called for each complete packet, in arrival order. It may
	// reply with conn.Send and end the session with conn.Close.
	//
	// Parameters:
	//   - conn: The connection the packet arrived on
	//   - p: The packet; ownership passes to the session
	HandlePacket(conn *netsocket.Conn, p *packet.Packet)
}

// NewSessionFunc creates the session for a newly accepted connection. The
// connection already carries its peer address and trusted-subnet flag but has
// no id until it is registered.
type NewSessionFunc func(conn *netsocket.Conn) TCPServerSession

// SessionFunc adapts a function to TCPServerSession.
type SessionFunc func(conn *netsocket.Conn, p *packet.Packet)

// HandlePacket calls f(conn, p).
func (f SessionFunc) HandlePacket(conn *netsocket.Conn, p *packet.Packet) {
	f(conn, p)
}
