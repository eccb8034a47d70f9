package netsocket

import "github.com/cyberinferno/gamenet/packet"

// PacketHandler consumes packets delivered by an EventSocket. It runs on the
// poll goroutine and may call Send or Close on c.
type PacketHandler interface {
	HandlePacket(c *Conn, p *packet.Packet)
}

// PacketHandlerFunc adapts a function to PacketHandler.
type PacketHandlerFunc func(c *Conn, p *packet.Packet)

// HandlePacket calls f(c, p).
func (f PacketHandlerFunc) HandlePacket(c *Conn, p *packet.Packet) {
	f(c, p)
}

// EventSocket is a connection that hands every extracted packet to its
// handler, in arrival order, right after the read that completed it.
type EventSocket struct {
	*Conn
	handler PacketHandler
}

// NewEventSocket wraps c so its packets are delivered to h.
func NewEventSocket(c *Conn, h PacketHandler) *EventSocket {
	return &EventSocket{Conn: c, handler: h}
}

// OnReadable reads and frames like Conn.OnReadable, then drains the inbound
// queue into the handler. Delivery stops once the handler closes the socket.
func (e *EventSocket) OnReadable() int {
	n := e.Conn.OnReadable()
	for e.removal&RemoveClose == 0 {
		p, ok := e.Receive()
		if !ok {
			break
		}

		e.handler.HandlePacket(e.Conn, p)
	}

	return n
}
