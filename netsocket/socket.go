package netsocket

// Socket is anything the Manager can multiplex: a *Conn, or a type embedding
// one that overrides its readiness handlers (Listener, EventSocket).
type Socket interface {
	// Base returns the underlying connection.
	Base() *Conn
	// OnReadable handles a readable event and returns the bytes read.
	OnReadable() int
	// OnWritable handles a writable event and returns the bytes written.
	OnWritable() int
}

// RemovalNotifier is implemented by sockets that want to know when the sweep
// has released them. OnRemoved runs on the poll goroutine after the socket is
// unregistered and its descriptor closed.
type RemovalNotifier interface {
	OnRemoved(reason Removal)
}

var (
	_ Socket = (*Conn)(nil)
	_ Socket = (*Listener)(nil)
	_ Socket = (*EventSocket)(nil)
)
