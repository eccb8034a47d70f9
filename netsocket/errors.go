package netsocket

import "errors"

// Errors returned by the socket core. Per-connection faults are not returned;
// they set the connection's removal flag instead.
var (
	// ErrCapacityExceeded is returned by AddSocket when the open-connection ceiling is reached.
	ErrCapacityExceeded = errors.New("open-connection ceiling reached")
	// ErrUnknownConnection is returned when an id does not name a registered connection.
	ErrUnknownConnection = errors.New("unknown connection id")
	// ErrNotRegistered is returned by RemoveSocket for a socket this manager does not hold.
	ErrNotRegistered = errors.New("socket not registered")
	// ErrAlreadyRegistered is returned by AddSocket for a socket that already has an id.
	ErrAlreadyRegistered = errors.New("socket already registered")
	// ErrConnectionClosed is returned when sending on a flagged or closed connection.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrNotConnected is returned when sending on a socket that carries no peer.
	ErrNotConnected = errors.New("socket not connected")
	// ErrAlreadyConnected is returned by Connect on a connection that already owns a socket.
	ErrAlreadyConnected = errors.New("connection already owns a socket")
	// ErrManagerClosed is returned by Post after Shutdown.
	ErrManagerClosed = errors.New("socket manager shut down")
)
