package core

// Frame is one encoded relay frame.
type Frame []byte

// SignalConnection is the relay's handle on one client websocket. TrySend
// queues without blocking; the relay closes it when the client goes away.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
