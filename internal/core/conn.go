package core

// Frame is a raw serialized payload delivered over a signal connection.
type Frame []byte

// ConnID identifies one live client connection.
type ConnID string

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
