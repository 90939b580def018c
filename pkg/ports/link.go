package ports

// Link is the outbound half of a peer connection: a one-way, asynchronous
// send primitive with no delivery acknowledgement. Implementations must be
// bounded; when a peer cannot keep up, Post returns an error instead of
// blocking the hub.
type Link interface {
	// Post dispatches one serialized envelope toward the peer. A nil return
	// means the message was accepted by the transport, not that the peer
	// processed it.
	Post(data []byte) error

	// Origin is the origin the peer surface is served from, as established
	// at connection time by the transport.
	Origin() string
}
