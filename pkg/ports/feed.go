package ports

import (
	"context"
	"sync"
)

// Datagram is one raw inbound message. PeerID and Origin are established by
// the transport (connection identity, Origin header, channel name) and never
// taken from the message body; the hub trusts them for attribution.
type Datagram struct {
	PeerID string
	Origin string
	Data   []byte
}

// Feed merges inbound messages from every connected peer surface into a
// single stream consumed by the hub's dispatch loop.
type Feed interface {
	// Receive returns the inbound stream. The channel is closed when ctx is
	// canceled or the transport shuts down. Receive is called once per hub run.
	Receive(ctx context.Context) (<-chan Datagram, error)
}

// Merge combines several transports into one feed, so a hub can serve
// browser, process, and local peers at once. The merged channel closes when
// ctx ends or every source channel has closed.
func Merge(feeds ...Feed) Feed {
	if len(feeds) == 1 {
		return feeds[0]
	}
	return mergedFeed(feeds)
}

type mergedFeed []Feed

func (m mergedFeed) Receive(ctx context.Context) (<-chan Datagram, error) {
	out := make(chan Datagram)
	var wg sync.WaitGroup
	for _, feed := range m {
		ch, err := feed.Receive(ctx)
		if err != nil {
			return nil, err
		}
		wg.Add(1)
		go func(ch <-chan Datagram) {
			defer wg.Done()
			for dg := range ch {
				select {
				case out <- dg:
				case <-ctx.Done():
					return
				}
			}
		}(ch)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}
