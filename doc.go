/*
Package pergola is a cross-context messaging bridge for host applications that
embed independently deployed, untrusted peer surfaces (iframes, webviews,
plugin processes) and need to exchange state and operations with them over an
asynchronous, one-way-send transport.

It implements an "Origin-Gated Envelope Bus" architecture: every message is a
self-describing Envelope on a named channel, inbound traffic is checked
against an explicit origin allow-list before it is even parsed, and
request/response pairs are tied together with correlation IDs rather than
shared memory.

# Concept

The host owns two state families (identity and presentation) and pushes
snapshots of them to peers; peers can also pull a fresh snapshot at any time.
Operations flow the other way: the host invokes an operation on a peer and
waits for a correlated result, with a deadline, and with failures classified
so callers can tell "the peer is not there" apart from "the peer said no".
This Hexagonal Architecture keeps the core transport-agnostic: the same hub
drives in-process peers in tests, SSE-connected browser surfaces, Redis
pub/sub peers across processes, and local child-process tools.

# Key Features

  - Origin gate: foreign-origin messages are dropped before JSON parsing.
  - Readiness handshake: pushes are resent when a peer signals READY, with a
    settle-delay fallback for peers that never do.
  - Correlated calls: overlapping operations never clobber each other, and
    each one resolves exactly once (result, timeout, or detach).
  - Failure taxonomy: unavailable, timeout, refused, detached, transport.

# Usage

Wire a transport, construct the hub, and run its dispatch loop:

	package main

	import (
		"context"
		"log"

		"github.com/aretw0/pergola"
		"github.com/aretw0/pergola/pkg/adapters/memory"
		"github.com/aretw0/pergola/pkg/domain"
	)

	func main() {
		feed := memory.NewFeed()
		hub, err := pergola.New(feed,
			pergola.WithHostOrigin("https://hub.example.com"),
			pergola.WithOrigins("https://tools.example.com"),
		)
		if err != nil {
			log.Fatal(err)
		}

		ctx := context.Background()
		go hub.Run(ctx)
		defer hub.Close()

		// Attach an embedded surface.
		conn := feed.Connect("planner", "https://tools.example.com")
		if err := hub.Attach(domain.Peer{ID: "planner", Origin: "https://tools.example.com"}, conn.Link()); err != nil {
			log.Fatal(err)
		}

		// Push state; the peer receives IDENTITY and PRESENTATION envelopes.
		hub.SetIdentity(domain.IdentityState{SubjectID: "u-1", DisplayName: "Dana"})

		// Invoke an operation once the peer signaled READY.
		res, err := hub.Call(ctx, "planner", "activities", domain.OpRequest{
			Action:  "CREATE_RECORD",
			Payload: map[string]any{"title": "Kickoff"},
		})
		if err != nil {
			log.Fatal(err)
		}
		log.Println("created:", res.ResultID)
	}
*/
package pergola
