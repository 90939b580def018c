package pergola_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/domain"
)

// ExampleNew demonstrates the full request/response loop: a host hub, an
// embedded peer announcing READY, and one operation call round-tripping
// over the in-process transport.
func ExampleNew() {
	// 1. Build the hub around an inbound feed. Only listed origins get in.
	feed := memory.NewFeed()
	hub, err := pergola.New(feed,
		pergola.WithHostOrigin("https://app.example.com"),
		pergola.WithOrigins("https://tools.example.com"),
	)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	// 2. Connect a peer surface and attach it to the hub.
	conn := feed.Connect("planner", "https://tools.example.com")
	if err := hub.Attach(domain.Peer{ID: "planner", Origin: "https://tools.example.com"}, conn.Link()); err != nil {
		log.Fatal(err)
	}

	// 3. The peer side: answer every operation request with a fixed record.
	go func() {
		for data := range conn.Recv() {
			env, err := domain.ParseEnvelope(data)
			if err != nil || env.Channel != domain.ChannelOpRequest {
				continue
			}
			reply, _ := json.Marshal(domain.NewOpResult(env.Action, domain.OpResultPayload{
				Success:  true,
				ResultID: "rec-1",
			}, env.CorrelationID))
			_ = conn.Send(reply)
		}
	}()

	// 4. The peer signals READY; calls are rejected as unavailable before.
	ready, _ := json.Marshal(domain.NewReady())
	if err := conn.Send(ready); err != nil {
		log.Fatal(err)
	}
	for !hub.Ready("planner") {
		time.Sleep(5 * time.Millisecond)
	}

	// 5. Invoke an operation and wait for its correlated result.
	result, err := hub.Call(ctx, "planner", "records", domain.OpRequest{
		Action:  "CREATE_RECORD",
		Payload: map[string]any{"title": "Field notes"},
	})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Created: %s\n", result.ResultID)
	// Output:
	// Created: rec-1
}

// ExampleHub_SetIdentity shows the push model: peers that signal READY
// receive the current state snapshots without asking for them.
func ExampleHub_SetIdentity() {
	feed := memory.NewFeed()
	hub, err := pergola.New(feed,
		pergola.WithHostOrigin("https://app.example.com"),
		pergola.WithOrigins("https://tools.example.com"),
	)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = hub.Run(ctx) }()

	conn := feed.Connect("planner", "https://tools.example.com")
	if err := hub.Attach(domain.Peer{ID: "planner", Origin: "https://tools.example.com"}, conn.Link()); err != nil {
		log.Fatal(err)
	}

	// Sign in before the peer is ready: the snapshot arrives on READY.
	if err := hub.SetIdentity(domain.IdentityState{SubjectID: "user-1", DisplayName: "Ada"}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		for data := range conn.Recv() {
			env, err := domain.ParseEnvelope(data)
			if err != nil || env.Channel != domain.ChannelIdentity {
				continue
			}
			state, _ := domain.DecodeIdentity(env.Payload)
			fmt.Println("Signed in as", state.DisplayName)
			close(done)
			return
		}
	}()

	ready, _ := json.Marshal(domain.NewReady())
	if err := conn.Send(ready); err != nil {
		log.Fatal(err)
	}
	<-done

	// Output:
	// Signed in as Ada
}
