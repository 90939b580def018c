/*
Package domain contains the core domain models for the Pergola bridge.

It defines the fundamental entities of host/peer messaging, such as Envelopes,
state snapshots, and operation calls. This package is kept pure and free of
transports or persistence concerns, following Hexagonal Architecture principles.

# Key Entities

  - Envelope: The single wire unit exchanged between host and peers.
  - IdentityState / PresentationState: The two state families the host pushes.
  - OpRequest / OpResult: A correlated request/response pair for peer operations.
  - Peer / Manifest: An attached surface and its catalog description.
  - CallError: The failure taxonomy for operation calls.
*/
package domain
