/*
Package ports defines the driven ports (interfaces) for the Pergola bridge.

These interfaces decouple the core logic from concrete transports, allowing the
hub to address peers over in-process channels, HTTP, Redis, or child processes
without knowing which one is in play.

# Key Interfaces

  - Link: The one-way outbound path toward a single peer surface.
  - Feed: The merged inbound stream of raw messages from all surfaces.
  - Catalog: Source of peer manifests (e.g., Loam or Memory).
*/
package ports
