// Package server implements the room-scoped chat relay: the HTTP and
// WebSocket surface, the hub that owns room membership and broadcast, the
// bounded history and typing presence per room, and the liveness sweeps.
//
// The implementation is organized into specialized files for configuration,
// the hub dispatcher, rooms and their store, clients, routing, and HTTP
// handlers to keep the codebase maintainable and testable as the project
// grows.
package server
