// Package server runs the chat service: a dispatcher that executes commands
// one at a time against the registry, a UDP control channel, a WebSocket
// gateway on the HTTP listener, and the file transfer service.
//
// The implementation is organized into specialized files for configuration,
// the dispatcher, each transport, routing, and HTTP handlers. Server ties
// them together and owns their lifecycle.
package server
