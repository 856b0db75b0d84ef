// Package controllers implements the built-in handlers of spec.md §4.8:
// the handshake exchange and the keepalive ping/pong pair. Each controller
// registers its opcodes explicitly with a Dispatcher at construction time.
package controllers

// OpCode values for the built-in controllers. Application-defined opcodes
// start above this reserved range.
const (
	OpStartHandshake    uint16 = 1
	OpCompleteHandshake uint16 = 2
	OpPing              uint16 = 3
	OpPong              uint16 = 4
)
