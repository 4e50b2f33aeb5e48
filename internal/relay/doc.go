// Package relay decides what happens to every inbound chat frame on the server.
//
// A ping is answered privately with pong; any other well-formed message is broadcast
// verbatim to every open connection, sender included. Malformed frames are dropped.
// The relay also drives the connection lifecycle against the registry and the bounded
// shutdown sequence.
package relay
