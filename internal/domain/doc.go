// Package domain defines the core chat types and the contracts shared between packages.
//
// ChatMessage is the only wire payload. UserDirectory is the login bookkeeping contract
// implemented by the directory package and consumed by the relay and the client.
package domain
