// Package client is the console side of the chat relay: it claims a username in the
// user directory, connects to the server, sends typed lines and prints what others say.
package client
