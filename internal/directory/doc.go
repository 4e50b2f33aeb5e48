// Package directory persists the list of logged-in usernames in a flat JSON file.
//
// The file holds an array of {"id", "username"} records. It is shared by every client
// process on the host and cleared by the server on shutdown.
package directory
