// Package upload implements the client side of the daemon protocol: it
// validates local store paths, optionally signs them, and writes them one
// per line to a daemon connection.
package upload
