// Package history persists the outcome of every upload the daemon attempts.
//
// The ledger is a SQLite database under the state directory. It records
// results only; the dispatch queue itself never touches disk. One daemon at
// a time may write to a ledger, enforced by an advisory lock next to the
// database file. Readers such as `nix-upload-daemon history` open the
// database without the lock.
package history
