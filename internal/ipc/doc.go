// Package ipc owns the daemon's socket transport: parsing binding strings,
// creating listeners, accepting connections against a cancellation context,
// and dialing the daemon from the CLI.
//
// Two transports are supported, a filesystem Unix socket ("sock://") and a
// TCP stream ("tcp://", "tcp4://", "tcp6://"). Both are exposed through the
// same Listener and Conn types so the intake and upload code never branch on
// transport kind. Read and write failures from either transport are reported
// with the single ErrConnection sentinel.
//
// The socket file is replaced on every Listen and made world read/write so
// unprivileged build users can submit paths. There is no locking around the
// socket: the last daemon to listen owns it.
package ipc
