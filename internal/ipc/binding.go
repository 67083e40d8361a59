package ipc

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

var (
	// ErrInvalidURL reports a binding string that is not a well-formed URI.
	ErrInvalidURL = errors.New("not a valid url")
	// ErrInvalidAddress reports a tcp binding whose payload is not host:port.
	ErrInvalidAddress = errors.New("not a valid tcp address")
	// ErrUnknownScheme reports a scheme other than sock, tcp, tcp4 and tcp6.
	ErrUnknownScheme = errors.New("unknown binding scheme")
)

// Kind selects the transport a Binding uses.
type Kind int

const (
	// KindSocket is a filesystem Unix domain socket.
	KindSocket Kind = iota + 1
	// KindNetwork is a TCP stream.
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindSocket:
		return "sock"
	case KindNetwork:
		return "tcp"
	default:
		return "unknown"
	}
}

const (
	schemeSock = "sock"
	schemeTCP  = "tcp"
	schemeTCP4 = "tcp4"
	schemeTCP6 = "tcp6"
)

// Binding is a parsed transport address. The zero value is not usable;
// construct bindings with ParseBinding, SocketBinding or NetworkBinding.
type Binding struct {
	kind    Kind
	scheme  string
	address string
}

// SocketBinding returns a binding for the Unix socket at path.
func SocketBinding(path string) Binding {
	return Binding{kind: KindSocket, scheme: schemeSock, address: path}
}

// NetworkBinding returns a tcp binding for host:port.
func NetworkBinding(host string, port int) Binding {
	return Binding{kind: KindNetwork, scheme: schemeTCP, address: net.JoinHostPort(host, strconv.Itoa(port))}
}

// ParseBinding parses "<scheme>://<payload>". Socket paths are written with
// an empty host, as in sock:///run/nix-upload-daemon/daemon.sock.
func ParseBinding(value string) (Binding, error) {
	trimmed := strings.TrimSpace(value)
	rawScheme, rest, ok := strings.Cut(trimmed, "://")
	if !ok || !validScheme(rawScheme) {
		return Binding{}, fmt.Errorf("%w: %q has no <scheme>:// prefix", ErrInvalidURL, trimmed)
	}

	scheme := strings.ToLower(rawScheme)
	switch scheme {
	case schemeSock:
		u, err := url.Parse(trimmed)
		if err != nil {
			return Binding{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
		}
		if u.Host != "" {
			return Binding{}, fmt.Errorf("%w: socket path must be absolute (sock:///path), got host %q", ErrInvalidURL, u.Host)
		}
		if u.Path == "" {
			return Binding{}, fmt.Errorf("%w: socket path is empty", ErrInvalidURL)
		}
		return SocketBinding(u.Path), nil
	case schemeTCP, schemeTCP4, schemeTCP6:
		address, err := parseHostPort(scheme, rest)
		if err != nil {
			return Binding{}, err
		}
		return Binding{kind: KindNetwork, scheme: scheme, address: address}, nil
	default:
		if _, err := url.Parse(trimmed); err != nil {
			return Binding{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
		}
		return Binding{}, fmt.Errorf("%w: %s is not a valid scheme, valid schemes are 'tcp', 'tcp4', 'tcp6' and 'sock'", ErrUnknownScheme, rawScheme)
	}
}

// validScheme applies the RFC 3986 scheme grammar.
func validScheme(scheme string) bool {
	if scheme == "" {
		return false
	}
	for i, r := range scheme {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z':
		case i > 0 && ('0' <= r && r <= '9' || r == '+' || r == '-' || r == '.'):
		default:
			return false
		}
	}
	return true
}

func parseHostPort(scheme, payload string) (string, error) {
	payload = strings.TrimSuffix(payload, "/")
	if strings.ContainsAny(payload, "/?#@ ") {
		return "", fmt.Errorf("%w: %q must be host:port only", ErrInvalidAddress, payload)
	}
	host, portText, err := net.SplitHostPort(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
	}
	port, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return "", fmt.Errorf("%w: port %q: %w", ErrInvalidAddress, portText, err)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		switch {
		case scheme == schemeTCP4 && !addr.Unmap().Is4():
			return "", fmt.Errorf("%w: %s is not an IPv4 address", ErrInvalidAddress, host)
		case scheme == schemeTCP6 && !addr.Is6():
			return "", fmt.Errorf("%w: %s is not an IPv6 address", ErrInvalidAddress, host)
		}
	}
	return net.JoinHostPort(host, strconv.FormatUint(port, 10)), nil
}

// Kind reports the transport kind.
func (b Binding) Kind() Kind { return b.kind }

// IsZero reports whether b has not been set.
func (b Binding) IsZero() bool { return b.kind == 0 }

// Network returns the net package network name ("unix", "tcp", "tcp4", "tcp6").
func (b Binding) Network() string {
	if b.kind == KindSocket {
		return "unix"
	}
	return b.scheme
}

// Address returns the socket path or host:port.
func (b Binding) Address() string { return b.address }

// String formats the binding back into "<scheme>://<payload>". Socket paths
// are percent-escaped so ParseBinding recovers the same path.
func (b Binding) String() string {
	if b.IsZero() {
		return ""
	}
	if b.kind == KindSocket {
		return (&url.URL{Scheme: schemeSock, Path: b.address}).String()
	}
	return b.scheme + "://" + b.address
}

// MarshalText implements encoding.TextMarshaler.
func (b Binding) MarshalText() ([]byte, error) {
	return []byte(b.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. An empty value leaves
// the binding unset.
func (b *Binding) UnmarshalText(text []byte) error {
	if strings.TrimSpace(string(text)) == "" {
		*b = Binding{}
		return nil
	}
	parsed, err := ParseBinding(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// BindingFlag adapts a Binding to pflag.Value for cobra flags.
type BindingFlag struct {
	Binding *Binding
}

var _ pflag.Value = BindingFlag{}

// String implements pflag.Value.
func (f BindingFlag) String() string {
	if f.Binding == nil {
		return ""
	}
	return f.Binding.String()
}

// Set implements pflag.Value.
func (f BindingFlag) Set(value string) error {
	parsed, err := ParseBinding(value)
	if err != nil {
		return err
	}
	*f.Binding = parsed
	return nil
}

// Type implements pflag.Value.
func (BindingFlag) Type() string { return "binding" }
