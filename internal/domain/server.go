package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

var (
	ErrInvalidAddress      = errors.New("invalid server address")
	ErrUnknownProtocol     = errors.New("unknown protocol kind")
	ErrInvalidSubscription = errors.New("invalid subscription")
)

// ProtocolKind is the game edition a server speaks.
type ProtocolKind string

const (
	ProtocolJava    ProtocolKind = "java"
	ProtocolBedrock ProtocolKind = "bedrock"
)

const (
	DefaultJavaPort    = 25565
	DefaultBedrockPort = 19132
)

// ParseProtocol accepts "java" or "bedrock" in any case.
// An empty string selects java.
func ParseProtocol(s string) (ProtocolKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ProtocolJava):
		return ProtocolJava, nil
	case string(ProtocolBedrock):
		return ProtocolBedrock, nil
	default:
		return "", fmt.Errorf("%w: %q (expected java or bedrock)", ErrUnknownProtocol, s)
	}
}

// DefaultPort returns the port used when an address omits one.
func (p ProtocolKind) DefaultPort() int {
	if p == ProtocolBedrock {
		return DefaultBedrockPort
	}
	return DefaultJavaPort
}

func (p ProtocolKind) Valid() bool {
	return p == ProtocolJava || p == ProtocolBedrock
}

// Address is a host and port pair.
type Address struct {
	Host string
	Port int
}

// ParseAddress parses "host", "host:port" or "[v6]:port".
// The protocol's default port is used when none is given.
func ParseAddress(raw string, kind ProtocolKind) (Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Address{}, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		// No port: a bare hostname, IPv4 or bracketed/unbracketed IPv6.
		host = strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
		if strings.Count(host, ":") == 1 {
			return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, raw)
		}
		portStr = ""
	}

	host = NormalizeHost(host)
	if host == "" {
		return Address{}, fmt.Errorf("%w: missing host in %q", ErrInvalidAddress, raw)
	}

	port := kind.DefaultPort()
	if portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return Address{}, fmt.Errorf("%w: bad port in %q", ErrInvalidAddress, raw)
		}
	}
	if port < 1 || port > 65535 {
		return Address{}, fmt.Errorf("%w: port %d out of range", ErrInvalidAddress, port)
	}

	return Address{Host: host, Port: port}, nil
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// NormalizeHost lowercases a hostname and strips surrounding whitespace,
// IPv6 brackets and a trailing root dot.
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	host = strings.TrimSuffix(host, ".")
	return strings.ToLower(host)
}

// ServerKey identifies one physical server.
// It depends only on the normalized host and the port, never on the protocol kind.
type ServerKey string

// KeyFor derives the ServerKey of host:port.
func KeyFor(host string, port int) ServerKey {
	sum := sha256.Sum256([]byte(NormalizeHost(host) + ":" + strconv.Itoa(port)))
	return ServerKey(hex.EncodeToString(sum[:]))
}

// Short returns an abbreviated key for logs.
func (k ServerKey) Short() string {
	if len(k) > 12 {
		return string(k[:12])
	}
	return string(k)
}

// SubscriberRef is one chat destination: a bot account and one of its groups.
type SubscriberRef struct {
	AccountID string `json:"bot_id"`
	GroupID   string `json:"group_id"`
}

func (r SubscriberRef) String() string {
	return r.AccountID + " " + r.GroupID
}

// Subscription is a named server binding owned by one group.
// The field names match the persisted layout.
type Subscription struct {
	Name     string       `json:"name" yaml:"name"`
	Host     string       `json:"host" yaml:"host"`
	Port     int          `json:"port" yaml:"port"`
	Protocol ProtocolKind `json:"type" yaml:"type"`
}

// Key returns the ServerKey this subscription resolves to.
func (s Subscription) Key() ServerKey {
	return KeyFor(s.Host, s.Port)
}

func (s Subscription) Address() Address {
	return Address{Host: NormalizeHost(s.Host), Port: s.Port}
}

// Validate checks the fields a subscription must carry.
func (s Subscription) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidSubscription)
	}
	if NormalizeHost(s.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidSubscription)
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidSubscription, s.Port)
	}
	if !s.Protocol.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownProtocol, s.Protocol)
	}
	return nil
}

// NewSubscription builds a validated subscription from user input.
func NewSubscription(name, address, protocol string) (Subscription, error) {
	kind, err := ParseProtocol(protocol)
	if err != nil {
		return Subscription{}, err
	}
	addr, err := ParseAddress(address, kind)
	if err != nil {
		return Subscription{}, err
	}
	sub := Subscription{
		Name:     strings.TrimSpace(name),
		Host:     addr.Host,
		Port:     addr.Port,
		Protocol: kind,
	}
	if err := sub.Validate(); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// Binding pairs a subscription with the group that owns it.
type Binding struct {
	Subscriber   SubscriberRef
	Subscription Subscription
}
