// Package pairing implements session PIN generation and the austream://
// pairing string shown on the sender for QR display or manual entry.
package pairing

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/RishiIRL/austream/internal/protocol"
)

const (
	// PINLength is the number of decimal digits in a session PIN.
	PINLength = 6

	// scheme is the pairing URL scheme.
	scheme = "austream"
)

var (
	// ErrBadScheme is returned for pairing strings that are not austream:// URLs.
	ErrBadScheme = errors.New("not an austream:// URL")

	// ErrBadHost is returned when the pairing string host part is invalid.
	ErrBadHost = errors.New("invalid host in pairing string")
)

// NewPIN generates a 6-digit session PIN from the system CSPRNG. Leading
// zeros are kept, so "012345" is a valid PIN.
func NewPIN() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < PINLength; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate PIN: %w", err)
	}

	return fmt.Sprintf("%0*d", PINLength, n), nil
}

// ValidPIN reports whether a string is exactly six decimal digits.
func ValidPIN(pin string) bool {
	if len(pin) != PINLength {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Info describes one sender endpoint for pairing.
type Info struct {
	Host string
	Port int
	PIN  string // optional in parsed strings
	Name string // sender hostname, display only
}

// URL renders the pairing string:
// austream://<ip>:<port>?pin=<digits>&name=<url-encoded name>
func (i Info) URL() string {
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(i.Host, strconv.Itoa(i.Port)),
	}

	var params []string
	if i.PIN != "" {
		params = append(params, "pin="+url.QueryEscape(i.PIN))
	}
	if i.Name != "" {
		params = append(params, "name="+url.QueryEscape(i.Name))
	}
	u.RawQuery = strings.Join(params, "&")

	return u.String()
}

// Parse parses a pairing string. The pin parameter is optional and the
// port defaults to the standard audio port. Bare "host" and "host:port"
// strings are accepted as a convenience for manual entry.
func Parse(raw string) (Info, error) {
	if !strings.Contains(raw, "://") {
		return parseHostPort(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Info{}, fmt.Errorf("parse pairing string: %w", err)
	}
	if u.Scheme != scheme {
		return Info{}, fmt.Errorf("%w: scheme %q", ErrBadScheme, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return Info{}, ErrBadHost
	}

	port := protocol.DefaultAudioPort
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return Info{}, fmt.Errorf("%w: port %q", ErrBadHost, p)
		}
	}

	info := Info{
		Host: host,
		Port: port,
		PIN:  u.Query().Get("pin"),
		Name: u.Query().Get("name"),
	}

	if info.PIN != "" && !ValidPIN(info.PIN) {
		return Info{}, fmt.Errorf("pairing string carries malformed PIN %q", info.PIN)
	}

	return info, nil
}

func parseHostPort(raw string) (Info, error) {
	if raw == "" {
		return Info{}, ErrBadHost
	}

	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		// No port given.
		return Info{Host: raw, Port: protocol.DefaultAudioPort}, nil
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return Info{}, fmt.Errorf("%w: port %q", ErrBadHost, portStr)
	}

	return Info{Host: host, Port: port}, nil
}
