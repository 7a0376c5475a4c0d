package fetch

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// ErrBlockedURL is returned for URLs pointing somewhere the worker must not reach.
var ErrBlockedURL = errors.New("blocked url")

var allowedSchemes = []string{"http", "https"}

// Parsed once, checked before any request to a URL that didn't come from config.
var blockedNetworks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"0.0.0.0/8",      // current network
		"10.0.0.0/8",     // RFC 1918
		"100.64.0.0/10",  // carrier-grade NAT
		"127.0.0.0/8",    // loopback
		"169.254.0.0/16", // link-local, cloud metadata included
		"172.16.0.0/12",  // RFC 1918
		"192.168.0.0/16", // RFC 1918
		"::/128",
		"::1/128",
		"fc00::/7",  // unique local
		"fe80::/10", // link-local
	} {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid blocked network %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, network)
	}
}

// NewSafe is [New] for URLs outside our control. Its dialer refuses private, loopback and
// link-local addresses after DNS resolution, so redirects and rebinding can't reach them either.
func NewSafe(timeout time.Duration, obs Observer) *Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	c := New(timeout, obs)
	c.http = safeurl.Client(config).Client
	return c
}

// ValidateURL statically checks that rawURL is a web URL whose host isn't a blocked
// address or localhost. Hostnames are not resolved here, that's left to [NewSafe]'s dialer.
func ValidateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedURL, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrBlockedURL, u.Scheme)
	}

	host := strings.ToLower(strings.TrimSuffix(u.Hostname(), "."))
	switch {
	case host == "":
		return fmt.Errorf("%w: no host", ErrBlockedURL)
	case host == "localhost" || strings.HasSuffix(host, ".localhost"):
		return fmt.Errorf("%w: host %s", ErrBlockedURL, host)
	}

	if ip := net.ParseIP(host); ip != nil {
		for _, network := range blockedNetworks {
			if network.Contains(ip) {
				return fmt.Errorf("%w: address %s", ErrBlockedURL, ip)
			}
		}
	}

	return nil
}
