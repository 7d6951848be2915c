package validation

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// BackendURLValidator checks the classifier backend base URL.
type BackendURLValidator struct {
	// AllowLocalhost permits localhost and loopback hosts.
	AllowLocalhost bool
	// AllowPrivateIPs permits RFC 1918, link-local and ULA addresses.
	AllowPrivateIPs bool
	MaxLength       int
}

// NewBackendURLValidator allows local hosts; the classifier usually runs on
// the same machine or LAN as the operator.
func NewBackendURLValidator() *BackendURLValidator {
	return &BackendURLValidator{
		AllowLocalhost:  true,
		AllowPrivateIPs: true,
		MaxLength:       2048,
	}
}

// NewStrictBackendURLValidator only accepts publicly routable hosts.
func NewStrictBackendURLValidator() *BackendURLValidator {
	return &BackendURLValidator{MaxLength: 2048}
}

// ValidateAndNormalize returns the base URL without trailing slash, query or
// fragment. A missing scheme becomes http for local hosts and https
// otherwise.
func (v *BackendURLValidator) ValidateAndNormalize(input string) (string, error) {
	input = strings.TrimSpace(input)

	if input == "" {
		return "", fmt.Errorf("URL cannot be empty")
	}
	if v.MaxLength > 0 && len(input) > v.MaxLength {
		return "", fmt.Errorf("URL too long (max %d characters)", v.MaxLength)
	}
	if strings.ContainsAny(input, "<>\"'` ") {
		return "", fmt.Errorf("URL contains invalid characters")
	}

	if !strings.Contains(input, "://") {
		input = defaultScheme(input) + "://" + input
	}

	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("URL must use http or https protocol")
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("URL must have a valid hostname")
	}
	if u.User != nil {
		return "", fmt.Errorf("credentials in URL are not permitted")
	}
	if strings.Contains(u.Path, "..") {
		return "", fmt.Errorf("directory traversal patterns not allowed in URL path")
	}
	if err := v.checkHost(u.Hostname()); err != nil {
		return "", err
	}

	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.Host = strings.ToLower(u.Host)
	return u.String(), nil
}

func (v *BackendURLValidator) checkHost(hostname string) error {
	if hostname == "0.0.0.0" || hostname == "::" {
		return fmt.Errorf("unspecified address is not a valid backend host")
	}
	if isLocalhost(hostname) {
		if !v.AllowLocalhost {
			return fmt.Errorf("localhost URLs are not permitted")
		}
		return nil
	}
	if addr, err := netip.ParseAddr(hostname); err == nil && isPrivateAddr(addr) && !v.AllowPrivateIPs {
		return fmt.Errorf("private IP addresses are not permitted")
	}
	return nil
}

func defaultScheme(hostport string) string {
	host := hostport
	if i := strings.IndexAny(host, "/?#"); i >= 0 {
		host = host[:i]
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if isLocalhost(host) {
		return "http"
	}
	if addr, err := netip.ParseAddr(host); err == nil && isPrivateAddr(addr) {
		return "http"
	}
	return "https"
}

func isLocalhost(hostname string) bool {
	hostname = strings.ToLower(hostname)
	if hostname == "localhost" || strings.HasSuffix(hostname, ".localhost") {
		return true
	}
	addr, err := netip.ParseAddr(hostname)
	return err == nil && addr.IsLoopback()
}

func isPrivateAddr(addr netip.Addr) bool {
	return addr.IsPrivate() || addr.IsLinkLocalUnicast() || addr.IsLoopback()
}
