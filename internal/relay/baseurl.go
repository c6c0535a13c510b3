package relay

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// hosting platforms that terminate tls in front of the relay; a host
// matching one of these is always addressed with https.
var _cloud_suffixes = []string{
	".onrender.com",
	".railway.app",
	".up.railway.app",
	".fly.dev",
	".herokuapp.com",
	".vercel.app",
	".azurewebsites.net",
}

// BaseURL derives the externally visible base url for building public
// tunnel urls. priority: configured PUBLIC_URL, then the request host,
// then the first lan ipv4 address.
func BaseURL(cfg *Config, r *http.Request) string {
	if cfg.PublicURL != "" {
		return strings.TrimRight(cfg.PublicURL, "/")
	}

	scheme := "http"
	if cfg.UseHTTPS || (r != nil && r.TLS != nil) {
		scheme = "https"
	}

	if r != nil && r.Host != "" {
		host := r.Host
		if _is_cloud_host(host) {
			return "https://" + host
		}
		return scheme + "://" + host
	}

	port := cfg.Port
	if scheme == "https" {
		port = cfg.HTTPSPort
	}
	return fmt.Sprintf("%s://%s:%d", scheme, _lan_ipv4(), port)
}

// _is_cloud_host reports whether the host (sans port) matches a known
// cloud-platform suffix.
func _is_cloud_host(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	for _, suffix := range _cloud_suffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// _lan_ipv4 returns the first non-loopback ipv4 address, falling back to
// localhost when none is found.
func _lan_ipv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}
