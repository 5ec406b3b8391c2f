package beacon

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
	SchemeNATS  Scheme = "nats"
)

func (scheme Scheme) DefaultPort() int {
	switch scheme {
	case SchemeHTTPS:
		return 443
	case SchemeNATS:
		return 4222
	case SchemeHTTP:
		return 80
	default:
		return 80
	}
}

type EndpointParseError struct {
	Message string
}

func (e *EndpointParseError) Error() string {
	return "EndpointParseError: " + e.Message
}

// Endpoint is a parsed collector address. HTTP endpoints are posted to
// directly; for NATS the path names the request subject.
type Endpoint struct {
	scheme   Scheme
	user     *url.Userinfo
	host     string
	port     int
	path     string
	rawQuery string
}

// ParseEndpoint parses a collector address such as
// "https://collect.example.com/v1/batches" or "nats://localhost:4222/beacon.batches".
func ParseEndpoint(rawURL string) (*Endpoint, error) {
	// Parse
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, &EndpointParseError{"invalid url"}
	}

	// Scheme
	var scheme Scheme
	switch parsedURL.Scheme {
	case "http":
		scheme = SchemeHTTP
	case "https":
		scheme = SchemeHTTPS
	case "nats":
		scheme = SchemeNATS
	default:
		return nil, &EndpointParseError{"invalid scheme"}
	}

	// Host
	host := parsedURL.Hostname()
	if host == "" {
		return nil, &EndpointParseError{"empty host"}
	}

	// Port
	var port int
	if parsedURL.Port() != "" {
		parsedPort, err := strconv.Atoi(parsedURL.Port())
		if err != nil || parsedPort <= 0 || parsedPort > 65535 {
			return nil, &EndpointParseError{"invalid port"}
		}
		port = parsedPort
	}

	// Path
	path := parsedURL.Path
	if scheme == SchemeNATS && strings.Trim(path, "/") == "" {
		return nil, &EndpointParseError{"empty subject"}
	}

	return &Endpoint{
		scheme:   scheme,
		user:     parsedURL.User,
		host:     host,
		port:     port,
		path:     path,
		rawQuery: parsedURL.RawQuery,
	}, nil
}

func (e Endpoint) Scheme() Scheme {
	return e.scheme
}

func (e Endpoint) Host() string {
	return e.host
}

func (e Endpoint) Port() int {
	if e.port == 0 {
		return e.scheme.DefaultPort()
	}
	return e.port
}

func (e Endpoint) Path() string {
	return e.path
}

func (e Endpoint) hostPort() string {
	if e.Port() != e.scheme.DefaultPort() {
		return fmt.Sprintf("%s:%d", e.host, e.Port())
	}
	return e.host
}

// String returns the canonical form, omitting the default port.
func (e Endpoint) String() string {
	u := url.URL{
		Scheme:   string(e.scheme),
		User:     e.user,
		Host:     e.hostPort(),
		Path:     e.path,
		RawQuery: e.rawQuery,
	}
	return u.String()
}

// URL is the address batches are posted to over HTTP.
func (e Endpoint) URL() *url.URL {
	return &url.URL{
		Scheme:   string(e.scheme),
		User:     e.user,
		Host:     e.hostPort(),
		Path:     e.path,
		RawQuery: e.rawQuery,
	}
}

// ServerURL is the NATS server address, without the subject.
func (e Endpoint) ServerURL() string {
	u := url.URL{
		Scheme: string(e.scheme),
		User:   e.user,
		Host:   fmt.Sprintf("%s:%d", e.host, e.Port()),
	}
	return u.String()
}

// Subject is the NATS subject derived from the path: "/beacon/batches" becomes
// "beacon.batches".
func (e Endpoint) Subject() string {
	return strings.ReplaceAll(strings.Trim(e.path, "/"), "/", ".")
}

func (e Endpoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.String())
}

func (e *Endpoint) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	parsed, err := ParseEndpoint(str)
	if err != nil {
		return err
	}
	*e = *parsed
	return nil
}
