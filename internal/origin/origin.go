package origin

import (
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// NormalizeHeader validates and normalizes a browser Origin header.
//
// It returns the normalized origin (scheme://host[:port]) and the host[:port]
// portion for same-host comparisons. Default ports are dropped.
//
// The special Origin value "null" is allowed and returned as-is.
func NormalizeHeader(originHeader string) (normalizedOrigin string, host string, ok bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", "", false
	}
	if trimmed == "null" {
		return "null", "", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || u.ForceQuery {
		return "", "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host, ok = normalizeHost(u.Host, scheme)
	if !ok {
		return "", "", false
	}
	return scheme + "://" + host, host, true
}

// Policy decides whether a browser origin may use the participant socket and
// read the status endpoint.
//
// With an empty allow-list only same-host origins are accepted. A "*" entry
// accepts every origin.
type Policy struct {
	allowed []string
}

func NewPolicy(allowedOrigins []string) Policy {
	return Policy{allowed: slices.Clone(allowedOrigins)}
}

// AllowsAny reports whether the allow-list contains "*".
func (p Policy) AllowsAny() bool {
	return slices.Contains(p.allowed, "*")
}

// Check validates the raw Origin header against requestHost. A missing Origin
// header (non-browser client) is accepted; the normalized origin is then empty.
func (p Policy) Check(originHeader, requestHost string) (normalizedOrigin string, ok bool) {
	if strings.TrimSpace(originHeader) == "" {
		return "", true
	}
	normalizedOrigin, originHost, ok := NormalizeHeader(originHeader)
	if !ok {
		return "", false
	}
	return normalizedOrigin, IsAllowed(normalizedOrigin, originHost, requestHost, p.allowed)
}

// IsAllowed returns true when the normalized origin is allowed to access the
// given request host.
//
// If allowedOrigins is non-empty, each entry must be either "*" or a normalized
// origin string (as produced by NormalizeHeader). Otherwise the origin's
// host[:port] must match the request Host header.
func IsAllowed(normalizedOrigin, originHost, requestHost string, allowedOrigins []string) bool {
	if len(allowedOrigins) > 0 {
		return slices.ContainsFunc(allowedOrigins, func(allowed string) bool {
			return allowed == "*" || allowed == normalizedOrigin
		})
	}

	// Scheme is not compared: behind a TLS-terminating proxy the request is
	// seen as HTTP while the browser Origin is HTTPS.
	scheme, _, found := strings.Cut(normalizedOrigin, "://")
	if !found {
		return false
	}
	requestHostNormalized, ok := normalizeHost(strings.TrimSpace(requestHost), scheme)
	if !ok {
		return false
	}
	return originHost == requestHostNormalized
}

func normalizeHost(rawHost, scheme string) (string, bool) {
	rawHostname, rawPort, ok := splitHostPort(rawHost)
	if !ok {
		return "", false
	}
	hostname := strings.ToLower(rawHostname)
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return host, true
}

// splitHostPort splits an authority host[:port] string. IPv6 literals are
// returned without brackets.
func splitHostPort(rawHost string) (hostname, port string, ok bool) {
	if rawHost == "" {
		return "", "", false
	}

	if rest, bracketed := strings.CutPrefix(rawHost, "["); bracketed {
		hostname, rest, found := strings.Cut(rest, "]")
		if !found {
			return "", "", false
		}
		if rest == "" {
			return hostname, "", true
		}
		port, hasPort := strings.CutPrefix(rest, ":")
		if !hasPort || port == "" {
			return "", "", false
		}
		return hostname, port, true
	}

	switch strings.Count(rawHost, ":") {
	case 0:
		return rawHost, "", true
	case 1:
		hostname, port, _ := strings.Cut(rawHost, ":")
		if hostname == "" || port == "" {
			return "", "", false
		}
		return hostname, port, true
	default:
		return "", "", false
	}
}
