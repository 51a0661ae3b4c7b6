package beacon

import "net"

// ValidateClientIP checks raw against the set of syntactically legal
// IPv4/IPv6 literals. An invalid or empty address yields "", which the
// collector interprets as "use the connection's observed address", per
// the wire protocol.
func ValidateClientIP(raw string) (valid string, ok bool) {
	if raw == "" {
		return "", false
	}
	if net.ParseIP(raw) == nil {
		return "", false
	}
	return raw, true
}
