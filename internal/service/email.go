package service

import (
	"net"
	"regexp"
	"strings"
)

const (
	maxEmailUser   = 64
	maxEmailDomain = 255
)

var (
	emailUserRe   = regexp.MustCompile("^[a-zA-Z0-9.!#$%&'*+/=?^_`{|}~-]+$")
	emailDomainRe = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)
)

// ValidEmail reports whether s is an address accepted at registration:
// an HTML5-style local part and a hostname or bracketed IP literal.
// Single-label hosts such as "localhost" are allowed.
func ValidEmail(s string) bool {
	at := strings.LastIndexByte(s, '@')
	if at <= 0 || at == len(s)-1 {
		return false
	}
	user, domain := s[:at], s[at+1:]
	if len(user) > maxEmailUser || len(domain) > maxEmailDomain {
		return false
	}
	if !emailUserRe.MatchString(user) {
		return false
	}
	if emailDomainRe.MatchString(domain) {
		return true
	}
	if lit, ok := strings.CutPrefix(domain, "["); ok {
		if ip, ok := strings.CutSuffix(lit, "]"); ok {
			return net.ParseIP(ip) != nil
		}
	}
	return false
}
