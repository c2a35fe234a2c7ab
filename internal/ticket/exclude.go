package ticket

import "strings"

// Exclusions is the static sender exclusion policy. Entries are either full
// addresses or "@domain" suffixes; matching is case-insensitive. The set is
// built once at startup and never reloaded.
type Exclusions struct {
	suppressAll bool
	exact       map[string]struct{}
	domains     map[string]struct{}
}

// NewExclusions builds the policy from configured entries
func NewExclusions(entries []string, suppressAll bool) *Exclusions {
	e := &Exclusions{
		suppressAll: suppressAll,
		exact:       make(map[string]struct{}),
		domains:     make(map[string]struct{}),
	}
	for _, entry := range entries {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if strings.HasPrefix(entry, "@") {
			e.domains[strings.TrimPrefix(entry, "@")] = struct{}{}
		} else {
			e.exact[entry] = struct{}{}
		}
	}
	return e
}

// Excluded reports whether ticketing and acknowledgement are suppressed for
// the given sender address
func (e *Exclusions) Excluded(addr string) bool {
	if e.suppressAll {
		return true
	}
	addr = strings.ToLower(strings.TrimSpace(addr))
	if addr == "" {
		return false
	}
	if _, ok := e.exact[addr]; ok {
		return true
	}
	if at := strings.LastIndex(addr, "@"); at >= 0 && at < len(addr)-1 {
		if _, ok := e.domains[addr[at+1:]]; ok {
			return true
		}
	}
	return false
}
