package proxy

import (
	"strings"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
)

// Blocklist matches target hosts against a list of blocked domains. A host
// is blocked if it equals an entry or is a subdomain of one.
type Blocklist struct {
	trie       *ahocorasick.Trie
	domainList []string
}

// NewBlocklist compiles hosts into a Blocklist. Entries may carry a leading
// "*." or "."; both mean the domain and all of its subdomains. It returns
// nil for an empty list.
func NewBlocklist(hosts []string) *Blocklist {
	domainList := make([]string, 0, len(hosts))
	for _, host := range hosts {
		host = strings.TrimSpace(host)
		host = strings.TrimPrefix(host, "*.")
		host = normalizeHost(strings.TrimPrefix(host, "."))
		if host != "" {
			domainList = append(domainList, host)
		}
	}
	if len(domainList) == 0 {
		return nil
	}
	return &Blocklist{
		trie:       ahocorasick.NewTrieBuilder().AddStrings(domainList).Build(),
		domainList: domainList,
	}
}

// Blocked reports whether host is on the list. A nil Blocklist blocks nothing.
func (b *Blocklist) Blocked(host string) bool {
	if b == nil {
		return false
	}
	host = normalizeHost(host)
	for _, match := range b.trie.MatchString(host) {
		domain := b.domainList[match.Pattern()]
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// Len returns the number of blocked domains.
func (b *Blocklist) Len() int {
	if b == nil {
		return 0
	}
	return len(b.domainList)
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	return strings.TrimSuffix(host, ".")
}
