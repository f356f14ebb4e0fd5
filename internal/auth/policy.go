package auth

import (
	"net/http"
	"strings"
)

// Policy maps each route to the one permission it requires.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
}

// NewDefaultPolicy builds a default policy with exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes}
}

// IsExempt returns true when a request should skip auth.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredPermission resolves the permission a request needs.
func (p Policy) RequiredPermission(r *http.Request) (Permission, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	read := r.Method == http.MethodGet || r.Method == http.MethodHead

	switch {
	case path == "/api/v1/charges/generate":
		return PermManageCharges, true
	case strings.HasPrefix(path, "/api/v1/charges/") && strings.HasSuffix(path, "/pay"):
		return PermRegisterPayments, true
	case path == "/api/v1/closings/monthly", path == "/api/v1/closings/annual":
		return PermManageClosings, true
	case path == "/api/v1/funds" || strings.HasPrefix(path, "/api/v1/funds/"):
		if read {
			return PermViewFinances, true
		}
		return PermManageFunds, true
	}

	if strings.HasPrefix(path, "/api/") {
		if read {
			return PermViewFinances, true
		}
		return PermManageCharges, true
	}
	return "", false
}
