package querygen

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/raphaelgruber/nova-go/internal/config"
	"github.com/raphaelgruber/nova-go/internal/sqlbackend"
)

// DenialClause is what a generated query carries instead of an identity
// filter when the caller is anonymous.
const DenialClause = sqlbackend.DenialMarker + ": anonymous user"

// IsAnonymous reports whether identity grants no access to identity-scoped rows.
func IsAnonymous(identity string) bool {
	id := strings.TrimSpace(identity)
	return id == "" || strings.EqualFold(id, config.AnonymousIdentity)
}

// ScopeClause returns the filter the query must carry for identity: an
// equality on the identity column, or the denial comment.
func ScopeClause(identity, column string) string {
	if IsAnonymous(identity) {
		return DenialClause
	}
	return fmt.Sprintf("%s = '%s'", column, quoteLiteral(identity))
}

func quoteLiteral(s string) string {
	return strings.ReplaceAll(strings.TrimSpace(s), "'", "''")
}

// CheckScope enforces identity scoping without a model call. A query
// touching an identity-bearing table must filter on the caller's identity,
// or carry the denial comment when the caller is anonymous. It returns
// false with a reason when the rule is broken.
func CheckScope(query, identity string, profile config.Profile) (bool, string) {
	if !touchesIdentityTables(query, profile.IdentityTables) {
		return true, ""
	}
	if IsAnonymous(identity) {
		if sqlbackend.HasDenialMarker(query) {
			return true, ""
		}
		return false, fmt.Sprintf("The query reads customer data for an anonymous user; it must carry %q instead.", DenialClause)
	}

	pattern := fmt.Sprintf(`(?i)(^|[^\w])(\w+\.)?"?%s"?\s*=\s*'%s'`,
		regexp.QuoteMeta(profile.IdentityColumn), regexp.QuoteMeta(quoteLiteral(identity)))
	if regexp.MustCompile(pattern).MatchString(query) {
		return true, ""
	}
	return false, fmt.Sprintf("The query reads customer data without the filter %s.", ScopeClause(identity, profile.IdentityColumn))
}

func touchesIdentityTables(query string, tables []string) bool {
	for _, t := range tables {
		re := regexp.MustCompile(`(?i)(^|[^\w])` + regexp.QuoteMeta(t) + `($|[^\w])`)
		if re.MatchString(query) {
			return true
		}
	}
	return false
}
