package storage

import (
	"strings"

	"checklist-api/domain"
)

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func partitionFilter(scope domain.ProjectScope) string {
	return "PartitionKey eq " + quote(scope.String())
}

func templateFilter(scope domain.ProjectScope, templateID string) string {
	return partitionFilter(scope) +
		" and templateId eq " + quote(templateID) +
		" and origin eq " + quote(string(domain.OriginTemplate))
}

// prefixFilter matches rows whose key or template id starts with prefix.
// Table queries have no startswith, so the prefix is turned into a range.
func prefixFilter(scope domain.ProjectScope, prefix string) string {
	lo, hi := quote(prefix), quote(upperBound(prefix))
	return partitionFilter(scope) +
		" and ((RowKey ge " + lo + " and RowKey lt " + hi + ")" +
		" or (templateId ge " + lo + " and templateId lt " + hi + "))"
}

// upperBound returns the smallest string greater than every string with the
// given prefix.
func upperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return prefix + "\uffff"
}

// validKey reports whether s can be used as a RowKey lookup.
func validKey(s string) bool {
	if s == "" || len(s) > 1024 {
		return false
	}
	return !strings.ContainsAny(s, "/\\#?\t\n\r")
}
