package template

import (
	"strings"

	"github.com/google/uuid"
)

// TransactionIDMarker is replaced with a fresh client transaction id per request.
const TransactionIDMarker = "__CLTRID__"

const DefaultTransactionIDPrefix = "EPPCTL"

// TransactionIDs returns a generator of "<prefix>-<uuid>" ids.
func TransactionIDs(prefix string) func() string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = DefaultTransactionIDPrefix
	}
	return func() string {
		return prefix + "-" + uuid.NewString()
	}
}

// FillTransactionID replaces every marker in doc with one id from next. The
// returned id is empty when doc carries no marker.
func FillTransactionID(doc string, next func() string) (string, string) {
	if next == nil || !strings.Contains(doc, TransactionIDMarker) {
		return doc, ""
	}
	id := next()
	return strings.ReplaceAll(doc, TransactionIDMarker, id), id
}
