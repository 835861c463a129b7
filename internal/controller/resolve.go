package controller

import (
	"net/url"
	"slices"
	"strings"
)

const (
	transactionsSegment = "transactions"
	transactionIDParam  = "transactionId"
)

// ResolveTransactionID extracts the transaction identifier from a banking
// web app URL: the path segment after "transactions", or else the
// transactionId query parameter. URLs that do not contain hostMarker, or do
// not parse, yield ok == false.
func ResolveTransactionID(rawURL, hostMarker string) (id string, ok bool) {
	if hostMarker == "" || !strings.Contains(rawURL, hostMarker) {
		return "", false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}

	parts := strings.Split(u.Path, "/")
	if i := slices.Index(parts, transactionsSegment); i >= 0 && i+1 < len(parts) && parts[i+1] != "" {
		return parts[i+1], true
	}
	if id := u.Query().Get(transactionIDParam); id != "" {
		return id, true
	}
	return "", false
}
