package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"
)

// Key layout. Everything lives under one prefix so a single pattern delete
// can invalidate all derived listings without touching other tenants of the
// Redis instance.
const (
	prefix = "datacat:"

	datasetKeyPrefix = prefix + "dataset:"
	listKeyPrefix    = prefix + "datasets:list:"
	searchKeyPrefix  = prefix + "datasets:search:"

	// ListingPattern matches every cached listing and search result.
	ListingPattern = prefix + "datasets:*"
)

// DatasetKey addresses a single cached catalog entry.
func DatasetKey(id string) string {
	return datasetKeyPrefix + id
}

// ListKey derives a stable key from the listing parameters. The parameters
// are serialized and hashed so arbitrary filter combinations stay within
// Redis key length limits.
func ListKey(params any) string {
	return listKeyPrefix + hashParams(params)
}

// SearchKey derives a stable key for a search. The keyword is case-folded
// first so "Sales" and "sales" share one cache slot, matching the stores'
// case-insensitive matching.
func SearchKey(keyword string, limit int) string {
	folded := cases.Fold().String(strings.TrimSpace(keyword))
	return searchKeyPrefix + hashParams(struct {
		Keyword string `json:"keyword"`
		Limit   int    `json:"limit"`
	}{folded, limit})
}

func hashParams(params any) string {
	b, err := json.Marshal(params)
	if err != nil {
		// Marshal of plain filter structs cannot fail; fall back to a
		// constant bucket rather than erroring a read path.
		b = []byte("unhashable")
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}
