// Package entities turns named-entity recognizer output into clinically relevant, display-ready groups.
package entities

import "strings"

// Category is one of the closed set of entity labels the analyzer reports.
type Category string

const (
	CategoryDisease   Category = "DISEASE"
	CategoryDrug      Category = "DRUG"
	CategoryDate      Category = "DATE"
	CategoryProcedure Category = "PROCEDURE"
	CategoryOrg       Category = "ORG"
)

var knownCategories = map[Category]struct{}{
	CategoryDisease:   {},
	CategoryDrug:      {},
	CategoryDate:      {},
	CategoryProcedure: {},
	CategoryOrg:       {},
}

// ParseCategory decodes a recognizer label. Labels are matched case-insensitively and
// IOB prefixes ("B-", "I-") are ignored. ok is false for labels outside the allow-list.
func ParseCategory(label string) (Category, bool) {
	label = strings.ToUpper(strings.TrimSpace(label))
	if len(label) > 2 && (strings.HasPrefix(label, "B-") || strings.HasPrefix(label, "I-")) {
		label = label[2:]
	}

	c := Category(label)
	if _, ok := knownCategories[c]; !ok {
		return "", false
	}
	return c, true
}
