package entities

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Span is a single recognizer hit before category filtering.
type Span struct {
	Text  string `json:"text"`
	Label string `json:"label"`
}

// Recognizer is the named-entity recognition model.
type Recognizer interface {
	Recognize(ctx context.Context, text string) ([]Span, error)
}

// RecognizerFunc adapts a plain function to Recognizer.
type RecognizerFunc func(ctx context.Context, text string) ([]Span, error)

func (f RecognizerFunc) Recognize(ctx context.Context, text string) ([]Span, error) {
	return f(ctx, text)
}

// Entity is a recognized span whose label is in the allow-list.
type Entity struct {
	Text     string
	Category Category
}

// Group holds the unique values found for one category, sorted for display.
type Group struct {
	Category Category `json:"category"`
	Values   []string `json:"values"`
}

// Display joins the group's values the way they are shown to the reader.
func (g Group) Display() string {
	return strings.Join(g.Values, ", ")
}

type Extractor struct {
	recognizer Recognizer
}

func NewExtractor(recognizer Recognizer) *Extractor {
	return &Extractor{recognizer: recognizer}
}

// Extract runs the recognizer and keeps the spans whose label decodes to a known category,
// in the order the recognizer emitted them.
func (e *Extractor) Extract(ctx context.Context, text string) ([]Entity, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	spans, err := e.recognizer.Recognize(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("entity recognition failed: %w", err)
	}

	var found []Entity
	for _, span := range spans {
		category, ok := ParseCategory(span.Label)
		if !ok || strings.TrimSpace(span.Text) == "" {
			continue
		}
		found = append(found, Entity{Text: span.Text, Category: category})
	}

	return found, nil
}

// GroupEntities groups entities by category in order of first appearance. Values are
// deduplicated case-sensitively and sorted lexicographically.
func GroupEntities(found []Entity) []Group {
	var groups []Group
	index := make(map[Category]int)
	seen := make(map[Category]map[string]struct{})

	for _, ent := range found {
		i, ok := index[ent.Category]
		if !ok {
			i = len(groups)
			index[ent.Category] = i
			seen[ent.Category] = make(map[string]struct{})
			groups = append(groups, Group{Category: ent.Category})
		}

		if _, dup := seen[ent.Category][ent.Text]; dup {
			continue
		}
		seen[ent.Category][ent.Text] = struct{}{}
		groups[i].Values = append(groups[i].Values, ent.Text)
	}

	for i := range groups {
		slices.Sort(groups[i].Values)
	}

	return groups
}
