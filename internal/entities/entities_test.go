package entities

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BerylCAtieno/medical-report-analyzer/internal/resilience/retry"
	"github.com/BerylCAtieno/medical-report-analyzer/internal/utils"
)

func TestParseCategory(t *testing.T) {
	tests := []struct {
		label string
		want  Category
		ok    bool
	}{
		{"DRUG", CategoryDrug, true},
		{"disease", CategoryDisease, true},
		{" Date ", CategoryDate, true},
		{"B-PROCEDURE", CategoryProcedure, true},
		{"I-ORG", CategoryOrg, true},
		{"PERSON", "", false},
		{"GPE", "", false},
		{"", "", false},
		{"B-", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ParseCategory(tt.label)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGroupEntities(t *testing.T) {
	found := []Entity{
		{Text: "Aspirin", Category: CategoryDrug},
		{Text: "aspirin", Category: CategoryDrug},
		{Text: "Flu", Category: CategoryDisease},
	}

	want := []Group{
		{Category: CategoryDrug, Values: []string{"Aspirin", "aspirin"}},
		{Category: CategoryDisease, Values: []string{"Flu"}},
	}

	if diff := cmp.Diff(want, GroupEntities(found)); diff != "" {
		t.Errorf("GroupEntities() mismatch (-want +got):\n%s", diff)
	}
}

func TestGroupEntities_DeduplicatesAndSorts(t *testing.T) {
	found := []Entity{
		{Text: "Metformin", Category: CategoryDrug},
		{Text: "2024-03-12", Category: CategoryDate},
		{Text: "Insulin", Category: CategoryDrug},
		{Text: "Metformin", Category: CategoryDrug},
		{Text: "2023-01-01", Category: CategoryDate},
	}

	groups := GroupEntities(found)
	require.Len(t, groups, 2)
	assert.Equal(t, CategoryDrug, groups[0].Category)
	assert.Equal(t, []string{"Insulin", "Metformin"}, groups[0].Values)
	assert.Equal(t, "Insulin, Metformin", groups[0].Display())
	assert.Equal(t, []string{"2023-01-01", "2024-03-12"}, groups[1].Values)
}

func TestGroupEntities_Empty(t *testing.T) {
	assert.Empty(t, GroupEntities(nil))
}

func TestExtractor_FiltersToAllowList(t *testing.T) {
	rec := RecognizerFunc(func(_ context.Context, text string) ([]Span, error) {
		return []Span{
			{Text: "John Doe", Label: "PERSON"},
			{Text: "Aspirin", Label: "DRUG"},
			{Text: "St. Mary's", Label: "ORG"},
			{Text: "  ", Label: "DRUG"},
			{Text: "Boston", Label: "GPE"},
		}, nil
	})

	got, err := NewExtractor(rec).Extract(context.Background(), "Patient John Doe ...")
	require.NoError(t, err)
	assert.Equal(t, []Entity{
		{Text: "Aspirin", Category: CategoryDrug},
		{Text: "St. Mary's", Category: CategoryOrg},
	}, got)
}

func TestExtractor_EmptyInputSkipsRecognizer(t *testing.T) {
	rec := RecognizerFunc(func(context.Context, string) ([]Span, error) {
		t.Fatal("recognizer must not be called for empty input")
		return nil, nil
	})

	got, err := NewExtractor(rec).Extract(context.Background(), "   ")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtractor_PropagatesRecognizerError(t *testing.T) {
	boom := errors.New("model crashed")
	rec := RecognizerFunc(func(context.Context, string) ([]Span, error) { return nil, boom })

	_, err := NewExtractor(rec).Extract(context.Background(), "text")
	assert.ErrorIs(t, err, boom)
}

func newTestClient(url string) *NERClient {
	httpClient := retry.NewHTTPClient(retry.HTTPClientConfig{RetryMax: 0, Timeout: 5 * time.Second}, nil)
	return NewNERClient(url, httpClient, utils.NewNopLogger())
}

func TestNERClient_Recognize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)

		var req nerRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Patient John Doe takes Aspirin", req.Text)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"entities":[{"text":"Aspirin","label":"DRUG"},{"text":"John Doe","label":"PERSON"}]}`))
	}))
	defer srv.Close()

	spans, err := newTestClient(srv.URL).Recognize(context.Background(), "Patient John Doe takes Aspirin")
	require.NoError(t, err)
	assert.Equal(t, []Span{{Text: "Aspirin", Label: "DRUG"}, {Text: "John Doe", Label: "PERSON"}}, spans)
}

func TestNERClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"detail":"bad input"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Recognize(context.Background(), "text")
	require.Error(t, err)

	var httpErr *retry.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
}

func TestNERClient_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Recognize(context.Background(), "text")
	assert.ErrorContains(t, err, "failed to unmarshal response")
}
