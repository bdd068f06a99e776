// Package ledger provides unit tests for record search.
package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yuchia/localledger/internal/errors"
)

func TestSearchMatchesAcrossFields(t *testing.T) {
	s, _, store := newTestService(t)
	ctx := context.Background()

	seedReference(t, store, "categories", "cat-food", "Restaurants")

	inDescription := expenseRecord("dinner with friends", "45.00")
	require.NoError(t, s.Create(ctx, inDescription))

	inLocation := expenseRecord("quick bite", "8.00")
	inLocation.Location = "dinner street 4"
	require.NoError(t, s.Create(ctx, inLocation))

	inCategory := expenseRecord("monthly outing", "30.00")
	inCategory.CategoryID = "cat-food"
	require.NoError(t, s.Create(ctx, inCategory))

	unrelated := expenseRecord("train ticket", "12.00")
	require.NoError(t, s.Create(ctx, unrelated))

	results, err := s.Search(ctx, testAccount, "dinner", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	results, err = s.Search(ctx, testAccount, "Restaurants", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "monthly outing", results[0].Description)
}

func TestSearchRanksDescriptionAboveLocation(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	base := time.Now().Unix()

	inLocation := expenseRecord("afternoon snack", "3.00")
	inLocation.Location = "market square"
	inLocation.RecordDate = base
	require.NoError(t, s.Create(ctx, inLocation))

	inDescription := expenseRecord("market groceries", "20.00")
	inDescription.RecordDate = base - 86400
	require.NoError(t, s.Create(ctx, inDescription))

	results, err := s.Search(ctx, testAccount, "market", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// A description hit outranks a newer location hit.
	assert.Equal(t, "market groceries", results[0].Description)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchTiesBreakByRecency(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	base := time.Now().Unix()

	older := expenseRecord("coffee beans", "15.00")
	older.RecordDate = base - 86400
	require.NoError(t, s.Create(ctx, older))

	newer := expenseRecord("coffee to go", "4.00")
	newer.RecordDate = base
	require.NoError(t, s.Create(ctx, newer))

	results, err := s.Search(ctx, testAccount, "coffee", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "coffee to go", results[0].Description)
}

func TestSearchRequiresAllTokens(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, expenseRecord("weekend trip fuel", "50.00")))
	require.NoError(t, s.Create(ctx, expenseRecord("weekend brunch", "25.00")))

	results, err := s.Search(ctx, testAccount, "weekend fuel", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "weekend trip fuel", results[0].Description)
}

func TestSearchEmptyQuery(t *testing.T) {
	s, _, _ := newTestService(t)

	results, err := s.Search(context.Background(), testAccount, "   ", 0)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchRequiresAccount(t *testing.T) {
	s, _, _ := newTestService(t)

	_, err := s.Search(context.Background(), "", "coffee", 0)
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestSearchHighlightsDescription(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, expenseRecord("Coffee and cake", "9.00")))

	results, err := s.Search(ctx, testAccount, "coffee", 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "<mark>Coffee</mark> and cake", results[0].Highlighted)
}

func TestHighlight(t *testing.T) {
	assert.Equal(t, "a <mark>b</mark> c <mark>b</mark>", Highlight("a b c b", []string{"b"}))
	assert.Equal(t, "<mark>Tea</mark> time", Highlight("Tea time", []string{"tea"}))
	assert.Equal(t, "plain", Highlight("plain", []string{"zzz"}))
	assert.Equal(t,
		"<mark>red</mark> <mark>wine</mark>",
		Highlight("red wine", []string{"red", "wine"}))
}
