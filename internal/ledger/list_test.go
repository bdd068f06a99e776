// Package ledger provides unit tests for paginated listing.
package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/yuchia/localledger/internal/errors"
	"github.com/yuchia/localledger/internal/models"
)

func TestListPaginates(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	base := time.Now().Unix()
	for i := 0; i < 25; i++ {
		r := expenseRecord(fmt.Sprintf("purchase %02d", i), "10.00")
		r.RecordDate = base - int64(i)*3600
		require.NoError(t, s.Create(ctx, r))
	}

	page, err := s.List(ctx, ListFilter{AccountID: testAccount, Page: 1, PageSize: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(25), page.Total)
	assert.Equal(t, int64(3), page.TotalPages)
	assert.Len(t, page.Items, 10)
	assert.True(t, page.HasNext)
	assert.False(t, page.HasPrev)

	// Newest first.
	assert.Equal(t, "purchase 00", page.Items[0].Description)

	last, err := s.List(ctx, ListFilter{AccountID: testAccount, Page: 3, PageSize: 10})
	require.NoError(t, err)
	assert.Len(t, last.Items, 5)
	assert.False(t, last.HasNext)
	assert.True(t, last.HasPrev)
}

func TestListBeyondLastPageIsEmpty(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, expenseRecord("only one", "3.00")))

	page, err := s.List(ctx, ListFilter{AccountID: testAccount, Page: 5, PageSize: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(1), page.Total)
	assert.False(t, page.HasNext)
}

func TestListFilters(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	base := time.Now().Unix()

	expense := expenseRecord("bus ticket", "2.50")
	expense.CategoryID = "cat-transport"
	expense.RecordDate = base
	require.NoError(t, s.Create(ctx, expense))

	income := &models.Record{
		AccountID:   testAccount,
		RecordType:  models.RecordTypeIncome,
		Amount:      decimal.RequireFromString("1500.00"),
		Description: "salary",
		RecordDate:  base - 10*86400,
	}
	require.NoError(t, s.Create(ctx, income))

	byType, err := s.List(ctx, ListFilter{AccountID: testAccount, RecordType: models.RecordTypeIncome})
	require.NoError(t, err)
	require.Len(t, byType.Items, 1)
	assert.Equal(t, "salary", byType.Items[0].Description)

	byCategory, err := s.List(ctx, ListFilter{AccountID: testAccount, CategoryID: "cat-transport"})
	require.NoError(t, err)
	require.Len(t, byCategory.Items, 1)
	assert.Equal(t, "bus ticket", byCategory.Items[0].Description)

	byDate, err := s.List(ctx, ListFilter{
		AccountID: testAccount,
		StartDate: base - 86400,
		EndDate:   base + 86400,
	})
	require.NoError(t, err)
	require.Len(t, byDate.Items, 1)
	assert.Equal(t, "bus ticket", byDate.Items[0].Description)
}

func TestListResolvesDisplayNames(t *testing.T) {
	s, _, store := newTestService(t)
	ctx := context.Background()

	seedReference(t, store, "categories", "cat-food", "Food & Drink")
	seedReference(t, store, "payment_accounts", "pay-card", "Debit Card")
	seedReference(t, store, "users", "user-1", "Yu-Chia")

	r := expenseRecord("ramen", "13.00")
	r.CategoryID = "cat-food"
	r.PaymentAccountID = "pay-card"
	r.CreatorID = "user-1"
	require.NoError(t, s.Create(ctx, r))

	page, err := s.List(ctx, ListFilter{AccountID: testAccount})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	assert.Equal(t, "Food & Drink", page.Items[0].CategoryName)
	assert.Equal(t, "Debit Card", page.Items[0].PaymentAccountName)
	assert.Equal(t, "Yu-Chia", page.Items[0].CreatorNickname)
}

func TestListUnknownReferencesYieldEmptyNames(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	r := expenseRecord("mystery spend", "7.00")
	r.CategoryID = "cat-missing"
	require.NoError(t, s.Create(ctx, r))

	page, err := s.List(ctx, ListFilter{AccountID: testAccount})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Empty(t, page.Items[0].CategoryName)
}

func TestListRequiresAccount(t *testing.T) {
	s, _, _ := newTestService(t)

	_, err := s.List(context.Background(), ListFilter{})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrValidation))
}

func TestListExcludesDeleted(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	r := expenseRecord("to be removed", "5.00")
	require.NoError(t, s.Create(ctx, r))
	deleted, err := s.SoftDelete(ctx, string(r.ID))
	require.NoError(t, err)
	require.True(t, deleted)

	page, err := s.List(ctx, ListFilter{AccountID: testAccount})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(0), page.Total)
}

func TestListServesCachedPage(t *testing.T) {
	s, _, store := newTestService(t)
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, expenseRecord("cached", "1.00")))

	_, err := s.List(ctx, ListFilter{AccountID: testAccount})
	require.NoError(t, err)

	before := store.Stats().Snapshot()["list_records"].Count
	_, err = s.List(ctx, ListFilter{AccountID: testAccount})
	require.NoError(t, err)
	after := store.Stats().Snapshot()["list_records"].Count

	assert.Equal(t, before, after, "second read must come from the cache")
}
