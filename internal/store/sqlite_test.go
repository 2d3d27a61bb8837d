package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/store"
	"github.com/nhle/mailboard/internal/testutil"
)

func mail(id, title string) model.Item {
	return model.Item{
		ID:       id,
		Kind:     model.ItemKindEmail,
		Title:    title,
		Sender:   "Alice",
		Date:     "2024-03-04T09:00:00Z",
		Link:     "https://example.com/" + id,
		Provider: model.ProviderGmail,
		Extra:    map[string]any{"isStarred": false},
	}
}

func TestReplaceItemsIsReplaceNotMerge(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	creds := testutil.NewTestCredentials(t)
	testutil.SeedAccount(t, s, creds, "acc_1", model.NewAccountConfig(model.ProviderGmail))

	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	batch := []model.Item{mail("m1", "one"), mail("m2", "two"), mail("m3", "three")}
	require.NoError(t, s.ReplaceItems(ctx, "acc_1", model.ItemKindEmail, batch, now))

	got, err := s.GetItems(ctx, "acc_1", model.ItemKindEmail)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"m1", "m2", "m3"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, false, got[0].Extra["isStarred"])

	require.NoError(t, s.ReplaceItems(ctx, "acc_1", model.ItemKindEmail, nil, now.Add(time.Minute)))
	got, err = s.GetItems(ctx, "acc_1", model.ItemKindEmail)
	require.NoError(t, err)
	assert.Empty(t, got)

	marker, ok, err := s.LastSync(ctx, "acc_1", model.ItemKindEmail)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, marker.Equal(now.Add(time.Minute)))
}

func TestReplaceItemsLeavesOtherKindsAlone(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	creds := testutil.NewTestCredentials(t)
	testutil.SeedAccount(t, s, creds, "acc_1", model.NewAccountConfig(model.ProviderGmail))
	testutil.SeedAccount(t, s, creds, "acc_2", model.NewAccountConfig(model.ProviderGmail))

	now := time.Now()
	require.NoError(t, s.ReplaceItems(ctx, "acc_1", model.ItemKindEmail, []model.Item{mail("m1", "one")}, now))
	require.NoError(t, s.ReplaceItems(ctx, "acc_2", model.ItemKindEmail, []model.Item{mail("m1", "same id")}, now))
	require.NoError(t, s.ReplaceItems(ctx, "acc_1", model.ItemKindEmail, []model.Item{mail("m9", "new")}, now))

	other, err := s.GetItems(ctx, "acc_2", model.ItemKindEmail)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, "same id", other[0].Title)

	_, ok, err := s.LastSync(ctx, "acc_1", model.ItemKindTask)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDeleteAccountCascades(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	creds := testutil.NewTestCredentials(t)
	testutil.SeedAccount(t, s, creds, "acc_1", model.NewAccountConfig(model.ProviderGmail))
	require.NoError(t, s.ReplaceItems(ctx, "acc_1", model.ItemKindEmail, []model.Item{mail("m1", "one")}, time.Now()))

	require.NoError(t, s.DeleteAccount(ctx, "acc_1"))

	items, err := s.GetItems(ctx, "acc_1", model.ItemKindEmail)
	require.NoError(t, err)
	assert.Empty(t, items)
	_, ok, err := s.LastSync(ctx, "acc_1", model.ItemKindEmail)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.GetAccount(ctx, "acc_1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.True(t, apperr.Is(err, apperr.NotFound))
	assert.ErrorIs(t, s.DeleteAccount(ctx, "acc_1"), store.ErrNotFound)
}

func TestUpdateAndDeleteItem(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	creds := testutil.NewTestCredentials(t)
	testutil.SeedAccount(t, s, creds, "acc_1", model.NewAccountConfig(model.ProviderGmail))

	m := mail("m1", "one")
	m.AccountID = "acc_1"
	require.NoError(t, s.ReplaceItems(ctx, "acc_1", model.ItemKindEmail, []model.Item{m, mail("m2", "two")}, time.Now()))

	m.Flagged = true
	require.NoError(t, s.UpdateItem(ctx, m))
	got, err := s.GetItem(ctx, "acc_1", model.ItemKindEmail, "m1")
	require.NoError(t, err)
	assert.True(t, got.Flagged)

	require.NoError(t, s.DeleteItem(ctx, "acc_1", model.ItemKindEmail, "m1"))
	_, err = s.GetItem(ctx, "acc_1", model.ItemKindEmail, "m1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	items, err := s.GetItems(ctx, "acc_1", model.ItemKindEmail)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "m2", items[0].ID)
}

func TestAccountRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	creds := testutil.NewTestCredentials(t)
	testutil.SeedAccount(t, s, creds, "acc_1", model.NewAccountConfig(model.ProviderTaskService))

	require.NoError(t, s.ModifyAccount(ctx, "acc_1", func(acc *model.Account) error {
		acc.Name = "Renamed"
		acc.Color = "#ff0000"
		acc.Config = "new-blob"
		return nil
	}))

	got, err := s.GetAccount(ctx, "acc_1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "#ff0000", got.Color)
	assert.Equal(t, "new-blob", got.Config)
	assert.Equal(t, model.ProviderTaskService, got.Provider)

	all, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	err = s.ModifyAccount(ctx, "acc_missing", func(*model.Account) error { return nil })
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestModifyAccountAbortsOnError(t *testing.T) {
	ctx := context.Background()
	s := testutil.NewTestStore(t)
	creds := testutil.NewTestCredentials(t)
	seeded := testutil.SeedAccount(t, s, creds, "acc_1", model.NewAccountConfig(model.ProviderTaskService))

	boom := errors.New("boom")
	err := s.ModifyAccount(ctx, "acc_1", func(acc *model.Account) error {
		acc.Name = "Changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetAccount(ctx, "acc_1")
	require.NoError(t, err)
	assert.Equal(t, seeded.Name, got.Name)
}
