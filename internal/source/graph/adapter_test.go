package graph

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/source"
)

func TestFetchItemsFollowsNextLink(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/me/mailFolders/inbox/messages":
			assert.Equal(t, "receivedDateTime ge 2024-03-03T23:00:00Z", r.URL.Query().Get("$filter"))
			assert.Equal(t, "200", r.URL.Query().Get("$top"))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{{
					"id":               "m1",
					"subject":          "Hello",
					"receivedDateTime": "2024-03-05T08:00:00Z",
					"webLink":          "https://outlook.office.com/m1",
					"from":             map[string]any{"emailAddress": map[string]any{"name": "Alice", "address": "alice@example.com"}},
					"flag":             map[string]any{"flagStatus": "flagged"},
				}},
				"@odata.nextLink": srv.URL + "/page2",
			})
		case "/page2":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"value": []map[string]any{{"id": "m2", "subject": "", "receivedDateTime": "2024-03-04T08:00:00Z"}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	paris, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)

	a := NewAdapter(srv.URL)
	recs, err := a.FetchItems(context.Background(), source.FetchRequest{
		Config:      model.NewAccountConfig(model.ProviderGraphMail),
		AccessToken: "tok",
		Since:       time.Date(2024, 3, 4, 0, 0, 0, 0, paris),
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	first := recs[0].(source.GraphMessage)
	assert.Equal(t, "Alice", first.FromName)
	assert.True(t, first.Flagged)
	assert.False(t, recs[1].(source.GraphMessage).Flagged)
}

func TestSharedMailboxMutations(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := model.AccountConfig{
		Kind:  model.ProviderGraphMailShared,
		Graph: &model.GraphSettings{SharedMailbox: "team@example.com"},
	}
	a := NewAdapter(srv.URL)

	require.NoError(t, a.MutateItem(context.Background(), source.MutateRequest{
		Config: cfg, AccessToken: "tok", ItemID: "m1", Action: source.ActionArchive,
	}))
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/users/team@example.com/messages/m1/move", gotPath)
	assert.Equal(t, "archive", gotBody["destinationId"])

	require.NoError(t, a.MutateItem(context.Background(), source.MutateRequest{
		Config: cfg, AccessToken: "tok", ItemID: "m1", Action: source.ActionStar, Value: false,
	}))
	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, map[string]any{"flagStatus": "notFlagged"}, gotBody["flag"])

	err := a.MutateItem(context.Background(), source.MutateRequest{
		Config: cfg, Action: source.ActionComplete,
	})
	assert.True(t, apperr.Is(err, apperr.Unsupported))
}
