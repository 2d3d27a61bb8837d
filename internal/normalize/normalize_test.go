package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/source"
)

var taskAccount = model.Account{ID: "acc_task", Provider: model.ProviderTaskService}

func TestTaskFiltering(t *testing.T) {
	cfg := model.NewAccountConfig(model.ProviderTaskService)
	records := []source.Record{
		source.Task{ID: "note", Kind: "NOTE", Title: "Groceries", DueDate: "2024-03-05T10:00:00.000+0000"},
		source.Task{ID: "lower-note", Kind: "note", Title: "Ideas"},
		source.Task{ID: "empty", ProjectID: "p1"},
		source.Task{ID: "blank", ProjectID: "p1", Title: "   ", Content: "no date either"},
		source.Task{ID: "keep", ProjectID: "p1", ProjectName: "Work", Title: "Ship", DueDate: "2024-03-05T10:00:00.000+0000"},
		source.Task{ID: "checklist", Kind: "CHECKLIST", ProjectID: "p1", Title: "Pack"},
		source.Task{ID: "dated", ProjectID: "p1", StartDate: "2024-03-06T08:00:00.000+0000"},
	}

	items := Items(taskAccount, cfg, records)
	require.Len(t, items, 3)

	keep := items[0]
	assert.Equal(t, "keep", keep.ID)
	assert.Equal(t, "acc_task", keep.AccountID)
	assert.Equal(t, model.ItemKindTask, keep.Kind)
	assert.Equal(t, "Ship", keep.Title)
	assert.Equal(t, "Work", keep.Sender)
	assert.Equal(t, "2024-03-05T10:00:00Z", keep.Date)
	assert.Equal(t, "https://ticktick.com/webapp/#p/p1/tasks/keep", keep.Link)

	assert.Equal(t, "checklist", items[1].ID)
	assert.Equal(t, "", items[1].Date)

	dated := items[2]
	assert.Equal(t, NoSubject, dated.Title)
	assert.Equal(t, UnknownSender, dated.Sender)
	assert.Equal(t, "2024-03-06T08:00:00Z", dated.Date)
}

func TestCompletedTaskIsFlagged(t *testing.T) {
	it, ok := Item(taskAccount, model.NewAccountConfig(model.ProviderTaskService),
		source.Task{ID: "t", Title: "Done", Status: source.TaskStatusCompleted, Priority: 3})
	require.True(t, ok)
	assert.True(t, it.Flagged)
	assert.Equal(t, true, it.Extra["isCompleted"])
	assert.Equal(t, 3, it.Extra["priority"])
}

func TestMailPrecedence(t *testing.T) {
	acc := model.Account{ID: "acc_mail", Provider: model.ProviderGraphMail}
	cfg := model.NewAccountConfig(model.ProviderGraphMail)

	it, ok := Item(acc, cfg, source.GraphMessage{ID: "m1", FromAddress: "a@example.com", ReceivedAt: "2024-03-05T08:00:00Z"})
	require.True(t, ok)
	assert.Equal(t, NoSubject, it.Title)
	assert.Equal(t, "a@example.com", it.Sender)
	assert.Equal(t, "https://outlook.office.com/mail/inbox/id/m1", it.Link)

	it, _ = Item(acc, cfg, source.GraphMessage{ID: "m2", Subject: "Hi"})
	assert.Equal(t, UnknownSender, it.Sender)
	assert.Equal(t, "", it.Date)

	imapAcc := model.Account{ID: "acc_y", Provider: model.ProviderIMAPYahoo}
	it, _ = Item(imapAcc, model.NewAccountConfig(model.ProviderIMAPYahoo), source.IMAPMessage{
		UID: 9, Subject: "Dated", Date: "2024-03-05T07:00:00Z", ReceivedAt: "2024-03-05T07:01:00Z", FromName: "Eve",
	})
	assert.Equal(t, "9", it.ID)
	assert.Equal(t, "2024-03-05T07:00:00Z", it.Date)
	assert.Equal(t, model.ProviderIMAPYahoo, it.Provider)
	assert.Equal(t, "https://mail.yahoo.com/d/folders/1", it.Link)
}

func TestGmailLinkUsesAccountNumber(t *testing.T) {
	acc := model.Account{ID: "acc_g", Provider: model.ProviderGmail}
	cfg := model.AccountConfig{Kind: model.ProviderGmail, Gmail: &model.GmailSettings{AccountNumber: 2}}

	it, ok := Item(acc, cfg, source.GmailMessage{ID: "abc", Subject: "S", Labels: []string{"INBOX", "STARRED"}})
	require.True(t, ok)
	assert.Equal(t, "https://mail.google.com/mail/u/2/#inbox/abc", it.Link)
	assert.True(t, it.Flagged)
}

func TestSharedMailboxProvider(t *testing.T) {
	acc := model.Account{ID: "acc_s", Provider: model.ProviderGraphMailShared}
	cfg := model.AccountConfig{Kind: model.ProviderGraphMailShared, Graph: &model.GraphSettings{SharedMailbox: "team@example.com"}}

	it, _ := Item(acc, cfg, source.GraphMessage{ID: "m1", WebLink: "https://outlook.office.com/m1"})
	assert.Equal(t, model.ProviderGraphMailShared, it.Provider)
	assert.Equal(t, "team@example.com", it.Extra["sharedMailbox"])
	assert.Equal(t, "https://outlook.office.com/m1", it.Link)
}

func TestNormalizationIsIdempotent(t *testing.T) {
	acc := model.Account{ID: "acc_1", Provider: model.ProviderGmail}
	cfg := model.NewAccountConfig(model.ProviderGmail)
	records := []source.Record{
		source.GmailMessage{ID: "a", Subject: "One", FromName: "Ann", ReceivedAt: "2024-03-05T09:00:00Z", Labels: []string{"STARRED"}},
		source.GmailMessage{ID: "b", FromAddress: "b@example.com"},
	}

	first, err := json.Marshal(Items(acc, cfg, records))
	require.NoError(t, err)
	second, err := json.Marshal(Items(acc, cfg, records))
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))

	tasks := []source.Record{source.Task{ID: "t", Title: "x", DueDate: "2024-03-05T10:00:00.000+0000", CompletedTime: "2024-03-05T11:00:00.000+0000"}}
	a, err := json.Marshal(Items(taskAccount, model.NewAccountConfig(model.ProviderTaskService), tasks))
	require.NoError(t, err)
	b, err := json.Marshal(Items(taskAccount, model.NewAccountConfig(model.ProviderTaskService), tasks))
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestNormalizeDate(t *testing.T) {
	assert.Equal(t, "2024-03-05T10:00:00Z", normalizeDate("2024-03-05T11:00:00.000+0100"))
	assert.Equal(t, "2024-03-05T10:00:00Z", normalizeDate(normalizeDate("2024-03-05T11:00:00.000+0100")))
	assert.Equal(t, "next tuesday", normalizeDate("next tuesday"))
}
