// Package normalize maps raw provider records onto the canonical Item.
// Every function here is pure: equal input yields byte-identical output.
package normalize

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/source"
)

const (
	// NoSubject replaces an empty title.
	NoSubject = "(No subject)"
	// UnknownSender replaces an empty sender.
	UnknownSender = "Unknown"
)

// Items normalizes records fetched for acc. Records that are not actionable
// (notes, undated untitled tasks) are dropped.
func Items(acc model.Account, cfg model.AccountConfig, records []source.Record) []model.Item {
	items := make([]model.Item, 0, len(records))
	for _, r := range records {
		it, ok := Item(acc, cfg, r)
		if ok {
			items = append(items, it)
		}
	}
	return items
}

// Item normalizes a single record. ok is false when the record is dropped.
func Item(acc model.Account, cfg model.AccountConfig, r source.Record) (it model.Item, ok bool) {
	switch rec := r.(type) {
	case source.GraphMessage:
		it = graphItem(cfg, rec)
	case source.GmailMessage:
		it = gmailItem(cfg, rec)
	case source.IMAPMessage:
		it = imapItem(acc.Provider, rec)
	case source.Task:
		if !actionable(rec) {
			return model.Item{}, false
		}
		it = taskItem(rec)
	default:
		return model.Item{}, false
	}
	it.AccountID = acc.ID
	return it, true
}

func graphItem(cfg model.AccountConfig, m source.GraphMessage) model.Item {
	link := m.WebLink
	if link == "" {
		link = "https://outlook.office.com/mail/inbox/id/" + url.PathEscape(m.ID)
	}
	extra := map[string]any{
		"subject":          m.Subject,
		"fromEmail":        m.FromAddress,
		"receivedDateTime": m.ReceivedAt,
		"isFlagged":        m.Flagged,
	}
	provider := model.ProviderGraphMail
	if cfg.Kind == model.ProviderGraphMailShared {
		provider = model.ProviderGraphMailShared
		if cfg.Graph != nil {
			extra["sharedMailbox"] = cfg.Graph.SharedMailbox
		}
	}
	return model.Item{
		ID:       m.ID,
		Kind:     model.ItemKindEmail,
		Title:    title("", m.Subject),
		Sender:   sender(m.FromName, m.FromAddress),
		Date:     date("", m.ReceivedAt, ""),
		Link:     link,
		Flagged:  m.Flagged,
		Provider: provider,
		Extra:    extra,
	}
}

func gmailItem(cfg model.AccountConfig, m source.GmailMessage) model.Item {
	n := 0
	if cfg.Gmail != nil {
		n = cfg.Gmail.AccountNumber
	}
	starred := false
	for _, l := range m.Labels {
		if l == "STARRED" {
			starred = true
		}
	}
	return model.Item{
		ID:       m.ID,
		Kind:     model.ItemKindEmail,
		Title:    title("", m.Subject),
		Sender:   sender(m.FromName, m.FromAddress),
		Date:     date("", m.ReceivedAt, ""),
		Link:     fmt.Sprintf("https://mail.google.com/mail/u/%d/#inbox/%s", n, url.PathEscape(m.ID)),
		Flagged:  starred,
		Provider: model.ProviderGmail,
		Extra: map[string]any{
			"threadId":         m.ThreadID,
			"subject":          m.Subject,
			"fromEmail":        m.FromAddress,
			"receivedDateTime": m.ReceivedAt,
			"isStarred":        starred,
		},
	}
}

var imapWebLinks = map[model.ProviderKind]string{
	model.ProviderIMAPYahoo:  "https://mail.yahoo.com/d/folders/1",
	model.ProviderIMAPICloud: "https://www.icloud.com/mail/",
}

func imapItem(kind model.ProviderKind, m source.IMAPMessage) model.Item {
	uid := strconv.FormatUint(uint64(m.UID), 10)
	return model.Item{
		ID:       uid,
		Kind:     model.ItemKindEmail,
		Title:    title("", m.Subject),
		Sender:   sender(m.FromName, m.FromAddress),
		Date:     date(m.Date, m.ReceivedAt, ""),
		Link:     imapWebLinks[kind],
		Flagged:  m.Flagged,
		Provider: kind,
		Extra: map[string]any{
			"uid":              uid,
			"messageId":        m.MessageID,
			"subject":          m.Subject,
			"fromEmail":        m.FromAddress,
			"receivedDateTime": m.ReceivedAt,
			"isFlagged":        m.Flagged,
		},
	}
}

// actionable drops notes and tasks with neither a title nor a date.
func actionable(t source.Task) bool {
	if strings.EqualFold(t.Kind, "NOTE") {
		return false
	}
	return strings.TrimSpace(t.Title) != "" || strings.TrimSpace(t.DueDate) != "" || strings.TrimSpace(t.StartDate) != ""
}

func taskItem(t source.Task) model.Item {
	due := date("", "", firstNonEmpty(t.DueDate, t.StartDate))
	completed := t.Status == source.TaskStatusCompleted
	return model.Item{
		ID:       t.ID,
		Kind:     model.ItemKindTask,
		Title:    title(t.Title, ""),
		Sender:   sender(t.ProjectName, ""),
		Date:     due,
		Link:     "https://ticktick.com/webapp/#p/" + t.ProjectID + "/tasks/" + t.ID,
		Flagged:  completed,
		Provider: model.ProviderTaskService,
		Extra: map[string]any{
			"projectId":     t.ProjectID,
			"projectName":   t.ProjectName,
			"content":       t.Content,
			"dueDate":       due,
			"completedTime": normalizeDate(t.CompletedTime),
			"isCompleted":   completed,
			"priority":      t.Priority,
		},
	}
}

func title(explicit, subject string) string {
	return firstNonEmpty(explicit, subject, NoSubject)
}

func sender(name, address string) string {
	return firstNonEmpty(name, address, UnknownSender)
}

// date applies the precedence explicit > received > due/start.
func date(explicit, received, due string) string {
	return normalizeDate(firstNonEmpty(explicit, received, due))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// dateLayouts are the timestamp shapes providers emit.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// normalizeDate renders a parseable timestamp as RFC 3339 in UTC and leaves
// anything else untouched. Applying it twice changes nothing.
func normalizeDate(s string) string {
	if s == "" {
		return ""
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(time.RFC3339)
		}
	}
	return s
}
