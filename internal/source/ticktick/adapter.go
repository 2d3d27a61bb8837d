// Package ticktick reads and completes tasks through the TickTick open API.
package ticktick

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
	"github.com/nhle/mailboard/internal/source"
	"github.com/nhle/mailboard/internal/source/restclient"
)

// DefaultBaseURL is the TickTick open API v1 endpoint.
const DefaultBaseURL = "https://api.ticktick.com/open/v1"

// inboxIDs are the ids the inbox answers to, depending on the account.
var inboxIDs = []string{"inbox", "INBOX", "none"}

// Adapter implements source.Adapter for task-service.
type Adapter struct {
	baseURL     string
	concurrency int
	logger      *slog.Logger
	opts        []restclient.Option
}

var _ source.Adapter = (*Adapter)(nil)

// NewAdapter creates a TickTick adapter that loads at most concurrency
// projects in parallel.
func NewAdapter(baseURL string, concurrency int, logger *slog.Logger, opts ...restclient.Option) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Adapter{
		baseURL:     baseURL,
		concurrency: concurrency,
		logger:      logger.With("component", "ticktick"),
		opts:        opts,
	}
}

// FetchItems returns every task of every project, sorted by due date with
// undated tasks last. req.Since is ignored: overdue tasks stay actionable.
// A project whose tasks cannot be loaded is skipped.
func (a *Adapter) FetchItems(ctx context.Context, req source.FetchRequest) ([]source.Record, error) {
	c := restclient.New(model.ProviderTaskService, a.baseURL, req.AccessToken, a.opts...)

	var projects []project
	if err := c.Get(ctx, "/project", &projects); err != nil {
		return nil, fmt.Errorf("listing ticktick projects: %w", err)
	}

	perProject := make([][]source.Task, len(projects))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, p := range projects {
		g.Go(func() error {
			tasks, err := a.projectTasks(gctx, c, p.ID, p.Name)
			if err != nil {
				if apperr.IsAuth(err) || gctx.Err() != nil {
					return err
				}
				a.logger.Warn("skipping project", "account", req.AccountID, "project", p.ID, "error", err)
				return nil
			}
			perProject[i] = tasks
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading ticktick projects: %w", err)
	}

	var all []source.Task
	for _, tasks := range perProject {
		all = append(all, tasks...)
	}

	if !hasInbox(projects) {
		inbox, err := a.probeInbox(ctx, c)
		if err != nil {
			return nil, err
		}
		all = append(all, inbox...)
	}

	sortByDue(all)
	records := make([]source.Record, len(all))
	for i, t := range all {
		records[i] = t
	}
	return records, nil
}

func hasInbox(projects []project) bool {
	for _, p := range projects {
		if slices.Contains(inboxIDs, p.ID) || strings.EqualFold(p.Name, "inbox") {
			return true
		}
	}
	return false
}

// probeInbox tries each inbox id in order and keeps the first that answers.
func (a *Adapter) probeInbox(ctx context.Context, c *restclient.Client) ([]source.Task, error) {
	for _, id := range inboxIDs {
		tasks, err := a.projectTasks(ctx, c, id, "Inbox")
		if err == nil {
			return tasks, nil
		}
		if apperr.IsAuth(err) || ctx.Err() != nil {
			return nil, err
		}
	}
	return nil, nil
}

func (a *Adapter) projectTasks(ctx context.Context, c *restclient.Client, projectID, projectName string) ([]source.Task, error) {
	var data projectData
	if err := c.Get(ctx, "/project/"+url.PathEscape(projectID)+"/data", &data); err != nil {
		return nil, fmt.Errorf("loading project %s: %w", projectID, err)
	}
	tasks := make([]source.Task, 0, len(data.Tasks))
	for _, t := range data.Tasks {
		tasks = append(tasks, source.Task{
			ID:            t.ID,
			ProjectID:     projectID,
			ProjectName:   projectName,
			Title:         t.Title,
			Content:       t.Content,
			Kind:          t.Kind,
			DueDate:       t.DueDate,
			StartDate:     t.StartDate,
			CompletedTime: t.CompletedTime,
			Status:        t.Status,
			Priority:      t.Priority,
		})
	}
	return tasks, nil
}

// sortByDue orders tasks by due (else start) date, undated last, then by id.
func sortByDue(tasks []source.Task) {
	slices.SortStableFunc(tasks, func(x, y source.Task) int {
		dx, dy := cmp.Or(x.DueDate, x.StartDate), cmp.Or(y.DueDate, y.StartDate)
		switch {
		case dx == "" && dy != "":
			return 1
		case dx != "" && dy == "":
			return -1
		}
		return cmp.Or(cmp.Compare(dx, dy), cmp.Compare(x.ID, y.ID))
	})
}

// MutateItem completes or reopens a task.
func (a *Adapter) MutateItem(ctx context.Context, req source.MutateRequest) error {
	if req.Action != source.ActionComplete {
		return apperr.New(apperr.Unsupported, "tasks do not support %q", req.Action).WithProvider(model.ProviderTaskService)
	}
	if req.ProjectID == "" {
		return apperr.New(apperr.Invalid, "project id is required").WithProvider(model.ProviderTaskService)
	}

	c := restclient.New(model.ProviderTaskService, a.baseURL, req.AccessToken, a.opts...)
	path := "/project/" + url.PathEscape(req.ProjectID) + "/task/" + url.PathEscape(req.ItemID)

	var err error
	if req.Value {
		err = c.Post(ctx, path+"/complete", nil, nil)
	} else {
		err = c.Post(ctx, path, statusUpdate{ID: req.ItemID, ProjectID: req.ProjectID, Status: 0}, nil)
	}
	if err != nil {
		return fmt.Errorf("updating ticktick task %s: %w", req.ItemID, err)
	}
	return nil
}
