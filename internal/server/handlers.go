package server

import (
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/nhle/mailboard/internal/account"
	"github.com/nhle/mailboard/internal/apperr"
	"github.com/nhle/mailboard/internal/model"
	mailsync "github.com/nhle/mailboard/internal/sync"
)

func (s *Server) listAccounts(c *fiber.Ctx) error {
	views, err := s.accounts.List(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"accounts": views})
}

func (s *Server) createAccount(c *fiber.Ctx) error {
	var req account.NewAccount
	if err := c.BodyParser(&req); err != nil {
		return apperr.Wrap(apperr.Invalid, err, "decoding account")
	}
	v, err := s.accounts.Register(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"account": v})
}

func (s *Server) getAccount(c *fiber.Ctx) error {
	v, err := s.accounts.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"account": v})
}

func (s *Server) updateAccount(c *fiber.Ctx) error {
	var p account.Patch
	if err := c.BodyParser(&p); err != nil {
		return apperr.Wrap(apperr.Invalid, err, "decoding account update")
	}
	v, err := s.accounts.Update(c.UserContext(), c.Params("id"), p)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"account": v})
}

func (s *Server) deleteAccount(c *fiber.Ctx) error {
	if err := s.accounts.Delete(c.UserContext(), c.Params("id")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) accountStatus(c *fiber.Ctx) error {
	status, err := s.cache.Status(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(status)
}

type itemsResponse struct {
	Items    []model.Item `json:"items"`
	Cached   bool         `json:"cached"`
	LastSync *time.Time   `json:"last_sync"`
	Error    string       `json:"error,omitempty"`
}

func itemsBody(res mailsync.Result) itemsResponse {
	body := itemsResponse{Items: res.Items, Cached: res.Cached}
	if body.Items == nil {
		body.Items = []model.Item{}
	}
	if !res.AsOf.IsZero() {
		asOf := res.AsOf.UTC()
		body.LastSync = &asOf
	}
	if res.Err != nil {
		body.Error = res.Err.Error()
	}
	return body
}

func (s *Server) items(c *fiber.Ctx) error {
	force, err := boolQuery(c, "force_refresh", false)
	if err != nil {
		return err
	}
	res, err := s.cache.GetItems(c.UserContext(), c.Params("id"), force)
	if err != nil {
		return err
	}
	return c.JSON(itemsBody(res))
}

func (s *Server) syncAccount(c *fiber.Ctx) error {
	res, err := s.cache.GetItems(c.UserContext(), c.Params("id"), true)
	if err != nil {
		return err
	}
	return c.JSON(itemsBody(res))
}

func (s *Server) archive(c *fiber.Ctx) error {
	if err := s.cache.Archive(c.UserContext(), c.Params("id"), c.Params("itemID")); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) star(c *fiber.Ctx) error {
	starred, err := requiredBool(c, "starred")
	if err != nil {
		return err
	}
	if err := s.cache.Star(c.UserContext(), c.Params("id"), c.Params("itemID"), starred); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) complete(c *fiber.Ctx) error {
	completed, err := requiredBool(c, "completed")
	if err != nil {
		return err
	}
	err = s.cache.Complete(c.UserContext(), c.Params("id"), c.Params("taskID"), c.Query("project_id"), completed)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func (s *Server) authorize(c *fiber.Ctx) error {
	accountID := c.Query("account_id")
	if accountID == "" {
		return apperr.New(apperr.Invalid, "account_id is required")
	}
	authURL, err := s.flow.AuthorizeURL(c.UserContext(), c.Params("provider"), accountID)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"auth_url": authURL})
}

// oauthCallback always answers with a redirect to the frontend.
func (s *Server) oauthCallback(c *fiber.Ctx) error {
	if e := c.Query("error"); e != "" {
		return c.Redirect(s.frontendURL(url.Values{"error": {e}}), fiber.StatusFound)
	}

	provider := c.Params("provider")
	accountID, err := s.flow.Complete(c.UserContext(), provider, c.Query("state"), c.Query("code"))
	switch {
	case err == nil:
		return c.Redirect(s.frontendURL(url.Values{"oauth": {"success"}, "account": {accountID}}), fiber.StatusFound)
	case apperr.Is(err, apperr.InvalidOAuthState):
		return c.Redirect(s.frontendURL(url.Values{"error": {"invalid_state"}}), fiber.StatusFound)
	default:
		s.logger.Warn("oauth callback failed", "provider", provider, "err", err)
		return c.Redirect(s.frontendURL(url.Values{"error": {"token_exchange_failed"}}), fiber.StatusFound)
	}
}

func (s *Server) frontendURL(q url.Values) string {
	return s.cfg.FrontendURL + "?" + q.Encode()
}

func boolQuery(c *fiber.Ctx, key string, def bool) (bool, error) {
	raw := c.Query(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, apperr.Wrap(apperr.Invalid, err, "query parameter %s", key)
	}
	return v, nil
}

func requiredBool(c *fiber.Ctx, key string) (bool, error) {
	if c.Query(key) == "" {
		return false, apperr.New(apperr.Invalid, "query parameter %s is required", key)
	}
	return boolQuery(c, key, false)
}
