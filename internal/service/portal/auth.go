package portal

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/anaskhan96/soup"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/zhouzirui/foodbot/internal/apperrors"
)

const (
	opAuthenticate = "portal.authenticate"

	antiForgeryField = "idsrv.xsrf"
	apiTokenID       = "XSRF-TOKEN"
)

// Authenticate runs the four-step sign-in handshake. On success the client
// keeps the session cookies and the API anti-forgery token. A rejected
// password yields ErrInvalidCredentials; an unexpected page shape yields a
// Protocol error; network faults yield Transport errors.
func (c *Client) Authenticate(ctx context.Context, username, password string) (err error) {
	defer func() { record("authenticate", err) }()

	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	signinURL, antiForgery, err := c.loginPage(ctx)
	if err != nil {
		return err
	}

	location, err := c.postCredentials(ctx, signinURL, antiForgery, username, password)
	if err != nil {
		return err
	}

	action, fields, err := c.authorizationForm(ctx, location)
	if err != nil {
		return err
	}

	token, err := c.completeSignin(ctx, action, fields)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.xsrf = token
	c.closed = false
	c.mu.Unlock()

	log.WithField("username", username).Debug("portal sign-in completed")
	return nil
}

// loginPage fetches the login form and extracts the signin URL and the
// identity server's anti-forgery token.
func (c *Client) loginPage(ctx context.Context) (*url.URL, string, error) {
	target, _ := c.resolve(loginPath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, "", apperrors.New(apperrors.Protocol, opAuthenticate, err)
	}

	resp, body, err := c.roundTrip(c.follow, opAuthenticate, req)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", statusError(opAuthenticate, resp.StatusCode)
	}

	doc, err := parseHTML(body)
	if err != nil {
		return nil, "", err
	}

	var signinURL *url.URL
	for _, form := range doc.FindAll("form") {
		action := form.Attrs()["action"]
		if !strings.HasPrefix(action, loginPath+"?") {
			continue
		}
		u, err := resp.Request.URL.Parse(action)
		if err != nil || u.Query().Get("signin") == "" {
			continue
		}
		signinURL = u
		break
	}
	antiForgery, ok := inputValue(doc, "name", antiForgeryField)
	if signinURL == nil || !ok || antiForgery == "" {
		return nil, "", apperrors.Protocolf(opAuthenticate, "login page lacks signin form or %s token", antiForgeryField)
	}
	return signinURL, antiForgery, nil
}

// postCredentials submits the credentials. Only a redirect means they were
// accepted.
func (c *Client) postCredentials(ctx context.Context, signinURL *url.URL, antiForgery, username, password string) (*url.URL, error) {
	form := url.Values{}
	form.Set(antiForgeryField, antiForgery)
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, signinURL.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, apperrors.New(apperrors.Protocol, opAuthenticate, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, _, err := c.roundTrip(c.direct, opAuthenticate, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		if resp.StatusCode >= 500 {
			return nil, statusError(opAuthenticate, resp.StatusCode)
		}
		return nil, ErrInvalidCredentials
	}

	location, err := resp.Location()
	if err != nil {
		return nil, apperrors.Protocolf(opAuthenticate, "credential redirect has no location: %v", err)
	}
	return location, nil
}

// authorizationForm follows the post-login redirect and collects the
// auto-submit form's action and hidden fields.
func (c *Client) authorizationForm(ctx context.Context, location *url.URL) (*url.URL, url.Values, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location.String(), nil)
	if err != nil {
		return nil, nil, apperrors.New(apperrors.Protocol, opAuthenticate, err)
	}

	resp, body, err := c.roundTrip(c.direct, opAuthenticate, req)
	if err != nil {
		return nil, nil, err
	}
	if resp.StatusCode >= 500 {
		return nil, nil, statusError(opAuthenticate, resp.StatusCode)
	}

	doc, err := parseHTML(body)
	if err != nil {
		return nil, nil, err
	}

	var action *url.URL
	for _, form := range doc.FindAll("form") {
		attrs := form.Attrs()
		if !strings.EqualFold(attrs["method"], "post") || attrs["action"] == "" {
			continue
		}
		u, err := location.Parse(attrs["action"])
		if err != nil {
			continue
		}
		action = u
		break
	}
	if action == nil {
		return nil, nil, apperrors.Protocolf(opAuthenticate, "authorization page has no post form")
	}

	fields := url.Values{}
	for _, input := range doc.FindAll("input") {
		attrs := input.Attrs()
		if !strings.EqualFold(attrs["type"], "hidden") || attrs["name"] == "" {
			continue
		}
		fields.Set(attrs["name"], attrs["value"])
	}
	return action, fields, nil
}

// completeSignin posts the hidden fields and extracts the API token from the
// landing page.
func (c *Client) completeSignin(ctx context.Context, action *url.URL, fields url.Values) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, action.String(), strings.NewReader(fields.Encode()))
	if err != nil {
		return "", apperrors.New(apperrors.Protocol, opAuthenticate, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, body, err := c.roundTrip(c.follow, opAuthenticate, req)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", statusError(opAuthenticate, resp.StatusCode)
	}

	doc, err := parseHTML(body)
	if err != nil {
		return "", err
	}
	raw, ok := inputValue(doc, "id", apiTokenID)
	if !ok || raw == "" {
		return "", apperrors.Protocolf(opAuthenticate, "landing page has no %s", apiTokenID)
	}
	token, err := url.PathUnescape(raw)
	if err != nil {
		token = raw
	}
	return token, nil
}

func parseHTML(body []byte) (soup.Root, error) {
	doc := soup.HTMLParse(string(body))
	if doc.Error != nil {
		return doc, apperrors.New(apperrors.Protocol, opAuthenticate, errors.Wrap(doc.Error, "unparseable html"))
	}
	return doc, nil
}

// inputValue returns the value attribute of the first <input> whose attr
// equals want.
func inputValue(doc soup.Root, attr, want string) (string, bool) {
	for _, input := range doc.FindAll("input") {
		attrs := input.Attrs()
		if attrs[attr] != want {
			continue
		}
		v, ok := attrs["value"]
		return v, ok
	}
	return "", false
}
