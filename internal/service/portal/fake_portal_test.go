package portal

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"
)

const (
	fixtureUser     = "40012345"
	fixturePassword = "s3cret"
	fixtureSignin   = "d3b07384d113edec49eaa6238ad5ff00"
	fixtureXSRF     = "idsrv-xsrf-1"
	fixtureAPIToken = "CfDJ8+api/token=="
)

// fakePortal mimics the portal's sign-in pages and reservation API.
type fakePortal struct {
	t        *testing.T
	server   *httptest.Server
	schedule []byte

	mu sync.Mutex
	// submitted holds the decoded body of each reservation POST.
	submitted []json.RawMessage
	// submitState is returned as StateMessage for reservations.
	submitState string

	loginPage     string
	landingPage   string
	scheduleCode  int
	scheduleBody  []byte
	scheduleDelay time.Duration
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()

	body, err := os.ReadFile("testdata/schedule.json")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	fp := &fakePortal{
		t:            t,
		schedule:     body,
		submitState:  AcceptedStateMessage,
		scheduleCode: http.StatusOK,
		loginPage: fmt.Sprintf(`<!DOCTYPE html><html><body>
<form method="post" action="/identity/login?signin=%s">
<input name="idsrv.xsrf" type="hidden" value="%s">
<input name="username" type="text"><input name="password" type="password">
</form></body></html>`, fixtureSignin, fixtureXSRF),
		landingPage: `<html><body><input type="hidden" value="CfDJ8%2Bapi%2Ftoken%3D%3D" id="XSRF-TOKEN"></body></html>`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/identity/login", fp.handleLogin)
	mux.HandleFunc("/connect/authorize/callback", fp.handleAuthorize)
	mux.HandleFunc("/signin-oidc", fp.handleSigninOIDC)
	mux.HandleFunc("/api/v0/Reservation", fp.handleReservation)
	mux.HandleFunc("/", fp.handleLanding)

	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakePortal) client(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: fp.server.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func (fp *fakePortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		http.SetCookie(w, &http.Cookie{Name: "idsrv.xsrf", Value: fixtureXSRF, Path: "/"})
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, fp.loginPage)
	case http.MethodPost:
		if err := r.ParseForm(); err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		if r.URL.Query().Get("signin") != fixtureSignin || r.PostForm.Get("idsrv.xsrf") != fixtureXSRF {
			http.Error(w, "bad anti-forgery", http.StatusBadRequest)
			return
		}
		if r.PostForm.Get("username") != fixtureUser || r.PostForm.Get("password") != fixturePassword {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			io.WriteString(w, fp.loginPage)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "idsrv.session", Value: "s1", Path: "/"})
		http.Redirect(w, r, "/connect/authorize/callback?client_id=food", http.StatusFound)
	}
}

func (fp *fakePortal) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if _, err := r.Cookie("idsrv.session"); err != nil {
		http.Error(w, "no session", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, `<html><body onload="document.forms[0].submit()">
<form method="post" action="/signin-oidc">
<input type="hidden" name="code" value="c0de">
<input type="hidden" name="id_token" value="eyJ.tok">
<input type="hidden" name="state" value="st&amp;1">
</form></body></html>`)
}

func (fp *fakePortal) handleSigninOIDC(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil || r.PostForm.Get("code") != "c0de" || r.PostForm.Get("state") != "st&1" {
		http.Error(w, "bad callback", http.StatusBadRequest)
		return
	}
	http.SetCookie(w, &http.Cookie{Name: ".AspNetCore.Cookies", Value: "auth", Path: "/"})
	http.Redirect(w, r, "/", http.StatusFound)
}

func (fp *fakePortal) handleLanding(w http.ResponseWriter, r *http.Request) {
	if _, err := r.Cookie(".AspNetCore.Cookies"); err != nil {
		http.Error(w, "not signed in", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, fp.landingPage)
}

func (fp *fakePortal) handleReservation(w http.ResponseWriter, r *http.Request) {
	if _, err := r.Cookie(".AspNetCore.Cookies"); err != nil || r.Header.Get("X-XSRF-Token") != fixtureAPIToken {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if fp.scheduleDelay > 0 {
			time.Sleep(fp.scheduleDelay)
		}
		if fp.scheduleCode != http.StatusOK {
			http.Error(w, "unavailable", fp.scheduleCode)
			return
		}
		body := fp.schedule
		if fp.scheduleBody != nil {
			body = fp.scheduleBody
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	case http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		fp.mu.Lock()
		fp.submitted = append(fp.submitted, body)
		state := fp.submitState
		fp.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{{"StateCode": 0, "StateMessage": state}})
	}
}

func (fp *fakePortal) lastSubmission() json.RawMessage {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	if len(fp.submitted) == 0 {
		return nil
	}
	return fp.submitted[len(fp.submitted)-1]
}
