package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
)

type cookieFile struct {
	CookieInfo *struct {
		Cookies []struct {
			Name  string `json:"name"`
			Value string `json:"value"`
		} `json:"cookies"`
	} `json:"cookie_info"`
}

// LoadCookieFile reads a cookie export of the form
// {"cookie_info":{"cookies":[{"name":...,"value":...}]}}.
func LoadCookieFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f cookieFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse cookie file %s: %w", path, err)
	}
	if f.CookieInfo == nil {
		return nil, fmt.Errorf("parse cookie file %s: unknown format", path)
	}

	cookies := make(map[string]string, len(f.CookieInfo.Cookies))
	for _, c := range f.CookieInfo.Cookies {
		cookies[c.Name] = c.Value
	}
	return cookies, nil
}

// ValidateCookies reports whether cookies belong to a logged-in session, by
// asking the nav endpoint. An empty navURL means the default.
func ValidateCookies(ctx context.Context, client *http.Client, navURL string, cookies map[string]string) (bool, error) {
	if navURL == "" {
		navURL = DefaultNavURL
	}
	session, _, err := newSession(client, cookies, navURL)
	if err != nil {
		return false, err
	}

	_, err = getJSON[navData](ctx, session, navURL, nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// newSession returns a copy of base whose cookie jar is seeded with cookies
// for every url in targets.
func newSession(base *http.Client, cookies map[string]string, targets ...string) (*http.Client, http.CookieJar, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, nil, err
	}

	list := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		list = append(list, &http.Cookie{Name: name, Value: value})
	}
	seen := make(map[string]bool)
	for _, target := range targets {
		u, err := url.Parse(target)
		if err != nil {
			return nil, nil, fmt.Errorf("endpoint %q: %w", target, err)
		}
		key := strings.ToLower(u.Scheme + "://" + u.Host)
		if seen[key] {
			continue
		}
		seen[key] = true
		jar.SetCookies(&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, list)
	}

	c := *base
	c.Jar = jar
	return &c, jar, nil
}

// jarCookie returns the value of the named cookie the jar would send to rawURL.
func jarCookie(jar http.CookieJar, rawURL, name string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, c := range jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}
