package request

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// storedCookie is a cookie in the storage state format.
type storedCookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

func (c storedCookie) key() string { return c.Name + "\x00" + c.Domain + "\x00" + c.Path }

func (c storedCookie) expired(now time.Time) bool {
	return c.Expires >= 0 && c.Expires < float64(now.Unix())
}

func (c storedCookie) url() *url.URL {
	scheme := "http"
	if c.Secure {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: strings.TrimPrefix(c.Domain, "."), Path: c.Path}
}

func (c storedCookie) httpCookie() *http.Cookie {
	hc := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     c.Path,
		HttpOnly: c.HTTPOnly,
		Secure:   c.Secure,
	}
	if strings.HasPrefix(c.Domain, ".") {
		hc.Domain = c.Domain
	}
	if c.Expires >= 0 {
		hc.Expires = time.Unix(int64(c.Expires), 0)
	}
	return hc
}

// jar sends cookies through a cookiejar.Jar and keeps their attributes
// for export, which cookiejar can't do.
type jar struct {
	inner *cookiejar.Jar

	mu      sync.Mutex
	cookies map[string]storedCookie
	order   []string
}

var _ http.CookieJar = &jar{}

func newJar(state []byte) (*jar, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	j := &jar{inner: inner, cookies: map[string]storedCookie{}}
	if len(state) == 0 {
		return j, nil
	}

	if !gjson.ValidBytes(state) || !gjson.ParseBytes(state).IsObject() {
		return nil, errors.New("storage state must be a JSON object")
	}
	now := time.Now()
	gjson.GetBytes(state, "cookies").ForEach(func(_, v gjson.Result) bool {
		c := storedCookie{
			Name:     v.Get("name").String(),
			Value:    v.Get("value").String(),
			Domain:   v.Get("domain").String(),
			Path:     v.Get("path").String(),
			Expires:  -1,
			HTTPOnly: v.Get("httpOnly").Bool(),
			Secure:   v.Get("secure").Bool(),
			SameSite: v.Get("sameSite").String(),
		}
		if e := v.Get("expires"); e.Exists() {
			c.Expires = e.Float()
		}
		if c.Name == "" || c.Domain == "" || c.expired(now) {
			return true
		}
		if c.Path == "" {
			c.Path = "/"
		}
		j.record(c)
		j.inner.SetCookies(c.url(), []*http.Cookie{c.httpCookie()})
		return true
	})
	return j, nil
}

// SetCookies implements http.CookieJar.
func (j *jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.inner.SetCookies(u, cookies)

	now := time.Now()
	for _, hc := range cookies {
		c := storedCookie{
			Name:     hc.Name,
			Value:    hc.Value,
			Domain:   u.Hostname(),
			Path:     hc.Path,
			Expires:  -1,
			HTTPOnly: hc.HttpOnly,
			Secure:   hc.Secure,
			SameSite: sameSite(hc.SameSite),
		}
		if hc.Domain != "" {
			c.Domain = "." + strings.TrimPrefix(hc.Domain, ".")
		}
		if c.Path == "" || !strings.HasPrefix(c.Path, "/") {
			c.Path = defaultPath(u.Path)
		}
		switch {
		case hc.MaxAge < 0:
			c.Expires = 0
		case hc.MaxAge > 0:
			c.Expires = float64(now.Add(time.Duration(hc.MaxAge) * time.Second).Unix())
		case !hc.Expires.IsZero():
			c.Expires = float64(hc.Expires.Unix())
		}
		j.record(c)
	}
}

// Cookies implements http.CookieJar.
func (j *jar) Cookies(u *url.URL) []*http.Cookie {
	return j.inner.Cookies(u)
}

func (j *jar) record(c storedCookie) {
	j.mu.Lock()
	defer j.mu.Unlock()

	k := c.key()
	if _, ok := j.cookies[k]; !ok {
		j.order = append(j.order, k)
	}
	j.cookies[k] = c
}

func (j *jar) export() ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	now := time.Now()
	out := struct {
		Cookies []storedCookie `json:"cookies"`
		Origins []any          `json:"origins"`
	}{Cookies: []storedCookie{}, Origins: []any{}}
	for _, k := range j.order {
		if c := j.cookies[k]; !c.expired(now) {
			out.Cookies = append(out.Cookies, c)
		}
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding storage state: %w", err)
	}
	return b, nil
}

// defaultPath is the default cookie path of a request path.
func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	dir := path.Dir(p)
	if dir == "." {
		return "/"
	}
	return dir
}

func sameSite(s http.SameSite) string {
	switch s {
	case http.SameSiteStrictMode:
		return "Strict"
	case http.SameSiteNoneMode:
		return "None"
	default:
		return "Lax"
	}
}
