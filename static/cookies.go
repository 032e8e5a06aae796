package static

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// cookie is a cookie in storage state form.
type cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

func (c cookie) expired(now time.Time) bool {
	return c.Expires > 0 && c.Expires < float64(now.Unix())
}

func (c cookie) matches(u *url.URL) bool {
	host := u.Hostname()
	domain := strings.TrimPrefix(c.Domain, ".")
	if host != domain && !strings.HasSuffix(host, "."+domain) {
		return false
	}
	if c.Secure && u.Scheme != "https" {
		return false
	}
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	return p == c.Path || strings.HasPrefix(p, strings.TrimSuffix(c.Path, "/")+"/")
}

// cookieStore is the cookie jar of a context.
type cookieStore struct {
	mu      sync.Mutex
	cookies []cookie
}

var _ http.CookieJar = &cookieStore{}

// parseStorageState reads the cookies of a storage state. The origins are
// kept as they are.
func parseStorageState(state []byte) (*cookieStore, []byte, error) {
	s := &cookieStore{}
	if len(state) == 0 {
		return s, []byte("[]"), nil
	}
	if !gjson.ValidBytes(state) {
		return nil, nil, fmt.Errorf("parsing storage state: invalid JSON")
	}
	root := gjson.ParseBytes(state)
	root.Get("cookies").ForEach(func(_, v gjson.Result) bool {
		c := cookie{
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
		if c.Path == "" {
			c.Path = "/"
		}
		if c.SameSite == "" {
			c.SameSite = "Lax"
		}
		if c.Name != "" {
			s.cookies = append(s.cookies, c)
		}
		return true
	})
	origins := []byte("[]")
	if o := root.Get("origins"); o.IsArray() {
		origins = []byte(o.Raw)
	}
	return s, origins, nil
}

// SetCookies stores the cookies set by a response from u.
func (s *cookieStore) SetCookies(u *url.URL, cookies []*http.Cookie) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, hc := range cookies {
		c := cookie{
			Name:     hc.Name,
			Value:    hc.Value,
			Domain:   strings.TrimPrefix(hc.Domain, "."),
			Path:     hc.Path,
			Expires:  -1,
			HTTPOnly: hc.HttpOnly,
			Secure:   hc.Secure,
			SameSite: sameSite(hc.SameSite),
		}
		if c.Domain == "" {
			c.Domain = u.Hostname()
		}
		if c.Path == "" {
			c.Path = "/"
		}
		switch {
		case hc.MaxAge < 0:
			c.Expires = float64(now.Unix() - 1)
		case hc.MaxAge > 0:
			c.Expires = float64(now.Add(time.Duration(hc.MaxAge) * time.Second).Unix())
		case !hc.Expires.IsZero():
			c.Expires = float64(hc.Expires.Unix())
		}

		s.cookies = slices.DeleteFunc(s.cookies, func(x cookie) bool {
			return x.Name == c.Name && x.Domain == c.Domain && x.Path == c.Path
		})
		if !c.expired(now) {
			s.cookies = append(s.cookies, c)
		}
	}
}

// Cookies returns the cookies to send to u.
func (s *cookieStore) Cookies(u *url.URL) []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var out []*http.Cookie
	for _, c := range s.cookies {
		if !c.expired(now) && c.matches(u) {
			out = append(out, &http.Cookie{Name: c.Name, Value: c.Value})
		}
	}
	return out
}

func (s *cookieStore) export(origins []byte) ([]byte, error) {
	s.mu.Lock()
	now := time.Now()
	cookies := make([]cookie, 0, len(s.cookies))
	for _, c := range s.cookies {
		if !c.expired(now) {
			cookies = append(cookies, c)
		}
	}
	s.mu.Unlock()

	b, err := json.Marshal(struct {
		Cookies []cookie        `json:"cookies"`
		Origins json.RawMessage `json:"origins"`
	}{cookies, origins})
	if err != nil {
		return nil, fmt.Errorf("encoding storage state: %w", err)
	}
	return b, nil
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
