// Package request defines the data types that flow through the crawl
// engine: Request, Response, and Item, plus fingerprint canonicalization
// used by the dedupe filter and the request queues.
package request

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Meta carries the reserved, engine-understood fields a spider or
// middleware can set on a Request, plus an overflow bag for anything
// else. This replaces the free-form dict the original engine passes
// around: callers that need engine behavior (proxy pinning, timeout
// override, retry bookkeeping, depth, filter bypass) set a named field;
// everything else goes in Extra.
type Meta struct {
	ProxyURL   string
	Timeout    time.Duration
	RetryCount int
	Depth      int
	DontFilter bool
	Extra      map[string]any
}

// Get returns a value from Extra, mirroring the dict-style lookups
// spiders used against the original meta bag.
func (m *Meta) Get(key string) (any, bool) {
	if m.Extra == nil {
		return nil, false
	}
	v, ok := m.Extra[key]
	return v, ok
}

// Set stores a value in Extra, allocating the map on first use.
func (m *Meta) Set(key string, value any) {
	if m.Extra == nil {
		m.Extra = make(map[string]any)
	}
	m.Extra[key] = value
}

// Request is one unit of crawl work.
type Request struct {
	URL         string
	Method      string
	Headers     map[string][]string
	Body        []byte
	Priority    int
	Callback    string
	Errback     string
	Meta        Meta
	Flags       []string
	fp          string // cached by Fingerprint(); empty until first call
}

// NewRequest builds a Request with the conventional defaults (GET, no
// body, priority 0, DontFilter false).
func NewRequest(rawURL string) *Request {
	return &Request{
		URL:    rawURL,
		Method: "GET",
	}
}

// Fingerprint computes (and caches) the dedupe key for this request:
// sha1 over the canonicalized method, URL, and body. Two requests that
// differ only in header order, query-parameter order, or URL case in the
// scheme/host produce the same fingerprint.
func (r *Request) Fingerprint() (string, error) {
	if r.fp != "" {
		return r.fp, nil
	}
	canonURL, err := CanonicalizeURL(r.URL)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	h := sha1.New()
	method := r.Method
	if method == "" {
		method = "GET"
	}
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(canonURL))
	h.Write([]byte{0})
	h.Write(r.Body)
	r.fp = hex.EncodeToString(h.Sum(nil))
	return r.fp, nil
}

// CanonicalizeURL lowercases the scheme and host, sorts query parameters,
// drops the fragment, and leaves path/query-value casing untouched (many
// sites are case-sensitive there).
func CanonicalizeURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for i, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for j, v := range vals {
				if i > 0 || j > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}
	return u.String(), nil
}

// Response is the downloader's result for one Request.
type Response struct {
	Request    *Request
	StatusCode int
	Headers    map[string][]string
	Body       []byte
	URL        string // final URL after redirects
	Flags      []string
	Meta       Meta // copied from Request.Meta at fetch time
}

// Routing carries pipeline-destination hints for an Item, replacing the
// sentinel-key convention (`__mysql__`, `__mongo__`) the original scraper
// used inside the item dict itself.
type Routing struct {
	Sink       string // pipeline name, e.g. "mongo", "mysql", ""  = default chain
	Collection string
	Table      string
}

// Item is a scraped record. Fields are free-form (the selector/parsing
// layer is out of scope for this engine), with Routing carrying the only
// structure the pipeline stage needs to know about.
type Item struct {
	Fields  map[string]any
	Routing Routing
}

// Output is anything a Parser may yield down its channel: either a
// *Request (fed back to the scheduler) or an Item (fed to the pipeline
// chain). The scraper classifies each value it receives with a type
// switch; anything else is logged and dropped.
type Output any
