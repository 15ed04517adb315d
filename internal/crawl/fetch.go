package crawl

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/net/html"
	"golang.org/x/text/encoding/htmlindex"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

// page is the useful part of one fetched document.
type page struct {
	text  string
	links []string
}

type fetcher struct {
	http      *http.Client
	maxBody   int64
	userAgent string
}

func newFetcher(timeout time.Duration, maxBody int64, userAgent string) *fetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if maxBody <= 0 {
		maxBody = 2 << 20
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &fetcher{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		maxBody:   maxBody,
		userAgent: userAgent,
	}
}

// get performs a GET with browser-like headers and returns the status and
// a size-limited body.
func (f *fetcher) get(ctx context.Context, target string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, eris.Wrap(err, "crawl: create request")
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Referer", "https://www.google.com")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "crawl: fetch %s", target)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
	if err != nil {
		return resp, nil, eris.Wrapf(err, "crawl: read %s", target)
	}
	return resp, body, nil
}

// fetch loads target and extracts its text and anchors.
func (f *fetcher) fetch(ctx context.Context, target string) (page, error) {
	resp, body, err := f.get(ctx, target)
	if err != nil {
		return page{}, err
	}
	if blocked, kind := detectBlock(resp, body); blocked {
		return page{}, eris.Errorf("crawl: %s blocked (%s)", target, kind)
	}
	if resp.StatusCode >= 400 {
		return page{}, eris.Errorf("crawl: %s returned %d", target, resp.StatusCode)
	}

	r, err := decodeBody(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return page{}, err
	}
	root, err := html.Parse(r)
	if err != nil {
		return page{}, eris.Wrapf(err, "crawl: parse %s", target)
	}

	doc := goquery.NewDocumentFromNode(root)
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		if href, ok := s.Attr("href"); ok {
			links = append(links, strings.TrimSpace(href))
		}
	})

	return page{text: extractText(root), links: links}, nil
}

// decodeBody converts body to UTF-8 using the charset from contentType.
// Unknown or missing charsets are read as UTF-8.
func decodeBody(body []byte, contentType string) (io.Reader, error) {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return bytes.NewReader(body), nil
	}
	name := strings.TrimSpace(params["charset"])
	if name == "" || strings.EqualFold(name, "utf-8") {
		return bytes.NewReader(body), nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		return bytes.NewReader(body), nil
	}
	return enc.NewDecoder().Reader(bytes.NewReader(body)), nil
}
