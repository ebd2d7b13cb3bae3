package syncsched

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// Peer is a remote repository polled for its query results, driving
// the producer side of the scheduler. Discovery/polling has no
// equivalent in original_source/, which assumes sync partners share a
// transport out of band, so this is the simplest pull loop consistent
// with the scheduler's producer contract: poll the peer's own query
// stream, fetch anything not yet held locally, and hand it to Produce.
type Peer struct {
	URL          string
	PollInterval time.Duration
}

// PollOnce issues a single non-tailing query against the peer and
// returns the URIs it reports, newest first (a backward scan from the
// newest entry, which the peer ends instead of tailing), feeding
// FileAvailable decisions upstream
// of the caller.
func (p Peer) PollOnce(ctx context.Context) ([]string, error) {
	client := &fasthttp.Client{}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimRight(p.URL, "/") + "/sln/query?q=*&dir=backward&sortID=18446744073709551615&fileID=18446744073709551615")
	req.Header.SetMethod("GET")

	if err := client.DoDeadline(req, resp, time.Now().Add(10*time.Second)); err != nil {
		return nil, err
	}

	var uris []string
	sc := bufio.NewScanner(strings.NewReader(string(resp.Body())))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line != "" {
			uris = append(uris, line)
		}
	}
	return uris, sc.Err()
}

// FetchFile GETs a hash://<algo>/<hex> URI's bytes from the peer's file
// route, returning the content type the peer reports alongside the body.
func (p Peer) FetchFile(ctx context.Context, fileURI string) (contentType string, body []byte, err error) {
	rest := strings.TrimPrefix(fileURI, "hash://")
	if rest == fileURI {
		return "", nil, fmt.Errorf("peer fetch: %q is not a hash:// uri", fileURI)
	}

	client := &fasthttp.Client{}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimRight(p.URL, "/") + "/sln/file/" + rest)
	req.Header.SetMethod("GET")

	if err := client.DoDeadline(req, resp, time.Now().Add(30*time.Second)); err != nil {
		return "", nil, err
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return "", nil, fmt.Errorf("peer fetch %s: status %d", fileURI, resp.StatusCode())
	}

	return string(resp.Header.ContentType()), append([]byte(nil), resp.Body()...), nil
}

// Run polls the peer on PollInterval until ctx is canceled, invoking
// onURI for each discovered URI.
func (p Peer) Run(ctx context.Context, onURI func(uri string)) {
	interval := p.PollInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			uris, err := p.PollOnce(ctx)
			if err != nil {
				log.Warnf("peer %s: poll failed: %v", p.URL, err)
				continue
			}
			for _, u := range uris {
				onURI(u)
			}
		}
	}
}
