package fetch

import (
	"context"
	"net/http"
)

// RequestBuilder constructs the next page's HTTP request given the current
// "after" cursor (exclusive upper bound in epoch ms).
type RequestBuilder func(after int64) (*http.Request, error)

// PageParams configures FetchPaged for one time-bounded backfill (§4.3).
type PageParams struct {
	Endpoint    string
	Symbol      string // recorded against rolling stats on unrecoverable failure
	Kind        ConnKind
	WindowStart int64 // stop once the oldest observed ts <= WindowStart
	Limit       int
	Build       RequestBuilder
	Decode      Decoder
	TimestampOf func(RawRecord) int64
}

// FetchPaged implements the §4.3 paging algorithm for time-bounded
// endpoints (e.g. OKX premium-history): start from after=now+1, request up
// to limit rows, dedupe by timestamp, advance after=min(ts)-1; stop when
// (a) the oldest observed ts <= WindowStart, (b) two consecutive pages
// yielded zero new rows, (c) the page returned fewer than Limit rows, or
// (d) an unrecoverable error occurred.
func (f *Fetcher) FetchPaged(ctx context.Context, startAfter int64, p PageParams) ([]RawRecord, error) {
	after := startAfter
	seen := make(map[int64]struct{})
	var out []RawRecord
	consecutiveEmpty := 0

	for {
		req, err := p.Build(after)
		if err != nil {
			return out, err
		}

		rows, err := f.Fetch(ctx, p.Endpoint, p.Symbol, p.Kind, req, p.Decode)
		if err != nil {
			// (d) unrecoverable error: stop and return what we have, plus
			// the error so the caller can decide whether the partial
			// result is usable.
			return out, err
		}

		newCount := 0
		minTS := int64(0)
		first := true
		for _, r := range rows {
			ts := p.TimestampOf(r)
			if first || ts < minTS {
				minTS = ts
				first = false
			}
			if _, dup := seen[ts]; dup {
				continue
			}
			seen[ts] = struct{}{}
			out = append(out, r)
			newCount++
		}

		if newCount == 0 {
			consecutiveEmpty++
		} else {
			consecutiveEmpty = 0
		}

		// Stop condition (b): two consecutive empty pages.
		if consecutiveEmpty >= 2 {
			break
		}
		// Stop condition (a): oldest observed ts has reached the window start.
		if !first && minTS <= p.WindowStart {
			break
		}
		// Stop condition (c): short page means no more history.
		if len(rows) < p.Limit {
			break
		}
		if first {
			// Empty page with no rows at all; nothing further to advance on.
			break
		}
		after = minTS - 1
	}

	return out, nil
}
