package mbe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Transport carries one request and its response. Receive returns
// ErrNoResponse when the controller stays silent.
type Transport interface {
	Send(req []byte) error
	Receive() ([]byte, error)
}

// PageError records a page whose response could not be decoded.
type PageError struct {
	Page uint8
	Err  error
}

func (e PageError) Error() string { return fmt.Sprintf("page 0x%02x: %v", e.Page, e.Err) }

// CycleResult is what one pass over the follow list produced.
type CycleResult struct {
	At      time.Time
	Pages   int // pages decoded
	Skipped []PageError
	Values  []DecodedValue

	// Err is set when the transport failed and the cycle stopped early.
	// Pages decoded before that point are already merged.
	Err error
}

// Poller runs poll cycles. One cycle sends one request per followed page in
// ascending page order and waits for each reply before the next send.
type Poller struct {
	cat     *Catalog
	follow  *FollowList
	tr      Transport
	results *Results
}

func NewPoller(cat *Catalog, follow *FollowList, tr Transport, results *Results) *Poller {
	return &Poller{cat: cat, follow: follow, tr: tr, results: results}
}

// PollOnce performs exactly one cycle. A decode failure drops that page and
// moves on; a transport failure ends the cycle.
func (p *Poller) PollOnce() CycleResult {
	res := CycleResult{At: time.Now()}

	for _, page := range p.follow.Pages() {
		entries := p.follow.Entries(page)

		if err := p.tr.Send(BuildRequest(page, entries)); err != nil {
			res.Err = fmt.Errorf("page 0x%02x: send: %w", page, err)
			return res
		}
		resp, err := p.tr.Receive()
		if err != nil {
			res.Err = fmt.Errorf("page 0x%02x: %w", page, err)
			return res
		}

		vals, err := p.cat.Decode(resp, entries)
		if err != nil {
			log.Printf("[mbe] page 0x%02x: %v", page, err)
			res.Skipped = append(res.Skipped, PageError{Page: page, Err: err})
			continue
		}
		p.results.Merge(vals)
		res.Values = append(res.Values, vals...)
		res.Pages++
	}
	return res
}

// Run polls every interval until ctx is done, sending each result to out.
// No overlap, no retries inside a cycle.
func (p *Poller) Run(ctx context.Context, interval time.Duration, out chan<- CycleResult) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res := p.PollOnce()
			if res.Err != nil && !errors.Is(res.Err, ErrNoResponse) {
				log.Printf("[mbe] cycle aborted: %v", res.Err)
			}
			select {
			case out <- res:
			case <-ctx.Done():
				return
			}
		}
	}
}
