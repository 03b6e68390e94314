package exchange

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Paper simulates fills locally. Orders always fill at the caller's price and
// order ids carry a "paper-" prefix so they can never be confused with venue
// identifiers.
type Paper struct{}

// NewPaper returns a paper adapter.
func NewPaper() *Paper { return &Paper{} }

// PlaceEntry implements Client.
func (p *Paper) PlaceEntry(_ context.Context, req EntryRequest) domain.EntryResult {
	var errs ErrorList
	if req.Size <= 0 {
		errs.Add("entry: size must be positive")
	}
	if req.EntryPrice <= 0 {
		errs.Add("entry: price must be positive")
	}
	if errs.Len() > 0 {
		return domain.EntryResult{Backend: domain.BackendPaper, Errors: errs.Items()}
	}

	return domain.EntryResult{
		Success:  true,
		Backend:  domain.BackendPaper,
		Errors:   []string{},
		EntryOID: paperOID(),
		Extra: map[string]any{
			"fill_price": req.EntryPrice,
			"paper":      true,
		},
	}
}

// ClosePosition implements Client.
func (p *Paper) ClosePosition(_ context.Context, req CloseRequest) domain.CloseResult {
	extra := map[string]any{"paper": true}
	if req.FallbackPrice != nil && *req.FallbackPrice > 0 {
		extra["fill_price"] = *req.FallbackPrice
	}
	return domain.CloseResult{
		Success:  true,
		Backend:  domain.BackendPaper,
		Errors:   []string{},
		CloseOID: paperOID(),
		Extra:    extra,
	}
}

func paperOID() *string {
	id := "paper-" + uuid.NewString()
	return &id
}

// Degraded stands in for a live backend that could not be initialised. The
// first call reports the configuration problem as a failed result; later
// entries are served by the paper adapter. Closing a position held on a live
// venue always fails, since no order can reach that venue.
type Degraded struct {
	backend domain.Backend
	reason  string
	paper   *Paper
	once    sync.Once
}

// NewDegraded returns a Degraded adapter for backend.
func NewDegraded(backend domain.Backend, reason string) *Degraded {
	return &Degraded{backend: backend, reason: reason, paper: NewPaper()}
}

// Reason returns the configuration problem that caused the fallback.
func (d *Degraded) Reason() string { return d.reason }

func (d *Degraded) firstUse() bool {
	first := false
	d.once.Do(func() { first = true })
	return first
}

func (d *Degraded) message() string {
	return string(d.backend) + " unavailable, running in paper mode: " + d.reason
}

// PlaceEntry implements Client.
func (d *Degraded) PlaceEntry(ctx context.Context, req EntryRequest) domain.EntryResult {
	if d.firstUse() {
		return domain.EntryResult{Backend: d.backend, Errors: []string{d.message()}}
	}
	return d.paper.PlaceEntry(ctx, req)
}

// ClosePosition implements Client.
func (d *Degraded) ClosePosition(ctx context.Context, req CloseRequest) domain.CloseResult {
	if d.firstUse() {
		return domain.CloseResult{Backend: d.backend, Errors: []string{d.message()}}
	}
	if req.Backend.IsLive() {
		return domain.CloseResult{
			Backend: req.Backend,
			Errors:  []string{"close: " + string(req.Backend) + " position cannot be closed while " + d.message()},
		}
	}
	return d.paper.ClosePosition(ctx, req)
}

var (
	_ Client = (*Paper)(nil)
	_ Client = (*Degraded)(nil)
)
