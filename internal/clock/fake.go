package clock

import (
	"sync"
	"time"

	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
)

// Fake is a deterministic Clock for tests: callers drive Now() and the
// db_version counter explicitly instead of relying on wall time.
type Fake struct {
	mu      sync.Mutex
	site    crdt.SiteID
	now     time.Time
	counter uint64
}

func NewFake(site crdt.SiteID, now time.Time) *Fake {
	return &Fake{site: site, now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}

func (f *Fake) NextDBVersion() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counter++
	return f.counter
}

func (f *Fake) SiteID() crdt.SiteID { return f.site }
