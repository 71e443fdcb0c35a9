// Package clock provides the monotonic logical + wall-clock source and site
// identity (L0) that every other layer of the sync core is built on.
package clock

import (
	"crypto/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
)

// Clock is the L0 contract: wall time for LWW timestamps, a monotonically
// non-decreasing logical counter (db_version) for this replica, and the
// replica's stable site identity.
type Clock interface {
	Now() time.Time
	NextDBVersion() uint64
	SiteID() crdt.SiteID
}

// System is the production Clock: real wall time, an in-process atomic
// counter seeded from the persisted high-water mark at startup.
type System struct {
	site    crdt.SiteID
	counter atomic.Uint64
}

// NewSystem builds a System clock for the given site, with its logical
// counter seeded at startFrom (the highest db_version previously persisted,
// so the counter never decreases across restarts per §3's invariant).
func NewSystem(site crdt.SiteID, startFrom uint64) *System {
	c := &System{site: site}
	c.counter.Store(startFrom)
	return c
}

// NewDeviceSiteID generates a fresh site id in the "device_<uuid>" format
// required by §3. The uuid component is derived from a freshly generated
// libp2p peer identity (core/crypto + core/peer — the same peer.ID type the
// teacher's p2p/models layer keys its version vectors by) rather than a
// bare random draw, so each device's site_id traces back to a distinct
// Ed25519 keypair. Falls back to a plain random uuid if key generation
// fails, which in practice only happens if the platform's entropy source
// is broken.
func NewDeviceSiteID() crdt.SiteID {
	_, pub, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return crdt.SiteID("device_" + uuid.NewString())
	}
	pid, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return crdt.SiteID("device_" + uuid.NewString())
	}
	return crdt.SiteID("device_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(pid)).String())
}

func (c *System) Now() time.Time { return time.Now().UTC() }

func (c *System) NextDBVersion() uint64 {
	return c.counter.Add(1)
}

func (c *System) SiteID() crdt.SiteID { return c.site }

// Observe bumps the counter to at least seen, so pulling a remote db_version
// higher than our own keeps this replica's future writes monotone relative
// to everything it has observed.
func (c *System) Observe(seen uint64) {
	for {
		cur := c.counter.Load()
		if seen <= cur {
			return
		}
		if c.counter.CompareAndSwap(cur, seen) {
			return
		}
	}
}
