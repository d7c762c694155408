// Package watch implements the append-only change journal subscribers tail
// (spec §4.7). The durable log lives in the Metadata Store's events table
// (so replay-from-cursor is a plain range scan); NATS carries only the
// low-latency "something changed" wake-up: a durable stream fronted by a
// pub/sub wake-up, so a blocked subscriber doesn't have to poll the
// metadata store on a tight loop.
package watch

import (
	"context"
	"path"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/nexi-lab/nexus/pkg/errtypes"
	"github.com/nexi-lab/nexus/pkg/metadata"
)

// DefaultRetention is how far back a cursor can still be replayed before
// the reaper prunes it (spec §4.7 "retention horizon (default 24h)").
const DefaultRetention = 24 * time.Hour

// maxSubscribers bounds concurrent live-tail subscribers so one slow
// consumer can't grow the fan-out without limit (spec §5 "the watch
// journal rejects new subscribers when the retention buffer is full").
const maxSubscribers = 1024

const wakeupSubjectPrefix = "nexus.watch."

// heartbeatInterval is how often Subscribe sends a keepalive (zero Seq)
// event once nothing new has arrived, so a client can tell a silently dead
// connection apart from a quiet tenant (spec §4.7 "heartbeats at a bounded
// interval").
const heartbeatInterval = 15 * time.Second

// pollInterval is the replay cadence used when no NATS wake-up lands
// within it — covers both "no NATS configured" and a missed notification,
// so a subscriber never stalls past this bound.
const pollInterval = 5 * time.Second

// eventBatchSize caps how many journal rows one replay pass reads at a
// time, so a subscriber catching up after a long disconnect can't pin the
// metadata store.
const eventBatchSize = 256

// Service is the watch journal: durable append via the Metadata Store,
// live wake-up fan-out via NATS.
type Service struct {
	meta      *metadata.Store
	nc        *nats.Conn // optional; nil disables live wake-ups and subscribers fall back to polling
	log       zerolog.Logger
	retention time.Duration
	poll      time.Duration
	maxSubs   int

	mu    sync.Mutex
	count int
}

// New builds a Service and registers it as meta's event notifier, so every
// mutation that appends a change event (write, delete, rename, mkdir,
// rmdir, rollback, tuple create/delete — each already does so atomically
// in its own transaction) also fires this service's NATS wake-up. nc may
// be nil, in which case subscribers still work, just on pollInterval's
// cadence instead of NATS's push latency.
func New(meta *metadata.Store, nc *nats.Conn, log zerolog.Logger) *Service {
	s := &Service{meta: meta, nc: nc, log: log, retention: DefaultRetention, poll: pollInterval, maxSubs: maxSubscribers}
	meta.SetEventNotifier(s.wake)
	return s
}

// pollIntervalOverride lets tests shrink the poll fallback cadence instead
// of waiting out the production default.
func (s *Service) pollIntervalOverride(d time.Duration) {
	s.poll = d
}

// maxSubscribersOverride lets tests exercise the backpressure cap without
// opening thousands of subscriptions.
func (s *Service) maxSubscribersOverride(n int) {
	s.maxSubs = n
}

// wake is the metadata store's post-commit notifier: a pure side-channel
// ping, never the thing that makes an event durable.
func (s *Service) wake(tenantID string) {
	if s.nc == nil {
		return
	}
	if err := s.nc.Publish(wakeupSubject(tenantID), nil); err != nil {
		s.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("watch: wake-up publish failed")
	}
}

func wakeupSubject(tenantID string) string {
	return wakeupSubjectPrefix + tenantID
}

// Filter selects which events a subscriber receives (spec §4.7 "Subscribers
// register with (tenant, path_globs[], event_types[])"). An empty
// PathGlobs or EventTypes matches everything for that dimension.
type Filter struct {
	TenantID   string
	PathGlobs  []string
	EventTypes []metadata.EventKind
}

func (f Filter) matches(e metadata.Event) bool {
	if len(f.EventTypes) > 0 {
		typeOK := false
		for _, k := range f.EventTypes {
			if k == e.Kind {
				typeOK = true
				break
			}
		}
		if !typeOK {
			return false
		}
	}
	if len(f.PathGlobs) == 0 {
		return true
	}
	for _, g := range f.PathGlobs {
		// Reuse stdlib path.Match, the same matcher the File Service's
		// glob op uses (spec §4.7: "the same matcher is reused, not
		// reimplemented").
		if matched, _ := path.Match(g, e.Path); matched {
			return true
		}
		if e.OldPath != "" {
			if matched, _ := path.Match(g, e.OldPath); matched {
				return true
			}
		}
	}
	return false
}

// Subscription is a live handle on a filtered slice of the journal.
type Subscription struct {
	events chan metadata.Event
	cancel context.CancelFunc
}

// Events yields journal entries strictly in seq order (spec §4.7),
// closed once the subscription is canceled.
func (sub *Subscription) Events() <-chan metadata.Event {
	return sub.events
}

// Close ends the subscription and releases its slot.
func (sub *Subscription) Close() {
	sub.cancel()
}

// Subscribe replays the journal for filter.TenantID from cursor (spec §4.7
// "On reconnect, the server replays from the cursor..."), then live-tails
// new matching events. A cursor of 0 starts from the beginning of whatever
// the retention horizon has kept; a cursor equal to LatestSeq starts
// watching "from now".
func (s *Service) Subscribe(ctx context.Context, filter Filter, cursor int64) (*Subscription, error) {
	if err := s.reserveSlot(); err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan metadata.Event, eventBatchSize),
		cancel: cancel,
	}

	var wake chan *nats.Msg
	var natsSub *nats.Subscription
	if s.nc != nil {
		wake = make(chan *nats.Msg, 1)
		var err error
		natsSub, err = s.nc.ChanSubscribe(wakeupSubject(filter.TenantID), wake)
		if err != nil {
			s.releaseSlot()
			cancel()
			return nil, errtypes.Internal("watch: nats subscribe: " + err.Error())
		}
	}

	go func() {
		defer s.releaseSlot()
		defer close(sub.events)
		if natsSub != nil {
			defer natsSub.Unsubscribe()
		}
		s.tail(subCtx, filter, cursor, sub.events, wake)
	}()

	return sub, nil
}

func (s *Service) reserveSlot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.count >= s.maxSubs {
		return errtypes.Internal("watch: subscriber limit reached, try again later")
	}
	s.count++
	return nil
}

func (s *Service) releaseSlot() {
	s.mu.Lock()
	s.count--
	s.mu.Unlock()
}

// tail drives one subscription: drain any backlog since cursor, then block
// on either a NATS wake-up, the poll fallback, or a heartbeat tick.
func (s *Service) tail(ctx context.Context, filter Filter, cursor int64, out chan<- metadata.Event, wake <-chan *nats.Msg) {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	poll := time.NewTicker(s.poll)
	defer poll.Stop()

	lastSent := time.Now()
	drain := func() bool {
		for {
			events, err := s.meta.EventsSince(ctx, filter.TenantID, cursor, eventBatchSize)
			if err != nil {
				s.log.Error().Err(err).Str("tenant_id", filter.TenantID).Msg("watch: replay failed")
				return false
			}
			if len(events) == 0 {
				return true
			}
			for _, e := range events {
				cursor = e.Seq
				if !filter.matches(e) {
					continue
				}
				select {
				case out <- e:
					lastSent = time.Now()
				case <-ctx.Done():
					return false
				}
			}
			if len(events) < eventBatchSize {
				return true
			}
		}
	}

	if !drain() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			if !drain() {
				return
			}
		case <-poll.C:
			if !drain() {
				return
			}
		case <-heartbeat.C:
			if time.Since(lastSent) < heartbeatInterval {
				continue
			}
			select {
			case out <- metadata.Event{TenantID: filter.TenantID, At: time.Now().UTC()}:
				lastSent = time.Now()
			case <-ctx.Done():
				return
			}
		}
	}
}

// LatestCursor returns the seq a new subscriber should pass to watch
// "from now" rather than replaying the whole retained history.
func (s *Service) LatestCursor(ctx context.Context, tenantID string) (int64, error) {
	return s.meta.LatestSeq(ctx, tenantID)
}

// Reap prunes journal entries past the retention horizon across every
// tenant, called periodically by cmd/nexusd's background sweep (spec §4.7
// "beyond that the client must resync by scanning").
func (s *Service) Reap(ctx context.Context) (int64, error) {
	return s.meta.PruneEventsOlderThan(ctx, time.Now().UTC().Add(-s.retention))
}
