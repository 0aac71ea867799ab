package identity

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stockflow/storefront/internal/fingerprint"
	"github.com/stockflow/storefront/internal/ledger"
	"github.com/stockflow/storefront/internal/localstore"
	"github.com/stockflow/storefront/internal/logging"
	"github.com/stockflow/storefront/internal/money"
	"github.com/stockflow/storefront/internal/notification"
	"github.com/stockflow/storefront/internal/session"
)

// countingLedger records grant requests and can simulate a dropped link.
type countingLedger struct {
	ledger.Ledger
	mu        sync.Mutex
	grants    int
	failGrant bool
	failAll   bool
}

func (c *countingLedger) GrantBonus(ctx context.Context, email, device string) (ledger.GrantOutcome, error) {
	c.mu.Lock()
	c.grants++
	fail := c.failGrant || c.failAll
	c.mu.Unlock()
	if fail {
		return ledger.GrantOutcome{}, &ledger.TransportError{Op: ledger.OpGrantBonus, Err: errors.New("timeout")}
	}
	return c.Ledger.GrantBonus(ctx, email, device)
}

func (c *countingLedger) CreateIdentity(ctx context.Context, in ledger.CreateIdentityInput) (ledger.CreateIdentityResult, error) {
	if c.failAll {
		return ledger.CreateIdentityResult{}, &ledger.TransportError{Op: ledger.OpCreateIdentity, Err: errors.New("timeout")}
	}
	return c.Ledger.CreateIdentity(ctx, in)
}

func (c *countingLedger) FetchIdentity(ctx context.Context, email string) (ledger.Identity, error) {
	if c.failAll {
		return ledger.Identity{}, &ledger.TransportError{Op: ledger.OpFetchIdentity, Err: errors.New("timeout")}
	}
	return c.Ledger.FetchIdentity(ctx, email)
}

func (c *countingLedger) grantCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.grants
}

type fixture struct {
	ledger  *countingLedger
	store   localstore.Store
	cache   *session.Cache
	feed    *notification.Feed
	machine *Machine
}

func newFixture() *fixture {
	l := &countingLedger{Ledger: ledger.NewInMemory()}
	store := localstore.NewMemory()
	cache := session.NewCache(l, logging.Discard())
	feed := notification.NewFeed(20)
	return &fixture{
		ledger:  l,
		store:   store,
		cache:   cache,
		feed:    feed,
		machine: NewMachine(l, store, cache, feed, logging.Discard()),
	}
}

func device(canvas string) fingerprint.Environment {
	return fingerprint.Environment{Canvas: canvas, UserAgent: "test", Timezone: "UTC"}
}

func (f *fixture) pending(t *testing.T, email string) bool {
	t.Helper()
	ok, err := localstore.HasPendingVerification(context.Background(), f.store, email)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	return ok
}

func TestPasswordSignupThenVerificationGrantsOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	res, err := f.machine.Ingest(ctx, Event{Type: EventSignedIn, Email: "a@x.com", Channel: ChannelPassword, NewAccount: true, Device: device("c1")})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if res.State != StateUnverified || !f.pending(t, "a@x.com") {
		t.Fatalf("expected unverified with marker, got %s", res.State)
	}
	if f.ledger.grantCount() != 0 {
		t.Fatalf("expected no grant request, got %d", f.ledger.grantCount())
	}
	if bal := f.cache.Current().Balance; bal != 0 {
		t.Fatalf("expected zero balance, got %s", bal)
	}

	res, err = f.machine.Ingest(ctx, Event{Type: EventVerified, Email: "a@x.com"})
	if err != nil {
		t.Fatalf("verified: %v", err)
	}
	if f.ledger.grantCount() != 1 {
		t.Fatalf("expected exactly one grant request, got %d", f.ledger.grantCount())
	}
	if res.Grant == nil || !res.Grant.Granted() {
		t.Fatalf("expected granted outcome, got %+v", res.Grant)
	}
	if got := f.cache.Current().Balance; got != money.FromUnits(5) || got.String() != "5.00" {
		t.Fatalf("expected balance 5.00, got %s", got)
	}
	if f.pending(t, "a@x.com") {
		t.Fatal("expected marker cleared")
	}
	if res.State != StateBonusResolved {
		t.Fatalf("expected bonus resolved, got %s", res.State)
	}

	// A repeated verification observation issues nothing more.
	f.machine.Ingest(ctx, Event{Type: EventVerified, Email: "a@x.com"})
	if f.ledger.grantCount() != 1 {
		t.Fatalf("expected no further grant requests, got %d", f.ledger.grantCount())
	}
}

func TestFederatedSignupGrantsImmediately(t *testing.T) {
	f := newFixture()
	res, err := f.machine.Ingest(context.Background(), Event{Type: EventSignedIn, Email: "g@x.com", Channel: ChannelFederated, NewAccount: true, Device: device("c1")})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if res.State != StateBonusResolved {
		t.Fatalf("expected bonus resolved, got %s", res.State)
	}
	if got := f.cache.Current().Balance; got != ledger.DefaultBonus {
		t.Fatalf("expected bonus balance, got %s", got)
	}
	if f.pending(t, "g@x.com") {
		t.Fatal("expected no marker for federated signup")
	}
	notices := f.feed.Recent(0)
	if len(notices) == 0 || notices[0].Kind != notification.KindSignupBonus {
		t.Fatalf("expected bonus notice, got %+v", notices)
	}
}

func TestMarkerKeptOnTransportFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.machine.Ingest(ctx, Event{Type: EventSignedIn, Email: "a@x.com", Channel: ChannelPassword, NewAccount: true})

	f.ledger.failGrant = true
	res, err := f.machine.Ingest(ctx, Event{Type: EventVerified, Email: "a@x.com"})
	if err != nil {
		t.Fatalf("expected transport failure to be absorbed, got %v", err)
	}
	if res.Grant != nil {
		t.Fatalf("expected no outcome, got %+v", res.Grant)
	}
	if !f.pending(t, "a@x.com") {
		t.Fatal("expected marker kept after transport failure")
	}

	f.ledger.failGrant = false
	res, _ = f.machine.Ingest(ctx, Event{Type: EventVerified, Email: "a@x.com"})
	if res.Grant == nil || !res.Grant.Granted() || f.pending(t, "a@x.com") {
		t.Fatalf("expected retry to grant and clear marker, got %+v", res.Grant)
	}
}

func TestRefusedGrantClearsMarkerWithNeutralNotice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.machine.Ingest(ctx, Event{Type: EventSignedIn, Email: "first@x.com", Channel: ChannelFederated, NewAccount: true, Device: device("shared")})
	f.machine.Ingest(ctx, Event{Type: EventSignedOut})

	f.machine.Ingest(ctx, Event{Type: EventSignedIn, Email: "second@x.com", Channel: ChannelPassword, NewAccount: true, Device: device("shared")})
	res, err := f.machine.Ingest(ctx, Event{Type: EventVerified, Email: "second@x.com"})
	if err != nil {
		t.Fatalf("verified: %v", err)
	}
	if res.Grant == nil || res.Grant.Status != ledger.GrantRefused || res.Grant.Reason != ledger.ReasonDeviceAlreadyGranted {
		t.Fatalf("expected device refusal, got %+v", res.Grant)
	}
	if f.pending(t, "second@x.com") {
		t.Fatal("expected marker cleared after definitive refusal")
	}
	notices := f.feed.Recent(1)
	if len(notices) != 1 || notices[0].Kind != notification.KindBonusInfo || notices[0].Level != notification.LevelInfo {
		t.Fatalf("expected neutral info notice, got %+v", notices)
	}
	if bal := f.cache.Current().Balance; bal != 0 {
		t.Fatalf("expected zero balance, got %s", bal)
	}
}

func TestVerifiedSignInWithMarkerRequestsGrant(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.machine.Ingest(ctx, Event{Type: EventSignedIn, Email: "a@x.com", Channel: ChannelPassword, NewAccount: true})
	f.machine.Ingest(ctx, Event{Type: EventSignedOut})

	res, _ := f.machine.Ingest(ctx, Event{Type: EventSignedIn, Email: "a@x.com", Channel: ChannelPassword, EmailVerified: true})
	if res.Grant == nil || !res.Grant.Granted() {
		t.Fatalf("expected grant on verified sign-in, got %+v", res.Grant)
	}
	if f.cache.Current().Balance != ledger.DefaultBonus {
		t.Fatalf("expected bonus in session, got %s", f.cache.Current().Balance)
	}
}

func TestOfflineSignInKeepsSession(t *testing.T) {
	f := newFixture()
	f.ledger.failAll = true

	res, err := f.machine.Ingest(context.Background(), Event{Type: EventSignedIn, Email: "a@x.com", Channel: ChannelFederated, NewAccount: true})
	if err != nil {
		t.Fatalf("expected offline sign-in, got %v", err)
	}
	if !res.Offline || f.cache.Email() != "a@x.com" {
		t.Fatalf("expected offline session for a@x.com, got %+v", res)
	}
	if !f.pending(t, "a@x.com") {
		t.Fatal("expected marker so the grant is requested later")
	}
	if notices := f.feed.Recent(1); len(notices) != 1 || notices[0].Kind != notification.KindOffline {
		t.Fatalf("expected offline notice, got %+v", notices)
	}
}

func TestSignOutAndRestore(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	ledger.SeedBalance(f.ledger.Ledger, "a@x.com", 1200)

	f.machine.Ingest(ctx, Event{Type: EventSignedIn, Email: "a@x.com", Channel: ChannelFederated})

	restored := NewMachine(f.ledger, f.store, session.NewCache(f.ledger, logging.Discard()), nil, logging.Discard())
	res, err := restored.Restore(ctx)
	if err != nil || res.Email != "a@x.com" || res.State != StateVerified {
		t.Fatalf("unexpected restore: %+v %v", res, err)
	}

	out, _ := f.machine.Ingest(ctx, Event{Type: EventSignedOut})
	if out.State != StateAnonymous || f.cache.Current().SignedIn() {
		t.Fatalf("expected anonymous session, got %+v", out)
	}
	if _, ok, _ := localstore.LastEmail(ctx, f.store); ok {
		t.Fatal("expected last email cleared")
	}
}

func TestVerificationAfterRestartUsesMarkedDevice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	f.machine.Ingest(ctx, Event{Type: EventSignedIn, Email: "a@x.com", Channel: ChannelFederated, NewAccount: true, Device: device("D")})
	f.machine.Ingest(ctx, Event{Type: EventSignedOut})
	f.machine.Ingest(ctx, Event{Type: EventSignedIn, Email: "b@x.com", Channel: ChannelPassword, NewAccount: true, Device: device("D")})

	restarted := NewMachine(f.ledger, f.store, session.NewCache(f.ledger, logging.Discard()), nil, logging.Discard())
	if res, err := restarted.Restore(ctx); err != nil || res.Email != "b@x.com" || res.State != StateUnverified {
		t.Fatalf("unexpected restore: %+v %v", res, err)
	}
	res, err := restarted.Ingest(ctx, Event{Type: EventVerified, Email: "b@x.com"})
	if err != nil {
		t.Fatalf("verified: %v", err)
	}
	if res.Grant == nil || res.Grant.Status != ledger.GrantRefused || res.Grant.Reason != ledger.ReasonDeviceAlreadyGranted {
		t.Fatalf("expected device refusal after restart, got %+v", res.Grant)
	}

	// without a restore the marker still supplies the device
	fresh := NewMachine(f.ledger, f.store, session.NewCache(f.ledger, logging.Discard()), nil, logging.Discard())
	f.machine.Ingest(ctx, Event{Type: EventSignedIn, Email: "c@x.com", Channel: ChannelPassword, NewAccount: true, Device: device("D")})
	res, _ = fresh.Ingest(ctx, Event{Type: EventVerified, Email: "c@x.com"})
	if res.Grant == nil || res.Grant.Reason != ledger.ReasonDeviceAlreadyGranted {
		t.Fatalf("expected device refusal for c@x.com, got %+v", res.Grant)
	}
}

func TestDevicelessSignupsShareOneBonus(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	granted := 0
	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		m := NewMachine(f.ledger, f.store, session.NewCache(f.ledger, logging.Discard()), nil, logging.Discard())
		res, err := m.Ingest(ctx, Event{Type: EventSignedIn, Email: email, Channel: ChannelFederated, NewAccount: true})
		if err != nil {
			t.Fatalf("sign in %s: %v", email, err)
		}
		if res.State == StateBonusResolved {
			granted++
		}
	}
	if granted != 1 {
		t.Fatalf("expected one bonus across deviceless signups, got %d", granted)
	}
}

func TestStateReadableDuringIngest(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	l := &blockingLedger{Ledger: ledger.NewInMemory(), entered: blocked, release: release}
	store := localstore.NewMemory()
	m := NewMachine(l, store, session.NewCache(l, logging.Discard()), nil, logging.Discard())

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Ingest(context.Background(), Event{Type: EventSignedIn, Email: "a@x.com", Channel: ChannelFederated})
	}()

	<-blocked
	if got := m.State(); got != StateAuthenticating {
		t.Fatalf("expected authenticating while the ledger call is in flight, got %s", got)
	}
	close(release)
	<-done
	if got := m.State(); got != StateVerified {
		t.Fatalf("expected verified, got %s", got)
	}
}

// blockingLedger parks CreateIdentity until released.
type blockingLedger struct {
	ledger.Ledger
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLedger) CreateIdentity(ctx context.Context, in ledger.CreateIdentityInput) (ledger.CreateIdentityResult, error) {
	close(b.entered)
	<-b.release
	return b.Ledger.CreateIdentity(ctx, in)
}

func TestIngestRejectsBadInput(t *testing.T) {
	f := newFixture()
	cases := []Event{
		{Type: EventSignedIn, Email: ""},
		{Type: EventSignedIn, Email: "not-an-email"},
		{Type: "password_reset", Email: "a@x.com"},
	}
	for _, ev := range cases {
		if _, err := f.machine.Ingest(context.Background(), ev); !IsInputError(err) {
			t.Fatalf("expected input error for %+v, got %v", ev, err)
		}
	}
}
