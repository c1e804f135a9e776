package signaling

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/lalith-99/echolink/internal/events"
	"github.com/lalith-99/echolink/internal/presence"
	"github.com/lalith-99/echolink/internal/presence/presencetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixture struct {
	sig      *Signaler
	registry *presence.Registry
	rec      *presencetest.Recorder
	a, b     uuid.UUID
}

func newFixture() *fixture {
	rec := presencetest.NewRecorder()
	reg := presence.NewRegistry(presence.NewMemoryStore(), nil, zap.NewNop())
	return &fixture{
		sig:      New(presence.NewRouter(reg, rec, zap.NewNop()), zap.NewNop()),
		registry: reg,
		rec:      rec,
		a:        uuid.New(),
		b:        uuid.New(),
	}
}

func (f *fixture) call() Call {
	return Call{CallerID: f.a, RecipientID: f.b, CallerName: "Ada", RecipientName: "Bob", IsVideo: true}
}

func TestInitiate_RingsRecipient(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.registry.Register(ctx, f.a, "ca"))
	require.NoError(t, f.registry.Register(ctx, f.b, "cb"))

	n, err := f.sig.Initiate(ctx, f.call())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Empty(t, f.rec.PushesTo("ca"))
	got := f.rec.PushesTo("cb")
	require.Len(t, got, 1)
	assert.Equal(t, events.IncomingCall, got[0].Type)
	assert.Equal(t, events.IncomingCallPayload{
		CallerID:      f.a,
		CallerName:    "Ada",
		RecipientName: "Bob",
		IsVideo:       true,
		RecipientID:   f.b,
	}, got[0].Payload)
}

func TestInitiate_AbsentRecipientIsSilent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.registry.Register(ctx, f.a, "ca"))

	n, err := f.sig.Initiate(ctx, f.call())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Empty(t, f.rec.Pushes(), "the caller gets no failure signal")
}

func TestAccept_RoutesToCallerNotRecipient(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.registry.Register(ctx, f.a, "ca"))
	require.NoError(t, f.registry.Register(ctx, f.b, "cb"))

	_, err := f.sig.Initiate(ctx, f.call())
	require.NoError(t, err)
	f.rec.Reset()

	n, err := f.sig.Accept(ctx, f.call())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Empty(t, f.rec.PushesTo("cb"))
	got := f.rec.PushesTo("ca")
	require.Len(t, got, 1)
	assert.Equal(t, events.CallAccepted, got[0].Type)
	assert.Equal(t, events.CallPartiesPayload{CallerID: f.a, RecipientID: f.b, CallerName: "Ada"}, got[0].Payload)
}

// Accept carries no server-side state, so a repeat is forwarded again.
// Pinned as current behaviour.
func TestAccept_DuplicateIsForwardedTwice(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.registry.Register(ctx, f.a, "ca"))

	_, err := f.sig.Accept(ctx, f.call())
	require.NoError(t, err)
	_, err = f.sig.Accept(ctx, f.call())
	require.NoError(t, err)

	got := f.rec.PushesTo("ca")
	require.Len(t, got, 2)
	assert.Equal(t, got[0], got[1])
}

func TestAccept_WithoutInitiateStillForwarded(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.registry.Register(ctx, f.a, "ca"))

	n, err := f.sig.Accept(ctx, f.call())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDecline_RoutesToCaller(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.registry.Register(ctx, f.a, "ca"))
	require.NoError(t, f.registry.Register(ctx, f.b, "cb"))

	n, err := f.sig.Decline(ctx, f.call())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.rec.PushesTo("ca")
	require.Len(t, got, 1)
	assert.Equal(t, events.CallDeclined, got[0].Type)
	assert.Empty(t, f.rec.PushesTo("cb"))
}

func TestEnd_FansOutToBothPresentParties(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.registry.Register(ctx, f.a, "ca"))
	require.NoError(t, f.registry.Register(ctx, f.b, "cb"))

	n, err := f.sig.End(ctx, f.call())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, conn := range []string{"ca", "cb"} {
		got := f.rec.PushesTo(conn)
		require.Len(t, got, 1, conn)
		assert.Equal(t, events.CallEnded, got[0].Type)
	}
}

func TestEnd_OnlyCallerPresent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.registry.Register(ctx, f.a, "ca"))

	n, err := f.sig.End(ctx, f.call())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.rec.Pushes(), 1)
	assert.Equal(t, "ca", f.rec.Pushes()[0].ConnID)
}

func TestEnd_NobodyPresent(t *testing.T) {
	f := newFixture()
	n, err := f.sig.End(context.Background(), f.call())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// The recipient reconnects mid-ring: the end goes to whichever connection
// they own at the moment it is routed.
func TestEnd_FollowsReconnect(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.registry.Register(ctx, f.a, "ca"))
	require.NoError(t, f.registry.Register(ctx, f.b, "cb-old"))

	_, err := f.sig.Initiate(ctx, f.call())
	require.NoError(t, err)

	require.NoError(t, f.registry.Register(ctx, f.b, "cb-new"))
	require.NoError(t, f.registry.Unregister(ctx, "cb-old"))

	_, err = f.sig.End(ctx, f.call())
	require.NoError(t, err)

	assert.Len(t, f.rec.PushesTo("cb-old"), 1, "only the ring")
	got := f.rec.PushesTo("cb-new")
	require.Len(t, got, 1)
	assert.Equal(t, events.CallEnded, got[0].Type)
}

func TestInvalidCall(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	_, err := f.sig.Initiate(ctx, Call{CallerID: f.a, RecipientID: f.a})
	assert.ErrorIs(t, err, ErrInvalidCall)
	_, err = f.sig.End(ctx, Call{CallerID: f.a})
	assert.ErrorIs(t, err, ErrInvalidCall)
	assert.Empty(t, f.rec.Pushes())
}
