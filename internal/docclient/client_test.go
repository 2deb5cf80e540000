package docclient_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nantokaworks/choice-wheel/internal/coordinator"
	"github.com/nantokaworks/choice-wheel/internal/docclient"
	"github.com/nantokaworks/choice-wheel/internal/docstore"
	"github.com/nantokaworks/choice-wheel/internal/identity"
	"github.com/nantokaworks/choice-wheel/internal/localdb"
	"github.com/nantokaworks/choice-wheel/internal/rbac"
	"github.com/nantokaworks/choice-wheel/internal/types"
	"github.com/nantokaworks/choice-wheel/internal/webserver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T) string {
	t.Helper()

	if localdb.DBClient != nil {
		_ = localdb.DBClient.Close()
		localdb.DBClient = nil
	}
	dir := t.TempDir()
	db, err := localdb.SetupDB(filepath.Join(dir, "wheel.db"))
	require.NoError(t, err)
	enforcer, err := rbac.NewEnforcer(filepath.Join(dir, "acl.db"))
	require.NoError(t, err)

	srv := webserver.NewServer(webserver.Options{
		Store:    localdb.NewWheelStore(db),
		Enforcer: enforcer,
	})
	srv.Start()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Stop()
		_ = db.Close()
		localdb.DBClient = nil
	})
	return ts.URL
}

func signIn(t *testing.T, baseURL, email string) (*docclient.Client, types.User) {
	t.Helper()
	c := docclient.New(baseURL, "")
	c.ReconnectDelay = 20 * time.Millisecond
	user, err := c.SignIn(context.Background(), email, "")
	require.NoError(t, err)
	require.NotEmpty(t, c.Token)
	return c, user
}

func TestDocumentRoundTrip(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	owner, ownerUser := signIn(t, base, "owner@example.com")
	stranger, _ := signIn(t, base, "stranger@example.com")

	created, err := owner.CreateWheel(ctx, "Lunch", []string{"A", "B"}, types.VisibilityPrivate)
	require.NoError(t, err)
	id := created.Wheel.ID

	doc, err := owner.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, doc.Slices)

	_, err = stranger.Get(ctx, id)
	assert.ErrorIs(t, err, coordinator.ErrPermissionDenied)

	_, err = owner.Get(ctx, "missing")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	next := doc.Clone()
	next.Spin = types.SpinDocFrom(types.Spinning{Initiator: ownerUser.ID, Timestamp: 10}, 0)
	_, err = owner.CompareAndSwap(ctx, id, doc.Version+1, next)
	assert.ErrorIs(t, err, docstore.ErrConflict)

	stored, err := owner.CompareAndSwap(ctx, id, doc.Version, next)
	require.NoError(t, err)
	assert.True(t, stored.Spin.IsSpinning)
	assert.Greater(t, stored.Version, doc.Version)

	again := stored.Clone()
	again.Spin = types.SpinDocFrom(types.Spinning{Initiator: ownerUser.ID, Timestamp: 11}, 0)
	_, err = owner.CompareAndSwap(ctx, id, stored.Version, again)
	assert.ErrorIs(t, err, coordinator.ErrAlreadySpinning)
}

func TestUpdateFields(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	owner, _ := signIn(t, base, "owner@example.com")
	editor, _ := signIn(t, base, "editor@example.com")

	created, err := owner.CreateWheel(ctx, "Lunch", []string{"A", "B"}, "")
	require.NoError(t, err)
	id := created.Wheel.ID

	public := types.VisibilityPublic
	updated, err := owner.Update(ctx, id, docstore.Fields{
		Participants: []types.Participant{{Email: "editor@example.com", Role: types.RoleEditor}},
		Visibility:   &public,
	})
	require.NoError(t, err)
	assert.Equal(t, types.VisibilityPublic, updated.Visibility)
	assert.Len(t, updated.Participants, 1)

	updated, err = editor.Update(ctx, id, docstore.Fields{Slices: []string{"X", "Y", "Z"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"X", "Y", "Z"}, updated.Slices)

	title := "Dinner"
	_, err = owner.Update(ctx, id, docstore.Fields{Title: &title})
	assert.ErrorIs(t, err, docclient.ErrUnsupportedField)

	info, err := editor.Wheel(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, info.Permissions, rbac.ActSpin)
	assert.NotContains(t, info.Permissions, rbac.ActShare)
}

func TestSubscribeRejectsHiddenWheel(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	owner, _ := signIn(t, base, "owner@example.com")
	stranger, _ := signIn(t, base, "stranger@example.com")

	created, err := owner.CreateWheel(ctx, "Lunch", []string{"A"}, types.VisibilityPrivate)
	require.NoError(t, err)

	_, err = stranger.Subscribe(ctx, created.Wheel.ID, func(types.Wheel) {}, nil)
	assert.ErrorIs(t, err, coordinator.ErrPermissionDenied)
}

type celebrations struct {
	coordinator.NopListener
	mu      sync.Mutex
	winners []string
	ch      chan string
}

func (c *celebrations) OnCelebrate(_ string, winner string) {
	c.mu.Lock()
	c.winners = append(c.winners, winner)
	c.mu.Unlock()
	c.ch <- winner
}

func (c *celebrations) wait(t *testing.T) string {
	t.Helper()
	select {
	case w := <-c.ch:
		return w
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for celebration")
		return ""
	}
}

func TestCoordinatorsOverHTTP(t *testing.T) {
	base := startServer(t)
	ctx := context.Background()
	owner, ownerUser := signIn(t, base, "owner@example.com")
	guest, guestUser := signIn(t, base, "guest@example.com")

	created, err := owner.CreateWheel(ctx, "Lunch", []string{"A", "B", "C"}, types.VisibilityPrivate)
	require.NoError(t, err)
	id := created.Wheel.ID
	_, err = owner.Update(ctx, id, docstore.Fields{
		Participants: []types.Participant{{Email: guestUser.Email, Role: types.RoleViewer}},
	})
	require.NoError(t, err)

	cfg := coordinator.Config{Duration: 80 * time.Millisecond, TickInterval: 10 * time.Millisecond}
	recX := &celebrations{ch: make(chan string, 4)}
	recY := &celebrations{ch: make(chan string, 4)}
	x := coordinator.New(owner, identity.Static{User: ownerUser}, nil, recX, cfg)
	y := coordinator.New(guest, identity.Static{User: guestUser}, nil, recY, cfg)
	t.Cleanup(x.Close)
	t.Cleanup(y.Close)

	stopX, err := x.Observe(ctx, id)
	require.NoError(t, err)
	defer stopX()
	stopY, err := y.Observe(ctx, id)
	require.NoError(t, err)
	defer stopY()

	assert.ErrorIs(t, y.RequestSpinStart(ctx, id, nil), coordinator.ErrPermissionDenied)

	forced := "b"
	require.NoError(t, x.RequestSpinStart(ctx, id, &forced))

	assert.Equal(t, "B", recX.wait(t))
	assert.Equal(t, "B", recY.wait(t))

	total, err := owner.TotalSpins(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)

	history, err := guest.History(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "B", history[0].Winner)
	assert.Equal(t, ownerUser.ID, history[0].InitiatedBy)
}
