package player

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pixil98/go-testutil"
	"github.com/pixil98/go-worldstate/internal/game"
	"github.com/pixil98/go-worldstate/internal/storage"
	"github.com/pixil98/go-worldstate/internal/worlds"
	"golang.org/x/crypto/bcrypt"
)

type testServer struct {
	pm     *PlayerManager
	store  *storage.ServerStorage
	worlds *worlds.Manager
	dbPath string
	root   string
	now    time.Time
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	root := t.TempDir()
	ts := &testServer{
		dbPath: filepath.Join(root, "worldstate.db"),
		root:   root,
		now:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return ts.now }

	ts.store = storage.NewServerStorage(ts.dbPath, root, storage.WithPasswordCost(bcrypt.MinCost))
	ts.worlds = worlds.NewManager(ts.store, storage.ModeMultiplayer,
		worlds.WithClock(clock),
		worlds.WithDefaultWorld("home", game.NewWorldConfig(1, 0.1, 0.1)))
	if err := ts.worlds.Init(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ts.pm = NewPlayerManager(ts.store, ts.store, ts.worlds, WithClock(clock), WithIdleTimeout(time.Minute))
	t.Cleanup(ts.store.Shutdown)

	return ts
}

func (ts *testServer) register(t *testing.T, username, password string) {
	t.Helper()
	if err := ts.pm.RegisterPlayer(context.Background(), username, password); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPlayerManager_LoginRejected(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "ash", "pikachu")

	tests := map[string]struct {
		username string
		password string
	}{
		"wrong password": {username: "ash", password: "raichu"},
		"unknown user":   {username: "gary", password: "eevee"},
		"empty username": {username: "  ", password: "pikachu"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			p, err := ts.pm.LoginPlayer(context.Background(), tt.username, tt.password, "")
			testutil.AssertEqual(t, "invalid credentials", errors.Is(err, ErrInvalidCredentials), true)
			testutil.AssertEqual(t, "no session", p == nil, true)
			testutil.AssertEqual(t, "online count", len(ts.pm.OnlinePlayers()), 0)
		})
	}
}

func TestPlayerManager_Register(t *testing.T) {
	ts := newTestServer(t)
	ts.register(t, "ash", "pikachu")

	err := ts.pm.RegisterPlayer(context.Background(), "ash", "again")
	testutil.AssertEqual(t, "duplicate", errors.Is(err, storage.ErrAccountExists), true)
}

func TestPlayerManager_DisconnectWithoutLogout(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	ts.register(t, "Ash", "pikachu")
	if err := ts.store.UpdateCoordinates("Ash", 10, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := ts.pm.LoginPlayer(ctx, "Ash", "pikachu", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	x, y := p.Position()
	testutil.AssertEqual(t, "login x", x, 10.0)
	testutil.AssertEqual(t, "login y", y, 20.0)
	if p.SessionID() == "" {
		t.Errorf("expected a generated session id")
	}

	update := p.Snapshot()
	update.X = 15
	update.Direction = game.DirectionRight
	ts.now = ts.now.Add(10 * time.Second)
	if err := ts.pm.UpdatePlayer(ctx, "Ash", p.SessionID(), update); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Not idle long enough yet.
	if err := ts.pm.Tick(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "still online", ts.pm.GetPlayer("Ash") != nil, true)

	// The client vanishes; the idle reaper does the logout flush.
	ts.now = ts.now.Add(2 * time.Minute)
	if err := ts.pm.Tick(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "reaped", ts.pm.GetPlayer("Ash") == nil, true)

	x, y, err = ts.store.GetCoordinates("Ash")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "stored x", x, 15.0)
	testutil.AssertEqual(t, "stored y", y, 20.0)

	again, err := ts.pm.LoginPlayer(ctx, "Ash", "pikachu", "session-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	x, y = again.Position()
	testutil.AssertEqual(t, "reconnect x", x, 15.0)
	testutil.AssertEqual(t, "reconnect y", y, 20.0)
	testutil.AssertEqual(t, "reconnect direction", again.Direction(), game.DirectionRight)
	testutil.AssertEqual(t, "session id", again.SessionID(), "session-2")
}

func TestPlayerManager_LogoutPersists(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	ts.register(t, "misty", "staryu")

	p, err := ts.pm.LoginPlayer(ctx, "misty", "staryu", "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	p.Move(3, 4, game.DirectionUp, true, false, ts.now)

	update := p.Snapshot()
	update.InventoryItems = append(update.InventoryItems, game.NewItemStack("pokeball", 5))
	if err := ts.pm.UpdatePlayer(ctx, "misty", "s1", update); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ts.pm.LogoutPlayer(ctx, "misty", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "offline", len(ts.pm.OnlinePlayers()), 0)

	ts.store.ClearCache()
	rec, err := ts.store.LoadPlayer("misty")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "stored x", rec.X, 3.0)
	testutil.AssertEqual(t, "stored items", len(rec.InventoryItems), 1)

	worldRec := ts.worlds.GetCurrentWorld().GetPlayerData("misty")
	testutil.AssertEqual(t, "world record y", worldRec.Y, 4.0)
	testutil.AssertEqual(t, "world dirty", ts.worlds.GetCurrentWorld().IsDirty(), true)

	// Logging out twice is a no-op.
	if err := ts.pm.LogoutPlayer(ctx, "misty", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPlayerManager_ReplacedSession(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	ts.register(t, "brock", "onix")

	first, err := ts.pm.LoginPlayer(ctx, "brock", "onix", "old")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first.Move(7, 7, game.DirectionLeft, false, false, ts.now)

	second, err := ts.pm.LoginPlayer(ctx, "brock", "onix", "new")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	x, _ := second.Position()
	testutil.AssertEqual(t, "flushed before reload", x, 7.0)
	testutil.AssertEqual(t, "online", len(ts.pm.OnlinePlayers()), 1)

	err = ts.pm.UpdatePlayer(ctx, "brock", "old", second.Snapshot())
	testutil.AssertEqual(t, "stale session", errors.Is(err, ErrStaleSession), true)

	err = ts.pm.UpdatePlayer(ctx, "nobody", "", game.NewPlayerRecord("nobody"))
	testutil.AssertEqual(t, "not online", errors.Is(err, ErrNotOnline), true)
}

func TestPlayerManager_Dispose(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	for i, name := range []string{"ash", "misty"} {
		ts.register(t, name, "pw")
		p, err := ts.pm.LoginPlayer(ctx, name, "pw", "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.Move(float64(i+1), float64(i+1), game.DirectionDown, false, false, ts.now)
	}

	if err := ts.pm.Dispose(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "no sessions", len(ts.pm.OnlinePlayers()), 0)

	reopened := storage.NewServerStorage(ts.dbPath, ts.root)
	if err := reopened.Init(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer reopened.Shutdown()

	for i, name := range []string{"ash", "misty"} {
		x, _, err := reopened.GetCoordinates(name)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		testutil.AssertEqual(t, name+" x", x, float64(i+1))
	}

	w, err := reopened.LoadWorld("home")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "world saved with players", len(w.PlayerNames()), 2)
}

type recordingListener struct {
	events []string
}

func (l *recordingListener) SessionEnded(_ context.Context, p *OnlinePlayer, reason SessionEndReason) {
	l.events = append(l.events, p.SessionID()+":"+string(reason))
}

func TestPlayerManager_SessionListener(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	l := &recordingListener{}
	ts.pm = NewPlayerManager(ts.store, ts.store, ts.worlds, WithSessionListener(l), WithClock(func() time.Time { return ts.now }), WithIdleTimeout(time.Minute))
	ts.register(t, "ash", "pw")

	for _, id := range []string{"a", "b"} {
		if _, err := ts.pm.LoginPlayer(ctx, "ash", "pw", id); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	ts.now = ts.now.Add(time.Hour)
	if err := ts.pm.Tick(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ts.pm.LoginPlayer(ctx, "ash", "pw", "c"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ts.pm.LogoutPlayer(ctx, "ash", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	testutil.AssertEqual(t, "event count", len(l.events), 3)
	testutil.AssertEqual(t, "replaced", l.events[0], "a:replaced")
	testutil.AssertEqual(t, "timed out", l.events[1], "b:timed_out")
	testutil.AssertEqual(t, "logged out", l.events[2], "c:logged_out")
}

// gatedCredentials holds the first coordinate update until release is closed.
type gatedCredentials struct {
	*storage.ServerStorage
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedCredentials) UpdateCoordinates(username string, x, y float64) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.ServerStorage.UpdateCoordinates(username, x, y)
}

func TestPlayerManager_ReconnectDuringLogoutFlush(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	ts.register(t, "ash", "pikachu")
	if err := ts.store.UpdateCoordinates("ash", 10, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	creds := &gatedCredentials{
		ServerStorage: ts.store,
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	pm := NewPlayerManager(creds, ts.store, ts.worlds)

	p, err := pm.LoginPlayer(ctx, "ash", "pikachu", "s1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	update := p.Snapshot()
	update.X = 15
	if err := pm.UpdatePlayer(ctx, "ash", "s1", update); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	logoutErr := make(chan error, 1)
	go func() { logoutErr <- pm.LogoutPlayer(ctx, "ash", "s1") }()
	<-creds.entered

	type result struct {
		p   *OnlinePlayer
		err error
	}
	loginDone := make(chan result, 1)
	go func() {
		p, err := pm.LoginPlayer(ctx, "ash", "pikachu", "s2")
		loginDone <- result{p, err}
	}()

	select {
	case <-loginDone:
		t.Fatal("login finished while the previous session was still flushing")
	case <-time.After(50 * time.Millisecond):
	}
	close(creds.release)

	if err := <-logoutErr; err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := <-loginDone
	if got.err != nil {
		t.Fatalf("unexpected error: %v", got.err)
	}
	x, y := got.p.Position()
	testutil.AssertEqual(t, "reconnect x", x, 15.0)
	testutil.AssertEqual(t, "reconnect y", y, 20.0)
}

func TestPlayerManager_LoginPrefersSavedRecordOverCoordinates(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	ts.register(t, "ash", "pikachu")

	rec := game.NewPlayerRecord("ash")
	rec.X, rec.Y = 15, 20
	if err := ts.store.SavePlayer("ash", rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ts.store.UpdateCoordinates("ash", 10, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := ts.pm.LoginPlayer(ctx, "ash", "pikachu", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	x, y := p.Position()
	testutil.AssertEqual(t, "x", x, 15.0)
	testutil.AssertEqual(t, "y", y, 20.0)
}

func TestPlayerManager_LogoutStaleSession(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	ts.register(t, "brock", "onix")

	if _, err := ts.pm.LoginPlayer(ctx, "brock", "onix", "old"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := ts.pm.LoginPlayer(ctx, "brock", "onix", "new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := ts.pm.LogoutPlayer(ctx, "brock", "old")
	testutil.AssertEqual(t, "stale", errors.Is(err, ErrStaleSession), true)
	testutil.AssertEqual(t, "session kept", ts.pm.GetPlayer("brock").SessionID(), "new")

	if err := ts.pm.LogoutPlayer(ctx, "brock", "new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "logged out", ts.pm.GetPlayer("brock") == nil, true)
}

func TestPlayerManager_LoginAfterDispose(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	ts.register(t, "ash", "pikachu")

	if err := ts.pm.Dispose(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p, err := ts.pm.LoginPlayer(ctx, "ash", "pikachu", "")
	testutil.AssertEqual(t, "refused", errors.Is(err, ErrShuttingDown), true)
	testutil.AssertEqual(t, "no session", p == nil, true)
	testutil.AssertEqual(t, "online", len(ts.pm.OnlinePlayers()), 0)
}
