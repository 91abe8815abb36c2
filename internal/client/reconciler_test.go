package client

import (
	"context"
	"fmt"
	"testing"

	"github.com/pixil98/go-testutil"
	"github.com/pixil98/go-worldstate/internal/game"
	"github.com/pixil98/go-worldstate/internal/storage"
)

type fakeLink struct {
	connected bool
	sendErr   error
	sent      []*game.PlayerRecord
}

func (l *fakeLink) IsConnected() bool {
	return l.connected
}

func (l *fakeLink) SendPlayerState(_ context.Context, rec *game.PlayerRecord) error {
	if l.sendErr != nil {
		return l.sendErr
	}
	l.sent = append(l.sent, rec.Clone())
	return nil
}

type fakeWorld struct {
	saved map[string]*game.PlayerRecord
}

func (w *fakeWorld) SavePlayer(_ context.Context, username string, rec *game.PlayerRecord) error {
	w.saved[username] = rec.Clone()
	return nil
}

type fakeLocal struct {
	err   error
	saved []*game.PlayerRecord
}

func (l *fakeLocal) SavePlayer(_ string, rec *game.PlayerRecord) error {
	if l.err != nil {
		return l.err
	}
	l.saved = append(l.saved, rec.Clone())
	return nil
}

func recordAt(x float64) *game.PlayerRecord {
	rec := game.NewPlayerRecord("ash")
	rec.X = x
	return rec
}

func TestReconciler_SinglePlayer(t *testing.T) {
	world := &fakeWorld{saved: map[string]*game.PlayerRecord{}}
	local := &fakeLocal{}
	r := NewReconciler(storage.ModeSinglePlayer, "ash", world, local, nil)

	if err := r.SavePlayerState(context.Background(), recordAt(3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "world x", world.saved["ash"].X, 3.0)
	testutil.AssertEqual(t, "no offline save", len(local.saved), 0)
}

func TestReconciler_Multiplayer(t *testing.T) {
	tests := map[string]struct {
		link       *fakeLink
		prior      *game.PlayerRecord
		rec        *game.PlayerRecord
		expSent    int
		expOffline []float64
		expLast    float64
	}{
		"connected sends": {
			link:    &fakeLink{connected: true},
			rec:     recordAt(5),
			expSent: 1,
			expLast: 5,
		},
		"failed send falls back to local file": {
			link:       &fakeLink{connected: true, sendErr: fmt.Errorf("broken pipe")},
			rec:        recordAt(6),
			expOffline: []float64{6},
			expLast:    6,
		},
		"disconnected writes passed record": {
			link:       &fakeLink{connected: false},
			prior:      recordAt(1),
			rec:        recordAt(7),
			expOffline: []float64{7},
			expLast:    1,
		},
		"disconnected with empty record writes last known": {
			link:       &fakeLink{connected: false},
			prior:      recordAt(2),
			rec:        &game.PlayerRecord{},
			expOffline: []float64{2},
			expLast:    2,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			local := &fakeLocal{}
			r := NewReconciler(storage.ModeMultiplayer, "ash", nil, local, &fakeLink{connected: true})
			if tt.prior != nil {
				if err := r.SavePlayerState(context.Background(), tt.prior); err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
			}
			r.SetLink(tt.link)

			if err := r.SavePlayerState(context.Background(), tt.rec); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			testutil.AssertEqual(t, "sent", len(tt.link.sent), tt.expSent)
			testutil.AssertEqual(t, "offline saves", len(local.saved), len(tt.expOffline))
			for i, x := range tt.expOffline {
				testutil.AssertEqual(t, fmt.Sprintf("offline %d x", i), local.saved[i].X, x)
			}
			testutil.AssertEqual(t, "last known x", r.LastKnownState().X, tt.expLast)
		})
	}
}

func TestReconciler_FallbackFailureReported(t *testing.T) {
	local := &fakeLocal{err: fmt.Errorf("disk full")}
	r := NewReconciler(storage.ModeMultiplayer, "ash", nil, local, &fakeLink{connected: true, sendErr: fmt.Errorf("timeout")})

	err := r.SavePlayerState(context.Background(), recordAt(1))
	testutil.AssertErrorContains(t, err, "timeout")
	testutil.AssertErrorContains(t, err, "disk full")
}

func TestReconciler_OnDisconnect(t *testing.T) {
	local := &fakeLocal{}
	link := &fakeLink{connected: true}
	r := NewReconciler(storage.ModeMultiplayer, "ash", nil, local, link)
	ctx := context.Background()

	// Nothing known yet, so nothing is written.
	r.OnDisconnect(ctx)
	testutil.AssertEqual(t, "nothing to save", len(local.saved), 0)

	r.SetLink(link)
	if err := r.SavePlayerState(ctx, recordAt(9)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	r.OnDisconnect(ctx)
	testutil.AssertEqual(t, "saved on disconnect", len(local.saved), 1)
	testutil.AssertEqual(t, "saved state", local.saved[0].X, 9.0)

	// The link is gone: further saves go offline without touching it.
	if err := r.SavePlayerState(ctx, recordAt(10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "sends", len(link.sent), 1)
	testutil.AssertEqual(t, "offline after disconnect", len(local.saved), 2)
}

func TestReconciler_LastKnownStateIsCopy(t *testing.T) {
	r := NewReconciler(storage.ModeMultiplayer, "ash", nil, &fakeLocal{}, &fakeLink{connected: true})
	rec := recordAt(4)
	if err := r.SavePlayerState(context.Background(), rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec.X = 40
	got := r.LastKnownState()
	got.X = 400
	testutil.AssertEqual(t, "isolated", r.LastKnownState().X, 4.0)
}

func TestReconciler_EmptyStateKeepsLastKnown(t *testing.T) {
	local := &fakeLocal{}
	r := NewReconciler(storage.ModeMultiplayer, "ash", nil, local, &fakeLink{connected: true})
	ctx := context.Background()

	if err := r.SavePlayerState(ctx, recordAt(9)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.SavePlayerState(ctx, &game.PlayerRecord{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.AssertEqual(t, "last known", r.LastKnownState().X, 9.0)

	r.OnDisconnect(ctx)
	testutil.AssertEqual(t, "saved on disconnect", len(local.saved), 1)
	testutil.AssertEqual(t, "offline x", local.saved[0].X, 9.0)
}
