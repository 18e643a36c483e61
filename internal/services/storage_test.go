package services_test

import (
	"context"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/oogiv/oogiv-web/internal/services"
	"github.com/oogiv/oogiv-web/internal/session"
)

type sessionStore interface {
	Session(sessionID string) session.Storage
}

func TestSessionStorage(t *testing.T) {
	stores := []struct {
		name string
		open func(t *testing.T) sessionStore
	}{
		{
			name: "BoltDB",
			open: func(t *testing.T) sessionStore {
				db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "oogiv.db"))
				if err != nil {
					t.Fatalf("NewBoltDB() error = %v", err)
				}
				t.Cleanup(func() { _ = db.Close() })
				return db
			},
		},
		{
			name: "Redis",
			open: func(t *testing.T) sessionStore {
				mr := miniredis.RunT(t)
				r := services.NewRedis(mr.Addr(), "", 0, time.Hour)
				t.Cleanup(func() { _ = r.Close() })
				return r
			},
		},
		{
			name: "Memory",
			open: func(*testing.T) sessionStore {
				return services.NewMemory()
			},
		},
	}

	for _, st := range stores {
		t.Run(st.name, func(t *testing.T) {
			ctx := context.Background()
			store := st.open(t)
			a, b := store.Session("a"), store.Session("b")

			if _, ok, err := a.Get(ctx, session.KeyMessages); err != nil || ok {
				t.Fatalf("Get() on empty session = %v, %v", ok, err)
			}
			if err := a.Delete(ctx, session.KeyMessages); err != nil {
				t.Errorf("Delete() on empty session error = %v", err)
			}

			if err := a.Set(ctx, session.KeyMessages, `[{"id":1}]`); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if err := a.Set(ctx, session.KeyMaterialsProcessed, "true"); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if err := b.Set(ctx, session.KeyMaterialsProcessed, "false"); err != nil {
				t.Fatalf("Set() error = %v", err)
			}

			v, ok, err := a.Get(ctx, session.KeyMessages)
			if err != nil || !ok || v != `[{"id":1}]` {
				t.Errorf("Get() = %q, %v, %v", v, ok, err)
			}
			if v, _, _ := b.Get(ctx, session.KeyMaterialsProcessed); v != "false" {
				t.Errorf("sessions should be isolated, got %q", v)
			}

			if err := a.Set(ctx, session.KeyMessages, "[]"); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			if v, _, _ := a.Get(ctx, session.KeyMessages); v != "[]" {
				t.Errorf("overwritten value = %q, want []", v)
			}

			if err := a.Delete(ctx, session.KnownKeys...); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			for _, key := range session.KnownKeys {
				if _, ok, _ := a.Get(ctx, key); ok {
					t.Errorf("%s should be deleted", key)
				}
			}
			if _, ok, _ := b.Get(ctx, session.KeyMaterialsProcessed); !ok {
				t.Error("deleting keys of one session should not touch another")
			}
		})
	}
}

func TestBoltDBSessions(t *testing.T) {
	ctx := context.Background()
	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "oogiv.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for _, id := range []string{"satu", "dua"} {
		if err := db.Session(id).Set(ctx, session.KeyMaterialSource, "upload"); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := db.Sessions(ctx)
	if err != nil {
		t.Fatalf("Sessions() error = %v", err)
	}
	slices.Sort(ids)
	if !slices.Equal(ids, []string{"dua", "satu"}) {
		t.Errorf("Sessions() = %v", ids)
	}

	if err := db.DeleteSession(ctx, "satu"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if err := db.DeleteSession(ctx, "tidak-ada"); err != nil {
		t.Errorf("DeleteSession() on unknown session error = %v", err)
	}
	if _, ok, _ := db.Session("satu").Get(ctx, session.KeyMaterialSource); ok {
		t.Error("deleted session should have no keys")
	}
}

func TestRedisExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	r := services.NewRedis(mr.Addr(), "", 0, time.Minute)
	defer r.Close()

	if err := r.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	s := r.Session("x")
	if err := s.Set(ctx, session.KeyYouTubeURL, "https://youtu.be/abc"); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("oogiv:session:x:" + session.KeyYouTubeURL) {
		t.Fatal("key should be namespaced by session")
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, err := s.Get(ctx, session.KeyYouTubeURL); err != nil || ok {
		t.Errorf("expired key Get() = %v, %v", ok, err)
	}
}
