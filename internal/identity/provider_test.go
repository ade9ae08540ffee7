package identity

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestSignInStableAcrossProviders(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity")
	ctx := context.Background()

	p1 := New(path, zap.NewNop())
	id1, err := p1.SignInAnonymous(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id1 == "" {
		t.Fatal("empty user id")
	}

	// A fresh provider over the same session dir is the same user.
	p2 := New(path, zap.NewNop())
	id2, err := p2.SignInAnonymous(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id2 != id1 {
		t.Errorf("second sign-in id = %q, want %q", id2, id1)
	}
}

func TestSignInRecoversCorruptIdentity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity")
	if err := os.WriteFile(path, []byte("not-a-uuid"), 0600); err != nil {
		t.Fatal(err)
	}

	p := New(path, zap.NewNop())
	id, err := p.SignInAnonymous(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if id == "not-a-uuid" || id == "" {
		t.Errorf("got %q, want a fresh uuid", id)
	}
}

func TestOnAuthChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity")
	p := New(path, zap.NewNop())

	var before, after string
	p.OnAuthChange(func(id string) { before = id })

	want, err := p.SignInAnonymous(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if before != want {
		t.Errorf("callback registered before sign-in got %q, want %q", before, want)
	}

	// Late registration fires immediately.
	p.OnAuthChange(func(id string) { after = id })
	if after != want {
		t.Errorf("callback registered after sign-in got %q, want %q", after, want)
	}
	if p.CurrentUser() != want {
		t.Errorf("CurrentUser() = %q, want %q", p.CurrentUser(), want)
	}
}
