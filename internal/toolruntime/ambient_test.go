package toolruntime_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/glyphoxa/internal/toolruntime"
)

type fakeSession struct {
	volume     int
	relative   bool
	ended      bool
	setVolErr  error
}

func (s *fakeSession) SetVolume(value int, relative bool) error {
	if s.setVolErr != nil {
		return s.setVolErr
	}
	s.volume, s.relative = value, relative
	return nil
}

func (s *fakeSession) RequestEnd() { s.ended = true }

func TestSessionFromContextNilWithoutBinding(t *testing.T) {
	if toolruntime.SessionFromContext(context.Background()) != nil {
		t.Error("expected nil session for a context without WithSession")
	}
}

func TestWithSessionRoundTrips(t *testing.T) {
	sess := &fakeSession{}
	ctx := toolruntime.WithSession(context.Background(), sess)

	got := toolruntime.SessionFromContext(ctx)
	if got != sess {
		t.Fatalf("SessionFromContext returned a different session")
	}
	if err := got.SetVolume(42, true); err != nil {
		t.Fatalf("SetVolume: %v", err)
	}
	if sess.volume != 42 || !sess.relative {
		t.Errorf("sess = %+v, want volume=42 relative=true", sess)
	}
}

func TestWithSessionErrorPropagates(t *testing.T) {
	sess := &fakeSession{setVolErr: errors.New("boom")}
	ctx := toolruntime.WithSession(context.Background(), sess)
	if err := toolruntime.SessionFromContext(ctx).SetVolume(1, false); err == nil {
		t.Fatal("expected error from SetVolume, got nil")
	}
}
