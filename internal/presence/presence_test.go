package presence

import (
	"context"
	"errors"
	"testing"

	"github.com/isikmuhamm/secure-industrial-messaging-platform/internal/models"
)

type fakeFetcher struct {
	users []models.User
	err   error
}

func (f *fakeFetcher) OnlineUsers(ctx context.Context, token string) ([]models.User, error) {
	return f.users, f.err
}

func TestRefreshReplacesSet(t *testing.T) {
	fetcher := &fakeFetcher{users: []models.User{
		{ID: 2, Username: "bob"},
		{ID: 3, Username: "carol"},
	}}
	tr := NewTracker(fetcher)

	if err := tr.Refresh(context.Background(), "token"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !tr.IsOnline(2) || !tr.IsOnline(3) {
		t.Error("Expected bob and carol online")
	}

	// The next refresh replaces the set in full, not incrementally.
	fetcher.users = []models.User{{ID: 3, Username: "carol"}}
	if err := tr.Refresh(context.Background(), "token"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if tr.IsOnline(2) {
		t.Error("Expected bob dropped by full replace")
	}
	if !tr.IsOnline(3) {
		t.Error("Expected carol still online")
	}
}

func TestDualLookupReadsOneSet(t *testing.T) {
	fetcher := &fakeFetcher{users: []models.User{{ID: 2, Username: "bob"}}}
	tr := NewTracker(fetcher)
	if err := tr.Refresh(context.Background(), "token"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if !tr.IsOnline(2) {
		t.Error("Expected lookup by id to succeed")
	}
	if !tr.IsOnlineUsername("bob") {
		t.Error("Expected lookup by username to succeed")
	}
	if tr.IsOnline(9) || tr.IsOnlineUsername("mallory") {
		t.Error("Unknown users must not read as online")
	}

	// Both views flip together on the next replace.
	fetcher.users = nil
	if err := tr.Refresh(context.Background(), "token"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if tr.IsOnline(2) || tr.IsOnlineUsername("bob") {
		t.Error("Expected both lookup forms cleared by the same replace")
	}
}

func TestRefreshFailureKeepsPreviousSet(t *testing.T) {
	fetcher := &fakeFetcher{users: []models.User{{ID: 2, Username: "bob"}}}
	tr := NewTracker(fetcher)
	if err := tr.Refresh(context.Background(), "token"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	fetcher.err = errors.New("boom")
	if err := tr.Refresh(context.Background(), "token"); err == nil {
		t.Fatal("Expected fetch error")
	}
	if !tr.IsOnline(2) {
		t.Error("Expected previous set kept on failure")
	}
}

func TestOnChangeFiresAfterRefresh(t *testing.T) {
	tr := NewTracker(&fakeFetcher{})
	fired := 0
	tr.OnChange(func() { fired++ })

	if err := tr.Refresh(context.Background(), "token"); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if fired != 1 {
		t.Errorf("Expected one change notification, got %d", fired)
	}
	if tr.LastRefreshed().IsZero() {
		t.Error("Expected refresh timestamp to be set")
	}
}
