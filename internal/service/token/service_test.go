package token

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/zhouzirui/z-meet/backend/internal/apperr"
	"github.com/zhouzirui/z-meet/backend/internal/platform"
)

type fakeIssuer struct {
	users     []platform.UserRequest
	upsertErr error
	signErr   error

	issuedAt, expiresAt time.Time
}

func (f *fakeIssuer) UpsertUsers(_ context.Context, users ...platform.UserRequest) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.users = append(f.users, users...)
	return nil
}

func (f *fakeIssuer) CreateToken(userID string, issuedAt, expiresAt time.Time) (string, error) {
	if f.signErr != nil {
		return "", f.signErr
	}
	f.issuedAt, f.expiresAt = issuedAt, expiresAt
	return "signed-" + userID, nil
}

var userIDPattern = regexp.MustCompile(`^alice-\d+$`)

func TestIssueTrimsAndSlugs(t *testing.T) {
	issuer := &fakeIssuer{}
	svc := NewService(issuer, "public-key")

	grant, err := svc.Issue(context.Background(), "  Alice  ")
	if err != nil {
		t.Fatalf("Issue err: %v", err)
	}
	if !userIDPattern.MatchString(grant.UserID) {
		t.Fatalf("unexpected user id %q", grant.UserID)
	}
	if grant.Name != "Alice" || grant.APIKey != "public-key" {
		t.Fatalf("unexpected grant %+v", grant)
	}
	if len(issuer.users) != 1 || issuer.users[0].Role != "admin" || issuer.users[0].ID != grant.UserID {
		t.Fatalf("unexpected registration %+v", issuer.users)
	}
}

func TestIssueRegistersEveryCall(t *testing.T) {
	issuer := &fakeIssuer{}
	tick := time.Unix(1_700_000_000, 0)
	svc := NewService(issuer, "k").WithClock(func() time.Time {
		tick = tick.Add(time.Millisecond)
		return tick
	})

	first, _ := svc.Issue(context.Background(), "Alice")
	second, _ := svc.Issue(context.Background(), "Alice")

	if len(issuer.users) != 2 {
		t.Fatalf("expected two registrations, got %d", len(issuer.users))
	}
	if first.UserID == second.UserID {
		t.Fatalf("expected distinct ids, got %s twice", first.UserID)
	}
}

func TestIssueRejectsBlankNames(t *testing.T) {
	issuer := &fakeIssuer{}
	svc := NewService(issuer, "k")

	for _, name := range []string{"", "   ", "\t\n"} {
		_, err := svc.Issue(context.Background(), name)
		if !errors.Is(err, ErrNameRequired) {
			t.Fatalf("name %q: expected ErrNameRequired, got %v", name, err)
		}
		if apperr.KindOf(err) != apperr.KindValidation {
			t.Fatalf("name %q: expected validation kind", name)
		}
	}
	if len(issuer.users) != 0 {
		t.Fatal("no user should be registered for blank names")
	}
}

func TestIssueDownstreamFailuresAreInternal(t *testing.T) {
	cause := errors.New("registry down")
	for name, issuer := range map[string]*fakeIssuer{
		"register": {upsertErr: cause},
		"sign":     {signErr: cause},
	} {
		_, err := NewService(issuer, "k").Issue(context.Background(), "Bob")
		if apperr.KindOf(err) != apperr.KindInternal {
			t.Fatalf("%s: expected internal kind, got %v", name, err)
		}
		if got := apperr.PublicMessage(err, ""); got != "Failed to generate token" {
			t.Fatalf("%s: unexpected public message %q", name, got)
		}
		if !errors.Is(err, cause) {
			t.Fatalf("%s: cause should be wrapped", name)
		}
	}
}

func TestIssueWindow(t *testing.T) {
	issuer := &fakeIssuer{}
	now := time.Unix(1_700_000_000, 0)
	grant, err := NewService(issuer, "k").WithClock(func() time.Time { return now }).Issue(context.Background(), "Alice")
	if err != nil {
		t.Fatalf("Issue err: %v", err)
	}

	if d := now.Sub(issuer.issuedAt); d != 60*time.Second {
		t.Fatalf("issuedAt should be 60s before now, got %s", d)
	}
	if d := issuer.expiresAt.Sub(now); d != 86400*time.Second {
		t.Fatalf("expiresAt should be 86400s after now, got %s", d)
	}
	if !grant.Credential.IssuedAt.Before(now) || !now.Before(grant.Credential.ExpiresAt) {
		t.Fatal("credential window must contain issuance time")
	}
	if grant.UserID != "alice-1700000000000" {
		t.Fatalf("unexpected user id %s", grant.UserID)
	}
}

func TestUserIDCollapsesWhitespace(t *testing.T) {
	got := UserID("Mary  Jane\tWatson", time.UnixMilli(42))
	if got != "mary-jane-watson-42" {
		t.Fatalf("unexpected slug %q", got)
	}
}
