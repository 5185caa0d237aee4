// Package records holds the persisted document types of the link
// shortener: users, their links, short-lived sessions and suspicious-IP
// flags. All of them live in the keyed TTL store; records that must
// disappear on their own (sessions, suspicious-IP flags) do so via store
// expiry, never via an explicit deletion sweep.
package records

import (
	"context"
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"strings"
	"time"

	"github.com/uvensys/linkgate"
	"github.com/uvensys/linkgate/lib/store"
)

// Role values for User.Role.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// User is an account record, keyed by email.
type User struct {
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

// Session is a signed-in user's server-side session state, keyed by its
// token. Sessions expire six minutes after the last refresh.
type Session struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	LinkSlug  string    `json:"link,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Link is a shortened link, keyed by slug and owned by a user.
type Link struct {
	Slug      string    `json:"slug"`
	TargetURL string    `json:"targetUrl"`
	Owner     string    `json:"owner"`
	CreatedAt time.Time `json:"createdAt"`
}

// SuspiciousIP flags a client address that kept hammering a protected
// endpoint after being rate limited. Flags expire on their own after 24
// hours.
type SuspiciousIP struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason"`
	Count     int       `json:"count"`
	FlaggedAt time.Time `json:"flaggedAt"`
}

// Store gives every record type a typed, prefixed view over one shared
// backend.
type Store struct {
	Users         *store.JSON[User]
	Sessions      *store.JSON[Session]
	Links         *store.JSON[Link]
	SuspiciousIPs *store.JSON[SuspiciousIP]
}

func New(backing store.Interface) *Store {
	return &Store{
		Users:         &store.JSON[User]{Underlying: backing, Prefix: "linkgate:user:"},
		Sessions:      &store.JSON[Session]{Underlying: backing, Prefix: "linkgate:session:"},
		Links:         &store.JSON[Link]{Underlying: backing, Prefix: "linkgate:link:"},
		SuspiciousIPs: &store.JSON[SuspiciousIP]{Underlying: backing, Prefix: "linkgate:susip:"},
	}
}

// CreateUser inserts a user, enforcing email uniqueness through the
// store. Users do not expire.
func (s *Store) CreateUser(ctx context.Context, u User) error {
	if u.Role == "" {
		u.Role = RoleUser
	}
	return s.Users.Add(ctx, strings.ToLower(u.Email), u, 0)
}

func (s *Store) UserByEmail(ctx context.Context, email string) (User, error) {
	return s.Users.Get(ctx, strings.ToLower(email))
}

// CreateSession inserts a session under its token with the standard
// session TTL. Token collisions surface as store.ErrAlreadyExists.
func (s *Store) CreateSession(ctx context.Context, sess Session) error {
	return s.Sessions.Add(ctx, sess.Token, sess, linkgate.SessionTTL)
}

func (s *Store) SessionByToken(ctx context.Context, token string) (Session, error) {
	return s.Sessions.Get(ctx, token)
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	return s.Sessions.Delete(ctx, token)
}

// AttachLink records the link a session most recently created. Rewriting
// the record restarts the session TTL, which is fine: attaching a link is
// exactly the kind of activity that should keep a session alive.
func (s *Store) AttachLink(ctx context.Context, token, slug string) error {
	sess, err := s.Sessions.Get(ctx, token)
	if err != nil {
		return fmt.Errorf("can't attach link %q to session: %w", slug, err)
	}

	sess.LinkSlug = slug

	if err := s.Sessions.Set(ctx, token, sess, linkgate.SessionTTL); err != nil {
		return fmt.Errorf("can't attach link %q to session: %w", slug, err)
	}

	return nil
}

// CreateLink inserts a link, enforcing slug uniqueness. Links do not
// expire.
func (s *Store) CreateLink(ctx context.Context, l Link) error {
	return s.Links.Add(ctx, l.Slug, l, 0)
}

func (s *Store) LinkBySlug(ctx context.Context, slug string) (Link, error) {
	return s.Links.Get(ctx, slug)
}

// FlagSuspicious records (or re-records) a suspicious-IP flag, bumping
// the offense count and restarting the 24 hour decay window. Returns the
// updated count.
func (s *Store) FlagSuspicious(ctx context.Context, ip, reason string) (int, error) {
	flag, err := s.SuspiciousIPs.Get(ctx, ip)
	if err != nil {
		flag = SuspiciousIP{IP: ip, FlaggedAt: time.Now()}
	}

	flag.Count++
	flag.Reason = reason

	if err := s.SuspiciousIPs.Set(ctx, ip, flag, linkgate.SuspiciousIPTTL); err != nil {
		return 0, fmt.Errorf("can't flag %s as suspicious: %w", ip, err)
	}

	return flag.Count, nil
}

func (s *Store) IsSuspicious(ctx context.Context, ip string) bool {
	_, err := s.SuspiciousIPs.Get(ctx, ip)
	return err == nil
}

// NewSlug returns a short random slug for auto-generated links.
func NewSlug() (string, error) {
	raw := make([]byte, 5)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("can't generate slug: %w", err)
	}

	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw)), nil
}
