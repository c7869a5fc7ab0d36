// Package remote talks to the hosted timeline store: sessions, the per-owner
// timeline documents, the share index and the live push feed.
package remote

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/astromechza/timeline/pkg/timeline"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidEmail = errors.New("enter email")
)

type Identity struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

type Credentials struct {
	Identity
	Token string `json:"token"`
}

// Share points a viewer email at the owner whose timeline they may load.
type Share struct {
	OwnerUID   string    `json:"ownerUid"`
	OwnerEmail string    `json:"ownerEmail"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NormalizeEmail trims and lowercases an email so it can be used as a share key.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", ErrInvalidEmail
	}
	return email, nil
}

type Listener struct {
	OnDocument func(doc *timeline.Document)
	// OnError is called once when the feed breaks. It is not called after Close.
	OnError func(err error)
}

type Subscription interface {
	Close() error
}

// Store is the subset of the hosted service used by a client session.
type Store interface {
	SignIn(ctx context.Context, email string) (*Credentials, error)
	SignOut(ctx context.Context, token string) error
	GetTimeline(ctx context.Context, token, ownerUID string) (*timeline.Document, error)
	PutTimeline(ctx context.Context, token, ownerUID string, entries []timeline.Entry) (*timeline.Document, error)
	PutShare(ctx context.Context, token, viewerEmail string) (*Share, error)
	GetShare(ctx context.Context, token, viewerEmail string) (*Share, error)
	Subscribe(ctx context.Context, token, ownerUID string, l Listener) (Subscription, error)
}
