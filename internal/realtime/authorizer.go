package realtime

import (
	"context"
	"errors"
	"strings"

	"github.com/beacon-im/beacon/internal/auth"
	"github.com/beacon-im/beacon/internal/store"
)

// ErrForbidden is returned when an identity may not join a channel.
var ErrForbidden = errors.New("channel forbidden")

// Authorizer decides whether an identity may subscribe to a channel.
type Authorizer interface {
	Authorize(ctx context.Context, id auth.Identity, channel string) error
}

// MembershipAuthorizer grants a personal channel only to its owner and a
// conversation channel only to the conversation's members.
type MembershipAuthorizer struct {
	Store *store.Store
}

// Authorize implements Authorizer.
func (a *MembershipAuthorizer) Authorize(ctx context.Context, id auth.Identity, channel string) error {
	if email, ok := strings.CutPrefix(channel, "user:"); ok {
		if email != id.Email {
			return ErrForbidden
		}
		return nil
	}

	if conversationID, ok := strings.CutPrefix(channel, "conversation:"); ok {
		member, err := a.Store.IsMember(ctx, conversationID, id.UserID)
		if err != nil {
			return err
		}
		if !member {
			return ErrForbidden
		}
		return nil
	}

	return ErrForbidden
}
