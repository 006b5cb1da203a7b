// Package guard implements the admission check run before any handler:
// administrators always pass, everyone else must be whitelisted.
package guard

import (
	"context"
	"strconv"
	"strings"
)

// DeniedMessage is the fixed reply sent when admission fails. Nothing else
// happens for a denied sender: no handler runs, no state is mutated.
const DeniedMessage = "⛔ You do not have access to this bot. Contact an administrator."

// WhitelistChecker answers whether a handle has been granted access. The
// document store satisfies this.
type WhitelistChecker interface {
	IsAllowed(ctx context.Context, username string) (bool, error)
}

type Guard struct {
	admins map[int64]bool
	allow  WhitelistChecker
}

func New(adminIDs []int64, allow WhitelistChecker) *Guard {
	admins := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		admins[id] = true
	}
	return &Guard{admins: admins, allow: allow}
}

// IsAdmin reports whether userID belongs to the static administrator set.
func (g *Guard) IsAdmin(userID int64) bool {
	return g.admins[userID]
}

// Check applies the admission rule in order: administrator set first, then
// the whitelist. The whitelist lookup uses the sender key, so users
// without a handle are matched by their numeric identity.
func (g *Guard) Check(ctx context.Context, userID int64, username string) (bool, error) {
	if g.IsAdmin(userID) {
		return true, nil
	}
	if g.allow == nil {
		return false, nil
	}
	return g.allow.IsAllowed(ctx, SenderKey(userID, username))
}

// SenderKey is the stable identifier for a sender: the display handle when
// present, otherwise the numeric user id in decimal.
func SenderKey(userID int64, username string) string {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username != "" {
		return username
	}
	return strconv.FormatInt(userID, 10)
}
