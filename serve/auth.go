package serve

import (
	"sync"
	"time"

	relay "github.com/halden1427/gorelay"
)

// PermLevel orders user permissions: guest < user < admin.
type PermLevel int

const (
	PermGuest PermLevel = iota
	PermUser
	PermAdmin
)

func (l PermLevel) String() string {
	switch l {
	case PermAdmin:
		return "admin"
	case PermUser:
		return "user"
	default:
		return "guest"
	}
}

// Repeated unauthorized attempts lock a user out for a while.
const (
	maxFailedAttempts = 5
	lockoutDuration   = 15 * time.Minute
)

// Auth resolves a Telegram user ID to a permission level and tracks
// failed authorization attempts.
type Auth struct {
	mu           sync.Mutex
	allowUnknown bool
	admins       map[int64]struct{}
	users        map[int64]struct{}
	failures     map[int64]int
	lockedUntil  map[int64]time.Time

	// now is the clock; replaced in tests.
	now func() time.Time
}

// NewAuth creates an Auth from the permissions config.
func NewAuth(perms relay.PermissionsConfig) *Auth {
	a := &Auth{
		failures:    make(map[int64]int),
		lockedUntil: make(map[int64]time.Time),
		now:         time.Now,
	}
	a.Update(perms)
	return a
}

// Update replaces the allowlists, for config hot reload. Failure counts
// and active lockouts are kept.
func (a *Auth) Update(perms relay.PermissionsConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.allowUnknown = perms.AllowUnknownUsers
	a.admins = make(map[int64]struct{}, len(perms.Admins))
	for _, id := range perms.Admins {
		a.admins[id] = struct{}{}
	}
	a.users = make(map[int64]struct{}, len(perms.Users))
	for _, id := range perms.Users {
		a.users[id] = struct{}{}
	}
}

// Level returns the user's permission level. ok is false when the user
// is unknown and unknown users are not allowed.
func (a *Auth) Level(userID int64) (level PermLevel, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, isAdmin := a.admins[userID]; isAdmin {
		return PermAdmin, true
	}
	if _, isUser := a.users[userID]; isUser {
		return PermUser, true
	}
	if a.allowUnknown {
		return PermGuest, true
	}
	return PermGuest, false
}

// LockedOut reports whether the user is currently locked out and for how
// much longer.
func (a *Auth) LockedOut(userID int64) (time.Duration, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	until, ok := a.lockedUntil[userID]
	if !ok {
		return 0, false
	}
	remaining := until.Sub(a.now())
	if remaining <= 0 {
		delete(a.lockedUntil, userID)
		delete(a.failures, userID)
		return 0, false
	}
	return remaining, true
}

// RecordFailure counts one unauthorized attempt. It returns true when
// this attempt triggers a lockout.
func (a *Auth) RecordFailure(userID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.failures[userID]++
	if a.failures[userID] < maxFailedAttempts {
		return false
	}
	a.lockedUntil[userID] = a.now().Add(lockoutDuration)
	return true
}

// ResetFailures clears the failure count after a successful authorized
// action.
func (a *Auth) ResetFailures(userID int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.failures, userID)
}
