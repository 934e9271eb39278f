package quota

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Namespace discriminates the two identity classes. Records of different
// namespaces never share storage keys.
type Namespace string

const (
	// NamespaceGuest holds records keyed by a client-supplied fingerprint.
	NamespaceGuest Namespace = "guest"

	// NamespaceUser holds records keyed by an account's primary key.
	NamespaceUser Namespace = "user"
)

// Namespaces lists every namespace in a stable order.
var Namespaces = []Namespace{NamespaceGuest, NamespaceUser}

// ParseNamespace converts a string into a Namespace.
func ParseNamespace(s string) (Namespace, error) {
	switch Namespace(s) {
	case NamespaceGuest, NamespaceUser:
		return Namespace(s), nil
	default:
		return "", fmt.Errorf("unknown namespace %q", s)
	}
}

// UserKeyPrefix is prepended to user ids to build their wire-level key.
const UserKeyPrefix = "user:"

// Identity is the unit of quota accounting.
type Identity struct {
	Namespace Namespace
	ID        string
}

// Guest returns the identity of an anonymous client.
func Guest(fingerprint string) Identity {
	return Identity{Namespace: NamespaceGuest, ID: fingerprint}
}

// User returns the identity of an authenticated account.
func User(userID string) Identity {
	return Identity{Namespace: NamespaceUser, ID: userID}
}

// Key returns the wire-level identity key: "user:<id>" for users and the raw
// fingerprint for guests.
func (i Identity) Key() string {
	if i.Namespace == NamespaceUser {
		return UserKeyPrefix + i.ID
	}
	return i.ID
}

// IsGuest reports whether the identity is anonymous.
func (i Identity) IsGuest() bool {
	return i.Namespace == NamespaceGuest
}

// String implements fmt.Stringer.
func (i Identity) String() string {
	return string(i.Namespace) + "/" + i.Key()
}

// Record is the persisted usage state of one identity.
type Record struct {
	// Namespace and Key together form the unique storage key.
	Namespace Namespace
	Key       string

	// WindowStart is when the current counting window began.
	WindowStart time.Time

	// Used is the number of units consumed in the current window.
	Used int64

	// Limit is the ceiling configured for the namespace when the record was
	// last reconciled.
	Limit int64

	// LastRequest is the time of the last write. Only meaningful for guests,
	// where it drives store-level expiry.
	LastRequest time.Time
}

// NewRecord returns a record for a window that starts at now with the given
// usage already counted.
func NewRecord(id Identity, now time.Time, used, limit int64) *Record {
	return &Record{
		Namespace:   id.Namespace,
		Key:         id.Key(),
		WindowStart: now,
		Used:        used,
		Limit:       limit,
		LastRequest: now,
	}
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Validate checks the structural invariants a backend relies on.
func (r *Record) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: record is nil", ErrInvalidRecord)
	}
	if r.Key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidRecord)
	}
	if _, err := ParseNamespace(string(r.Namespace)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if r.Used < 0 {
		return fmt.Errorf("%w: used must be non-negative, got %d", ErrInvalidRecord, r.Used)
	}
	return nil
}

// UpdateFunc receives the current record (nil if absent) and returns the
// record to persist, or nil to leave the store untouched.
type UpdateFunc func(current *Record) (*Record, error)

// Store persists quota records. Implementations must make Update atomic per
// record; nothing else is required to be transactional.
type Store interface {
	// Load returns the record for the key, or nil if none exists.
	Load(ctx context.Context, ns Namespace, key string) (*Record, error)

	// Save creates or overwrites a record.
	Save(ctx context.Context, record *Record) error

	// Update performs an atomic read-modify-write of a single record and
	// returns the record as stored afterwards (nil if absent).
	Update(ctx context.Context, ns Namespace, key string, fn UpdateFunc) (*Record, error)

	// Delete removes a record. Deleting a missing record is not an error.
	Delete(ctx context.Context, ns Namespace, key string) error

	// List returns every record in a namespace.
	List(ctx context.Context, ns Namespace) ([]*Record, error)

	// Cleanup deletes records in a namespace whose window started before
	// the cutoff and returns how many were removed.
	Cleanup(ctx context.Context, ns Namespace, before time.Time) (int, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}

var (
	// ErrStoreUnavailable wraps failures to reach the backing store.
	ErrStoreUnavailable = errors.New("quota store unavailable")

	// ErrConflict is returned when an atomic update lost a race it could not
	// resolve.
	ErrConflict = errors.New("quota record update conflict")

	// ErrInvalidRecord is returned when a record violates its invariants.
	ErrInvalidRecord = errors.New("invalid quota record")
)
