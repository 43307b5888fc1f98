package license

//go:generate mockgen -source=store.go -destination=mock_store_test.go -package=license

import (
	"context"
	"errors"
	"time"

	"smallbiznis-licensing/pkg/db/pagination"
)

var (
	ErrNotFound = errors.New("license: not found")
	// ErrPreconditionFailed means a guarded update matched no row: the
	// license was revoked or bound to another machine after it was read.
	ErrPreconditionFailed = errors.New("license: precondition failed")
	ErrDuplicateKey       = errors.New("license: duplicate license key")
)

// Store persists licenses. Implementations return ErrNotFound,
// ErrPreconditionFailed and ErrDuplicateKey for the matching outcomes and an
// errutil.StatusServiceUnavailable error for any infrastructure failure.
type Store interface {
	Insert(ctx context.Context, l *License) (int64, error)
	GetByID(ctx context.Context, id int64) (*License, error)
	GetByKey(ctx context.Context, key string) (*License, error)
	Update(ctx context.Context, key string, patch Patch) error
	List(ctx context.Context, filter ListFilter) ([]*License, *pagination.PageInfo, error)
	Count(ctx context.Context, filter ListFilter) (int64, error)
	// MarkExpired stores status=expired on pending or active rows whose
	// expiry passed before now. Revoked rows are never touched.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	Ping(ctx context.Context) error
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Status              *LicenseStatus
	ActivatedAt         *time.Time
	HardwareFingerprint *string
	OfflineLicenseFile  *string
	RevokedAt           *time.Time

	// BindTo guards the update: it applies only while the row is not revoked
	// and is unbound or already bound to BindTo.
	BindTo *string
}

// ListFilter selects licenses. Status matches the effective status as of
// AsOf, so a stored active row past its expiry is listed as expired.
type ListFilter struct {
	Type        LicenseType
	Status      LicenseStatus
	CompanyName string

	// ExpiringWithin selects non-revoked licenses expiring in
	// (AsOf, AsOf+ExpiringWithin].
	ExpiringWithin time.Duration

	AsOf   time.Time
	Limit  int
	Cursor string
}
