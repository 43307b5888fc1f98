package license

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/db/option"
	"smallbiznis-licensing/pkg/db/pagination"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultStoreTimeout = 5 * time.Second

// GormStore is the relational Store. Every call runs under the configured
// store timeout.
type GormStore struct {
	db       *gorm.DB
	licenses repository.Repository[License]
	node     *snowflake.Node
	timeout  time.Duration
}

type StoreParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Config *config.Config
}

func NewGormStore(p StoreParams) *GormStore {
	timeout := p.Config.License.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}

	return &GormStore{
		db:       p.DB,
		licenses: repository.ProvideStore[License](p.DB),
		node:     p.Node,
		timeout:  timeout,
	}
}

func (s *GormStore) Insert(ctx context.Context, l *License) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if l.ID == 0 {
		l.ID = s.node.Generate().Int64()
	}

	if err := s.licenses.Create(ctx, l); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, ErrDuplicateKey
		}
		return 0, unavailable("failed to insert license", err)
	}

	return l.ID, nil
}

func (s *GormStore) GetByID(ctx context.Context, id int64) (*License, error) {
	if id == 0 {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, &License{ID: id})
}

func (s *GormStore) GetByKey(ctx context.Context, key string) (*License, error) {
	if key == "" {
		return nil, ErrNotFound
	}
	return s.findOne(ctx, &License{LicenseKey: key})
}

func (s *GormStore) findOne(ctx context.Context, query *License) (*License, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	l, err := s.licenses.FindOne(ctx, query)
	if err != nil {
		return nil, unavailable("failed to get license", err)
	}
	if l == nil {
		return nil, ErrNotFound
	}
	return l, nil
}

// Update writes patch to the row identified by key. With BindTo set the
// revoked and fingerprint checks run inside the same UPDATE statement, so a
// concurrent revoke or a second machine cannot be overwritten.
func (s *GormStore) Update(ctx context.Context, key string, patch Patch) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	values := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Status != nil {
		values["status"] = *patch.Status
	}
	if patch.ActivatedAt != nil {
		values["activated_at"] = *patch.ActivatedAt
	}
	if patch.HardwareFingerprint != nil {
		values["hardware_fingerprint"] = *patch.HardwareFingerprint
	}
	if patch.OfflineLicenseFile != nil {
		values["offline_license_file"] = *patch.OfflineLicenseFile
	}
	if patch.RevokedAt != nil {
		values["revoked_at"] = *patch.RevokedAt
	}

	q := s.db.WithContext(ctx).Model(&License{}).Where("license_key = ?", key)
	if patch.BindTo != nil {
		q = q.Where("status <> ?", Revoked).
			Where("(hardware_fingerprint IS NULL OR hardware_fingerprint = ?)", *patch.BindTo)
	}

	res := q.Updates(values)
	if res.Error != nil {
		return unavailable("failed to update license", res.Error)
	}
	if res.RowsAffected == 0 {
		if patch.BindTo != nil {
			return ErrPreconditionFailed
		}
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) List(ctx context.Context, filter ListFilter) ([]*License, *pagination.PageInfo, error) {
	if filter.Cursor != "" {
		if _, err := pagination.DecodeCursor(filter.Cursor); err != nil {
			return nil, nil, errutil.BadRequest("invalid cursor", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	limit := pagination.NormalizeLimit(filter.Limit)
	opts := append(filterOptions(filter), option.ApplyPagination(pagination.Pagination{
		Limit:  limit,
		Cursor: filter.Cursor,
	}))

	rows, err := s.licenses.Find(ctx, &License{}, opts...)
	if err != nil {
		return nil, nil, unavailable("failed to list licenses", err)
	}

	page, info := pagination.BuildCursorPageInfo(rows, limit, func(l *License) pagination.Cursor {
		return pagination.Cursor{ID: strconv.FormatInt(l.ID, 10)}
	})
	return page, info, nil
}

func (s *GormStore) Count(ctx context.Context, filter ListFilter) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := s.licenses.Count(ctx, &License{}, filterOptions(filter)...)
	if err != nil {
		return 0, unavailable("failed to count licenses", err)
	}
	return count, nil
}

func (s *GormStore) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res := s.db.WithContext(ctx).Model(&License{}).
		Where("status IN ?", []string{Pending.String(), Active.String()}).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Updates(map[string]any{"status": Expired, "updated_at": now})
	if res.Error != nil {
		return 0, unavailable("failed to mark expired licenses", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("failed to get database handle", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("database ping failed", err)
	}
	return nil
}

func filterOptions(f ListFilter) []option.QueryOption {
	asOf := f.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	var opts []option.QueryOption
	if f.Type != "" {
		opts = append(opts, option.ApplyOperator(option.Condition{Field: "type", Operator: option.EQ, Value: f.Type.String()}))
	}
	if f.CompanyName != "" {
		pattern := "%" + strings.ToLower(f.CompanyName) + "%"
		opts = append(opts, func(db *gorm.DB) *gorm.DB {
			return db.Where("LOWER(company_name) LIKE ?", pattern)
		})
	}
	if f.Status != "" {
		opts = append(opts, effectiveStatus(f.Status, asOf))
	}
	if f.ExpiringWithin > 0 {
		opts = append(opts,
			option.ApplyOperator(option.Condition{Field: "status", Operator: option.NEQ, Value: Revoked.String()}),
			option.ApplyOperator(option.Condition{Field: "expires_at", Operator: option.GT, Value: asOf}),
			option.ApplyOperator(option.Condition{Field: "expires_at", Operator: option.LTE, Value: asOf.Add(f.ExpiringWithin)}),
		)
	}
	return opts
}

// effectiveStatus matches rows by the status they read as at asOf rather
// than the stored column alone.
func effectiveStatus(status LicenseStatus, asOf time.Time) option.QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		switch status {
		case Pending, Active:
			return db.Where("status = ? AND (expires_at IS NULL OR expires_at >= ?)", status.String(), asOf)
		case Expired:
			return db.Where("(status = ? OR (status IN ? AND expires_at < ?))",
				Expired.String(), []string{Pending.String(), Active.String()}, asOf)
		case Revoked:
			return db.Where("status = ?", Revoked.String())
		default:
			_ = db.AddError(errutil.BadRequest("unknown status filter", nil))
			return db
		}
	}
}

func unavailable(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		zap.L().Warn("license store timed out", zap.String("op", msg))
		return errutil.ServiceUnavailable("license store timed out", err)
	}
	zap.L().Error(msg, zap.Error(err))
	return errutil.ServiceUnavailable("license store unavailable", err)
}
