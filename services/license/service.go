package license

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"smallbiznis-licensing/pkg/config"
	"smallbiznis-licensing/pkg/db/pagination"
	"smallbiznis-licensing/pkg/errutil"
	"smallbiznis-licensing/pkg/middleware"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// MaxDurationDays caps a term license at one hundred years.
const MaxDurationDays = 36500

const (
	defaultExpiringWindow = 30 * 24 * time.Hour
	maxKeyAttempts        = 3
)

var tracer = otel.Tracer("smallbiznis-licensing/services/license")

type Service struct {
	store    Store
	codec    *Codec
	notifier Notifier
	archive  Archiver

	static config.License
	live   func() *config.Config

	now func() time.Time
}

type ServiceParams struct {
	fx.In
	Config   *config.Config
	Store    Store
	Codec    *Codec
	Notifier Notifier `optional:"true"`
	Archiver Archiver `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		store:    p.Store,
		codec:    p.Codec,
		notifier: p.Notifier,
		archive:  p.Archiver,
		static:   p.Config.License,
		live:     config.Current,
		now:      func() time.Time { return time.Now().UTC() },
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	if s.archive == nil {
		s.archive = NopArchiver{}
	}
	return s
}

// settings returns the LICENSE section of the latest remote config snapshot,
// or the startup config when the process does not watch a remote source.
func (s *Service) settings() config.License {
	if cfg := s.live(); cfg != nil {
		return cfg.License
	}
	return s.static
}

func (s *Service) expiringWindow() time.Duration {
	if w := s.settings().ExpiringWindow; w > 0 {
		return w
	}
	return defaultExpiringWindow
}

func (s *Service) startSpan(ctx context.Context, name string) (context.Context, trace.Span, *zap.Logger) {
	ctx, span := tracer.Start(ctx, "license."+name)

	traceOpt := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("span_id", span.SpanContext().SpanID().String()),
		zap.String("channel", middleware.GetChannel(ctx)),
	}

	return ctx, span, zap.L().With(traceOpt...)
}

type IssueRequest struct {
	Type         LicenseType `json:"type" binding:"required"`
	CompanyName  string      `json:"company_name" binding:"required"`
	ContactEmail string      `json:"contact_email" binding:"required"`
	// DurationDays nil issues a perpetual license.
	DurationDays *int `json:"duration_days"`
}

func (r IssueRequest) validate() error {
	var details []errutil.Detail
	if !r.Type.IsValid() {
		details = append(details, errutil.Detail{Field: "type", Message: "must be one of trial, standard, professional, enterprise"})
	}
	if strings.TrimSpace(r.CompanyName) == "" {
		details = append(details, errutil.Detail{Field: "company_name", Message: "is required"})
	}
	if strings.TrimSpace(r.ContactEmail) == "" {
		details = append(details, errutil.Detail{Field: "contact_email", Message: "is required"})
	}
	if r.DurationDays != nil && (*r.DurationDays <= 0 || *r.DurationDays > MaxDurationDays) {
		details = append(details, errutil.Detail{Field: "duration_days", Message: fmt.Sprintf("must be between 1 and %d", MaxDurationDays)})
	}
	if len(details) > 0 {
		return errutil.BadRequest("invalid issue request", nil, errutil.WithDetails(details...))
	}
	return nil
}

// =========================================================
// Issue
// =========================================================
func (s *Service) Issue(ctx context.Context, req IssueRequest) (out *License, err error) {
	started := time.Now()
	ctx, span, zapLog := s.startSpan(ctx, "Issue")
	defer span.End()
	defer func() { recordResult("issue", nil, err, started) }()

	if err := req.validate(); err != nil {
		return nil, err
	}

	tier, _ := TierFor(req.Type)
	now := s.now()

	l := &License{
		Type:         req.Type,
		Status:       Pending,
		CompanyName:  strings.TrimSpace(req.CompanyName),
		ContactEmail: strings.TrimSpace(req.ContactEmail),
		IssuedAt:     now,
	}
	tier.apply(l)
	if req.DurationDays != nil {
		expiresAt := now.AddDate(0, 0, *req.DurationDays)
		l.ExpiresAt = &expiresAt
	}

	for attempt := 1; ; attempt++ {
		key, err := s.codec.GenerateKey(req.Type)
		if err != nil {
			return nil, err
		}
		l.LicenseKey = key

		if _, err = s.store.Insert(ctx, l); err == nil {
			break
		}
		if errors.Is(err, ErrDuplicateKey) && attempt < maxKeyAttempts {
			zapLog.Warn("license key collision, regenerating", zap.Int("attempt", attempt))
			l.ID = 0
			continue
		}
		if errors.Is(err, ErrDuplicateKey) {
			return nil, errutil.Conflict("failed to allocate a unique license key", err)
		}
		zapLog.Error("failed to insert license", zap.Error(err))
		return nil, err
	}

	span.SetAttributes(attribute.String("license.type", l.Type.String()))
	zapLog.Info("license issued",
		zap.Int64("license_id", l.ID),
		zap.String("license_type", l.Type.String()),
		zap.String("company_name", l.CompanyName),
	)

	s.publish(ctx, zapLog, newEvent(EventIssued, l, now))
	return l, nil
}

// =========================================================
// ActivateOnline
// =========================================================
func (s *Service) ActivateOnline(ctx context.Context, key, fingerprint string) (res *Result, err error) {
	started := time.Now()
	ctx, span, zapLog := s.startSpan(ctx, "ActivateOnline")
	defer span.End()
	defer func() { recordResult("activate_online", res, err, started) }()

	if key == "" || fingerprint == "" {
		return nil, errutil.BadRequest("license_key and fingerprint are required", nil)
	}

	l, err := s.store.GetByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return rejected(CodeNotFound, MsgNotFound), nil
	}
	if err != nil {
		zapLog.Error("failed to get license", zap.Error(err))
		return nil, err
	}

	now := s.now()
	if r := s.checkBindable(l, fingerprint, now); r != nil {
		zapLog.Info("license activation rejected", zap.Int64("license_id", l.ID), zap.String("code", r.Code.String()))
		return r, nil
	}

	if l.Status == Active && l.HardwareFingerprint != nil && !s.settings().RefreshActivatedAt {
		return succeeded(l), nil
	}

	res, err = s.bind(ctx, l, fingerprint, now)
	if err != nil {
		zapLog.Error("failed to activate license", zap.Error(err))
		return nil, err
	}
	if !res.Valid {
		return res, nil
	}

	zapLog.Info("license activated", zap.Int64("license_id", l.ID), zap.String("fingerprint", fingerprint))
	s.publish(ctx, zapLog, newEvent(EventActivated, res.License, now))
	return res, nil
}

// bind flips l to active on the machine identified by fingerprint through a
// guarded update. When the guard loses a race the row is re-read and the
// reason reported.
func (s *Service) bind(ctx context.Context, l *License, fingerprint string, now time.Time) (*Result, error) {
	status := Active
	patch := Patch{
		Status:              &status,
		HardwareFingerprint: &fingerprint,
		BindTo:              &fingerprint,
	}

	activatedAt := l.ActivatedAt
	if activatedAt == nil || s.settings().RefreshActivatedAt {
		activatedAt = &now
		patch.ActivatedAt = activatedAt
	}

	err := s.store.Update(ctx, l.LicenseKey, patch)
	switch {
	case errors.Is(err, ErrPreconditionFailed):
		return s.explainConflict(ctx, l.LicenseKey, fingerprint, now)
	case errors.Is(err, ErrNotFound):
		return rejected(CodeNotFound, MsgNotFound), nil
	case err != nil:
		return nil, err
	}

	l.Status = Active
	l.ActivatedAt = activatedAt
	l.HardwareFingerprint = &fingerprint
	l.UpdatedAt = now
	return succeeded(l), nil
}

// explainConflict re-reads a row whose guarded update matched nothing.
func (s *Service) explainConflict(ctx context.Context, key, fingerprint string, now time.Time) (*Result, error) {
	fresh, err := s.store.GetByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return rejected(CodeNotFound, MsgNotFound), nil
	}
	if err != nil {
		return nil, err
	}
	if fresh.Status == Revoked {
		return rejected(CodeRevoked, MsgRevoked), nil
	}
	if fresh.BoundToOther(fingerprint) {
		return rejected(CodeAlreadyBound, MsgAlreadyBound), nil
	}
	if fresh.IsExpired(now) {
		return rejected(CodeExpired, MsgExpired), nil
	}
	return nil, errutil.Conflict("license changed concurrently, retry", ErrPreconditionFailed)
}

// checkBindable returns a rejection when l cannot be bound to fingerprint.
func (s *Service) checkBindable(l *License, fingerprint string, now time.Time) *Result {
	switch {
	case l.Status == Revoked:
		return rejected(CodeRevoked, MsgRevoked)
	case l.IsExpired(now):
		return rejected(CodeExpired, MsgExpired)
	case l.BoundToOther(fingerprint):
		return rejected(CodeAlreadyBound, MsgAlreadyBound)
	}
	return nil
}

// =========================================================
// GenerateOfflineFile
// =========================================================
func (s *Service) GenerateOfflineFile(ctx context.Context, key, fingerprint string) (res *Result, err error) {
	started := time.Now()
	ctx, span, zapLog := s.startSpan(ctx, "GenerateOfflineFile")
	defer span.End()
	defer func() { recordResult("generate_offline_file", res, err, started) }()

	if key == "" || fingerprint == "" {
		return nil, errutil.BadRequest("license_key and fingerprint are required", nil)
	}

	l, err := s.store.GetByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return rejected(CodeNotFound, MsgNotFound), nil
	}
	if err != nil {
		zapLog.Error("failed to get license", zap.Error(err))
		return nil, err
	}

	if l.Status == Revoked {
		return rejected(CodeRevoked, MsgRevoked), nil
	}
	if l.BoundToOther(fingerprint) {
		return rejected(CodeAlreadyBound, MsgAlreadyBound), nil
	}

	file, err := s.codec.EncodeOfflineFile(l, fingerprint)
	if err != nil {
		zapLog.Error("failed to encode offline file", zap.Error(err))
		return nil, err
	}

	// binds the fingerprint without activating
	now := s.now()
	err = s.store.Update(ctx, key, Patch{
		HardwareFingerprint: &fingerprint,
		OfflineLicenseFile:  &file,
		BindTo:              &fingerprint,
	})
	switch {
	case errors.Is(err, ErrPreconditionFailed):
		return s.explainConflict(ctx, key, fingerprint, now)
	case errors.Is(err, ErrNotFound):
		return rejected(CodeNotFound, MsgNotFound), nil
	case err != nil:
		zapLog.Error("failed to store offline file", zap.Error(err))
		return nil, err
	}

	l.HardwareFingerprint = &fingerprint
	l.OfflineLicenseFile = &file
	l.Status = l.EffectiveStatus(now)

	if err := s.archive.Archive(ctx, key, file, now); err != nil {
		zapLog.Warn("failed to archive offline file", zap.Int64("license_id", l.ID), zap.Error(err))
	}

	zapLog.Info("offline file generated", zap.Int64("license_id", l.ID), zap.String("fingerprint", fingerprint))
	s.publish(ctx, zapLog, newEvent(EventOfflineGenerated, l, now))

	res = succeeded(l)
	res.File = file
	return res, nil
}

// =========================================================
// ActivateOffline
// =========================================================

// ActivateOffline verifies an offline file locally and then tries to record
// the activation. Store failures never fail a verified file; they only leave
// the result unsynced.
func (s *Service) ActivateOffline(ctx context.Context, content, fingerprint string) (res *Result, err error) {
	started := time.Now()
	ctx, span, zapLog := s.startSpan(ctx, "ActivateOffline")
	defer span.End()
	defer func() { recordResult("activate_offline", res, err, started) }()

	verified := s.codec.DecodeAndVerifyOfflineFile(content, fingerprint)
	if !verified.Valid {
		span.SetAttributes(attribute.String("license.check", string(verified.Check)))
		zapLog.Info("offline file rejected", zap.String("check", string(verified.Check)))
		return verified, nil
	}

	offline := verified.License
	unsynced := func(reason error) *Result {
		zapLog.Warn("offline activation not synced",
			zap.String("license_key", offline.LicenseKey),
			zap.Bool("retryable", errutil.IsRetryable(reason)),
			zap.Error(reason),
		)
		return &Result{Valid: true, License: offline, Synced: false}
	}

	stored, err := s.store.GetByKey(ctx, offline.LicenseKey)
	if err != nil {
		return unsynced(err), nil
	}

	now := s.now()
	if stored.Status == Revoked {
		return rejected(CodeRevoked, MsgRevoked), nil
	}
	if stored.BoundToOther(fingerprint) {
		return rejected(CodeAlreadyBound, MsgAlreadyBound), nil
	}

	res, err = s.bind(ctx, stored, fingerprint, now)
	if err != nil {
		return unsynced(err), nil
	}
	if !res.Valid {
		return res, nil
	}

	zapLog.Info("license activated offline", zap.Int64("license_id", stored.ID), zap.String("fingerprint", fingerprint))
	e := newEvent(EventActivated, res.License, now)
	e.Offline = true
	s.publish(ctx, zapLog, e)
	return res, nil
}

// =========================================================
// ValidateLicense
// =========================================================

// ValidateLicense checks a key, and the machine when fingerprint is not
// empty, against the stored license.
func (s *Service) ValidateLicense(ctx context.Context, key, fingerprint string) (res *Result, err error) {
	started := time.Now()
	ctx, span, zapLog := s.startSpan(ctx, "ValidateLicense")
	defer span.End()
	defer func() { recordResult("validate", res, err, started) }()

	if key == "" {
		return nil, errutil.BadRequest("license_key is required", nil)
	}

	l, err := s.store.GetByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return rejected(CodeNotFound, MsgNotFound), nil
	}
	if err != nil {
		zapLog.Error("failed to get license", zap.Error(err))
		return nil, err
	}

	now := s.now()
	switch {
	case l.Status == Revoked:
		return rejected(CodeRevoked, MsgRevoked), nil
	case l.IsExpired(now):
		return rejected(CodeExpired, MsgExpired), nil
	case fingerprint != "" && l.BoundToOther(fingerprint):
		return rejected(CodeAlreadyBound, MsgFingerprintMismatch), nil
	}

	return succeeded(l), nil
}

// =========================================================
// RevokeLicense
// =========================================================

// RevokeLicense reports false when no license has the key. Revoking twice
// keeps the first revocation time.
func (s *Service) RevokeLicense(ctx context.Context, key string) (revoked bool, err error) {
	started := time.Now()
	ctx, span, zapLog := s.startSpan(ctx, "RevokeLicense")
	defer span.End()
	defer func() {
		outcome := outcomeOK
		if err != nil {
			outcome = outcomeError
		} else if !revoked {
			outcome = CodeNotFound.String()
		}
		recordOperation("revoke", outcome, started)
	}()

	if key == "" {
		return false, errutil.BadRequest("license_key is required", nil)
	}

	l, err := s.store.GetByKey(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		zapLog.Error("failed to get license", zap.Error(err))
		return false, err
	}
	if l.Status == Revoked {
		return true, nil
	}

	now := s.now()
	status := Revoked
	err = s.store.Update(ctx, key, Patch{Status: &status, RevokedAt: &now})
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		zapLog.Error("failed to revoke license", zap.Error(err))
		return false, err
	}

	l.Status = Revoked
	l.RevokedAt = &now
	zapLog.Info("license revoked", zap.Int64("license_id", l.ID))
	s.publish(ctx, zapLog, newEvent(EventRevoked, l, now))
	return true, nil
}

// =========================================================
// ListLicenses / GetLicense
// =========================================================
func (s *Service) ListLicenses(ctx context.Context, filter ListFilter) ([]*License, *pagination.PageInfo, error) {
	ctx, span, zapLog := s.startSpan(ctx, "ListLicenses")
	defer span.End()

	if filter.Type != "" && !filter.Type.IsValid() {
		return nil, nil, errutil.BadRequest(fmt.Sprintf("unknown license type %q", filter.Type), nil)
	}
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, nil, errutil.BadRequest(fmt.Sprintf("unknown license status %q", filter.Status), nil)
	}

	now := s.now()
	filter.AsOf = now

	licenses, pageInfo, err := s.store.List(ctx, filter)
	if err != nil {
		zapLog.Error("failed to list licenses", zap.Error(err))
		return nil, nil, err
	}

	for _, l := range licenses {
		l.Status = l.EffectiveStatus(now)
	}
	return licenses, pageInfo, nil
}

func (s *Service) GetLicense(ctx context.Context, id int64) (*License, error) {
	ctx, span, zapLog := s.startSpan(ctx, "GetLicense")
	defer span.End()

	l, err := s.store.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, errutil.NotFound(MsgNotFound, nil)
	}
	if err != nil {
		zapLog.Error("failed to get license", zap.Int64("license_id", id), zap.Error(err))
		return nil, err
	}

	l.Status = l.EffectiveStatus(s.now())
	return l, nil
}

// =========================================================
// GetStatistics
// =========================================================
type Statistics struct {
	Total        int64                   `json:"total"`
	ByType       map[LicenseType]int64   `json:"by_type"`
	ByStatus     map[LicenseStatus]int64 `json:"by_status"`
	ExpiringSoon int64                   `json:"expiring_soon"`
	AsOf         time.Time               `json:"as_of"`
}

// GetStatistics counts licenses by type and effective status, and the
// non-revoked ones expiring within the configured window.
func (s *Service) GetStatistics(ctx context.Context) (*Statistics, error) {
	ctx, span, zapLog := s.startSpan(ctx, "GetStatistics")
	defer span.End()

	now := s.now()
	types := AllTypes()
	statuses := []LicenseStatus{Pending, Active, Expired, Revoked}

	byType := make([]int64, len(types))
	byStatus := make([]int64, len(statuses))
	var total, expiring int64

	g, gctx := errgroup.WithContext(ctx)
	count := func(dst *int64, f ListFilter) {
		g.Go(func() error {
			f.AsOf = now
			n, err := s.store.Count(gctx, f)
			if err != nil {
				return err
			}
			*dst = n
			return nil
		})
	}

	count(&total, ListFilter{})
	count(&expiring, ListFilter{ExpiringWithin: s.expiringWindow()})
	for i, t := range types {
		count(&byType[i], ListFilter{Type: t})
	}
	for i, st := range statuses {
		count(&byStatus[i], ListFilter{Status: st})
	}

	if err := g.Wait(); err != nil {
		zapLog.Error("failed to compute license statistics", zap.Error(err))
		return nil, err
	}

	stats := &Statistics{
		Total:        total,
		ByType:       make(map[LicenseType]int64, len(types)),
		ByStatus:     make(map[LicenseStatus]int64, len(statuses)),
		ExpiringSoon: expiring,
		AsOf:         now,
	}
	for i, t := range types {
		stats.ByType[t] = byType[i]
	}
	for i, st := range statuses {
		stats.ByStatus[st] = byStatus[i]
	}
	return stats, nil
}

func (s *Service) publish(ctx context.Context, zapLog *zap.Logger, e Event) {
	if err := s.notifier.Publish(ctx, e); err != nil {
		zapLog.Warn("failed to publish license event", zap.String("event", string(e.Type)), zap.Error(err))
	}
}
