package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/ttacon/libphonenumber"

	"tokoku/backend/internal/cache"
	"tokoku/backend/internal/domain"
	"tokoku/backend/internal/lock"
	"tokoku/backend/internal/logger"
	"tokoku/backend/internal/store"
	"tokoku/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Catalog     cache.CatalogCache
	CatalogTTL  time.Duration
	Locker      lock.Locker
	LockTTL     time.Duration
	PhoneRegion string
	Logger      *zerolog.Logger
}

type Service struct {
	repo        store.Repository
	catalog     cache.CatalogCache
	catalogTTL  time.Duration
	catalogGen  atomic.Uint64
	locker      lock.Locker
	lockTTL     time.Duration
	phoneRegion string
	validate    *validator.Validate
	log         zerolog.Logger
	now         func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Catalog == nil {
		opts.Catalog = cache.NoopCatalogCache{}
	}
	if opts.CatalogTTL <= 0 {
		opts.CatalogTTL = 30 * time.Second
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocalLocker()
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = 15 * time.Second
	}
	if opts.PhoneRegion == "" {
		opts.PhoneRegion = "ID"
	}
	log := logger.WithComponent("service")
	if opts.Logger != nil {
		log = *opts.Logger
	}

	return &Service{
		repo:        repo,
		catalog:     opts.Catalog,
		catalogTTL:  opts.CatalogTTL,
		locker:      opts.Locker,
		lockTTL:     opts.LockTTL,
		phoneRegion: strings.ToUpper(opts.PhoneRegion),
		validate:    validator.New(),
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidTransaction)
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// withDocumentLock runs fn while holding the per-document lock for key.
func (s *Service) withDocumentLock(ctx context.Context, key string, fn func() error) error {
	release, err := s.locker.Obtain(ctx, key, s.lockTTL)
	if err != nil {
		return err
	}
	defer release()
	return fn()
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.log.Warn().Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}

func actorName(ctx context.Context) string {
	if actor, ok := ActorFromContext(ctx); ok && actor.Username != "" {
		return actor.Username
	}
	return "system"
}

// validateRequest checks struct tags and reports failures as bad requests.
func (s *Service) validateRequest(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %s", store.ErrInvalidTransaction, describeValidation(err))
	}
	return nil
}

// validateLine checks a sale or receipt line; failures are line errors.
func (s *Service) validateLine(index int, line any) error {
	if err := s.validate.Struct(line); err != nil {
		return fmt.Errorf("%w: line %d: %s", store.ErrInvalidLine, index+1, describeValidation(err))
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s must satisfy %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}

// normalizePhone returns raw in E.164 form. Numbers without a country code are
// read in the configured region.
func (s *Service) normalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	num, err := libphonenumber.Parse(raw, s.phoneRegion)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return "", fmt.Errorf("%w: invalid phone number %q", store.ErrInvalidTransaction, raw)
	}
	return libphonenumber.Format(num, libphonenumber.E164), nil
}

func normalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
