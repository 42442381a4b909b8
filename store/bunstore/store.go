// Package bunstore implements the aggregate store on the Bun ORM, for
// deployments that already carry a Bun database handle.
package bunstore

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/uptrace/bun"

	"github.com/hookline/hookline"
	"github.com/hookline/hookline/catalog"
	"github.com/hookline/hookline/delivery"
	"github.com/hookline/hookline/dlq"
	"github.com/hookline/hookline/event"
	"github.com/hookline/hookline/id"
	"github.com/hookline/hookline/registration"
	hookstore "github.com/hookline/hookline/store"
)

// compile-time interface check
var _ hookstore.Store = (*Store)(nil)

// Store implements store.Store using the Bun ORM.
type Store struct {
	db *bun.DB
}

// New creates a new Bun-backed store.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying Bun database for direct access.
func (s *Store) DB() *bun.DB { return s.db }

// Migrate creates the required tables using Bun's CreateTable.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*eventTypeModel)(nil),
		(*registrationModel)(nil),
		(*eventModel)(nil),
		(*jobModel)(nil),
		(*dlqEntryModel)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return err
		}
	}

	// Create indexes.
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_hookline_jobs_due ON hookline_jobs (next_attempt_at) WHERE locked_at IS NULL",
		"CREATE INDEX IF NOT EXISTS idx_hookline_events_tenant ON hookline_events (tenant_id)",
		"CREATE INDEX IF NOT EXISTS idx_hookline_events_registration ON hookline_events (registration_id)",
		"CREATE INDEX IF NOT EXISTS idx_hookline_events_type ON hookline_events (type)",
		"CREATE INDEX IF NOT EXISTS idx_hookline_registrations_tenant ON hookline_registrations (tenant_id)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_hookline_registrations_secret ON hookline_registrations (secret) WHERE secret != ''",
		"CREATE INDEX IF NOT EXISTS idx_hookline_dlq_tenant ON hookline_dlq (tenant_id)",
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}

	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Catalog Store ====================

func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	m := toEventTypeModel(et)
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (name) DO UPDATE").
		Set("description = EXCLUDED.description").
		Set("group_name = EXCLUDED.group_name").
		Set("schema = EXCLUDED.schema").
		Set("schema_version = EXCLUDED.schema_version").
		Set("version = EXCLUDED.version").
		Set("example = EXCLUDED.example").
		Set("metadata = EXCLUDED.metadata").
		Set("is_deprecated = false").
		Set("deprecated_at = NULL").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	err := s.db.NewSelect().
		Model(m).
		Where("name = ?", name).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookline.ErrEventTypeNotFound
		}
		return nil, err
	}
	return fromEventTypeModel(m)
}

func (s *Store) GetTypeByID(ctx context.Context, etID id.ID) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", etID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookline.ErrEventTypeNotFound
		}
		return nil, err
	}
	return fromEventTypeModel(m)
}

func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	var models []eventTypeModel
	q := s.db.NewSelect().Model(&models)

	if opts.Group != "" {
		q = q.Where("group_name = ?", opts.Group)
	}
	if !opts.IncludeDeprecated {
		q = q.Where("is_deprecated = false")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*catalog.EventType, len(models))
	for i := range models {
		et, err := fromEventTypeModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = et
	}
	return result, nil
}

func (s *Store) DeleteType(ctx context.Context, name string) error {
	now := time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model((*eventTypeModel)(nil)).
		Set("is_deprecated = true").
		Set("deprecated_at = ?", now).
		Set("updated_at = ?", now).
		Where("name = ?", name).
		Where("is_deprecated = false").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrEventTypeNotFound
	}
	return nil
}

func (s *Store) MatchTypes(ctx context.Context, pattern string) ([]*catalog.EventType, error) {
	var models []eventTypeModel
	if err := s.db.NewSelect().
		Model(&models).
		Where("is_deprecated = false").
		Scan(ctx); err != nil {
		return nil, err
	}

	var result []*catalog.EventType
	for i := range models {
		et, err := fromEventTypeModel(&models[i])
		if err != nil {
			return nil, err
		}
		if catalog.Match(pattern, et.Definition.Name) {
			result = append(result, et)
		}
	}
	return result, nil
}

// ==================== Registration Store ====================

func (s *Store) CreateRegistration(ctx context.Context, reg *registration.Registration) error {
	m := toRegistrationModel(reg)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) GetRegistration(ctx context.Context, regID id.ID) (*registration.Registration, error) {
	m := new(registrationModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", regID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookline.ErrRegistrationNotFound
		}
		return nil, err
	}
	return fromRegistrationModel(m)
}

func (s *Store) UpdateRegistration(ctx context.Context, reg *registration.Registration) error {
	m := toRegistrationModel(reg)
	m.UpdatedAt = time.Now().UTC()
	res, err := s.db.NewUpdate().
		Model(m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrRegistrationNotFound
	}
	return nil
}

func (s *Store) ListRegistrations(ctx context.Context, tenantID string, opts registration.ListOpts) ([]*registration.Registration, error) {
	var models []registrationModel
	q := s.db.NewSelect().Model(&models).Where("tenant_id = ?", tenantID)

	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	} else {
		q = q.Where("status != 'deleted'")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*registration.Registration, len(models))
	for i := range models {
		reg, err := fromRegistrationModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = reg
	}
	return result, nil
}

func (s *Store) Resolve(ctx context.Context, tenantID, integrationID, eventType string) ([]*registration.Registration, error) {
	var models []registrationModel
	q := s.db.NewSelect().
		Model(&models).
		Where("tenant_id = ?", tenantID).
		Where("status = 'active'")
	if integrationID != "" {
		q = q.Where("integration_id = ?", integrationID)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	var result []*registration.Registration
	for i := range models {
		reg, err := fromRegistrationModel(&models[i])
		if err != nil {
			return nil, err
		}
		if reg.Subscribed(eventType, catalog.Match) {
			result = append(result, reg)
		}
	}
	return result, nil
}

func (s *Store) SetRegistrationStatus(ctx context.Context, regID id.ID, status registration.Status) error {
	res, err := s.db.NewUpdate().
		Model((*registrationModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", regID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrRegistrationNotFound
	}
	return nil
}

func (s *Store) IncrementFailureCount(ctx context.Context, regID id.ID) (int, error) {
	var count int
	err := s.db.NewRaw(`
		UPDATE hookline_registrations
		SET failure_count = failure_count + 1, updated_at = NOW()
		WHERE id = ?
		RETURNING failure_count
	`, regID.String()).Scan(ctx, &count)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, hookline.ErrRegistrationNotFound
		}
		return 0, err
	}
	return count, nil
}

func (s *Store) ResetFailureCount(ctx context.Context, regID id.ID) error {
	res, err := s.db.NewUpdate().
		Model((*registrationModel)(nil)).
		Set("failure_count = 0").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", regID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrRegistrationNotFound
	}
	return nil
}

func (s *Store) TouchDelivered(ctx context.Context, regID id.ID, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*registrationModel)(nil)).
		Set("last_delivered_at = ?", at).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", regID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrRegistrationNotFound
	}
	return nil
}

func (s *Store) FindBySecret(ctx context.Context, secret string) (*registration.Registration, error) {
	m := new(registrationModel)
	err := s.db.NewSelect().
		Model(m).
		Where("secret = ?", secret).
		Where("status != 'deleted'").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookline.ErrRegistrationNotFound
		}
		return nil, err
	}
	return fromRegistrationModel(m)
}

// ==================== Event Store ====================

func (s *Store) CreateEvent(ctx context.Context, evt *event.Event) error {
	if evt.Status == "" {
		evt.Status = event.StatusPending
	}
	m := toEventModel(evt)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", evtID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookline.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

// transitionErr distinguishes a missing event from an illegal transition
// after a guarded update touched zero rows.
func (s *Store) transitionErr(ctx context.Context, evtID id.ID) error {
	exists, err := s.db.NewSelect().
		Model((*eventModel)(nil)).
		Where("id = ?", evtID.String()).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return hookline.ErrEventNotFound
	}
	return hookline.ErrInvalidTransition
}

func (s *Store) MarkProcessing(ctx context.Context, evtID id.ID) error {
	res, err := s.db.NewUpdate().
		Model((*eventModel)(nil)).
		Set("status = 'processing'").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", evtID.String()).
		Where("status = 'pending'").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.transitionErr(ctx, evtID)
	}
	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, evtID id.ID, statusCode int, body string) error {
	res, err := s.db.NewUpdate().
		Model((*eventModel)(nil)).
		Set("status = 'completed'").
		Set("attempt_count = attempt_count + 1").
		Set("response_status = ?", statusCode).
		Set("response_body = ?", body).
		Set("error_message = ''").
		Set("next_retry_at = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", evtID.String()).
		Where("status = 'processing'").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.transitionErr(ctx, evtID)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, evtID id.ID, errMsg string, attempts, statusCode int) error {
	res, err := s.db.NewUpdate().
		Model((*eventModel)(nil)).
		Set("status = 'failed'").
		Set("attempt_count = ?", attempts).
		Set("error_message = ?", errMsg).
		Set("response_status = ?", statusCode).
		Set("next_retry_at = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", evtID.String()).
		Where("status = 'processing'").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.transitionErr(ctx, evtID)
	}
	return nil
}

func (s *Store) ScheduleRetry(ctx context.Context, evtID id.ID, attempts int, nextAt time.Time, errMsg string, statusCode int) error {
	// processing → pending is the automatic retry; failed → pending is the
	// manual retry path. Both are guarded in the same statement.
	q := s.db.NewUpdate().
		Model((*eventModel)(nil)).
		Set("status = 'pending'").
		Set("attempt_count = ?", attempts).
		Set("next_retry_at = ?", nextAt).
		Set("updated_at = ?", time.Now().UTC())
	if errMsg != "" {
		q = q.Set("error_message = ?", errMsg)
	}
	if statusCode != 0 {
		q = q.Set("response_status = ?", statusCode)
	}
	res, err := q.
		Where("id = ?", evtID.String()).
		Where("status IN ('processing', 'failed')").
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.transitionErr(ctx, evtID)
	}
	return nil
}

func (s *Store) ListEvents(ctx context.Context, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.db.NewSelect().Model(&models)
	q = applyEventFilters(q, opts)

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

func (s *Store) ListEventsByRegistration(ctx context.Context, regID id.ID, opts event.ListOpts) ([]*event.Event, error) {
	var models []eventModel
	q := s.db.NewSelect().Model(&models).Where("registration_id = ?", regID.String())
	q = applyEventFilters(q, opts)

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*event.Event, len(models))
	for i := range models {
		evt, err := fromEventModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = evt
	}
	return result, nil
}

// applyEventFilters appends the ListOpts filters to a select query.
func applyEventFilters(q *bun.SelectQuery, opts event.ListOpts) *bun.SelectQuery {
	if opts.Direction != "" {
		q = q.Where("direction = ?", string(opts.Direction))
	}
	if opts.Provider != "" {
		q = q.Where("provider = ?", opts.Provider)
	}
	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	if opts.From != nil {
		q = q.Where("created_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("created_at <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	return q.Order("created_at DESC")
}

func (s *Store) DeliveryStats(ctx context.Context, regID id.ID, since time.Time) (int64, int64, error) {
	completed, err := s.db.NewSelect().
		Model((*eventModel)(nil)).
		Where("registration_id = ?", regID.String()).
		Where("status = 'completed'").
		Where("updated_at >= ?", since).
		Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	failed, err := s.db.NewSelect().
		Model((*eventModel)(nil)).
		Where("registration_id = ?", regID.String()).
		Where("status = 'failed'").
		Where("updated_at >= ?", since).
		Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	return int64(completed), int64(failed), nil
}

// ==================== Delivery Store ====================

func (s *Store) EnqueueJob(ctx context.Context, j *delivery.Job) error {
	m := toJobModel(j)
	_, err := s.db.NewInsert().
		Model(m).
		On("CONFLICT (event_id) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) EnqueueJobs(ctx context.Context, js []*delivery.Job) error {
	if len(js) == 0 {
		return nil
	}
	models := make([]jobModel, len(js))
	for i, j := range js {
		models[i] = *toJobModel(j)
	}
	_, err := s.db.NewInsert().
		Model(&models).
		On("CONFLICT (event_id) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) DequeueJobs(ctx context.Context, limit int) ([]*delivery.Job, error) {
	var models []jobModel
	err := s.db.NewRaw(`
		UPDATE hookline_jobs
		SET locked_at = NOW()
		WHERE event_id IN (
			SELECT event_id FROM hookline_jobs
			WHERE locked_at IS NULL AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at ASC
			LIMIT ?
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *
	`, limit).Scan(ctx, &models)
	if err != nil {
		return nil, err
	}

	result := make([]*delivery.Job, len(models))
	for i := range models {
		j, err := fromJobModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = j
	}
	return result, nil
}

func (s *Store) Reschedule(ctx context.Context, j *delivery.Job) error {
	_, err := s.db.NewUpdate().
		Model((*jobModel)(nil)).
		Set("next_attempt_at = ?", j.NextAttemptAt).
		Set("locked_at = NULL").
		Where("event_id = ?", j.EventID.String()).
		Exec(ctx)
	return err
}

func (s *Store) RemoveJob(ctx context.Context, evtID id.ID) error {
	_, err := s.db.NewDelete().
		Model((*jobModel)(nil)).
		Where("event_id = ?", evtID.String()).
		Exec(ctx)
	return err
}

func (s *Store) CountPendingJobs(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		Model((*jobModel)(nil)).
		Where("locked_at IS NULL").
		Count(ctx)
	return int64(count), err
}

// ==================== DLQ Store ====================

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	_, err := s.db.NewInsert().Model(m).Exec(ctx)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.db.NewSelect().Model(&models)

	if opts.TenantID != "" {
		q = q.Where("tenant_id = ?", opts.TenantID)
	}
	if opts.RegistrationID != nil {
		q = q.Where("registration_id = ?", opts.RegistrationID.String())
	}
	if opts.From != nil {
		q = q.Where("failed_at >= ?", *opts.From)
	}
	if opts.To != nil {
		q = q.Where("failed_at <= ?", *opts.To)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.Order("failed_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*dlq.Entry, len(models))
	for i := range models {
		entry, err := fromDLQEntryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = entry
	}
	return result, nil
}

func (s *Store) GetDLQ(ctx context.Context, dlqID id.ID) (*dlq.Entry, error) {
	m := new(dlqEntryModel)
	err := s.db.NewSelect().
		Model(m).
		Where("id = ?", dlqID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, hookline.ErrDLQNotFound
		}
		return nil, err
	}
	return fromDLQEntryModel(m)
}

func (s *Store) MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error {
	res, err := s.db.NewUpdate().
		Model((*dlqEntryModel)(nil)).
		Set("replayed_at = ?", at).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", dlqID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return hookline.ErrDLQNotFound
	}
	return nil
}

func (s *Store) Purge(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*dlqEntryModel)(nil)).
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.db.NewSelect().
		Model((*dlqEntryModel)(nil)).
		Count(ctx)
	return int64(count), err
}
