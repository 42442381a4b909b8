// Package sqlite implements the aggregate store on SQLite via the Grove ORM,
// for single-node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/sqlitedriver"
	"github.com/xraph/grove/migrate"

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

// Store implements store.Store using SQLite via Grove ORM.
type Store struct {
	db  *grove.DB
	sdb *sqlitedriver.SqliteDB
}

// New creates a new SQLite store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		sdb: sqlitedriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.sdb)
	if err != nil {
		return fmt.Errorf("hookline/sqlite: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("hookline/sqlite: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Catalog Store ====================

func (s *Store) RegisterType(ctx context.Context, et *catalog.EventType) error {
	m := toEventTypeModel(et)
	_, err := s.sdb.NewInsert(m).
		OnConflict("(name) DO UPDATE").
		Set("description = EXCLUDED.description").
		Set("group_name = EXCLUDED.group_name").
		Set("schema = EXCLUDED.schema").
		Set("schema_version = EXCLUDED.schema_version").
		Set("version = EXCLUDED.version").
		Set("example = EXCLUDED.example").
		Set("metadata = EXCLUDED.metadata").
		Set("is_deprecated = 0").
		Set("deprecated_at = NULL").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

func (s *Store) GetType(ctx context.Context, name string) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	err := s.sdb.NewSelect(m).
		Where("name = ?", name).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookline.ErrEventTypeNotFound
		}
		return nil, err
	}
	return fromEventTypeModel(m)
}

func (s *Store) GetTypeByID(ctx context.Context, etID id.ID) (*catalog.EventType, error) {
	m := new(eventTypeModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", etID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookline.ErrEventTypeNotFound
		}
		return nil, err
	}
	return fromEventTypeModel(m)
}

func (s *Store) ListTypes(ctx context.Context, opts catalog.ListOpts) ([]*catalog.EventType, error) {
	var models []eventTypeModel
	q := s.sdb.NewSelect(&models)

	if opts.Group != "" {
		q = q.Where("group_name = ?", opts.Group)
	}
	if !opts.IncludeDeprecated {
		q = q.Where("is_deprecated = 0")
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

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
	t := now()
	res, err := s.sdb.NewUpdate((*eventTypeModel)(nil)).
		Set("is_deprecated = 1").
		Set("deprecated_at = ?", t).
		Set("updated_at = ?", t).
		Where("name = ?", name).
		Where("is_deprecated = 0").
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
	if err := s.sdb.NewSelect(&models).
		Where("is_deprecated = 0").
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetRegistration(ctx context.Context, regID id.ID) (*registration.Registration, error) {
	m := new(registrationModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", regID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookline.ErrRegistrationNotFound
		}
		return nil, err
	}
	return fromRegistrationModel(m)
}

func (s *Store) UpdateRegistration(ctx context.Context, reg *registration.Registration) error {
	m := toRegistrationModel(reg)
	m.UpdatedAt = now()
	res, err := s.sdb.NewUpdate(m).
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
	q := s.sdb.NewSelect(&models).Where("tenant_id = ?", tenantID)

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
	q = q.OrderExpr("created_at ASC")

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
	q := s.sdb.NewSelect(&models).
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
	res, err := s.sdb.NewUpdate((*registrationModel)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = ?", now()).
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
	err := s.sdb.NewRaw(`
		UPDATE hookline_registrations
		SET failure_count = failure_count + 1, updated_at = datetime('now')
		WHERE id = ?
		RETURNING failure_count
	`, regID.String()).Scan(ctx, &count)
	if err != nil {
		if isNoRows(err) {
			return 0, hookline.ErrRegistrationNotFound
		}
		return 0, err
	}
	return count, nil
}

func (s *Store) ResetFailureCount(ctx context.Context, regID id.ID) error {
	res, err := s.sdb.NewUpdate((*registrationModel)(nil)).
		Set("failure_count = 0").
		Set("updated_at = ?", now()).
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
	res, err := s.sdb.NewUpdate((*registrationModel)(nil)).
		Set("last_delivered_at = ?", at).
		Set("updated_at = ?", now()).
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
	err := s.sdb.NewSelect(m).
		Where("secret = ?", secret).
		Where("status != 'deleted'").
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
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
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.sdb.NewSelect(m).
		Where("id = ?", evtID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookline.ErrEventNotFound
		}
		return nil, err
	}
	return fromEventModel(m)
}

// transitionErr distinguishes a missing event from an illegal transition
// after a guarded update touched zero rows.
func (s *Store) transitionErr(ctx context.Context, evtID id.ID) error {
	count, err := s.sdb.NewSelect((*eventModel)(nil)).
		Where("id = ?", evtID.String()).
		Count(ctx)
	if err != nil {
		return err
	}
	if count == 0 {
		return hookline.ErrEventNotFound
	}
	return hookline.ErrInvalidTransition
}

func (s *Store) MarkProcessing(ctx context.Context, evtID id.ID) error {
	res, err := s.sdb.NewUpdate((*eventModel)(nil)).
		Set("status = 'processing'").
		Set("updated_at = ?", now()).
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
	res, err := s.sdb.NewUpdate((*eventModel)(nil)).
		Set("status = 'completed'").
		Set("attempt_count = attempt_count + 1").
		Set("response_status = ?", statusCode).
		Set("response_body = ?", body).
		Set("error_message = ''").
		Set("next_retry_at = NULL").
		Set("updated_at = ?", now()).
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
	res, err := s.sdb.NewUpdate((*eventModel)(nil)).
		Set("status = 'failed'").
		Set("attempt_count = ?", attempts).
		Set("error_message = ?", errMsg).
		Set("response_status = ?", statusCode).
		Set("next_retry_at = NULL").
		Set("updated_at = ?", now()).
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
	q := s.sdb.NewUpdate((*eventModel)(nil)).
		Set("status = 'pending'").
		Set("attempt_count = ?", attempts).
		Set("next_retry_at = ?", nextAt).
		Set("updated_at = ?", now())
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
	q := s.sdb.NewSelect(&models)

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
	q = q.OrderExpr("created_at DESC")

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
	q := s.sdb.NewSelect(&models).
		Where("registration_id = ?", regID.String()).
		OrderExpr("created_at DESC")

	if opts.Status != nil {
		q = q.Where("status = ?", string(*opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}

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

func (s *Store) DeliveryStats(ctx context.Context, regID id.ID, since time.Time) (int64, int64, error) {
	completed, err := s.sdb.NewSelect((*eventModel)(nil)).
		Where("registration_id = ?", regID.String()).
		Where("status = 'completed'").
		Where("updated_at >= ?", since).
		Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	failed, err := s.sdb.NewSelect((*eventModel)(nil)).
		Where("registration_id = ?", regID.String()).
		Where("status = 'failed'").
		Where("updated_at >= ?", since).
		Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	return completed, failed, nil
}

// ==================== Delivery Store ====================

func (s *Store) EnqueueJob(ctx context.Context, j *delivery.Job) error {
	m := toJobModel(j)
	_, err := s.sdb.NewInsert(m).
		OnConflict("(event_id) DO NOTHING").
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
	_, err := s.sdb.NewInsert(&models).
		OnConflict("(event_id) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) DequeueJobs(ctx context.Context, limit int) ([]*delivery.Job, error) {
	// SQLite serializes writes (WAL mode), so the claim needs no
	// FOR UPDATE SKIP LOCKED.
	var models []jobModel
	err := s.sdb.NewRaw(`
		UPDATE hookline_jobs
		SET locked_at = datetime('now')
		WHERE event_id IN (
			SELECT event_id FROM hookline_jobs
			WHERE locked_at IS NULL AND next_attempt_at <= datetime('now')
			ORDER BY next_attempt_at ASC
			LIMIT ?
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
	_, err := s.sdb.NewUpdate((*jobModel)(nil)).
		Set("next_attempt_at = ?", j.NextAttemptAt).
		Set("locked_at = NULL").
		Where("event_id = ?", j.EventID.String()).
		Exec(ctx)
	return err
}

func (s *Store) RemoveJob(ctx context.Context, evtID id.ID) error {
	_, err := s.sdb.NewDelete((*jobModel)(nil)).
		Where("event_id = ?", evtID.String()).
		Exec(ctx)
	return err
}

func (s *Store) CountPendingJobs(ctx context.Context) (int64, error) {
	count, err := s.sdb.NewSelect((*jobModel)(nil)).
		Where("locked_at IS NULL").
		Count(ctx)
	return count, err
}

// ==================== DLQ Store ====================

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	_, err := s.sdb.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.sdb.NewSelect(&models)

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
	q = q.OrderExpr("failed_at DESC")

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
	err := s.sdb.NewSelect(m).
		Where("id = ?", dlqID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, hookline.ErrDLQNotFound
		}
		return nil, err
	}
	return fromDLQEntryModel(m)
}

func (s *Store) MarkReplayed(ctx context.Context, dlqID id.ID, at time.Time) error {
	res, err := s.sdb.NewUpdate((*dlqEntryModel)(nil)).
		Set("replayed_at = ?", at).
		Set("updated_at = ?", now()).
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
	res, err := s.sdb.NewDelete((*dlqEntryModel)(nil)).
		Where("failed_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	return s.sdb.NewSelect((*dlqEntryModel)(nil)).Count(ctx)
}

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
