// Package postgres implements the aggregate store on PostgreSQL via Grove ORM.
//
// Event status transitions are enforced with guarded updates so a stale
// worker can never move an event backwards, and the job queue is claimed
// with FOR UPDATE SKIP LOCKED so concurrent pollers never double-deliver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
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

// Store implements store.Store using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("hookline/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("hookline/postgres: migration failed: %w", err)
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
	_, err := s.pg.NewInsert(m).
		OnConflict("(name) DO UPDATE").
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
	err := s.pg.NewSelect(m).
		Where("name = $1", name).
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
	err := s.pg.NewSelect(m).
		Where("id = $1", etID.String()).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Group != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("group_name = $%d", argIdx), opts.Group)
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
	now := time.Now().UTC()
	res, err := s.pg.NewUpdate((*eventTypeModel)(nil)).
		Set("is_deprecated = true").
		Set("deprecated_at = $1", now).
		Set("updated_at = $2", now).
		Where("name = $3", name).
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
	if err := s.pg.NewSelect(&models).
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
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetRegistration(ctx context.Context, regID id.ID) (*registration.Registration, error) {
	m := new(registrationModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", regID.String()).
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
	m.UpdatedAt = time.Now().UTC()
	res, err := s.pg.NewUpdate(m).
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
	q := s.pg.NewSelect(&models).Where("tenant_id = $1", tenantID)

	if opts.Status != nil {
		q = q.Where("status = $2", string(*opts.Status))
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
	q := s.pg.NewSelect(&models).
		Where("tenant_id = $1", tenantID).
		Where("status = 'active'")
	if integrationID != "" {
		q = q.Where("integration_id = $2", integrationID)
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
	now := time.Now().UTC()
	res, err := s.pg.NewUpdate((*registrationModel)(nil)).
		Set("status = $1", string(status)).
		Set("updated_at = $2", now).
		Where("id = $3", regID.String()).
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
	var counts []int
	err := s.pg.NewRaw(`
		UPDATE hookline_registrations
		SET failure_count = failure_count + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING failure_count
	`, regID.String()).Scan(ctx, &counts)
	if err != nil {
		return 0, err
	}
	if len(counts) == 0 {
		return 0, hookline.ErrRegistrationNotFound
	}
	return counts[0], nil
}

func (s *Store) ResetFailureCount(ctx context.Context, regID id.ID) error {
	res, err := s.pg.NewUpdate((*registrationModel)(nil)).
		Set("failure_count = 0").
		Set("updated_at = $1", time.Now().UTC()).
		Where("id = $2", regID.String()).
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
	res, err := s.pg.NewUpdate((*registrationModel)(nil)).
		Set("last_delivered_at = $1", at).
		Set("updated_at = $2", time.Now().UTC()).
		Where("id = $3", regID.String()).
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
	err := s.pg.NewSelect(m).
		Where("secret = $1", secret).
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
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error) {
	m := new(eventModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", evtID.String()).
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
	count, err := s.pg.NewSelect((*eventModel)(nil)).
		Where("id = $1", evtID.String()).
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
	res, err := s.pg.NewUpdate((*eventModel)(nil)).
		Set("status = 'processing'").
		Set("updated_at = NOW()").
		Where("id = $1", evtID.String()).
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
	res, err := s.pg.NewUpdate((*eventModel)(nil)).
		Set("status = 'completed'").
		Set("attempt_count = attempt_count + 1").
		Set("response_status = $1", statusCode).
		Set("response_body = $2", body).
		Set("error_message = ''").
		Set("next_retry_at = NULL").
		Set("updated_at = NOW()").
		Where("id = $3", evtID.String()).
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
	res, err := s.pg.NewUpdate((*eventModel)(nil)).
		Set("status = 'failed'").
		Set("attempt_count = $1", attempts).
		Set("error_message = $2", errMsg).
		Set("response_status = $3", statusCode).
		Set("next_retry_at = NULL").
		Set("updated_at = NOW()").
		Where("id = $4", evtID.String()).
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
	q := s.pg.NewUpdate((*eventModel)(nil)).
		Set("status = 'pending'").
		Set("attempt_count = $1", attempts).
		Set("next_retry_at = $2", nextAt).
		Set("updated_at = NOW()")
	argIdx := 2
	if errMsg != "" {
		argIdx++
		q = q.Set(fmt.Sprintf("error_message = $%d", argIdx), errMsg)
	}
	if statusCode != 0 {
		argIdx++
		q = q.Set(fmt.Sprintf("response_status = $%d", argIdx), statusCode)
	}
	argIdx++
	res, err := q.
		Where(fmt.Sprintf("id = $%d", argIdx), evtID.String()).
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
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Direction != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("direction = $%d", argIdx), string(opts.Direction))
	}
	if opts.Provider != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("provider = $%d", argIdx), opts.Provider)
	}
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("type = $%d", argIdx), opts.Type)
	}
	if opts.Status != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(*opts.Status))
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at <= $%d", argIdx), *opts.To)
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
	q := s.pg.NewSelect(&models).Where("registration_id = $1", regID.String())

	argIdx := 1
	if opts.Direction != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("direction = $%d", argIdx), string(opts.Direction))
	}
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("type = $%d", argIdx), opts.Type)
	}
	if opts.Status != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(*opts.Status))
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

func (s *Store) DeliveryStats(ctx context.Context, regID id.ID, since time.Time) (int64, int64, error) {
	completed, err := s.pg.NewSelect((*eventModel)(nil)).
		Where("registration_id = $1", regID.String()).
		Where("status = 'completed'").
		Where("updated_at >= $2", since).
		Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	failed, err := s.pg.NewSelect((*eventModel)(nil)).
		Where("registration_id = $1", regID.String()).
		Where("status = 'failed'").
		Where("updated_at >= $2", since).
		Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	return completed, failed, nil
}

// ==================== Delivery Store ====================

func (s *Store) EnqueueJob(ctx context.Context, j *delivery.Job) error {
	m := toJobModel(j)
	_, err := s.pg.NewInsert(m).
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
	_, err := s.pg.NewInsert(&models).
		OnConflict("(event_id) DO NOTHING").
		Exec(ctx)
	return err
}

func (s *Store) DequeueJobs(ctx context.Context, limit int) ([]*delivery.Job, error) {
	// FOR UPDATE SKIP LOCKED keeps concurrent pollers from claiming the
	// same job.
	var models []jobModel
	err := s.pg.NewRaw(`
		UPDATE hookline_jobs
		SET locked_at = NOW()
		WHERE event_id IN (
			SELECT event_id FROM hookline_jobs
			WHERE locked_at IS NULL AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at ASC
			LIMIT $1
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
	_, err := s.pg.NewUpdate((*jobModel)(nil)).
		Set("next_attempt_at = $1", j.NextAttemptAt).
		Set("locked_at = NULL").
		Where("event_id = $2", j.EventID.String()).
		Exec(ctx)
	return err
}

func (s *Store) RemoveJob(ctx context.Context, evtID id.ID) error {
	_, err := s.pg.NewDelete((*jobModel)(nil)).
		Where("event_id = $1", evtID.String()).
		Exec(ctx)
	return err
}

func (s *Store) CountPendingJobs(ctx context.Context) (int64, error) {
	count, err := s.pg.NewSelect((*jobModel)(nil)).
		Where("locked_at IS NULL").
		Count(ctx)
	return count, err
}

// ==================== DLQ Store ====================

func (s *Store) Push(ctx context.Context, entry *dlq.Entry) error {
	m := toDLQEntryModel(entry)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	var models []dlqEntryModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.TenantID != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("tenant_id = $%d", argIdx), opts.TenantID)
	}
	if opts.RegistrationID != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("registration_id = $%d", argIdx), opts.RegistrationID.String())
	}
	if opts.From != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("failed_at >= $%d", argIdx), *opts.From)
	}
	if opts.To != nil {
		argIdx++
		q = q.Where(fmt.Sprintf("failed_at <= $%d", argIdx), *opts.To)
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
	err := s.pg.NewSelect(m).
		Where("id = $1", dlqID.String()).
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
	res, err := s.pg.NewUpdate((*dlqEntryModel)(nil)).
		Set("replayed_at = $1", at).
		Set("updated_at = $2", time.Now().UTC()).
		Where("id = $3", dlqID.String()).
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
	res, err := s.pg.NewDelete((*dlqEntryModel)(nil)).
		Where("failed_at < $1", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	count, err := s.pg.NewSelect((*dlqEntryModel)(nil)).
		Count(ctx)
	return count, err
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
