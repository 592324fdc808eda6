package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"channel-gateway/internal/domain"
	"channel-gateway/internal/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// uniqueViolation is the SQLSTATE postgres reports for a unique index clash.
const uniqueViolation = "23505"

// Repository implements ports.Repository on PostgreSQL through gorm.
type Repository struct {
	db *gorm.DB
}

var _ ports.Repository = (*Repository)(nil)

// Models lists every table the gateway owns, in dependency order.
func Models() []any {
	return []any{&domain.Contact{}, &domain.Message{}, &domain.Note{}, &domain.ScheduledMessage{}}
}

// New opens a PostgreSQL connection pool and returns a Repository.
func New(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Repository{db: db}, nil
}

// DB exposes the gorm handle for migrations.
func (r *Repository) DB() *gorm.DB { return r.db }

// Migrate creates or updates every table and index.
func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database connection pool.
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (r *Repository) CreateMessage(ctx context.Context, m *domain.Message) error {
	if err := r.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("insert message %s: %w", m.ID, err)
	}
	return nil
}

// CreateInboundMessage relies on ux_messages_external_direction: a
// redelivered event hits the index and inserts nothing.
func (r *Repository) CreateInboundMessage(ctx context.Context, m *domain.Message) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if res.Error != nil {
		return false, fmt.Errorf("insert inbound message: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	existing, err := r.FindByExternalID(ctx, m.ExternalRef(), domain.DirectionInbound)
	if err != nil {
		return false, fmt.Errorf("load redelivered message: %w", err)
	}
	*m = existing
	return false, nil
}

func (r *Repository) GetMessage(ctx context.Context, id uuid.UUID) (domain.Message, error) {
	var m domain.Message
	err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, nil
}

func (r *Repository) FindByExternalID(ctx context.Context, externalID string, dir domain.Direction) (domain.Message, error) {
	var m domain.Message
	err := r.db.WithContext(ctx).
		Where("external_id = ? AND direction = ?", externalID, dir).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Message{}, domain.ErrMessageNotFound
	}
	if err != nil {
		return domain.Message{}, fmt.Errorf("find message by external id: %w", err)
	}
	return m, nil
}

// ClaimMessage sets the dispatch lease in one conditional update, so of two
// concurrent dispatchers only one sees a row affected.
func (r *Repository) ClaimMessage(ctx context.Context, id uuid.UUID, now, until time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND status = ? AND (dispatch_lease_until IS NULL OR dispatch_lease_until <= ?)",
			id, domain.StatusPending, now).
		Update("dispatch_lease_until", until)
	if res.Error != nil {
		return fmt.Errorf("claim message %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	cur, err := r.GetMessage(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status != domain.StatusPending {
		return fmt.Errorf("%w: message %s is %s, expected %s", domain.ErrInvalidStatus, id, cur.Status, domain.StatusPending)
	}
	return fmt.Errorf("%w: message %s is already being dispatched", domain.ErrInvalidStatus, id)
}

// TransitionMessage is a compare-and-set on status.
func (r *Repository) TransitionMessage(ctx context.Context, m domain.Message, from domain.Status) error {
	res := r.db.WithContext(ctx).Model(&domain.Message{}).
		Where("id = ? AND status = ?", m.ID, from).
		Updates(map[string]any{
			"status":         m.Status,
			"external_id":    m.ExternalID,
			"failure_reason": m.FailureReason,
			"sent_at":        m.SentAt,
			"delivered_at":   m.DeliveredAt,
			"read_at":        m.ReadAt,

			"dispatch_lease_until": nil,
		})
	if res.Error != nil {
		return fmt.Errorf("transition message %s: %w", m.ID, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	cur, err := r.GetMessage(ctx, m.ID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: message %s is %s, expected %s", domain.ErrInvalidStatus, m.ID, cur.Status, from)
}

func (r *Repository) ListMessagesByContact(ctx context.Context, contactID uuid.UUID) ([]domain.Message, error) {
	var msgs []domain.Message
	err := r.db.WithContext(ctx).
		Where("contact_id = ?", contactID).
		Order("seq ASC").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (r *Repository) CreateContact(ctx context.Context, c *domain.Contact) error {
	err := r.db.WithContext(ctx).Create(c).Error
	if isUniqueViolation(err) {
		return domain.ErrDuplicateAddress
	}
	if err != nil {
		return fmt.Errorf("insert contact: %w", err)
	}
	return nil
}

func (r *Repository) GetContact(ctx context.Context, id uuid.UUID) (domain.Contact, error) {
	var c domain.Contact
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Contact{}, domain.ErrContactNotFound
	}
	if err != nil {
		return domain.Contact{}, fmt.Errorf("get contact %s: %w", id, err)
	}
	return c, nil
}

// FindContactByAddress prefers the contact that owns the address key and
// otherwise returns the oldest contact whose field matches.
func (r *Repository) FindContactByAddress(ctx context.Context, addr domain.Address) (domain.Contact, error) {
	var field string
	switch addr.Kind {
	case domain.AddressPhone:
		field = "phone = ?"
	case domain.AddressEmail:
		field = "lower(email) = ?"
	case domain.AddressHandle:
		field = "lower(handle) = ?"
	default:
		return domain.Contact{}, fmt.Errorf("unknown address kind %q", addr.Kind)
	}

	var c domain.Contact
	err := r.db.WithContext(ctx).
		Where("address = ? OR "+field, addr.Value, strings.ToLower(addr.Value)).
		Order(clause.OrderBy{Expression: clause.Expr{
			SQL:                "address = ? DESC NULLS LAST, created_at ASC",
			Vars:               []any{addr.Value},
			WithoutParentheses: true,
		}}).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Contact{}, domain.ErrContactNotFound
	}
	if err != nil {
		return domain.Contact{}, fmt.Errorf("find contact by address: %w", err)
	}
	return c, nil
}

func (r *Repository) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	var cs []domain.Contact
	if err := r.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&cs).Error; err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	return cs, nil
}

func (r *Repository) TouchContact(ctx context.Context, id uuid.UUID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.Contact{}).
		Where("id = ?", id).
		Update("last_contacted_at", at)
	if res.Error != nil {
		return fmt.Errorf("touch contact: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrContactNotFound
	}
	return nil
}

type countRow struct {
	ContactID uuid.UUID
	N         int64
}

func (r *Repository) CountActivity(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]ports.ActivityCount, error) {
	out := make(map[uuid.UUID]ports.ActivityCount, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	for _, id := range ids {
		out[id] = ports.ActivityCount{}
	}

	var msgRows, noteRows []countRow
	db := r.db.WithContext(ctx)
	if err := db.Model(&domain.Message{}).
		Select("contact_id, count(*) AS n").
		Where("contact_id IN ?", ids).
		Group("contact_id").
		Scan(&msgRows).Error; err != nil {
		return nil, fmt.Errorf("count messages: %w", err)
	}
	if err := db.Model(&domain.Note{}).
		Select("contact_id, count(*) AS n").
		Where("contact_id IN ?", ids).
		Group("contact_id").
		Scan(&noteRows).Error; err != nil {
		return nil, fmt.Errorf("count notes: %w", err)
	}

	for _, row := range msgRows {
		c := out[row.ContactID]
		c.Messages = row.N
		out[row.ContactID] = c
	}
	for _, row := range noteRows {
		c := out[row.ContactID]
		c.Notes = row.N
		out[row.ContactID] = c
	}
	return out, nil
}

func (r *Repository) CreateNote(ctx context.Context, n *domain.Note) error {
	if err := r.db.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (r *Repository) ListNotes(ctx context.Context, contactID uuid.UUID) ([]domain.Note, error) {
	var ns []domain.Note
	err := r.db.WithContext(ctx).Where("contact_id = ?", contactID).Order("created_at ASC").Find(&ns).Error
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return ns, nil
}

func (r *Repository) CreateScheduledMessage(ctx context.Context, s *domain.ScheduledMessage) error {
	if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
		return fmt.Errorf("insert scheduled message: %w", err)
	}
	return nil
}

func (r *Repository) ListScheduledMessages(ctx context.Context, contactID uuid.UUID) ([]domain.ScheduledMessage, error) {
	var out []domain.ScheduledMessage
	err := r.db.WithContext(ctx).Where("contact_id = ?", contactID).Order("scheduled_for ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list scheduled messages: %w", err)
	}
	return out, nil
}

func (r *Repository) ListDueScheduledMessages(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledMessage, error) {
	var out []domain.ScheduledMessage
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", domain.ScheduledPending, now).
		Order("scheduled_for ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list due scheduled messages: %w", err)
	}
	return out, nil
}

// UpdateScheduledStatus claims a row with a compare-and-set so two
// publishers never hand the same scheduled message to dispatch.
func (r *Repository) UpdateScheduledStatus(ctx context.Context, id uuid.UUID, from, to domain.ScheduledStatus) error {
	res := r.db.WithContext(ctx).Model(&domain.ScheduledMessage{}).
		Where("id = ? AND status = ?", id, from).
		Update("status", to)
	if res.Error != nil {
		return fmt.Errorf("update scheduled message %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: scheduled message %s is no longer %s", domain.ErrInvalidStatus, id, from)
	}
	return nil
}

// MergeContact reassigns everything owned by duplicateID and deletes it
// inside one transaction. Both rows are locked first so a concurrent
// merge of the same pair waits.
func (r *Repository) MergeContact(ctx context.Context, primaryID, duplicateID uuid.UUID) (ports.MergeCounts, error) {
	var counts ports.MergeCounts

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked []domain.Contact
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id IN ?", []uuid.UUID{primaryID, duplicateID}).
			Find(&locked).Error; err != nil {
			return fmt.Errorf("lock contacts: %w", err)
		}
		var havePrimary, haveDup bool
		for _, c := range locked {
			havePrimary = havePrimary || c.ID == primaryID
			haveDup = haveDup || c.ID == duplicateID
		}
		if !havePrimary {
			return fmt.Errorf("primary %s: %w", primaryID, domain.ErrContactNotFound)
		}
		if !haveDup {
			return fmt.Errorf("duplicate %s: %w", duplicateID, domain.ErrContactNotFound)
		}

		res := tx.Model(&domain.Message{}).Where("contact_id = ?", duplicateID).Update("contact_id", primaryID)
		if res.Error != nil {
			return fmt.Errorf("reassign messages: %w", res.Error)
		}
		counts.Messages = res.RowsAffected

		res = tx.Model(&domain.Note{}).Where("contact_id = ?", duplicateID).Update("contact_id", primaryID)
		if res.Error != nil {
			return fmt.Errorf("reassign notes: %w", res.Error)
		}
		counts.Notes = res.RowsAffected

		res = tx.Model(&domain.ScheduledMessage{}).Where("contact_id = ?", duplicateID).Update("contact_id", primaryID)
		if res.Error != nil {
			return fmt.Errorf("reassign scheduled messages: %w", res.Error)
		}
		counts.ScheduledMessages = res.RowsAffected

		if err := tx.Delete(&domain.Contact{}, "id = ?", duplicateID).Error; err != nil {
			return fmt.Errorf("delete duplicate: %w", err)
		}
		return nil
	})
	if err != nil {
		return ports.MergeCounts{}, err
	}
	return counts, nil
}

// isUniqueViolation recognizes a unique index clash whether or not gorm
// translated the driver error.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
