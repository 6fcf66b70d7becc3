package ledger

import (
	"context"
	stderrors "errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"reconciliation-workflow/internal/filter"
	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
)

const serviceName = "ledger"

// matchRow is the persisted form of a MatchedTransaction. Bank and ledger
// snapshots are stored as JSON so they stay frozen at match time.
type matchRow struct {
	ID                string                                        `gorm:"primaryKey;size:64"`
	Seq               int64                                         `gorm:"index"`
	BankTransaction   datatypes.JSONType[models.BankTransaction]    `gorm:"type:jsonb"`
	LedgerTransaction datatypes.JSONType[*models.LedgerTransaction] `gorm:"type:jsonb"`
	Status            string                                        `gorm:"size:32;index"`
	ConfidenceLevel   string                                        `gorm:"size:16"`
	ConfidenceScore   float64
	Notes             string
	MatchedBy         string
	MatchedDate       *time.Time
	ReconciledAt      *time.Time
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (matchRow) TableName() string { return "matched_transactions" }

type auditRow struct {
	ID          string    `gorm:"primaryKey;size:64"`
	Timestamp   time.Time `gorm:"index"`
	Actor       string
	ActorType   string `gorm:"size:16"`
	Category    string `gorm:"size:32;index"`
	Action      string `gorm:"size:16"`
	Severity    string `gorm:"size:16"`
	Description string
	Details     string
	BeforeState datatypes.JSONMap
	AfterState  datatypes.JSONMap
	IPAddress   string `gorm:"size:64"`
	CreatedAt   time.Time
}

func (auditRow) TableName() string { return "audit_log" }

type ledgerRow struct {
	ID            string `gorm:"primaryKey;size:64"`
	Date          string `gorm:"size:10;index"`
	Vendor        string
	InvoiceNumber string `gorm:"index"`
	Amount        string
	Reference     string
	Type          string
	CreatedAt     time.Time
}

func (ledgerRow) TableName() string { return "ledger_entries" }

// GormStore persists to PostgreSQL through gorm
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the schema
func OpenPostgres(dsn string, verbose bool) (*GormStore, error) {
	level := gormlogger.Silent
	if verbose {
		level = gormlogger.Info
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(level),
		TranslateError: true,
	})
	if err != nil {
		return nil, errors.CollaboratorFailure(errors.CodeServiceUnavailable, serviceName, "connect", err)
	}
	return NewGormStore(db)
}

// NewGormStore wraps an open connection and migrates the schema
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&matchRow{}, &auditRow{}, &ledgerRow{}); err != nil {
		return nil, errors.CollaboratorFailure(errors.CodeCollaboratorFailed, serviceName, "migrate", err)
	}
	return &GormStore{db: db}, nil
}

// DB exposes the underlying connection
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) FetchMatchedTransactions(ctx context.Context) ([]*models.MatchedTransaction, error) {
	var rows []matchRow
	if err := s.db.WithContext(ctx).Order("seq ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, collaboratorError("fetch_matched_transactions", err)
	}
	out := make([]*models.MatchedTransaction, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// PersistTransition writes the record with a conditional UPDATE. Zero rows
// affected means the version or status moved underneath us.
func (s *GormStore) PersistTransition(ctx context.Context, req TransitionRequest) error {
	if req.Record == nil {
		return errors.ValidationError(errors.CodeMissingField, "record", nil, nil)
	}
	rec := req.Record

	result := s.db.WithContext(ctx).Model(&matchRow{}).
		Where("id = ? AND version = ? AND status = ?", req.ID, req.ExpectedVersion, string(req.ExpectedStatus)).
		Updates(map[string]interface{}{
			"ledger_transaction": datatypes.NewJSONType(rec.LedgerTransaction),
			"status":             string(rec.Status),
			"confidence_level":   string(rec.ConfidenceLevel),
			"confidence_score":   rec.ConfidenceScore,
			"notes":              rec.Notes,
			"matched_by":         rec.MatchedBy,
			"matched_date":       rec.MatchedDate,
			"reconciled_at":      rec.ReconciledAt,
			"version":            rec.Version,
		})
	if result.Error != nil {
		return collaboratorError("persist_transition", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var current matchRow
	err := s.db.WithContext(ctx).Select("id", "version", "status").First(&current, "id = ?", req.ID).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NotFound("transaction", req.ID)
	}
	if err != nil {
		return collaboratorError("persist_transition", err)
	}
	return errors.ConcurrentUpdate(req.ID, req.ExpectedVersion, current.Version).
		WithContext("current_status", current.Status)
}

func (s *GormStore) FetchAuditLog(ctx context.Context, f filter.AuditFilter) ([]*models.AuditLogEntry, error) {
	query := s.db.WithContext(ctx).Order("timestamp DESC")
	if len(f.Category) > 0 {
		query = query.Where("category IN ?", stringsOf(f.Category))
	}
	if len(f.Severity) > 0 {
		query = query.Where("severity IN ?", stringsOf(f.Severity))
	}

	var rows []auditRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, collaboratorError("fetch_audit_log", err)
	}

	entries := make([]*models.AuditLogEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].toModel()
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	// the remaining dimensions and search run in process so both stores
	// share one set of matching rules
	return filter.ApplyAudit(entries, f), nil
}

func (s *GormStore) AppendAuditEntry(ctx context.Context, entry *models.AuditLogEntry) error {
	if entry == nil {
		return errors.ValidationError(errors.CodeMissingField, "entry", nil, nil)
	}
	if err := entry.Validate(); err != nil {
		return err
	}
	row := auditRow{
		ID:          entry.ID,
		Timestamp:   entry.Timestamp.UTC(),
		Actor:       entry.Actor,
		ActorType:   string(entry.ActorType),
		Category:    string(entry.Category),
		Action:      string(entry.Action),
		Severity:    string(entry.Severity),
		Description: entry.Description,
		Details:     entry.Details,
		BeforeState: datatypes.JSONMap(entry.BeforeState),
		AfterState:  datatypes.JSONMap(entry.AfterState),
		IPAddress:   entry.IPAddress,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return collaboratorError("append_audit_entry", err)
	}
	return nil
}

// SaveMatches inserts new records in one transaction
func (s *GormStore) SaveMatches(ctx context.Context, records []*models.MatchedTransaction) error {
	if len(records) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var maxSeq int64
		if err := tx.Model(&matchRow{}).Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
			return collaboratorError("save_matches", err)
		}
		rows := make([]matchRow, 0, len(records))
		for i, rec := range records {
			if rec == nil {
				return errors.ValidationError(errors.CodeMissingField, "record", nil, nil)
			}
			rows = append(rows, fromModel(rec, maxSeq+int64(i)+1))
		}
		if err := tx.Create(&rows).Error; err != nil {
			if stderrors.Is(err, gorm.ErrDuplicatedKey) {
				return errors.ValidationError(errors.CodeInconsistent, "id", "duplicate", err).
					WithSuggestion("matched transaction ids must be unique")
			}
			return collaboratorError("save_matches", err)
		}
		return nil
	})
}

func (s *GormStore) FetchLedgerEntries(ctx context.Context) ([]models.LedgerTransaction, error) {
	var rows []ledgerRow
	if err := s.db.WithContext(ctx).Order("date DESC, id ASC").Find(&rows).Error; err != nil {
		return nil, collaboratorError("fetch_ledger_entries", err)
	}
	out := make([]models.LedgerTransaction, 0, len(rows))
	for _, row := range rows {
		amount, err := models.ParseDecimalFromString(row.Amount)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidAmount, "ledger_entries.amount", row.Amount, err)
		}
		out = append(out, models.LedgerTransaction{
			ID:            row.ID,
			Date:          row.Date,
			Vendor:        row.Vendor,
			InvoiceNumber: row.InvoiceNumber,
			Amount:        amount,
			Reference:     row.Reference,
			Type:          row.Type,
		})
	}
	return out, nil
}

// SaveLedgerEntries upserts ledger entries synced from the ledger system
func (s *GormStore) SaveLedgerEntries(ctx context.Context, entries []models.LedgerTransaction) error {
	if len(entries) == 0 {
		return nil
	}
	rows := make([]ledgerRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, ledgerRow{
			ID:            e.ID,
			Date:          e.Date,
			Vendor:        e.Vendor,
			InvoiceNumber: e.InvoiceNumber,
			Amount:        e.Amount.String(),
			Reference:     e.Reference,
			Type:          e.Type,
		})
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&rows).Error
	if err != nil {
		return collaboratorError("save_ledger_entries", err)
	}
	return nil
}

// ImportSeed loads seed data into an empty database. Tables that already
// hold rows are left alone.
func (s *GormStore) ImportSeed(ctx context.Context, seed *Seed) error {
	if seed == nil {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&matchRow{}).Count(&count).Error; err != nil {
		return collaboratorError("import_seed", err)
	}
	if count == 0 {
		if err := s.SaveMatches(ctx, seed.Transactions); err != nil {
			return err
		}
	}
	if err := s.db.WithContext(ctx).Model(&auditRow{}).Count(&count).Error; err != nil {
		return collaboratorError("import_seed", err)
	}
	if count == 0 {
		for _, entry := range seed.AuditLog {
			if err := s.AppendAuditEntry(ctx, entry); err != nil {
				return err
			}
		}
	}
	return s.SaveLedgerEntries(ctx, seed.LedgerEntries)
}

func fromModel(rec *models.MatchedTransaction, seq int64) matchRow {
	return matchRow{
		ID:                rec.ID,
		Seq:               seq,
		BankTransaction:   datatypes.NewJSONType(rec.BankTransaction),
		LedgerTransaction: datatypes.NewJSONType(rec.LedgerTransaction),
		Status:            string(rec.Status),
		ConfidenceLevel:   string(rec.ConfidenceLevel),
		ConfidenceScore:   rec.ConfidenceScore,
		Notes:             rec.Notes,
		MatchedBy:         rec.MatchedBy,
		MatchedDate:       rec.MatchedDate,
		ReconciledAt:      rec.ReconciledAt,
		Version:           rec.Version,
	}
}

// toModel converts a row back, re-validating enums so a hand-edited row
// cannot leak an unknown status into the workflow.
func (r *matchRow) toModel() (*models.MatchedTransaction, error) {
	status, err := models.ParseStatus(r.Status)
	if err != nil {
		return nil, withRecord(err, r.ID)
	}
	level, err := models.ParseConfidenceLevel(r.ConfidenceLevel)
	if err != nil {
		return nil, withRecord(err, r.ID)
	}
	return &models.MatchedTransaction{
		ID:                r.ID,
		BankTransaction:   r.BankTransaction.Data(),
		LedgerTransaction: r.LedgerTransaction.Data(),
		Status:            status,
		ConfidenceLevel:   level,
		ConfidenceScore:   r.ConfidenceScore,
		Notes:             r.Notes,
		MatchedBy:         r.MatchedBy,
		MatchedDate:       r.MatchedDate,
		ReconciledAt:      r.ReconciledAt,
		Version:           r.Version,
	}, nil
}

func (r *auditRow) toModel() (*models.AuditLogEntry, error) {
	entry := &models.AuditLogEntry{
		ID:          r.ID,
		Timestamp:   r.Timestamp,
		Actor:       r.Actor,
		ActorType:   models.ActorType(r.ActorType),
		Category:    models.AuditCategory(r.Category),
		Action:      models.AuditAction(r.Action),
		Severity:    models.AuditSeverity(r.Severity),
		Description: r.Description,
		Details:     r.Details,
		BeforeState: map[string]interface{}(r.BeforeState),
		AfterState:  map[string]interface{}(r.AfterState),
		IPAddress:   r.IPAddress,
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}
	return entry, nil
}

func withRecord(err error, id string) error {
	if re, ok := errors.AsReconcilerError(err); ok {
		return re.WithContext("record_id", id)
	}
	return err
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func collaboratorError(operation string, err error) error {
	code := errors.CodeCollaboratorFailed
	if stderrors.Is(err, context.DeadlineExceeded) {
		code = errors.CodeTimeout
	}
	return errors.CollaboratorFailure(code, serviceName, operation, err)
}
