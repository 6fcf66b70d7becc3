package ledger

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"reconciliation-workflow/internal/models"
	"reconciliation-workflow/pkg/errors"
)

// Seed is a YAML fixture with demo data for every store
type Seed struct {
	Transactions  []*models.MatchedTransaction         `yaml:"transactions"`
	LedgerEntries []models.LedgerTransaction           `yaml:"ledgerEntries"`
	AuditLog      []*models.AuditLogEntry              `yaml:"auditLog"`
	Notifications map[string][]models.NotificationItem `yaml:"notifications"`
}

// LoadSeed reads and validates a seed file
func LoadSeed(path string, thresholds models.ConfidenceThresholds) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	seed, err := ParseSeed(data, thresholds)
	if err != nil {
		if re, ok := errors.AsReconcilerError(err); ok {
			return nil, re.WithContext("file_path", path)
		}
		return nil, err
	}
	return seed, nil
}

// ParseSeed decodes seed YAML. Enum fields fail closed while decoding, and
// every record is checked against its invariants.
func ParseSeed(data []byte, thresholds models.ConfidenceThresholds) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, errors.WrapIfNeeded(err, errors.CategoryParse, errors.CodeInvalidFormat,
			fmt.Sprintf("invalid seed data: %v", err))
	}

	for i, rec := range seed.Transactions {
		if rec == nil {
			return nil, errors.ValidationError(errors.CodeMissingField, fmt.Sprintf("transactions[%d]", i), nil, nil)
		}
		if err := rec.Validate(thresholds); err != nil {
			return nil, errors.WrapIfNeeded(err, errors.CategoryValidation, errors.CodeInvalidData, "invalid seed transaction").
				WithContext("record_id", rec.ID)
		}
	}
	for i := range seed.LedgerEntries {
		if err := seed.LedgerEntries[i].Validate(); err != nil {
			return nil, err
		}
	}
	for _, entry := range seed.AuditLog {
		if entry == nil {
			continue
		}
		if err := entry.Validate(); err != nil {
			return nil, errors.WrapIfNeeded(err, errors.CategoryValidation, errors.CodeInvalidData, "invalid seed audit entry").
				WithContext("entry_id", entry.ID)
		}
	}
	for user, items := range seed.Notifications {
		for i := range items {
			if err := items[i].Validate(); err != nil {
				return nil, errors.WrapIfNeeded(err, errors.CategoryValidation, errors.CodeInvalidData, "invalid seed notification").
					WithContext("user", user)
			}
		}
	}
	return &seed, nil
}
