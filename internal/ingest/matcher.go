package ingest

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"reconciliation-workflow/internal/models"
)

// Proposal is the matcher's verdict for one bank line
type Proposal struct {
	Ledger  *models.LedgerTransaction
	Score   float64
	Status  models.Status
	Reasons []string
}

// Matcher proposes ledger candidates for bank lines. The returned slice is
// aligned with bank.
type Matcher interface {
	Match(ctx context.Context, bank []models.BankTransaction, ledger []models.LedgerTransaction) ([]Proposal, error)
}

// NoCandidateMatcher proposes nothing. Every line lands in Exception for
// manual matching.
type NoCandidateMatcher struct{}

func (NoCandidateMatcher) Match(ctx context.Context, bank []models.BankTransaction, _ []models.LedgerTransaction) ([]Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]Proposal, len(bank))
	for i := range out {
		out[i] = Proposal{Status: models.StatusException, Reasons: []string{"no matcher configured"}}
	}
	return out, nil
}

// ToleranceConfig controls the local tolerance matcher
type ToleranceConfig struct {
	// DateToleranceDays is how far apart bank and ledger dates may be
	DateToleranceDays int `json:"date_tolerance_days" mapstructure:"date_tolerance_days"`
	// AmountTolerancePercent is the allowed amount difference (0.0 to 100.0)
	AmountTolerancePercent float64 `json:"amount_tolerance_percent" mapstructure:"amount_tolerance_percent"`
	// MinScore is the lowest 0-100 score that still proposes a candidate
	MinScore float64          `json:"min_score" mapstructure:"min_score"`
	Weights  ToleranceWeights `json:"weights" mapstructure:"weights"`
}

// ToleranceWeights defines the relative importance of each criterion
type ToleranceWeights struct {
	Amount float64 `json:"amount" mapstructure:"amount"`
	Date   float64 `json:"date" mapstructure:"date"`
	Vendor float64 `json:"vendor" mapstructure:"vendor"`
}

// DefaultToleranceConfig returns a configuration with sensible defaults
func DefaultToleranceConfig() ToleranceConfig {
	return ToleranceConfig{
		DateToleranceDays:      3,
		AmountTolerancePercent: 1.0,
		MinScore:               40,
		Weights:                ToleranceWeights{Amount: 0.6, Date: 0.25, Vendor: 0.15},
	}
}

// Validate checks if the tolerance configuration is valid
func (c ToleranceConfig) Validate() error {
	if c.DateToleranceDays < 0 {
		return fmt.Errorf("date tolerance days cannot be negative: %d", c.DateToleranceDays)
	}
	if c.AmountTolerancePercent < 0 || c.AmountTolerancePercent > 100 {
		return fmt.Errorf("amount tolerance percent must be between 0.0 and 100.0: %f", c.AmountTolerancePercent)
	}
	if c.MinScore < 0 || c.MinScore > 100 {
		return fmt.Errorf("minimum score must be between 0 and 100: %f", c.MinScore)
	}
	w := c.Weights
	if w.Amount < 0 || w.Date < 0 || w.Vendor < 0 {
		return fmt.Errorf("weights cannot be negative")
	}
	if total := w.Amount + w.Date + w.Vendor; total < 0.9 || total > 1.1 {
		return fmt.Errorf("weights should sum to approximately 1.0, got %f", total)
	}
	return nil
}

// ToleranceMatcher scores ledger entries by amount, date and vendor
// similarity. It stands in for the external matching engine in demo mode.
// Each ledger entry is proposed for at most one bank line.
type ToleranceMatcher struct {
	config     ToleranceConfig
	thresholds models.ConfidenceThresholds
}

// NewToleranceMatcher creates a matcher
func NewToleranceMatcher(config ToleranceConfig, thresholds models.ConfidenceThresholds) (*ToleranceMatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := thresholds.Validate(); err != nil {
		return nil, err
	}
	return &ToleranceMatcher{config: config, thresholds: thresholds}, nil
}

type scored struct {
	bank    int
	ledger  int
	score   float64
	reasons []string
}

func (m *ToleranceMatcher) Match(ctx context.Context, bank []models.BankTransaction, ledger []models.LedgerTransaction) ([]Proposal, error) {
	var candidates []scored
	for i := range bank {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for j := range ledger {
			score, reasons := m.score(&bank[i], &ledger[j])
			if score >= m.config.MinScore {
				candidates = append(candidates, scored{bank: i, ledger: j, score: score, reasons: reasons})
			}
		}
	}

	// best pairs first; ties keep bank order
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].score > candidates[b].score
	})

	out := make([]Proposal, len(bank))
	for i := range out {
		out[i] = Proposal{Status: models.StatusException, Reasons: []string{"no ledger entry within tolerance"}}
	}
	bankDone := make(map[int]bool)
	ledgerUsed := make(map[int]bool)
	for _, c := range candidates {
		if bankDone[c.bank] || ledgerUsed[c.ledger] {
			continue
		}
		bankDone[c.bank] = true
		ledgerUsed[c.ledger] = true

		entry := ledger[c.ledger]
		status := models.StatusReviewRequired
		if level, _ := m.thresholds.Bucket(c.score); level == models.ConfidenceHigh {
			status = models.StatusAutoMatched
		}
		out[c.bank] = Proposal{Ledger: &entry, Score: c.score, Status: status, Reasons: c.reasons}
	}
	return out, nil
}

// score returns a 0-100 confidence with one decimal place
func (m *ToleranceMatcher) score(b *models.BankTransaction, l *models.LedgerTransaction) (float64, []string) {
	var reasons []string

	amount := m.amountScore(b.Amount, l.Amount)
	switch {
	case amount == 1:
		reasons = append(reasons, "exact amount match")
	case amount > 0:
		reasons = append(reasons, fmt.Sprintf("amount differs by %s", b.Amount.Sub(l.Amount).Abs().StringFixed(2)))
	}

	date := m.dateScore(b.Date, l.Date)
	if date == 1 {
		reasons = append(reasons, "same date")
	} else if date > 0 {
		reasons = append(reasons, "date within tolerance")
	}

	vendor := vendorScore(b.Description, l.Vendor)
	if vendor == 1 {
		reasons = append(reasons, "vendor matches description")
	}

	w := m.config.Weights
	total := (amount*w.Amount + date*w.Date + vendor*w.Vendor) * 100
	return math.Min(100, math.Round(total*10)/10), reasons
}

func (m *ToleranceMatcher) amountScore(bank, ledger decimal.Decimal) float64 {
	a, b := bank.Abs(), ledger.Abs()
	if a.Equal(b) {
		return 1
	}
	if m.config.AmountTolerancePercent == 0 {
		return 0
	}
	tolerance := a.Mul(decimal.NewFromFloat(m.config.AmountTolerancePercent / 100)).Round(2)
	if tolerance.IsZero() {
		return 0
	}
	diff := a.Sub(b).Abs()
	if diff.GreaterThan(tolerance) {
		return 0
	}
	return math.Max(0, 1-diff.Div(tolerance).InexactFloat64())
}

func (m *ToleranceMatcher) dateScore(bank, ledger string) float64 {
	bt, err1 := time.Parse(models.DateLayout, bank)
	lt, err2 := time.Parse(models.DateLayout, ledger)
	if err1 != nil || err2 != nil {
		return 0
	}
	days := math.Abs(bt.Sub(lt).Hours() / 24)
	if days == 0 {
		return 1
	}
	if m.config.DateToleranceDays == 0 || days > float64(m.config.DateToleranceDays) {
		return 0
	}
	// a date inside the window never scores below one half
	return 1 - days/float64(m.config.DateToleranceDays)/2
}

func vendorScore(description, vendor string) float64 {
	d := strings.ToLower(strings.TrimSpace(description))
	v := strings.ToLower(strings.TrimSpace(vendor))
	if d == "" || v == "" {
		return 0
	}
	if strings.Contains(d, v) || strings.Contains(v, d) {
		return 1
	}

	words := strings.Fields(v)
	hits := 0
	for _, w := range words {
		if len(w) > 2 && strings.Contains(d, w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}
