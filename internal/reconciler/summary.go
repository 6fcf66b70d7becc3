package reconciler

import (
	"github.com/shopspring/decimal"

	"reconciliation-workflow/internal/models"
)

// DashboardStats provides a high-level overview of the review workload
type DashboardStats struct {
	// Transaction counts
	TotalTransactions int                   `json:"totalTransactions"`
	AutoMatched       int                   `json:"autoMatched"`
	NeedsReview       int                   `json:"needsReview"`
	Exceptions        int                   `json:"exceptions"`
	ByStatus          map[models.Status]int `json:"byStatus"`

	// Financial summary
	BankTotal   decimal.Decimal `json:"bankTotal"`
	LedgerTotal decimal.Decimal `json:"ledgerTotal"`
	Variance    decimal.Decimal `json:"variance"`

	// ReconciliationRate is the share of records that are Auto-Matched,
	// Accepted or Reconciled, as a percentage
	ReconciliationRate float64 `json:"reconciliationRate"`
	AverageConfidence  float64 `json:"averageConfidence"`
}

// ReconciliationView lists the accepted records ready to be reconciled
type ReconciliationView struct {
	Accepted       []*models.MatchedTransaction `json:"accepted"`
	Selected       int                          `json:"selected"`
	TotalAmount    decimal.Decimal              `json:"totalAmount"`
	SelectedAmount decimal.Decimal              `json:"selectedAmount"`
	Reconciled     int                          `json:"reconciled"`
}

// Dashboard computes statistics over every record in the view
func (rs *ReconciliationService) Dashboard() *DashboardStats {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return Summarize(rs.records)
}

// Reconciliation returns the accepted records and their totals
func (rs *ReconciliationService) Reconciliation() *ReconciliationView {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	view := &ReconciliationView{
		Accepted:       []*models.MatchedTransaction{},
		TotalAmount:    decimal.Zero,
		SelectedAmount: decimal.Zero,
	}
	for _, rec := range rs.records {
		switch rec.Status {
		case models.StatusAccepted:
			view.Accepted = append(view.Accepted, rec.Clone())
			view.TotalAmount = view.TotalAmount.Add(rec.BankTransaction.Amount)
			if rec.IsSelected {
				view.Selected++
				view.SelectedAmount = view.SelectedAmount.Add(rec.BankTransaction.Amount)
			}
		case models.StatusReconciled:
			view.Reconciled++
		}
	}
	return view
}

// Summarize computes dashboard statistics over an arbitrary record set
func Summarize(records []*models.MatchedTransaction) *DashboardStats {
	stats := &DashboardStats{
		TotalTransactions: len(records),
		ByStatus:          make(map[models.Status]int, len(models.AllStatuses)),
		BankTotal:         decimal.Zero,
		LedgerTotal:       decimal.Zero,
	}
	for _, s := range models.AllStatuses {
		stats.ByStatus[s] = 0
	}

	reconciled := 0
	var confidence float64
	for _, rec := range records {
		stats.ByStatus[rec.Status]++
		switch rec.Status {
		case models.StatusAutoMatched:
			stats.AutoMatched++
			reconciled++
		case models.StatusReviewRequired:
			stats.NeedsReview++
		case models.StatusException:
			stats.Exceptions++
		case models.StatusAccepted, models.StatusReconciled:
			reconciled++
		}

		stats.BankTotal = stats.BankTotal.Add(rec.BankTransaction.Amount)
		if rec.HasLedger() {
			stats.LedgerTotal = stats.LedgerTotal.Add(rec.LedgerTransaction.Amount)
		}
		confidence += rec.ConfidenceScore
	}
	stats.Variance = stats.BankTotal.Sub(stats.LedgerTotal)

	if len(records) > 0 {
		stats.ReconciliationRate = roundTenth(float64(reconciled) / float64(len(records)) * 100)
		stats.AverageConfidence = roundTenth(confidence / float64(len(records)))
	}
	return stats
}

func roundTenth(v float64) float64 {
	return decimal.NewFromFloat(v).Round(1).InexactFloat64()
}
