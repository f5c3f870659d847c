package funds

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/nsem-asso/backoffice/app/models"
)

// Aggregator maintains each project's running collected amount as a derived
// counter. The increment happens exactly once per PENDING -> COMPLETED
// transition and must run on the same transaction handle as that flip, so a
// crash can never separate the two writes.
type Aggregator struct{}

func NewAggregator() Aggregator {
	return Aggregator{}
}

// OnDonationCompleted adds the donation amount to its project counter.
// Donations without a project target are a no-op. The in-place SQL increment
// avoids read-modify-write races between concurrent completers.
func (Aggregator) OnDonationCompleted(tx *gorm.DB, d *models.Donation) error {
	if d.ProjectID == nil {
		return nil
	}
	res := tx.Model(&models.Project{}).
		Where("id = ?", *d.ProjectID).
		Update("collected_amount", gorm.Expr("collected_amount + ?", d.Amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("fund increment: project %d not found", *d.ProjectID)
	}
	return nil
}
