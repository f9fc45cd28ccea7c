package reconciliation

import (
	"testing"

	"github.com/erp/syncengine/internal/domain/alert"
	"github.com/erp/syncengine/internal/domain/datasync"
	"github.com/stretchr/testify/assert"
)

func TestComputeMatchPercentage(t *testing.T) {
	tests := []struct {
		name  string
		stats ComparisonStats
		want  float64
	}{
		{"both empty", ComparisonStats{}, 100},
		{"all match", ComparisonStats{ZohoTotal: 4, LocalTotal: 4, Matching: 4}, 100},
		{"larger local side", ComparisonStats{ZohoTotal: 3, LocalTotal: 4, Matching: 3}, 75},
		{"rounded", ComparisonStats{ZohoTotal: 3, LocalTotal: 3, Matching: 1}, 33.33},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.stats
			s.ComputeMatchPercentage()
			assert.Equal(t, tt.want, s.MatchPercentage)
		})
	}
}

func TestDataQualityScore_Weighted(t *testing.T) {
	stats := []ComparisonStats{
		{EntityType: datasync.EntityTypeOrder, MatchPercentage: 100},
		{EntityType: datasync.EntityTypeCustomer, MatchPercentage: 50},
	}
	// (3*100 + 1*50) / 4
	assert.Equal(t, 87.5, DataQualityScore(stats))
	assert.Equal(t, float64(100), DataQualityScore(nil))
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, alert.SeverityError, SeverityFor(KindConflict, datasync.EntityTypeProduct, datasync.FieldName))
	assert.Equal(t, alert.SeverityWarning, SeverityFor(KindMissingInZoho, datasync.EntityTypeCustomer, FieldRecord))
	assert.Equal(t, alert.SeverityWarning, SeverityFor(KindFieldMismatch, datasync.EntityTypeProduct, datasync.FieldPrice))
	assert.Equal(t, alert.SeverityInfo, SeverityFor(KindFieldMismatch, datasync.EntityTypeCustomer, datasync.FieldName))
}

func TestDiscrepancy_KeyAndState(t *testing.T) {
	d := Discrepancy{EntityType: datasync.EntityTypeProduct, EntityID: "P1", Field: datasync.FieldPrice}
	assert.Equal(t, "product:P1:price", d.Key())
	assert.True(t, d.IsOpen())
	assert.False(t, d.HasCorrection())
}
