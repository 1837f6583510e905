package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/applybot-dev/applybot/pkg/models"
)

func TestFormatSalary(t *testing.T) {
	ptr := func(v float64) *float64 { return &v }

	tests := []struct {
		name string
		job  models.JobDescriptor
		want string
	}{
		{"range", models.JobDescriptor{SalaryMin: ptr(55000), SalaryMax: ptr(70000.4), Currency: "EUR"}, "55000-70000 EUR"},
		{"fixed", models.JobDescriptor{SalaryMin: ptr(60000), SalaryMax: ptr(60000), Currency: "EUR"}, "60000 EUR"},
		{"min only", models.JobDescriptor{SalaryMin: ptr(42000), Currency: "GBP"}, "42000 GBP"},
		{"none", models.JobDescriptor{}, "-"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatSalary(tt.job))
		})
	}
}
