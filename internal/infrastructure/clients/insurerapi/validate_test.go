package insurerapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/zatekoja/insurance-eligibility/backend/pkg/errors"
)

func TestValidateAsOfDate(t *testing.T) {
	// 01:30 in Jakarta on 10 March is still 9 March in UTC
	now := time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC)
	utc := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	cases := []struct {
		name     string
		asOfDate time.Time
		wantErr  bool
	}{
		{"today in jakarta", utc(2024, 3, 10), false},
		{"yesterday", utc(2024, 3, 9), false},
		{"tomorrow in jakarta", utc(2024, 3, 11), true},
		{"missing", time.Time{}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateAsOfDate(tc.asOfDate, now, DefaultLocation)
			if tc.wantErr {
				assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestToday(t *testing.T) {
	now := time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), Today(now, DefaultLocation))
	assert.Equal(t, time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC), Today(now, time.UTC))
	assert.Equal(t, Today(now, DefaultLocation), Today(now, nil))
}
