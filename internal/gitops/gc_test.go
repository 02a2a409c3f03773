package gitops

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePruneDelay(t *testing.T) {
	tests := []struct {
		name    string
		delay   string
		ok      bool
		errPart string
	}{
		{"now", "now", true, ""},
		{"never", "never", true, ""},
		{"uppercase literal", "NOW", true, ""},
		{"singular unit", "1.week", true, ""},
		{"plural unit", "2.weeks", true, ""},
		{"mixed case", "3.Days", true, ""},
		{"upper bound", "1000.years", true, ""},
		{"lower bound", "1.second", true, ""},
		{"zero", "0.weeks", false, "too small"},
		{"too large", "10000.weeks", false, "too large"},
		{"injection attempt", "$(reboot)", false, "does not match"},
		{"missing unit", "5.", false, "does not match"},
		{"missing number", ".weeks", false, "does not match"},
		{"bogus unit", "2.fortnights", false, "does not match"},
		{"negative", "-1.weeks", false, "does not match"},
		{"empty", "", false, "does not match"},
		{"spaces inside", "2 .weeks", false, "does not match"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePruneDelay(tt.delay)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidPruneDelay)
				assert.Contains(t, err.Error(), tt.errPart)
				// The offending input is cited in the error.
				if tt.delay != "" {
					assert.Contains(t, err.Error(), tt.delay)
				}
			}
		})
	}
}
