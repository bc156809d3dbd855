package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateComponentID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"engine", false},
		{"aggregation-agent_2", false},
		{"agg.v2", false},
		{"", true},
		{"..", true},
		{"../etc", true},
		{"has space", true},
		{strings.Repeat("a", MaxComponentIDLength+1), true},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := ValidateComponentID(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateName(t *testing.T) {
	assert.NoError(t, ValidateName("entity_name", "truck-1"))
	assert.NoError(t, ValidateName("entity_name", "Lieferwagen Ü7"))
	assert.Error(t, ValidateName("entity_name", "   "))
	assert.Error(t, ValidateName("entity_name", "bad\nname"))
	assert.Error(t, ValidateName("entity_name", strings.Repeat("x", MaxNameLength+1)))
	assert.Error(t, ValidateName("entity_name", string([]byte{0xff, 0xfe})))
}

func TestValidateText(t *testing.T) {
	assert.NoError(t, ValidateText("reason", "", MaxReasonLength))
	assert.NoError(t, ValidateText("reason", "operator cancelled", MaxReasonLength))
	assert.Error(t, ValidateText("reason", "a\tb", MaxReasonLength))
}
