package importer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/hr-engine/generic"
	"github.com/warp/hr-engine/importer"
)

func TestDateNormalizer_SerialMatchesISO(t *testing.T) {
	// GIVEN: A spreadsheet serial and the ISO string for the same day
	// WHEN: Both are normalized
	// THEN: They resolve to the same calendar date
	n := importer.NewDateNormalizer()

	fromSerial, err := n.Normalize(45285)
	require.NoError(t, err)
	fromString, err := n.Normalize("2023-12-25")
	require.NoError(t, err)

	assert.Equal(t, fromString.String(), fromSerial.String())
	assert.Equal(t, "2023-12-25", fromSerial.String())
}

func TestDateNormalizer_Inputs(t *testing.T) {
	n := importer.NewDateNormalizer()

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"serial int", 45260, "2023-11-30"},
		{"serial float with time", 45285.75, "2023-12-25"},
		{"serial string", "45285", "2023-12-25"},
		{"serial leap boundary", 61, "1900-03-01"},
		{"iso", "2024-02-29", "2024-02-29"},
		{"iso slashes", "2024/02/29", "2024-02-29"},
		{"day first slashes", "05/03/2024", "2024-03-05"},
		{"day first dashes", "05-03-2024", "2024-03-05"},
		{"short month", "5 Mar 2024", "2024-03-05"},
		{"long month", "March 5, 2024", "2024-03-05"},
		{"compact", "20240305", "2024-03-05"},
		{"rfc3339", "2024-03-05T08:30:00Z", "2024-03-05"},
		{"padded", "  2024-03-05 ", "2024-03-05"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := n.Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestDateNormalizer_Failures(t *testing.T) {
	n := importer.NewDateNormalizer()

	for _, in := range []any{nil, "", "not a date", "31/31/2024", 0, -5} {
		_, err := n.Normalize(in)
		assert.ErrorIs(t, err, generic.ErrParseFailure, "input %v", in)
	}
}

func TestNormalizeClock(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"08:30", "08:30"},
		{"17:45:10", "17:45"},
		{"0.375", "09:00"},
		{0.75, "18:00"},
	}
	for _, tt := range tests {
		c, err := importer.NormalizeClock(tt.in)
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, tt.want, c.String())
	}

	c, err := importer.NormalizeClock("")
	require.NoError(t, err)
	assert.Nil(t, c)

	_, err = importer.NormalizeClock("1.5")
	assert.ErrorIs(t, err, generic.ErrParseFailure)
}

func TestCoercion_BestEffort(t *testing.T) {
	assert.Equal(t, 15, importer.IntOrZero("15"))
	assert.Equal(t, 0, importer.IntOrZero("n/a"))
	assert.Equal(t, 0, importer.IntOrZero(nil))
	assert.Equal(t, 3, importer.IntOrZero(2.6))
	assert.True(t, importer.DecimalOrZero("5,000,000").Equal(generic.MustParseDecimal("5000000")))
	assert.True(t, importer.DecimalOrZero("").IsZero())
}
