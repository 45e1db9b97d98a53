package smoothing

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/config"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/report"
)

func TestMarkersFromSpacing(t *testing.T) {
	p, err := config.LookupProblem("bend")
	require.NoError(t, err)

	markers, length, err := MarkersFromSpacing(p.MarkerLabels(), p.Spacing)
	require.NoError(t, err)
	assert.InDelta(t, p.RestLength(), length, 1e-12)
	require.Len(t, markers, 6)
	assert.Equal(t, 0.0, markers[0].S0)
	assert.InDelta(t, 23.9, markers[1].S0, 1e-12)
	assert.InDelta(t, length, markers[5].S0, 1e-12)
	assert.True(t, markers[3].OnCenterline())
	require.NoError(t, ValidateMarkers(markers, length))
}

func TestMarkersFromSpacing_Errors(t *testing.T) {
	_, _, err := MarkersFromSpacing([]string{"a", "b"}, []float64{1, 2})
	assert.True(t, errors.Is(err, ErrInvalidArcLength))

	_, _, err = MarkersFromSpacing([]string{"a", "b", "c"}, []float64{1, -2})
	var iae *InvalidArcLengthError
	require.True(t, errors.As(err, &iae))
	assert.Equal(t, "c", iae.Label)
	assert.Equal(t, report.KindConfiguration, iae.FailureKind())
}

func TestValidateMarkers(t *testing.T) {
	tests := []struct {
		name    string
		markers []Marker
		length  float64
		wantErr bool
	}{
		{"valid", []Marker{{Label: "a", S0: 0}, {Label: "b", S0: 10}}, 10, false},
		{"offset at shared position", []Marker{{Label: "a", S0: 5}, {Label: "b", S0: 5, Offset: r2.Point{X: 2}}}, 10, false},
		{"beyond tip", []Marker{{Label: "a", S0: 11}}, 10, true},
		{"negative", []Marker{{Label: "a", S0: -1}}, 10, true},
		{"nan", []Marker{{Label: "a", S0: math.NaN()}}, 10, true},
		{"duplicate label", []Marker{{Label: "a", S0: 1}, {Label: "a", S0: 2}}, 10, true},
		{"empty label", []Marker{{S0: 1}}, 10, true},
		{"coincident", []Marker{{Label: "a", S0: 4}, {Label: "b", S0: 4}}, 10, true},
		{"zero length", []Marker{{Label: "a", S0: 0}}, 0, true},
		{"infinite offset", []Marker{{Label: "a", S0: 1, Offset: r2.Point{Y: math.Inf(1)}}}, 10, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMarkers(tt.markers, tt.length)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidArcLength), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
