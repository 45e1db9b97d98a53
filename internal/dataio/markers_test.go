package dataio

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/fsutil"
	"github.com/StevenGuo30/BR2-vision-based-smoothing/internal/smoothing"
)

const markerYAML = `rest_length: 64
markers:
  - {label: z0-c, s0: 0}
  - {label: z1-c, s0: 32}
  - {label: z1-a, s0: 32, offset: [8, 0]}
  - {label: z1-b, s0: 32, offset: [0, 8]}
  - {label: z2-c, s0: 64}
`

func TestReadMarkers_SharedCrossSection(t *testing.T) {
	markers, length, err := ReadMarkers(strings.NewReader(markerYAML))
	require.NoError(t, err)
	assert.Equal(t, 64.0, length)
	want := []smoothing.Marker{
		{Label: "z0-c", S0: 0},
		{Label: "z1-c", S0: 32},
		{Label: "z1-a", S0: 32, Offset: r2.Point{X: 8}},
		{Label: "z1-b", S0: 32, Offset: r2.Point{Y: 8}},
		{Label: "z2-c", S0: 64},
	}
	if diff := cmp.Diff(want, markers); diff != "" {
		t.Errorf("markers mismatch (-want +got):\n%s", diff)
	}
}

func TestReadMarkers_RestLengthDefaultsToLastMarker(t *testing.T) {
	_, length, err := ReadMarkers(strings.NewReader("markers:\n  - {label: a, s0: 0}\n  - {label: b, s0: 40.5}\n"))
	require.NoError(t, err)
	assert.Equal(t, 40.5, length)
}

func TestReadMarkers_Errors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		arcError bool
	}{
		{"empty", "markers: []\n", true},
		{"same place", "rest_length: 10\nmarkers:\n  - {label: a, s0: 5}\n  - {label: b, s0: 5}\n", true},
		{"beyond tip", "rest_length: 10\nmarkers:\n  - {label: a, s0: 0}\n  - {label: b, s0: 11}\n", true},
		{"one offset component", "markers:\n  - {label: a, s0: 0}\n  - {label: b, s0: 4, offset: [1]}\n", true},
		{"unknown field", "markers:\n  - {label: a, s0: 0, z: 3}\n", false},
		{"not yaml", "markers: [", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ReadMarkers(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Equal(t, tt.arcError, errors.Is(err, smoothing.ErrInvalidArcLength), "%v", err)
		})
	}
}

func TestMarkersRoundTrip(t *testing.T) {
	markers, length, err := ReadMarkers(strings.NewReader(markerYAML))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteMarkers(&buf, markers, length))
	assert.Contains(t, buf.String(), "offset: [8, 0]")

	fsys := fsutil.NewMemoryFileSystem()
	files := NewFiles(fsys)
	require.NoError(t, files.SaveMarkers("/data/bend/markers.yaml", markers, length))
	got, gotLength, err := files.LoadMarkers("/data/bend/markers.yaml")
	require.NoError(t, err)
	assert.Equal(t, length, gotLength)
	if diff := cmp.Diff(markers, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}
