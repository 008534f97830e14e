package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"railtrack/internal/geo"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "shape:tokyo_20261001:JR-East.Yamanote", KeyLineShape("tokyo_20261001", "JR-East.Yamanote"))
	assert.Equal(t, "shape:tokyo_20261001:*", KeyDatasetPattern("tokyo_20261001"))
}

func TestShapeEncoding(t *testing.T) {
	pts := []geo.Point{{Lon: 139.7285, Lat: 35.6197}, {Lon: 139.7236, Lat: 35.6262}}
	data, err := encodeShape(pts)
	require.NoError(t, err)

	got, err := decodeShape(data)
	require.NoError(t, err)
	assert.Equal(t, pts, got)

	_, err = decodeShape([]byte("not gzip"))
	assert.Error(t, err)
}
