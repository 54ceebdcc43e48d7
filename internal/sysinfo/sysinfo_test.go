package sysinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe(t *testing.T) {
	s, err := Probe(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, s.DiskTotalBytes, uint64(0))
	assert.LessOrEqual(t, s.DiskFreeBytes, s.DiskTotalBytes)
}

func TestProbeMissingPath(t *testing.T) {
	_, err := Probe("/does/not/exist")
	assert.Error(t, err)
}

func TestFreeBytes(t *testing.T) {
	free, err := FreeBytes(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, free, uint64(0))
}
