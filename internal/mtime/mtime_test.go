package mtime

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignificance(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	for _, tc := range []struct {
		name       string
		delta      time.Duration
		wantBefore bool
		wantAfter  bool
	}{
		{name: "equal", delta: 0},
		{name: "within-later", delta: 300 * time.Millisecond},
		{name: "within-earlier", delta: -300 * time.Millisecond},
		{name: "edge-later", delta: Epsilon},
		{name: "edge-earlier", delta: -Epsilon},
		{name: "later", delta: Epsilon + time.Millisecond, wantAfter: true},
		{name: "earlier", delta: -Epsilon - time.Millisecond, wantBefore: true},
		{name: "much-later", delta: time.Hour, wantAfter: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			other := base.Add(tc.delta)
			assert.Equal(t, tc.wantBefore, IsSignificantlyBefore(other, base), "IsSignificantlyBefore")
			assert.Equal(t, tc.wantAfter, IsSignificantlyAfter(other, base), "IsSignificantlyAfter")
			assert.Equal(t, !tc.wantBefore && !tc.wantAfter, Equal(other, base), "Equal")
			// exactly one side is significant when the gap exceeds Epsilon
			if tc.wantBefore || tc.wantAfter {
				assert.NotEqual(t, IsSignificantlyBefore(other, base), IsSignificantlyAfter(other, base))
			}
		})
	}
}

func TestHexRoundTrip(t *testing.T) {
	ts := time.UnixMilli(0x18c2f1a2b3c)
	assert.Equal(t, "18c2f1a2b3c", FormatHex(ts))

	got, err := ParseHex("18c2f1a2b3c")
	require.NoError(t, err)
	assert.True(t, got.Equal(ts))

	_, err = ParseHex("not-hex")
	assert.Error(t, err)
}

func TestStat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.c")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	want := time.Now().Add(-time.Hour).Truncate(time.Second)
	require.NoError(t, os.Chtimes(path, want, want))

	got, ok := Stat(path)
	require.True(t, ok)
	assert.True(t, Equal(got, want))

	_, ok = Stat(filepath.Join(dir, "missing.c"))
	assert.False(t, ok)
}
