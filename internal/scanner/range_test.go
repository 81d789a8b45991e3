package scanner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandRange(t *testing.T) {
	tests := []struct {
		name  string
		start string
		end   string
		want  []string
	}{
		{
			name:  "single address",
			start: "192.168.1.10",
			end:   "192.168.1.10",
			want:  []string{"192.168.1.10"},
		},
		{
			name:  "last octet span",
			start: "192.168.1.1",
			end:   "192.168.1.3",
			want:  []string{"192.168.1.1", "192.168.1.2", "192.168.1.3"},
		},
		{
			name:  "octets iterate as nested loops",
			start: "10.0.0.1",
			end:   "10.0.1.2",
			want:  []string{"10.0.0.1", "10.0.0.2", "10.0.1.1", "10.0.1.2"},
		},
		{
			name:  "inverted octet yields nothing",
			start: "10.0.0.9",
			end:   "10.0.0.1",
			want:  []string{},
		},
		{
			name:  "inverted leading octet yields nothing",
			start: "11.0.0.1",
			end:   "10.0.0.255",
			want:  []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandRange(tt.start, tt.end)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			size, err := RangeSize(tt.start, tt.end)
			require.NoError(t, err)
			assert.Len(t, got, size)
		})
	}
}

func TestExpandRange_SizeIsProductOfSpans(t *testing.T) {
	got, err := ExpandRange("10.1.2.3", "10.2.4.7")
	require.NoError(t, err)
	// 2 * 3 * 5
	assert.Len(t, got, 30)
	assert.Equal(t, "10.1.2.3", got[0])
	assert.Equal(t, "10.2.4.7", got[len(got)-1])

	seen := make(map[string]bool, len(got))
	for _, a := range got {
		assert.False(t, seen[a], "duplicate address %s", a)
		seen[a] = true
	}
}

func TestExpandRange_InvalidAddress(t *testing.T) {
	invalid := []string{
		"",
		"1.2.3",
		"1.2.3.4.5",
		"1.2.3.256",
		"1..2.3",
		"a.b.c.d",
		"-1.2.3.4",
		"1.2.3.1000",
		"1.2.3.4/24",
		"::1",
	}

	for _, addr := range invalid {
		t.Run(addr, func(t *testing.T) {
			_, err := ExpandRange(addr, "10.0.0.1")
			assert.ErrorIs(t, err, ErrInvalidAddressFormat)

			_, err = ExpandRange("10.0.0.1", addr)
			assert.ErrorIs(t, err, ErrInvalidAddressFormat)
		})
	}
}

func TestScanRequestNormalize(t *testing.T) {
	cfg := testScannerConfig()

	t.Run("fills defaults", func(t *testing.T) {
		req, err := ScanRequest{StartAddress: "10.0.0.1", EndAddress: "10.0.0.2"}.Normalize(cfg)
		require.NoError(t, err)
		assert.Equal(t, 80, req.Port)
		assert.Equal(t, 100*time.Millisecond, req.Timeout)
		assert.Equal(t, 20, req.Concurrency)
		assert.Equal(t, ScanTypeAll, req.ScanType)
	})

	t.Run("clamps concurrency to ceiling", func(t *testing.T) {
		req, err := ScanRequest{StartAddress: "10.0.0.1", EndAddress: "10.0.0.2", Concurrency: 2000}.Normalize(cfg)
		require.NoError(t, err)
		assert.Equal(t, 999, req.Concurrency)
	})

	t.Run("non-positive concurrency uses default", func(t *testing.T) {
		req, err := ScanRequest{StartAddress: "10.0.0.1", EndAddress: "10.0.0.2", Concurrency: -5}.Normalize(cfg)
		require.NoError(t, err)
		assert.Equal(t, 20, req.Concurrency)
	})

	t.Run("configured ceiling below hard limit", func(t *testing.T) {
		low := cfg
		low.MaxConcurrency = 50
		req, err := ScanRequest{StartAddress: "10.0.0.1", EndAddress: "10.0.0.2", Concurrency: 500}.Normalize(low)
		require.NoError(t, err)
		assert.Equal(t, 50, req.Concurrency)
	})

	t.Run("keeps explicit values", func(t *testing.T) {
		req, err := ScanRequest{
			StartAddress: "10.0.0.1",
			EndAddress:   "10.0.0.2",
			Port:         8080,
			Timeout:      3 * time.Second,
			Concurrency:  64,
			ScanType:     "MINER",
		}.Normalize(cfg)
		require.NoError(t, err)
		assert.Equal(t, 8080, req.Port)
		assert.Equal(t, 3*time.Second, req.Timeout)
		assert.Equal(t, 64, req.Concurrency)
		assert.Equal(t, ScanTypeMiner, req.ScanType)
	})

	t.Run("empty scan type uses configured default", func(t *testing.T) {
		minerOnly := cfg
		minerOnly.ScanType = "miner"

		req, err := ScanRequest{StartAddress: "10.0.0.1", EndAddress: "10.0.0.2"}.Normalize(minerOnly)
		require.NoError(t, err)
		assert.Equal(t, ScanTypeMiner, req.ScanType)

		req, err = ScanRequest{StartAddress: "10.0.0.1", EndAddress: "10.0.0.2", ScanType: "antbox"}.Normalize(minerOnly)
		require.NoError(t, err)
		assert.Equal(t, ScanTypeAntBox, req.ScanType)

		minerOnly.ScanType = "router"
		_, err = ScanRequest{StartAddress: "10.0.0.1", EndAddress: "10.0.0.2"}.Normalize(minerOnly)
		assert.ErrorIs(t, err, ErrInvalidScanType)
	})

	t.Run("rejects unknown scan type", func(t *testing.T) {
		_, err := ScanRequest{StartAddress: "10.0.0.1", EndAddress: "10.0.0.2", ScanType: "router"}.Normalize(cfg)
		assert.ErrorIs(t, err, ErrInvalidScanType)
	})

	t.Run("rejects malformed address", func(t *testing.T) {
		_, err := ScanRequest{StartAddress: "10.0.0", EndAddress: "10.0.0.2"}.Normalize(cfg)
		assert.ErrorIs(t, err, ErrInvalidAddressFormat)
	})
}

func TestScanTypeFilter(t *testing.T) {
	assert.True(t, ScanTypeAll.Accepts(CategoryUnknown))
	assert.True(t, ScanTypeAll.Accepts(CategoryMiner))
	assert.True(t, ScanTypeAntBox.Accepts(CategoryAntBox))
	assert.False(t, ScanTypeAntBox.Accepts(CategoryMiner))
	assert.False(t, ScanTypeMiner.Accepts(CategoryUnknown))

	assert.Equal(t, []Category{CategoryAntBox, CategoryMiner}, ScanTypeAll.Categories())
	assert.Equal(t, []Category{CategoryMiner}, ScanTypeMiner.Categories())
}
