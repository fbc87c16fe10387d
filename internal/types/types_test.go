package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeChainID(t *testing.T) {
	assert.Equal(t, ChainEthereum, NormalizeChainID(" Ethereum "))
	assert.Equal(t, ChainBSC, NormalizeChainID("BSC"))
}

func TestVolumeResult_MarshalJSON(t *testing.T) {
	block := uint64(123)
	total := 15.5
	daily := 42.0
	usd := "2000000"

	tests := []struct {
		name   string
		result VolumeResult
		want   string
	}{
		{
			name:   "all fields unknown",
			result: VolumeResult{Timestamp: 1700000000},
			want:   `{"timestamp":1700000000}`,
		},
		{
			name:   "numeric daily volume",
			result: VolumeResult{Timestamp: 1700000000, Block: &block, TotalVolume: &total, DailyVolume: &daily},
			want:   `{"timestamp":1700000000,"block":123,"totalVolume":15.5,"dailyVolume":42}`,
		},
		{
			name:   "usd daily volume wins over numeric",
			result: VolumeResult{Timestamp: 1700000000, DailyVolume: &daily, DailyVolumeUSD: &usd},
			want:   `{"timestamp":1700000000,"dailyVolume":"2000000"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.result)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func TestVolumeResult_ZeroIsNotUnknown(t *testing.T) {
	zero := 0.0
	got, err := json.Marshal(VolumeResult{Timestamp: 1, DailyVolume: &zero})
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp":1,"dailyVolume":0}`, string(got))
}
