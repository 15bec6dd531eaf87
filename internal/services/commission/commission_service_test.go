package commission

import "testing"

func TestComputeShares(t *testing.T) {
	tests := []struct {
		name            string
		bonus           int64
		platformPct     int
		networkPct      int
		wantDirect      int64
		wantNetwork     int64
		wantPlatformCut int64
	}{
		{
			name:  "standard rates on 150000",
			bonus: 150000, platformPct: 15, networkPct: 5,
			wantDirect: 127500, wantNetwork: 7500, wantPlatformCut: 22500,
		},
		{
			name:  "rounding floors the shares",
			bonus: 99999, platformPct: 15, networkPct: 5,
			// 99999*85/100 = 84999.15 -> 84999, remainder goes to the platform
			wantDirect: 84999, wantNetwork: 4999, wantPlatformCut: 15000,
		},
		{
			name:  "zero network rate",
			bonus: 150000, platformPct: 15, networkPct: 0,
			wantDirect: 127500, wantNetwork: 0, wantPlatformCut: 22500,
		},
		{
			name:  "zero platform rate passes everything through",
			bonus: 100000, platformPct: 0, networkPct: 5,
			wantDirect: 100000, wantNetwork: 5000, wantPlatformCut: 0,
		},
		{
			name:  "tiny bonus",
			bonus: 10, platformPct: 15, networkPct: 5,
			wantDirect: 8, wantNetwork: 0, wantPlatformCut: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeShares(tt.bonus, tt.platformPct, tt.networkPct)
			if got.Direct != tt.wantDirect {
				t.Errorf("Direct = %d, want %d", got.Direct, tt.wantDirect)
			}
			if got.Network != tt.wantNetwork {
				t.Errorf("Network = %d, want %d", got.Network, tt.wantNetwork)
			}
			if got.PlatformCut != tt.wantPlatformCut {
				t.Errorf("PlatformCut = %d, want %d", got.PlatformCut, tt.wantPlatformCut)
			}
		})
	}
}

// Direct + PlatformCut must always equal the bonus; the network bonus is an
// independent pool and never subtracted from either.
func TestComputeSharesConservation(t *testing.T) {
	bonuses := []int64{1, 10, 999, 30000, 150000, 99999, 1234567}
	for _, bonus := range bonuses {
		got := ComputeShares(bonus, 15, 5)
		if got.Direct+got.PlatformCut != bonus {
			t.Errorf("bonus %d: direct %d + platform %d != bonus", bonus, got.Direct, got.PlatformCut)
		}
		if got.Direct < 0 || got.Network < 0 || got.PlatformCut < 0 {
			t.Errorf("bonus %d: negative share in %+v", bonus, got)
		}
	}
}
