package license

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTierTable(t *testing.T) {
	cases := []struct {
		typ                   LicenseType
		prefix                string
		users, lines, plans   int
		featureCount          int
		mustHave, mustNotHave string
	}{
		{Trial, "TRI", 5, 2, 10, 2, FeatureBasicReports, FeatureExportPDF},
		{Standard, "STA", 20, 10, 50, 4, FeatureExportExcel, FeatureWebhooks},
		{Professional, "PRO", 50, 30, 200, 7, FeatureAPIAccess, FeatureMultiSite},
		{Enterprise, "ENT", Unlimited, Unlimited, Unlimited, 10, FeatureMultiSite, ""},
	}

	for _, tc := range cases {
		t.Run(string(tc.typ), func(t *testing.T) {
			tier, ok := TierFor(tc.typ)
			require.True(t, ok)
			require.Equal(t, tc.prefix, tier.Prefix)
			require.Equal(t, tc.users, tier.MaxUsers)
			require.Equal(t, tc.lines, tier.MaxLines)
			require.Equal(t, tc.plans, tier.MaxPlans)
			require.Len(t, tier.Features, tc.featureCount)
			require.Contains(t, tier.Features, tc.mustHave)
			if tc.mustNotHave != "" {
				require.NotContains(t, tier.Features, tc.mustNotHave)
			}
		})
	}
}

func TestTierFeaturesAreCumulative(t *testing.T) {
	types := AllTypes()
	for i := 1; i < len(types); i++ {
		lower, _ := TierFor(types[i-1])
		upper, _ := TierFor(types[i])
		for _, f := range lower.Features {
			require.Contains(t, upper.Features, f, "%s should include %s from %s", types[i], f, types[i-1])
		}
	}
}

func TestTierForReturnsCopy(t *testing.T) {
	tier, _ := TierFor(Trial)
	tier.Features[0] = "tampered"

	again, _ := TierFor(Trial)
	require.Equal(t, FeatureBasicAnalysis, again.Features[0])

	_, ok := TierFor(LicenseType("platinum"))
	require.False(t, ok)
}
