package release

import (
	"testing"

	"github.com/normativhq/normativ/internal/model"
)

func tierBatch(tiers ...model.RiskTier) []model.Rule {
	rules := make([]model.Rule, len(tiers))
	for i, tier := range tiers {
		rules[i] = model.Rule{RiskTier: tier}
	}
	return rules
}

func TestNextVersion(t *testing.T) {
	cases := []struct {
		name     string
		latest   string
		tiers    []model.RiskTier
		want     string
		wantType model.ReleaseType
	}{
		{"first release with critical rule", "", []model.RiskTier{model.TierT0}, "1.0.0", model.ReleaseMajor},
		{"critical bumps major", "1.2.3", []model.RiskTier{model.TierT0, model.TierT3}, "2.0.0", model.ReleaseMajor},
		{"important bumps minor", "1.2.3", []model.RiskTier{model.TierT1, model.TierT2}, "1.3.0", model.ReleaseMinor},
		{"quiet tiers bump patch", "1.2.3", []model.RiskTier{model.TierT2, model.TierT3}, "1.2.4", model.ReleasePatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, typ, err := NextVersion(tc.latest, tierBatch(tc.tiers...))
			if err != nil {
				t.Fatalf("Expected a version, got %v", err)
			}
			if got != tc.want {
				t.Errorf("Expected %s, got %s", tc.want, got)
			}
			if typ != tc.wantType {
				t.Errorf("Expected %s release, got %s", tc.wantType, typ)
			}
		})
	}
}

func TestNextVersion_MalformedStoredVersion(t *testing.T) {
	if _, _, err := NextVersion("not-semver", tierBatch(model.TierT2)); err == nil {
		t.Fatal("Expected a malformed stored version to error")
	}
}
