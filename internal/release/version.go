package release

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/normativhq/normativ/internal/model"
)

// NextVersion computes the version a batch publishes as. The highest risk
// tier decides the bump: any T0 is a major release, any T1 without a T0 is
// minor, everything else is a patch. An empty latest starts the line at
// 0.0.0 before the bump.
func NextVersion(latest string, rules []model.Rule) (string, model.ReleaseType, error) {
	base := "0.0.0"
	if latest != "" {
		base = latest
	}
	v, err := semver.NewVersion(base)
	if err != nil {
		return "", "", fmt.Errorf("stored version %q: %w", latest, err)
	}

	tiers := make([]model.RiskTier, 0, len(rules))
	for _, r := range rules {
		tiers = append(tiers, r.RiskTier)
	}
	bump := model.BumpForTiers(tiers)

	var next semver.Version
	switch bump {
	case model.ReleaseMajor:
		next = v.IncMajor()
	case model.ReleaseMinor:
		next = v.IncMinor()
	default:
		next = v.IncPatch()
	}
	return next.String(), bump, nil
}
