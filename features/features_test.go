package features

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func withBuild(t *testing.T, mode, feats string) {
	t.Helper()
	origMode, origFeatures := BuildMode, BuildFeatures
	t.Cleanup(func() {
		BuildMode, BuildFeatures = origMode, origFeatures
		ResetCache()
	})
	BuildMode, BuildFeatures = mode, feats
	ResetCache()
}

func TestIsEnabled(t *testing.T) {
	tests := []struct {
		name          string
		buildFeatures string
		feature       string
		want          bool
	}{
		{"empty features", "", FeatureMetrics, false},
		{"single feature enabled", "metrics", FeatureMetrics, true},
		{"multiple features enabled", "metrics,observability,rate-limiting", FeatureObservability, true},
		{"feature not in list", "metrics,observability", FeatureRateLimiting, false},
		{"features with spaces", "metrics, short-timeouts ,rate-limiting", FeatureShortTimeouts, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withBuild(t, "production", tt.buildFeatures)
			assert.Equal(t, tt.want, IsEnabled(tt.feature))
		})
	}
}

func TestModes(t *testing.T) {
	tests := []struct {
		mode        string
		demo        bool
		production  bool
		development bool
	}{
		{"demo", true, false, false},
		{"DEMO", true, false, false},
		{"production", false, true, false},
		{"Development", false, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			withBuild(t, tt.mode, "")
			assert.Equal(t, tt.demo, IsDemoMode())
			assert.Equal(t, tt.production, IsProductionMode())
			assert.Equal(t, tt.development, IsDevelopmentMode())
		})
	}
}

func TestShouldEnableFullLogging(t *testing.T) {
	withBuild(t, "demo", "")
	assert.False(t, ShouldEnableFullLogging())

	withBuild(t, "demo", FeatureFullLogging)
	assert.True(t, ShouldEnableFullLogging())

	withBuild(t, "production", "")
	assert.True(t, ShouldEnableFullLogging())
}

func TestShouldUseShortTimeouts(t *testing.T) {
	withBuild(t, "production", "")
	assert.False(t, ShouldUseShortTimeouts())

	withBuild(t, "demo", "")
	assert.True(t, ShouldUseShortTimeouts())

	withBuild(t, "production", FeatureShortTimeouts)
	assert.True(t, ShouldUseShortTimeouts())
}

func TestGetEnabledFeatures(t *testing.T) {
	withBuild(t, "production", " metrics,, rate-limiting ")
	assert.Equal(t, []string{"metrics", "rate-limiting"}, GetEnabledFeatures())

	info := GetBuildInfo()
	assert.Equal(t, "production", info["mode"])
	assert.Contains(t, info, "buildTime")
}

func TestSwitchesFollowBuildFeatures(t *testing.T) {
	withBuild(t, "production", "metrics,metrics, observability")
	assert.Equal(t, []string{"metrics", "observability"}, GetEnabledFeatures())
	assert.Equal(t, "metrics,observability", GetBuildInfo()["features"])
	assert.True(t, IsEnabled(FeatureMetrics))

	// No reset needed when the list changes underneath.
	BuildFeatures = "rate-limiting"
	assert.False(t, IsEnabled(FeatureMetrics))
	assert.True(t, ShouldEnableRateLimiting())

	withBuild(t, "production", "")
	assert.Empty(t, GetEnabledFeatures())
	assert.False(t, IsEnabled(""))
}
