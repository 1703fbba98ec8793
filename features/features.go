// Package features exposes the switches baked into a node or CLI binary at
// link time: the build mode and the optional subsystems it carries.
package features

import (
	"strings"
	"sync"

	"github.com/samber/lo"
)

// Link-time settings, for example:
//
//	-ldflags "-X github.com/AdalynJs/nucypher/features.BuildFeatures=metrics,rate-limiting"
var (
	// BuildMode is one of demo, production or development.
	BuildMode = "production"
	// BuildFeatures lists optional subsystems, comma separated.
	BuildFeatures = ""
	BuildVersion  = "dev"
	BuildTime     = "unknown"
)

// Optional subsystems a build can switch on.
const (
	FeatureFullLogging   = "full-logging"
	FeatureMetrics       = "metrics"
	FeatureObservability = "observability"
	FeatureRateLimiting  = "rate-limiting"
	FeatureShortTimeouts = "short-timeouts"
)

// ShortCallTimeoutSeconds caps per-peer call timeouts when short timeouts are enabled.
const ShortCallTimeoutSeconds = 2

// switchboard is BuildFeatures parsed once. raw records the string it was
// parsed from so a changed BuildFeatures is picked up without a reset.
type switchboard struct {
	raw     string
	ordered []string
	on      map[string]struct{}
}

var (
	boardMu sync.Mutex
	board   *switchboard
)

func parseSwitches(raw string) *switchboard {
	names := lo.Uniq(lo.Compact(lo.Map(strings.Split(raw, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})))
	return &switchboard{
		raw:     raw,
		ordered: names,
		on:      lo.SliceToMap(names, func(n string) (string, struct{}) { return n, struct{}{} }),
	}
}

func switches() *switchboard {
	boardMu.Lock()
	defer boardMu.Unlock()
	if board == nil || board.raw != BuildFeatures {
		board = parseSwitches(BuildFeatures)
	}
	return board
}

// IsEnabled reports whether the binary was built with feature.
func IsEnabled(feature string) bool {
	_, ok := switches().on[feature]
	return ok
}

// ResetCache forgets the parsed feature list.
func ResetCache() {
	boardMu.Lock()
	board = nil
	boardMu.Unlock()
}

// GetEnabledFeatures returns the enabled features in build order, without
// blanks or repeats.
func GetEnabledFeatures() []string {
	return append([]string{}, switches().ordered...)
}

func modeIs(mode string) bool { return strings.EqualFold(BuildMode, mode) }

// IsDemoMode reports a demo build.
func IsDemoMode() bool { return modeIs("demo") }

// IsProductionMode reports a production build.
func IsProductionMode() bool { return modeIs("production") }

// IsDevelopmentMode reports a development build.
func IsDevelopmentMode() bool { return modeIs("development") }

// ShouldEnableFullLogging is false only for demo builds without
// full-logging; those print startup banners and nothing else.
func ShouldEnableFullLogging() bool {
	return !IsDemoMode() || IsEnabled(FeatureFullLogging)
}

// ShouldEnableMetrics gates the metrics exporter.
func ShouldEnableMetrics() bool { return IsEnabled(FeatureMetrics) }

// ShouldEnableObservability gates tracing and metrics together.
func ShouldEnableObservability() bool { return IsEnabled(FeatureObservability) }

// ShouldEnableRateLimiting gates the node API rate limiter.
func ShouldEnableRateLimiting() bool { return IsEnabled(FeatureRateLimiting) }

// ShouldUseShortTimeouts shortens server timeouts and caps negotiation calls
// at ShortCallTimeoutSeconds. Demo builds always do.
func ShouldUseShortTimeouts() bool {
	return IsDemoMode() || IsEnabled(FeatureShortTimeouts)
}

// GetBuildInfo describes the binary for the startup banner.
func GetBuildInfo() map[string]string {
	return map[string]string{
		"mode":      BuildMode,
		"version":   BuildVersion,
		"buildTime": BuildTime,
		"features":  strings.Join(GetEnabledFeatures(), ","),
	}
}
