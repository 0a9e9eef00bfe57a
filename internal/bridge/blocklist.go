package bridge

import (
	"fmt"
	"strings"
)

// Blacklist presets selectable by name from config, the CLI and HTTP
// requests.
const (
	PresetImages   = "images"
	PresetMedia    = "media"
	PresetTrackers = "trackers"
)

var ImageBlockPatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.webp", "*.svg", "*.ico", "*.avif",
}

var MediaBlockPatterns = CombineBlockPatterns(ImageBlockPatterns, []string{
	"*.mp4", "*.webm", "*.ogg", "*.mp3", "*.wav", "*.flac", "*.aac", "*.m3u8",
})

// TrackerBlockPatterns covers ad networks, analytics and consent banners that
// slow down page loads and clutter printed output.
var TrackerBlockPatterns = []string{
	// analytics and tag managers
	"*google-analytics.com/*",
	"*googletagmanager.com/*",
	"*googletagservices.com/*",
	"*segment.io/*",
	"*segment.com/*",
	"*mixpanel.com/*",
	"*amplitude.com/*",
	"*hotjar.com/*",
	"*fullstory.com/*",
	"*heapanalytics.com/*",
	"*mouseflow.com/*",
	"*crazyegg.com/*",
	"*nr-data.net/*",
	"*scorecardresearch.com/*",
	"*quantserve.com/*",
	"*chartbeat.com/*",
	"*parsely.com/*",
	"*omtrdc.net/*",
	"*demdex.net/*",
	"*optimizely.com/*",

	// ad networks
	"*doubleclick.net/*",
	"*googlesyndication.com/*",
	"*googleadservices.com/*",
	"*amazon-adsystem.com/*",
	"*adnxs.com/*",
	"*adsrvr.org/*",
	"*openx.net/*",
	"*pubmatic.com/*",
	"*rubiconproject.com/*",
	"*criteo.com/*",
	"*criteo.net/*",
	"*casalemedia.com/*",
	"*taboola.com/*",
	"*outbrain.com/*",
	"*revcontent.com/*",

	// social pixels and widgets
	"*facebook.com/tr/*",
	"*connect.facebook.net/*",
	"*analytics.twitter.com/*",
	"*static.ads-twitter.com/*",
	"*platform.twitter.com/widgets/*",
	"*platform.linkedin.com/widgets/*",
	"*addthis.com/*",
	"*sharethis.com/*",

	// consent banners overlay the printed page
	"*cookielaw.org/*",
	"*cookiebot.com/*",
	"*onetrust.com/*",
	"*trustarc.com/*",
	"*usercentrics.com/*",

	// pixels
	"*pixel.gif*",
	"*tracking.gif*",
	"*/pixel?*",
	"*/collect?*",
}

var blockPresets = map[string][]string{
	PresetImages:   ImageBlockPatterns,
	PresetMedia:    MediaBlockPatterns,
	PresetTrackers: TrackerBlockPatterns,
}

// BlockPreset returns the patterns of a named preset.
func BlockPreset(name string) ([]string, error) {
	p, ok := blockPresets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown block preset %q", ErrInvalidRequest, name)
	}
	return p, nil
}

// CombineBlockPatterns merges pattern lists, keeping the first occurrence of
// each pattern.
func CombineBlockPatterns(patterns ...[]string) []string {
	var result []string
	seen := make(map[string]bool)
	for _, list := range patterns {
		for _, pattern := range list {
			if pattern == "" || seen[pattern] {
				continue
			}
			seen[pattern] = true
			result = append(result, pattern)
		}
	}
	return result
}
