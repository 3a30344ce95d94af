package models

// PlatformPreset is one entry from the known target-platform set a
// submission's platform code must resolve against.
type PlatformPreset struct {
	Code                   string      `json:"code"`
	AspectRatio            AspectRatio `json:"aspect_ratio"`
	OptimalDurationSeconds int         `json:"optimal_duration_seconds"`
	Resolution             string      `json:"resolution"`
}

// platformPresets is the fixed table from original_source's
// PLATFORM_SETTINGS, seeded into the Catalog Service's platforms table
// and also held here so the Submission API can validate against it
// without a database round trip.
var platformPresets = map[string]PlatformPreset{
	"tiktok":             {Code: "tiktok", AspectRatio: Aspect9x16, OptimalDurationSeconds: 30, Resolution: "1080x1920"},
	"youtube":            {Code: "youtube", AspectRatio: Aspect16x9, OptimalDurationSeconds: 600, Resolution: "1920x1080"},
	"youtube_shorts":     {Code: "youtube_shorts", AspectRatio: Aspect9x16, OptimalDurationSeconds: 45, Resolution: "1080x1920"},
	"instagram_reels":    {Code: "instagram_reels", AspectRatio: Aspect9x16, OptimalDurationSeconds: 30, Resolution: "1080x1920"},
	"instagram_stories":  {Code: "instagram_stories", AspectRatio: Aspect9x16, OptimalDurationSeconds: 15, Resolution: "1080x1920"},
	"facebook":           {Code: "facebook", AspectRatio: Aspect16x9, OptimalDurationSeconds: 120, Resolution: "1920x1080"},
}

// LookupPlatform returns the preset for code, or false if code is not in
// the known set.
func LookupPlatform(code string) (PlatformPreset, bool) {
	p, ok := platformPresets[code]
	return p, ok
}
