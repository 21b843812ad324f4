package registry

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DeviceOverlay is operator-supplied configuration layered onto a device's
// reported system info at registration time.
type DeviceOverlay struct {
	CustomMetadata     map[string]any `yaml:"custom_metadata"`
	AdditionalFeatures []string       `yaml:"additional_features"`
	Tags               []string       `yaml:"tags"`
}

type overlayFile struct {
	Devices map[string]DeviceOverlay `yaml:"devices"`
}

// LoadOverlays reads per-device overlays from a YAML file keyed by device id.
// An empty path means no overlay file is configured and yields an empty map.
func LoadOverlays(path string) (map[string]DeviceOverlay, error) {
	if path == "" {
		return map[string]DeviceOverlay{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read devices file %s: %w", path, err)
	}

	var file overlayFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse devices file %s: %w", path, err)
	}
	if file.Devices == nil {
		file.Devices = map[string]DeviceOverlay{}
	}
	return file.Devices, nil
}

// MergeSystemInfo layers a device overlay onto reported system info.
//
// The overlay contributes exactly three keys: custom_metadata is replaced
// wholesale, additional_features extend supported_features as a set union,
// and tags replace the reported tags when the overlay names any. Reported
// scalar fields (os, memory, resolution, ...) are never overridden.
//
// The input map is not mutated; callers keep the raw reported bag.
func MergeSystemInfo(reported map[string]any, overlay *DeviceOverlay) map[string]any {
	merged := make(map[string]any, len(reported)+3)
	for k, v := range reported {
		merged[k] = v
	}

	if overlay == nil {
		return merged
	}

	if overlay.CustomMetadata != nil {
		merged["custom_metadata"] = overlay.CustomMetadata
	}

	if len(overlay.AdditionalFeatures) > 0 {
		merged["supported_features"] = featureUnion(merged["supported_features"], overlay.AdditionalFeatures)
	}

	if overlay.Tags != nil {
		merged["tags"] = overlay.Tags
	}

	return merged
}

// featureUnion merges the reported feature list with overlay additions,
// preserving reported order and dropping duplicates. Reported features
// arrive as []any after JSON decoding.
func featureUnion(reported any, additional []string) []string {
	seen := make(map[string]bool)
	var union []string

	appendFeature := func(f string) {
		if f == "" || seen[f] {
			return
		}
		seen[f] = true
		union = append(union, f)
	}

	switch features := reported.(type) {
	case []string:
		for _, f := range features {
			appendFeature(f)
		}
	case []any:
		for _, v := range features {
			if f, ok := v.(string); ok {
				appendFeature(f)
			}
		}
	}

	for _, f := range additional {
		appendFeature(f)
	}
	return union
}
