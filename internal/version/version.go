package version

import (
	"encoding/json"
	"os"
)

// Version is set at build time with -ldflags "-X .../internal/version.Version=...".
var Version = ""

type Info struct {
	Version string `json:"version"`
}

// Load returns the linked-in version, then the one in version.json, then 0.0.0.
func Load() Info {
	if Version != "" {
		return Info{Version: Version}
	}
	data, err := os.ReadFile("version.json")
	if err != nil {
		return Info{Version: "0.0.0"}
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil || info.Version == "" {
		return Info{Version: "0.0.0"}
	}
	return info
}
