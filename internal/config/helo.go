// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// HeloDevice describes one AJA HELO capture box, keyed by the city it serves.
type HeloDevice struct {
	City      string `yaml:"city"`
	IP        string `yaml:"ip"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	RTMPURL   string `yaml:"rtmp_url"`
	StreamKey string `yaml:"stream_key"`
	ChannelID int    `yaml:"channel_id"` // optional upstream channel
}

// LoadHeloDevices reads the device table from a YAML file. An empty path
// yields an empty table (HELO scheduling disabled).
func LoadHeloDevices(path string) ([]HeloDevice, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read helo devices file: %w", err)
	}

	var doc struct {
		Devices []HeloDevice `yaml:"helo_devices"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse helo devices file: %w", err)
	}

	seen := make(map[string]bool, len(doc.Devices))
	for _, d := range doc.Devices {
		if d.City == "" || d.IP == "" {
			return nil, fmt.Errorf("helo device entry missing city or ip in %s", path)
		}
		if seen[d.City] {
			return nil, fmt.Errorf("duplicate helo device for city %q in %s", d.City, path)
		}
		seen[d.City] = true
	}
	return doc.Devices, nil
}
