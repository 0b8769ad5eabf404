// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FlexServer describes one city share. The set of nine servers is fixed at
// startup; identifiers are stable strings ("flex-1" … "flex-9").
type FlexServer struct {
	ID          string   `yaml:"id"`
	DisplayName string   `yaml:"display_name"`
	MountPath   string   `yaml:"mount_path"`
	ChannelIDs  []int    `yaml:"channel_ids"`
	Aliases     []string `yaml:"aliases"`
}

// FlexServerCount is the fixed number of city shares.
const FlexServerCount = 9

// DefaultFlexServers returns the built-in nine-city table. Deployments
// override display names, channels and aliases via FLEX_SERVERS_FILE.
func DefaultFlexServers() []FlexServer {
	servers := make([]FlexServer, 0, FlexServerCount)
	for i := 1; i <= FlexServerCount; i++ {
		id := fmt.Sprintf("flex-%d", i)
		servers = append(servers, FlexServer{
			ID:          id,
			DisplayName: fmt.Sprintf("Flex %d", i),
			MountPath:   fmt.Sprintf("/mnt/%s", id),
		})
	}
	return servers
}

// LoadFlexServers merges the built-in table with a YAML override file.
// Entries in the file are matched by id; unknown ids are rejected so a typo
// cannot silently create a tenth city.
func LoadFlexServers(path string) ([]FlexServer, error) {
	servers := DefaultFlexServers()
	if path == "" {
		return servers, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flex servers file: %w", err)
	}

	var overrides struct {
		Servers []FlexServer `yaml:"flex_servers"`
	}
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parse flex servers file: %w", err)
	}

	byID := make(map[string]int, len(servers))
	for i, s := range servers {
		byID[s.ID] = i
	}
	for _, o := range overrides.Servers {
		idx, ok := byID[o.ID]
		if !ok {
			return nil, fmt.Errorf("unknown flex server id %q in %s", o.ID, path)
		}
		if o.DisplayName != "" {
			servers[idx].DisplayName = o.DisplayName
		}
		if o.MountPath != "" {
			servers[idx].MountPath = o.MountPath
		}
		if len(o.ChannelIDs) > 0 {
			servers[idx].ChannelIDs = o.ChannelIDs
		}
		if len(o.Aliases) > 0 {
			servers[idx].Aliases = o.Aliases
		}
	}

	if err := validateFlexServers(servers); err != nil {
		return nil, err
	}
	return servers, nil
}

func validateFlexServers(servers []FlexServer) error {
	mounts := make(map[string]string, len(servers))
	for _, s := range servers {
		if other, dup := mounts[s.MountPath]; dup {
			return fmt.Errorf("flex servers %s and %s share mount path %s", other, s.ID, s.MountPath)
		}
		mounts[s.MountPath] = s.ID
	}
	return nil
}

// ChannelToCity builds the channel-id → city-id precedence map used by the
// HELO run planner.
func ChannelToCity(servers []FlexServer) map[int]string {
	out := make(map[int]string)
	for _, s := range servers {
		for _, ch := range s.ChannelIDs {
			if _, exists := out[ch]; !exists {
				out[ch] = s.ID
			}
		}
	}
	return out
}
