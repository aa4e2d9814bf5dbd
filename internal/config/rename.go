package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	apperrors "stitch/internal/errors"
)

// LoadRenames reads per-year column rename maps from a YAML file shaped as
//
//	2016:
//	  heat_idx: HeatIndex
//	  geoid: GEOID10
//
// Years without an entry keep their column names.
func LoadRenames(path string) (map[int]map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apperrors.NewNotFoundError("rename file " + path)
		}
		return nil, apperrors.NewConfigError("read rename file", err)
	}
	var renames map[int]map[string]string
	if err := yaml.Unmarshal(data, &renames); err != nil {
		return nil, apperrors.NewConfigError("parse rename file "+path, err)
	}
	for year, m := range renames {
		seen := make(map[string]string, len(m))
		for from, to := range m {
			if to == "" {
				return nil, apperrors.NewConfigError(fmt.Sprintf("rename file %s: year %d maps %q to an empty name", path, year, from), nil)
			}
			if prev, dup := seen[to]; dup {
				return nil, apperrors.NewConfigError(fmt.Sprintf("rename file %s: year %d maps both %q and %q to %q", path, year, prev, from, to), nil)
			}
			seen[to] = from
		}
	}
	return renames, nil
}
