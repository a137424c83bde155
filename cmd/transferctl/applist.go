package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/veranemoloko/mobile-transfer/internal/domain"
)

// appList is the YAML file naming the applications to download with a backup.
type appList struct {
	AllowedAccounts []string          `yaml:"allowed_accounts"`
	Apps            []domain.WorkItem `yaml:"apps"`
}

func loadAppList(path string) (*appList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read app list: %w", err)
	}

	var list appList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse app list %s: %w", path, err)
	}
	for i, app := range list.Apps {
		if app.ID == "" {
			return nil, fmt.Errorf("app list %s: entry %d has no bundle_identifier", path, i+1)
		}
	}
	return &list, nil
}
