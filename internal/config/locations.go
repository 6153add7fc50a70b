package config

import (
	"fmt"
	"os"

	"tablewatch/internal/models"

	yamlv2 "gopkg.in/yaml.v2"
)

// LoadLocations reads the tracked-restaurant registry. The path can be
// overridden per deployment with LOCATIONS_PATH.
func LoadLocations(path string) ([]models.Location, error) {
	if env := os.Getenv("LOCATIONS_PATH"); env != "" {
		path = env
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var doc struct {
		Locations []models.Location `yaml:"locations"`
	}
	if err := yamlv2.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse locations: %w", err)
	}

	if err := ValidateLocations(doc.Locations); err != nil {
		return nil, err
	}
	return doc.Locations, nil
}

func ValidateLocations(locations []models.Location) error {
	keys := make(map[string]bool, len(locations))
	for _, loc := range locations {
		if loc.Key == "" {
			return fmt.Errorf("location %q has empty key", loc.Name)
		}
		if loc.MerchantID == 0 {
			return fmt.Errorf("location %q has invalid merchant_id 0", loc.Key)
		}
		if keys[loc.Key] {
			return fmt.Errorf("duplicate location key: %s", loc.Key)
		}
		keys[loc.Key] = true
	}
	return nil
}
