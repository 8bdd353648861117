package config

import (
	_ "embed"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/jbweber/kiln/internal/loader"
	"github.com/jbweber/kiln/internal/logging"
)

// DefaultSiteConfig is the optional site-wide configuration layer.
const DefaultSiteConfig = "/etc/kiln/site.yaml"

//go:embed defaults.yaml
var distDefaults []byte

// LoadOptions select the configuration layers.
type LoadOptions struct {
	// SiteConfig defaults to DefaultSiteConfig. A missing site file is skipped.
	SiteConfig string
	// InstanceConfig is required.
	InstanceConfig string
	Log            logrus.FieldLogger
}

// Load merges the dist defaults, the site file and the instance file, in
// that order.
func Load(opts LoadOptions) (*File, error) {
	log := logging.OrDiscard(opts.Log)

	if opts.InstanceConfig == "" {
		return nil, fmt.Errorf("an instance configuration file is required")
	}
	site := opts.SiteConfig
	if site == "" {
		site = DefaultSiteConfig
	}

	f := &File{}
	applied, err := loader.Load(f,
		loader.DataLayer("dist defaults", distDefaults),
		loader.FileLayer(site, true),
		loader.FileLayer(opts.InstanceConfig, false),
	)
	if err != nil {
		return nil, err
	}
	log.Infof("Read configuration files: %v", applied)

	return f, nil
}

// Defaults returns the dist defaults alone.
func Defaults() (*File, error) {
	f := &File{}
	if err := loader.DecodeStrict(distDefaults, f); err != nil {
		return nil, fmt.Errorf("failed to parse dist defaults: %w", err)
	}
	return f, nil
}
