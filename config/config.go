// Package config loads the standalone server's LUN list from a YAML
// file, the way coreos-coreos-assembler's pipeline package decodes its
// own YAML-described build configuration: read the whole file, decode
// with known-fields strictness so a typo in the YAML fails loudly
// instead of silently being ignored.
package config

import (
	"bytes"
	"os"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"
)

// LUN describes one emulated CD/DVD-ROM device to create at startup.
type LUN struct {
	// Path is the backing ISO image or optical device node.
	Path string `yaml:"path"`

	// Vendor/Product/Version override the INQUIRY identity strings;
	// empty fields fall back to registry.Params' own defaults
	// ("Red Hat"/"SPICE CD"/"0").
	Vendor  string `yaml:"vendor"`
	Product string `yaml:"product"`
	Version string `yaml:"version"`

	// ClaimVersion, when non-zero, makes INQUIRY report an SPC-3 version
	// instead of "no version claimed".
	ClaimVersion uint32 `yaml:"claim_version"`

	// CDROM selects the CD-ROM profile in GET_CONFIGURATION rather than
	// DVD-ROM.
	CDROM bool `yaml:"cd_rom"`

	// DeleteOnEject tears the emulated device down once the guest's own
	// eject command has been answered, rather than leaving an empty
	// drive attached.
	DeleteOnEject bool `yaml:"delete_on_eject"`
}

// Config is the top-level shape of a usbcdserve YAML config file.
type Config struct {
	// Listen is the TCP address the usbredir listener binds, e.g.
	// "127.0.0.1:9000".
	Listen string `yaml:"listen"`

	LUNs []LUN `yaml:"luns"`
}

// Load reads and decodes path, rejecting unknown top-level fields the
// way ReadConfig's yaml.Decoder.KnownFields(true) does.
func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrapf(err, "config: decode %s", path)
	}
	if len(cfg.LUNs) == 0 {
		return nil, errors.Errorf("config: %s declares no luns", path)
	}
	return &cfg, nil
}
