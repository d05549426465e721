// Package config loads the optional ~/.nds/config.yaml file. Almost
// everything about nds is driven by flags and environment variables (see
// cmd/nds and cmd/ndsd); this file exists only for the handful of settings
// a user plausibly wants to pin once and forget, the same way catherd's
// project.yaml carries defaults that flags can still override.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the parsed contents of config.yaml.
type Config struct {
	// Shell overrides the fallback chain (NDS_SHELL, SHELL, /bin/sh) when
	// none of those env vars are set.
	Shell string `yaml:"shell"`
	// PromptPrefix, if set, is exported to the shell as NDS_PROMPT_PREFIX
	// so a user's shellrc can fold it into $PS1.
	PromptPrefix string `yaml:"prompt_prefix"`
	// ScrollbackBytes overrides the default 2 MiB scrollback size, clamped
	// to the 8 MiB ceiling by the caller.
	ScrollbackBytes int `yaml:"scrollback_bytes"`
}

// Load reads root/config.yaml. A missing file is not an error — it returns
// the zero Config, which callers interpret as "use every default".
func Load(root string) (Config, error) {
	path := filepath.Join(root, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, nil
		}
		return Config{}, err
	}

	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, err
	}
	return c, nil
}
