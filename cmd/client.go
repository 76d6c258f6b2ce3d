package cmd

import (
	"flag"
	"strings"

	"gochat/internal/config"
)

// clientFlags are shared by the commands that talk to the endpoint directly.
type clientFlags struct {
	configPath string
	endpoint   string
	apiKey     string
}

func (f *clientFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "path to configuration file")
	fs.StringVar(&f.endpoint, "endpoint", "", "override the API endpoint")
	fs.StringVar(&f.apiKey, "api-key", "", "override the API key")
}

// load reads the config file when given, falls back to environment defaults and
// applies the command-line overrides.
func (f *clientFlags) load() (config.Config, error) {
	var cfg config.Config
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if f.endpoint != "" {
		cfg.API.Endpoint = strings.TrimRight(strings.TrimSpace(f.endpoint), "/")
	}
	if f.apiKey != "" {
		cfg.API.APIKey = f.apiKey
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
