// Package config binds process configuration from the environment into a
// typed struct: mapstructure decode into the destination, then an
// ApplyDefaults() pass if the destination implements it, then struct-tag
// validation. nexus has no config file (only a handful of env vars), so
// Load builds a map[string]interface{} from os.Getenv and decodes that.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/nexi-lab/nexus/pkg/errtypes"
)

// defaultApplier is implemented by a config struct that wants to fill in
// zero-valued fields before validation runs.
type defaultApplier interface {
	ApplyDefaults()
}

// Decode maps src into dst (a pointer to a config struct tagged with
// `mapstructure` and optionally `validate`), applies dst's defaults if it
// implements defaultApplier, then validates it.
func Decode(src map[string]interface{}, dst interface{}) error {
	if err := mapstructure.Decode(src, dst); err != nil {
		return errtypes.InvalidArgument("decode config: " + err.Error())
	}
	if da, ok := dst.(defaultApplier); ok {
		da.ApplyDefaults()
	}
	if err := validator.New().Struct(dst); err != nil {
		return errtypes.InvalidArgument("validate config: " + err.Error())
	}
	return nil
}

// Server is nexusd's process configuration (spec §6): where the metadata
// store and blob backend live, the admin bootstrap key, and the listen
// address.
type Server struct {
	DataDir string `mapstructure:"data_dir" validate:"required"`
	APIKey  string `mapstructure:"api_key" validate:"required"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

// ApplyDefaults fills in the listen address when unset.
func (c *Server) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

// Load reads DATA_DIR, API_KEY, HOST, PORT from the environment (spec §6:
// "No additional env vars beyond what §6 names") and decodes them into a
// Server.
func Load() (Server, error) {
	env := map[string]interface{}{
		"data_dir": os.Getenv("DATA_DIR"),
		"api_key":  os.Getenv("API_KEY"),
		"host":     os.Getenv("HOST"),
	}
	if raw := os.Getenv("PORT"); raw != "" {
		port, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil {
			return Server{}, errtypes.InvalidArgument("PORT must be an integer: " + raw)
		}
		env["port"] = port
	}

	var c Server
	if err := Decode(env, &c); err != nil {
		return Server{}, err
	}
	return c, nil
}
