package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type noDefaults struct {
	A string `mapstructure:"a"`
	B int    `mapstructure:"b"`
}

type withDefaults struct {
	A string `mapstructure:"a"`
	B int    `mapstructure:"b" validate:"required"`
}

func (c *withDefaults) ApplyDefaults() {
	if c.A == "" {
		c.A = "default"
	}
}

func TestDecodeNoDefaults(t *testing.T) {
	var dst noDefaults
	require.NoError(t, Decode(map[string]interface{}{"a": "x", "b": 10}, &dst))
	require.Equal(t, noDefaults{A: "x", B: 10}, dst)
}

func TestDecodeAppliesDefaults(t *testing.T) {
	var dst withDefaults
	require.NoError(t, Decode(map[string]interface{}{"b": 100}, &dst))
	require.Equal(t, withDefaults{A: "default", B: 100}, dst)
}

func TestDecodeValidatesRequired(t *testing.T) {
	var dst withDefaults
	err := Decode(map[string]interface{}{"a": "set"}, &dst)
	require.Error(t, err)
}

func TestServerApplyDefaults(t *testing.T) {
	c := Server{DataDir: "/data", APIKey: "k"}
	c.ApplyDefaults()
	require.Equal(t, "0.0.0.0", c.Host)
	require.Equal(t, 8080, c.Port)
}

func TestLoadReadsEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/data")
	t.Setenv("API_KEY", "secret")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9090")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, Server{DataDir: "/data", APIKey: "secret", Host: "127.0.0.1", Port: 9090}, c)
}

func TestLoadAppliesPortDefault(t *testing.T) {
	t.Setenv("DATA_DIR", "/data")
	t.Setenv("API_KEY", "secret")
	t.Setenv("HOST", "")
	t.Setenv("PORT", "")

	c, err := Load()
	require.NoError(t, err)
	require.Equal(t, 8080, c.Port)
	require.Equal(t, "0.0.0.0", c.Host)
}

func TestLoadRequiresAPIKey(t *testing.T) {
	t.Setenv("DATA_DIR", "/data")
	t.Setenv("API_KEY", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsNonIntegerPort(t *testing.T) {
	t.Setenv("DATA_DIR", "/data")
	t.Setenv("API_KEY", "secret")
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}
