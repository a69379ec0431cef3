package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, Validate(cfg))
}

func TestValidate_MissingAPIAddr(t *testing.T) {
	cfg := Defaults()
	cfg.System.APIAddr = ""
	err := Validate(cfg)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "api_addr", verr.Field)
}

func TestValidate_ScalerEnabledWithoutCadence(t *testing.T) {
	cfg := Defaults()
	sc := cfg.Scalers["K8s"]
	sc.CacheLifetime = 0
	sc.CacheCron = ""
	cfg.Scalers["K8s"] = sc
	require.Error(t, Validate(cfg))
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("THORIUM_TEST_VAR", "expanded")
	out := ExpandEnv([]byte("value: ${THORIUM_TEST_VAR}"))
	assert.Equal(t, "value: expanded", string(out))
}
