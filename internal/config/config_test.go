package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadWeightSum(t *testing.T) {
	cfg := Default()
	cfg.SROmega.Weights = [4]float64{0.5, 0.5, 0.5, 0.5}

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "sr_omega")
}

func TestValidateRejectsOutOfRangeThreshold(t *testing.T) {
	cfg := Default()
	cfg.Ethics.ECEMax = 2.0

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "ece_max")
}

func TestValidateRejectsBadSearchMethod(t *testing.T) {
	cfg := Default()
	cfg.Fibonacci.SearchMethod = "bogus"

	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateAggregatesMultipleProblems(t *testing.T) {
	cfg := Default()
	cfg.Ethics.ECEMax = 5
	cfg.IRIC.RhoMax = 5

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "ece_max")
	require.Contains(t, err.Error(), "rho_max")
}

func TestLoadDefaultsWithoutPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	require.Error(t, err)
}
