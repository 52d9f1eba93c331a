package config

import (
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"DRD_CLOUD_API_HOST", "DRD_CLOUD_API_TOKEN", "SOURCEBRIDGE_CREDENTIALS",
		"SOURCEBRIDGE_HTTP_ADDR", "SOURCEBRIDGE_MCP_ADDR",
		"SOURCEBRIDGE_POLL_INTERVAL_SECONDS", "SOURCEBRIDGE_LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}

	s := FromEnv()
	if s.CredentialsPath != "./credentials.yaml" {
		t.Errorf("CredentialsPath = %q", s.CredentialsPath)
	}
	if s.HTTPListenAddr != ":8080" || s.MCPListenAddr != ":8081" {
		t.Errorf("listen addrs = %q %q", s.HTTPListenAddr, s.MCPListenAddr)
	}
	if s.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %s", s.PollInterval)
	}
	if s.LogLevel != "info" || s.LogFormat != "text" {
		t.Errorf("log settings = %q %q", s.LogLevel, s.LogFormat)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("DRD_CLOUD_API_HOST", "https://cloud.example.com")
	t.Setenv("SOURCEBRIDGE_POLL_INTERVAL_SECONDS", "90")

	s := FromEnv()
	if s.CloudAPIHost != "https://cloud.example.com" {
		t.Errorf("CloudAPIHost = %q", s.CloudAPIHost)
	}
	if s.PollInterval != 90*time.Second {
		t.Errorf("PollInterval = %s", s.PollInterval)
	}
}

func TestFromEnvInvalidInterval(t *testing.T) {
	t.Setenv("SOURCEBRIDGE_POLL_INTERVAL_SECONDS", "soon")
	if s := FromEnv(); s.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %s, want fallback", s.PollInterval)
	}
}
