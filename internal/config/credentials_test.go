package config

import (
	"strings"
	"testing"

	"sourcebridge.dev/internal/source"
)

func TestParseCredentials(t *testing.T) {
	yaml := `
connectors:
  prod-grafana:
    type: grafana
    grafana_host: https://grafana.example.com
    grafana_api_key: glsa_abc
  prod-aws:
    type: cloudwatch
    aws_access_key: AKIA123
    aws_secret_key: secret
    region: us-east-1
`
	store, err := ParseCredentials([]byte(yaml))
	if err != nil {
		t.Fatalf("ParseCredentials() error = %v", err)
	}
	if store.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", store.Len())
	}

	conn, err := store.Connector("prod-grafana")
	if err != nil {
		t.Fatalf("Connector() error = %v", err)
	}
	if conn.Type != source.SourceGrafana {
		t.Errorf("type = %s, want grafana", conn.Type)
	}
	if got := conn.KeyValue(source.KeyGrafanaHost); got != "https://grafana.example.com" {
		t.Errorf("grafana host = %q", got)
	}

	if names := store.Names(); names[0] != "prod-aws" || names[1] != "prod-grafana" {
		t.Errorf("Names() = %v, want sorted", names)
	}
	if got := store.BySource(source.SourceCloudwatch); len(got) != 1 || got[0].Name != "prod-aws" {
		t.Errorf("BySource(cloudwatch) = %v", got)
	}
	if got := store.BySource(source.SourceSentry); len(got) != 0 {
		t.Errorf("BySource(sentry) = %v, want empty", got)
	}
}

func TestParseCredentialsInvalidBlock(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing keys",
			yaml: "connectors:\n  broken:\n    type: grafana\n    grafana_host: h\n",
			want: "missing required connector keys",
		},
		{
			name: "unknown type",
			yaml: "connectors:\n  broken:\n    type: nagios\n",
			want: "unknown source type",
		},
		{
			name: "not yaml",
			yaml: "{{nope",
			want: "failed to parse credentials YAML",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCredentials([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("ParseCredentials() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestConnectorUnknownName(t *testing.T) {
	store := NewCredentialStore()
	_, err := store.Connector("nope")
	if err == nil || !strings.Contains(err.Error(), "no loaded connections found") {
		t.Fatalf("Connector() error = %v", err)
	}
}
