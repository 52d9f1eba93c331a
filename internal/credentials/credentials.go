// Package credentials converts stored YAML credential blobs into typed
// connectors and validates them against each source's required key sets.
package credentials

import (
	"sort"
	"strings"

	"sourcebridge.dev/internal/source"
)

// fieldTables maps, per source, the raw credential-file key names to their
// connector key types. Unknown raw keys are ignored.
var fieldTables = map[source.Source]map[string]source.KeyType{
	source.SourceCloudwatch: {
		"aws_access_key":       source.KeyAWSAccessKey,
		"aws_secret_key":       source.KeyAWSSecretKey,
		"region":               source.KeyAWSRegion,
		"aws_assumed_role_arn": source.KeyAWSAssumedRoleARN,
	},
	source.SourceGrafana: {
		"grafana_host":    source.KeyGrafanaHost,
		"grafana_api_key": source.KeyGrafanaAPIKey,
		"ssl_verify":      source.KeySSLVerify,
	},
	source.SourceDatadog: {
		"dd_api_key":    source.KeyDatadogAPIKey,
		"dd_app_key":    source.KeyDatadogAppKey,
		"dd_api_domain": source.KeyDatadogAPIDomain,
	},
	source.SourceNewRelic: {
		"nr_api_key":    source.KeyNewRelicAPIKey,
		"nr_app_id":     source.KeyNewRelicAppID,
		"nr_api_domain": source.KeyNewRelicAPIDomain,
	},
	source.SourceSentry: {
		"api_key":  source.KeySentryAPIKey,
		"org_slug": source.KeySentryOrgSlug,
	},
	source.SourceGithub: {
		"token": source.KeyGithubToken,
		"org":   source.KeyGithubOrg,
	},
	source.SourceAPI: {},
	source.SourceBash: {
		"remote_host":     source.KeyRemoteServerHost,
		"remote_user":     source.KeyRemoteServerUser,
		"remote_password": source.KeyRemoteServerPassword,
		"remote_pem":      source.KeyRemoteServerPEM,
	},
}

// requiredKeyCombinations lists, per source, the acceptable key-type sets
// (OR of AND-sets). A connector is valid iff its key-type set equals one of
// them.
var requiredKeyCombinations = map[source.Source][][]source.KeyType{
	source.SourceCloudwatch: {
		{source.KeyAWSAccessKey, source.KeyAWSSecretKey, source.KeyAWSRegion},
		{source.KeyAWSAssumedRoleARN, source.KeyAWSRegion},
	},
	source.SourceGrafana: {
		{source.KeyGrafanaHost, source.KeyGrafanaAPIKey, source.KeySSLVerify},
		{source.KeyGrafanaHost, source.KeyGrafanaAPIKey},
	},
	source.SourceDatadog: {
		{source.KeyDatadogAPIKey, source.KeyDatadogAppKey, source.KeyDatadogAPIDomain},
	},
	source.SourceNewRelic: {
		{source.KeyNewRelicAPIKey, source.KeyNewRelicAppID, source.KeyNewRelicAPIDomain},
	},
	source.SourceSentry: {
		{source.KeySentryAPIKey, source.KeySentryOrgSlug},
	},
	source.SourceGithub: {
		{source.KeyGithubToken},
		{source.KeyGithubToken, source.KeyGithubOrg},
	},
	source.SourceAPI: {
		{},
	},
	source.SourceBash: {
		{},
		{source.KeyRemoteServerHost, source.KeyRemoteServerUser, source.KeyRemoteServerPEM},
		{source.KeyRemoteServerHost, source.KeyRemoteServerUser, source.KeyRemoteServerPassword},
	},
}

// ParseSource maps a credential-file `type` value to a Source.
func ParseSource(s string) (source.Source, bool) {
	normalized := source.Source(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := fieldTables[normalized]; ok {
		return normalized, true
	}
	return source.SourceUnknown, false
}

// Resolve converts a raw credential map (one named block of the credentials
// file) into a typed connector. The raw map must carry a `type` key naming
// a known source.
func Resolve(name string, raw map[string]string) (*source.Connector, error) {
	typeValue, ok := raw["type"]
	if !ok || typeValue == "" {
		return nil, source.NewConfigurationError("connector %s: missing required field: type", name)
	}
	src, ok := ParseSource(typeValue)
	if !ok {
		return nil, source.NewConfigurationError("connector %s: unknown source type: %s", name, typeValue)
	}

	table := fieldTables[src]
	keys := make([]source.ConnectorKey, 0, len(raw))
	for rawKey, value := range raw {
		if rawKey == "type" {
			continue
		}
		kt, ok := table[rawKey]
		if !ok {
			continue
		}
		keys = append(keys, source.ConnectorKey{Type: kt, Value: value})
	}
	// Keep key order stable across map iteration.
	sort.Slice(keys, func(i, j int) bool { return keys[i].Type < keys[j].Type })

	return &source.Connector{Name: name, Type: src, Keys: keys}, nil
}

// Validate reports whether the connector's key-type set exactly matches one
// of its source's required combinations.
func Validate(conn *source.Connector) bool {
	combos, ok := requiredKeyCombinations[conn.Type]
	if !ok {
		return false
	}
	have := sortedKeyTypes(conn.KeyTypes())
	for _, combo := range combos {
		want := sortedKeyTypes(combo)
		if equalKeyTypes(have, want) {
			return true
		}
	}
	return false
}

// ValidateOrError is Validate with a descriptive error naming the
// connector, for registration-time checks.
func ValidateOrError(conn *source.Connector) error {
	if Validate(conn) {
		return nil
	}
	return source.NewConfigurationError(
		"connector %s: missing required connector keys for source %s", conn.Name, conn.Type)
}

// CredentialsDict flattens the connector back into the raw key/value form
// the vendor processors are constructed from.
func CredentialsDict(conn *source.Connector) map[string]string {
	table := fieldTables[conn.Type]
	reverse := make(map[source.KeyType]string, len(table))
	for rawKey, kt := range table {
		reverse[kt] = rawKey
	}
	out := make(map[string]string, len(conn.Keys))
	for _, key := range conn.Keys {
		rawKey, ok := reverse[key.Type]
		if !ok {
			continue
		}
		out[rawKey] = key.Value
	}
	return out
}

func sortedKeyTypes(kts []source.KeyType) []source.KeyType {
	out := make([]source.KeyType, len(kts))
	copy(out, kts)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func equalKeyTypes(a, b []source.KeyType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
