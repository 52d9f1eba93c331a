package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"sourcebridge.dev/internal/credentials"
	"sourcebridge.dev/internal/source"
)

// credentialsFile is the YAML shape of the connector credentials file:
// named blocks of raw key/value credential pairs, each carrying a `type`.
type credentialsFile struct {
	Connectors map[string]map[string]string `yaml:"connectors"`
}

// CredentialStore holds the connectors resolved from the credentials file.
// Loaded once at startup; read-only afterward.
type CredentialStore struct {
	connectors map[string]*source.Connector
}

// LoadCredentials reads and resolves the credentials file. Every block must
// resolve to a known source and satisfy one of its required key sets.
func LoadCredentials(path string) (*CredentialStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file %s: %w", path, err)
	}
	return ParseCredentials(data)
}

// ParseCredentials parses credentials file contents.
func ParseCredentials(data []byte) (*CredentialStore, error) {
	var file credentialsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse credentials YAML: %w", err)
	}

	store := &CredentialStore{connectors: make(map[string]*source.Connector, len(file.Connectors))}
	for name, raw := range file.Connectors {
		conn, err := credentials.Resolve(name, raw)
		if err != nil {
			return nil, err
		}
		if err := credentials.ValidateOrError(conn); err != nil {
			return nil, err
		}
		store.connectors[name] = conn
	}
	return store, nil
}

// NewCredentialStore builds a store from already-resolved connectors.
// Used by tests and by surfaces that receive connectors over the wire.
func NewCredentialStore(conns ...*source.Connector) *CredentialStore {
	store := &CredentialStore{connectors: make(map[string]*source.Connector, len(conns))}
	for _, c := range conns {
		store.connectors[c.Name] = c
	}
	return store
}

// Connector returns the named connector.
func (s *CredentialStore) Connector(name string) (*source.Connector, error) {
	conn, ok := s.connectors[name]
	if !ok {
		return nil, source.NewConfigurationError("no loaded connections found for connector: %s", name)
	}
	return conn, nil
}

// BySource returns all connectors of the given source, ordered by name.
func (s *CredentialStore) BySource(src source.Source) []*source.Connector {
	var out []*source.Connector
	for _, c := range s.connectors {
		if c.Type == src {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all connector names, sorted.
func (s *CredentialStore) Names() []string {
	names := make([]string, 0, len(s.connectors))
	for name := range s.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of loaded connectors.
func (s *CredentialStore) Len() int { return len(s.connectors) }
