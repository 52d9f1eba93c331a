// Package newrelic implements the New Relic source: NRQL queries over the
// NerdGraph GraphQL API.
package newrelic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"sourcebridge.dev/internal/credentials"
	"sourcebridge.dev/internal/source"
)

// Processor wraps the NerdGraph API for one connector.
type Processor struct {
	apiDomain  string
	apiKey     string
	accountID  int64
	httpClient *http.Client
}

// NewProcessor builds a NerdGraph client from connector credentials.
func NewProcessor(conn *source.Connector) (*Processor, error) {
	creds := credentials.CredentialsDict(conn)
	domain := creds["nr_api_domain"]
	if domain == "" {
		domain = "api.newrelic.com"
	}
	accountID, err := strconv.ParseInt(creds["nr_app_id"], 10, 64)
	if err != nil {
		return nil, source.NewConfigurationError("connector %s: nr_app_id must be a numeric account id", conn.Name)
	}
	return &Processor{
		apiDomain: domain,
		apiKey:    creds["nr_api_key"],
		accountID: accountID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type nrqlResponse struct {
	Data struct {
		Actor struct {
			Account struct {
				NRQL struct {
					Results []map[string]any `json:"results"`
				} `json:"nrql"`
			} `json:"account"`
		} `json:"actor"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

const nrqlQuery = `query ($accountId: Int!, $nrql: Nrql!) {
  actor {
    account(id: $accountId) {
      nrql(query: $nrql, timeout: 60) {
        results
      }
    }
  }
}`

// ExecuteNRQL runs one NRQL query through NerdGraph and returns the raw
// result rows.
func (p *Processor) ExecuteNRQL(ctx context.Context, nrql string) ([]map[string]any, error) {
	body, err := json.Marshal(graphQLRequest{
		Query: nrqlQuery,
		Variables: map[string]any{
			"accountId": p.accountID,
			"nrql":      nrql,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("newrelic marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("https://%s/graphql", p.apiDomain), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("newrelic new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("API-Key", p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("newrelic request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("newrelic returned %d: %s", resp.StatusCode, string(b))
	}

	var out nrqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("newrelic decode response: %w", err)
	}
	if len(out.Errors) > 0 {
		return nil, fmt.Errorf("newrelic graphql error: %s", out.Errors[0].Message)
	}
	return out.Data.Actor.Account.NRQL.Results, nil
}

// TestConnection runs a trivial NRQL query to verify the API key and
// account id.
func (p *Processor) TestConnection(ctx context.Context) error {
	_, err := p.ExecuteNRQL(ctx, "SELECT count(*) FROM Transaction SINCE 5 MINUTES AGO")
	return err
}
