package extractor

import (
	"context"

	"sourcebridge.dev/internal/source"
	"sourcebridge.dev/internal/sources/grafana"
)

// GrafanaExtractor collects dashboards and datasources.
type GrafanaExtractor struct {
	newProcessor func(conn *source.Connector) (*grafana.Processor, error)
}

// NewGrafanaExtractor builds the Grafana extractor.
func NewGrafanaExtractor() *GrafanaExtractor {
	return &GrafanaExtractor{newProcessor: grafana.NewProcessor}
}

func (e *GrafanaExtractor) Source() source.Source { return source.SourceGrafana }

func (e *GrafanaExtractor) Extractions(conn *source.Connector) ([]Extraction, error) {
	processor, err := e.newProcessor(conn)
	if err != nil {
		return nil, err
	}
	return []Extraction{
		{
			Name:      "dashboards",
			ModelType: "grafana_dashboard",
			Run: func(ctx context.Context) (map[string]any, error) {
				return extractDashboards(ctx, processor)
			},
		},
		{
			Name:      "datasources",
			ModelType: "grafana_datasource",
			Run: func(ctx context.Context) (map[string]any, error) {
				return extractDatasources(ctx, processor)
			},
		},
	}, nil
}

// extractDashboards stores each dashboard with its panel queries so task
// forms can offer panel-level dropdowns.
func extractDashboards(ctx context.Context, processor *grafana.Processor) (map[string]any, error) {
	refs, err := processor.ListDashboards(ctx)
	if err != nil {
		return nil, err
	}

	models := make(map[string]any, len(refs))
	for _, ref := range refs {
		dashboard, err := processor.FetchDashboard(ctx, ref.UID)
		if err != nil {
			// One unreadable dashboard should not sink the batch.
			continue
		}
		panels := make([]map[string]any, 0, len(dashboard.Dashboard.Panels))
		for _, panel := range dashboard.Dashboard.Panels {
			exprs := make([]string, 0, len(panel.Targets))
			for _, target := range panel.Targets {
				if target.Expr != "" {
					exprs = append(exprs, target.Expr)
				}
			}
			panels = append(panels, map[string]any{
				"id":             panel.ID,
				"title":          panel.Title,
				"type":           panel.Type,
				"datasource_uid": panel.Datasource.UID,
				"expressions":    exprs,
			})
		}
		models[ref.UID] = map[string]any{
			"title":  ref.Title,
			"uri":    ref.URI,
			"panels": panels,
		}
	}
	return models, nil
}

func extractDatasources(ctx context.Context, processor *grafana.Processor) (map[string]any, error) {
	datasources, err := processor.ListDatasources(ctx)
	if err != nil {
		return nil, err
	}
	models := make(map[string]any, len(datasources))
	for _, ds := range datasources {
		models[ds.UID] = map[string]any{
			"name": ds.Name,
			"type": ds.Type,
			"url":  ds.URL,
		}
	}
	return models, nil
}
