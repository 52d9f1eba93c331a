// Package poller runs the agent's background loops against the cloud
// control plane: reachability pings, scheduled task execution, connector
// connection tests, and periodic metadata extraction.
package poller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"sourcebridge.dev/internal/cloud"
	"sourcebridge.dev/internal/config"
	"sourcebridge.dev/internal/extractor"
	"sourcebridge.dev/internal/logger"
	"sourcebridge.dev/internal/retry"
	"sourcebridge.dev/internal/source"
)

// extractionIntervalFactor spaces metadata extraction out relative to the
// base poll interval; asset churn is slow.
const extractionIntervalFactor = 60

// Poller owns the agent's background loops.
type Poller struct {
	client    *cloud.Client
	facade    *source.Facade
	store     *config.CredentialStore
	extractor *extractor.Facade
	interval  time.Duration
}

// New builds a poller. The extractor may be nil to disable metadata
// extraction.
func New(client *cloud.Client, facade *source.Facade, store *config.CredentialStore, ext *extractor.Facade, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Poller{
		client:    client,
		facade:    facade,
		store:     store,
		extractor: ext,
		interval:  interval,
	}
}

// Run registers the loaded connectors and then drives every loop until the
// context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	p.registerConnectors(ctx)

	loops := []struct {
		name     string
		interval time.Duration
		tick     func(ctx context.Context)
	}{
		{"cloud_ping", p.interval, p.ping},
		{"scheduled_tasks", p.interval, p.runScheduledTasks},
		{"connector_tests", p.interval, p.runConnectorTests},
	}
	if p.extractor != nil {
		loops = append(loops, struct {
			name     string
			interval time.Duration
			tick     func(ctx context.Context)
		}{"metadata_extraction", p.interval * extractionIntervalFactor, p.runExtractions})
	}

	var wg sync.WaitGroup
	for _, loop := range loops {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.loop(ctx, loop.name, loop.interval, loop.tick)
		}()
	}
	wg.Wait()
}

func (p *Poller) loop(ctx context.Context, name string, interval time.Duration, tick func(ctx context.Context)) {
	logger.L().Info("poller loop started", "loop", name, "interval", interval.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.L().Info("poller loop stopped", "loop", name)
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (p *Poller) registerConnectors(ctx context.Context) {
	names := p.store.Names()
	registrations := make([]cloud.ConnectorRegistration, 0, len(names))
	for _, name := range names {
		conn, err := p.store.Connector(name)
		if err != nil {
			continue
		}
		registrations = append(registrations, cloud.ConnectorRegistration{Name: conn.Name, Type: conn.Type})
	}
	if len(registrations) == 0 {
		return
	}
	err := retry.Do(ctx, "register connectors", retry.DefaultPolicy, func(ctx context.Context) error {
		return p.client.RegisterConnectors(ctx, registrations)
	})
	if err != nil {
		logger.L().Error("failed to register connectors with cloud", "error", err)
		return
	}
	logger.L().Info("registered connectors with cloud", "count", len(registrations))
}

func (p *Poller) ping(ctx context.Context) {
	if err := p.client.Ping(ctx); err != nil {
		logger.L().Error("cloud ping failed", "error", err)
		return
	}
	logger.L().Debug("cloud ping ok")
}

// runScheduledTasks pulls pending executions, runs each through the facade,
// and submits one log per result. Execution errors already arrive as
// error-typed results, so the whole batch always reports back.
func (p *Poller) runScheduledTasks(ctx context.Context) {
	executions, err := p.client.FetchScheduledTasks(ctx)
	if err != nil {
		logger.L().Error("failed to fetch scheduled tasks", "error", err)
		return
	}
	if len(executions) == 0 {
		return
	}
	logger.L().Info("fetched scheduled task executions", "count", len(executions))

	for _, execution := range executions {
		if execution.ProxyExecutionRequestID == "" {
			logger.L().Error("scheduled task execution missing request id, skipping")
			continue
		}
		results := p.facade.ExecuteTask(ctx, execution.TimeRange, execution.GlobalVariableSet, execution.Task)

		logs := make([]cloud.TaskExecution, 0, len(results))
		for _, result := range results {
			logEntry := execution
			logEntry.Result = &result
			logs = append(logs, logEntry)
		}
		err := retry.Do(ctx, "submit task results", retry.DefaultPolicy, func(ctx context.Context) error {
			return p.client.SubmitTaskResults(ctx, logs)
		})
		if err != nil {
			logger.L().Error("failed to submit task results",
				"request_id", execution.ProxyExecutionRequestID, "error", err)
		}
	}
}

func (p *Poller) runConnectorTests(ctx context.Context) {
	requests, err := p.client.FetchConnectorTests(ctx)
	if err != nil {
		logger.L().Error("failed to fetch connector tests", "error", err)
		return
	}
	if len(requests) == 0 {
		return
	}
	logger.L().Info("fetched connection test requests", "count", len(requests))

	results := make([]cloud.ConnectionTestResult, 0, len(requests))
	for _, request := range requests {
		result := cloud.ConnectionTestResult{RequestID: request.RequestID}
		conn, err := p.store.Connector(request.ConnectorName)
		if err != nil {
			result.Error = err.Error()
		} else {
			result.IsConnectionStateSuccessful, result.Error = p.facade.TestConnection(ctx, conn)
		}
		results = append(results, result)
	}

	err = retry.Do(ctx, "submit connector test results", retry.DefaultPolicy, func(ctx context.Context) error {
		return p.client.SubmitConnectorTestResults(ctx, results)
	})
	if err != nil {
		logger.L().Error("failed to submit connector test results", "error", err)
	}
}

func (p *Poller) runExtractions(ctx context.Context) {
	for _, s := range p.extractor.Sources() {
		for _, conn := range p.store.BySource(s) {
			requestID := uuid.NewString()
			if err := p.extractor.Extract(ctx, requestID, conn); err != nil {
				logger.L().Error("metadata extraction failed",
					"connector", conn.Name, "request_id", requestID, "error", err)
			}
		}
	}
}
