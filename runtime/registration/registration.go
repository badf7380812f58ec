// Package registration keeps an agent's record alive in an external agent
// registry: register on startup, heartbeat on an interval, unregister on
// graceful shutdown. Registry failures are never fatal; a failed call marks
// the integration un-registered so the next heartbeat tick re-registers.
package registration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/quadracode/quadracode/runtime/telemetry"
)

const (
	// DefaultInterval is the heartbeat cadence when none is configured.
	DefaultInterval = 15 * time.Second
	// MinInterval is the floor applied to configured heartbeat intervals.
	MinInterval = 5 * time.Second

	// StatusActive is the status reported while the heartbeat loop runs.
	StatusActive = "active"
)

// Client is the registry the integration talks to. Each operation returns
// the registry's free-form textual response; failures are detected from the
// transport error and the response text, see Failed.
type Client interface {
	// RegisterAgent announces the agent and the host:port its health
	// endpoint listens on.
	RegisterAgent(ctx context.Context, agentID, host string, port int) (string, error)
	// Heartbeat refreshes the agent's record with its current status.
	Heartbeat(ctx context.Context, agentID, status string) (string, error)
	// UnregisterAgent removes the agent's record.
	UnregisterAgent(ctx context.Context, agentID string) (string, error)
}

// failurePrefixes are the response openings that signal a failed registry
// request even when the transport succeeded.
var failurePrefixes = []string{
	"registry request failed",
	"unable to reach",
}

// Failed reports whether a registry operation failed: a transport error, an
// empty response, or a response beginning (case-insensitive, after trimming)
// with a known failure prefix.
func Failed(response string, err error) bool {
	if err != nil {
		return true
	}
	trimmed := strings.ToLower(strings.TrimSpace(response))
	if trimmed == "" {
		return true
	}
	for _, prefix := range failurePrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// Options configures an Integration.
type Options struct {
	// Client is the registry client. Required.
	Client Client
	// AgentID is the identity registered. Required.
	AgentID string
	// Host and Port locate the agent's health endpoint.
	Host string
	Port int
	// Interval is the heartbeat cadence. Zero selects DefaultInterval;
	// values below MinInterval are clamped.
	Interval time.Duration
	// Logger and Metrics default to no-ops when nil.
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
}

// Integration owns the registration lifecycle for one agent process. Safe
// for concurrent use.
type Integration struct {
	client   Client
	agentID  string
	host     string
	port     int
	interval time.Duration
	log      telemetry.Logger
	metrics  telemetry.Metrics

	mu         sync.Mutex
	registered bool
}

// New validates opts and builds an Integration.
func New(opts Options) (*Integration, error) {
	if opts.Client == nil {
		return nil, errors.New("registry client is required")
	}
	if opts.AgentID == "" {
		return nil, errors.New("agent id is required")
	}
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultInterval
	}
	if interval < MinInterval {
		interval = MinInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Integration{
		client:   opts.Client,
		agentID:  opts.AgentID,
		host:     opts.Host,
		port:     opts.Port,
		interval: interval,
		log:      logger,
		metrics:  metrics,
	}, nil
}

// Interval returns the effective heartbeat cadence.
func (i *Integration) Interval() time.Duration {
	return i.interval
}

// Registered reports whether the last registry interaction succeeded.
func (i *Integration) Registered() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.registered
}

// Register announces the agent. Best effort: a failure is logged and leaves
// the integration un-registered so the heartbeat loop retries.
func (i *Integration) Register(ctx context.Context) {
	resp, err := i.client.RegisterAgent(ctx, i.agentID, i.host, i.port)
	if Failed(resp, err) {
		i.setRegistered(false)
		i.log.Warn(ctx, "agent registration failed",
			"agent_id", i.agentID, "response", resp, "error", err)
		return
	}
	i.setRegistered(true)
	i.log.Info(ctx, "agent registered", "agent_id", i.agentID)
}

// Heartbeat refreshes the agent's record, re-registering first when the
// previous interaction failed.
func (i *Integration) Heartbeat(ctx context.Context) {
	if !i.Registered() {
		i.Register(ctx)
		if !i.Registered() {
			return
		}
	}
	resp, err := i.client.Heartbeat(ctx, i.agentID, StatusActive)
	if Failed(resp, err) {
		i.setRegistered(false)
		i.log.Warn(ctx, "heartbeat failed",
			"agent_id", i.agentID, "response", resp, "error", err)
		return
	}
	i.metrics.IncCounter("registration.heartbeats", 1, "agent_id", i.agentID)
}

// Run registers the agent and then heartbeats until ctx is cancelled, at
// which point it unregisters best-effort and returns.
func (i *Integration) Run(ctx context.Context) {
	i.Register(ctx)
	ticker := time.NewTicker(i.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			i.Unregister(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			i.Heartbeat(ctx)
		}
	}
}

// Unregister removes the agent's record. Best effort.
func (i *Integration) Unregister(ctx context.Context) {
	resp, err := i.client.UnregisterAgent(ctx, i.agentID)
	if Failed(resp, err) {
		i.log.Warn(ctx, "agent unregistration failed",
			"agent_id", i.agentID, "response", resp, "error", err)
	}
	i.setRegistered(false)
}

func (i *Integration) setRegistered(v bool) {
	i.mu.Lock()
	i.registered = v
	i.mu.Unlock()
}
