// Package mcp exposes the steward gate over the Model Context
// Protocol on stdio, so an agent can submit commands, track
// approvals, and inspect confidence without shelling out to the CLI.
package mcp

import (
	"context"
	"fmt"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/steward-sh/steward/internal/approval"
	"github.com/steward-sh/steward/internal/config"
	"github.com/steward-sh/steward/internal/confidence"
	"github.com/steward-sh/steward/internal/delegation"
	"github.com/steward-sh/steward/internal/gate"
	"github.com/steward-sh/steward/internal/governor"
	"github.com/steward-sh/steward/internal/ledger"
	"github.com/steward-sh/steward/internal/scheduler"
	"github.com/steward-sh/steward/internal/store"
)

// Config holds MCP server configuration.
type Config struct {
	ConfigPath string
	AgentID    string
}

// Server wraps the MCP SDK server around the steward gate.
type Server struct {
	mcpServer *mcpsdk.Server
	cfg       *config.Config
	store     store.Store
	led       *ledger.Ledger
	gate      *gate.Gate
	sched     *scheduler.Evaluator
	agentID   string
}

// New opens the store and ledger from the steward config and
// registers the tools.
func New(cfg Config) (*Server, error) {
	c, _, err := config.LoadWithHash(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	st, err := store.OpenSQLite(c.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	led, err := ledger.Open(c.LedgerPath)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open ledger: %w", err)
	}

	gov := governor.New(st, c.GovernorParams())
	conf := confidence.New(st, c.HalfLife(), c.Confidence.PolicyVersion)
	sup := delegation.New(st, conf, led)
	appr := approval.New(st, led)

	s := &Server{
		cfg:     c,
		store:   st,
		led:     led,
		gate:    gate.New(st, gov, conf, sup, appr, led, c.Thresholds()),
		sched:   scheduler.New(st, led),
		agentID: cfg.AgentID,
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    "steward",
			Version: "0.1.0",
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run starts the MCP server on stdio transport. Blocks until ctx is
// cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Close releases the store and ledger.
func (s *Server) Close() error {
	if err := s.led.Close(); err != nil {
		s.store.Close()
		return err
	}
	return s.store.Close()
}

// registerTools adds all steward tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_submit",
		Description: "Submit a command and execution plan to the steward gate. Returns the decision: AUTO_RUN, ALLOWED, APPROVAL_REQUIRED, THROTTLED, or DENIED.",
	}, s.handleSubmit)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_approve",
		Description: "Approve a pending execution. The plan hash must match the hash frozen at submission.",
	}, s.handleApprove)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_reject",
		Description: "Reject a pending execution. Rejection is terminal.",
	}, s.handleReject)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_pending",
		Description: "List executions waiting for approval.",
	}, s.handlePending)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_queue",
		Description: "List the ranked work queue: unacknowledged regressions first, then pending approvals, then runnable and waiting jobs.",
	}, s.handleQueue)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_confidence",
		Description: "Show the decayed confidence and regression state for a command fingerprint.",
	}, s.handleConfidence)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_ack",
		Description: "Acknowledge a confidence regression so the fingerprint can auto-run again once re-approved.",
	}, s.handleAck)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_classes",
		Description: "List delegation classes and whether each is active.",
	}, s.handleClasses)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_record_run",
		Description: "Record the outcome of a completed run. Refreshes confidence for the fingerprint and reports any regression.",
	}, s.handleRecordRun)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_record_rollback",
		Description: "Record that an execution was rolled back. Repeated rollbacks open the circuit breaker for the fingerprint.",
	}, s.handleRecordRollback)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "steward_record_denial",
		Description: "Record an external policy denial for a fingerprint. Repeated denials open the circuit breaker.",
	}, s.handleRecordDenial)
}
