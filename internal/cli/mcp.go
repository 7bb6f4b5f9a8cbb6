package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	stewardmcp "github.com/steward-sh/steward/internal/mcp"
)

var mcpAgentID string

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpAgentID, "agent-id", "", "Agent identifier stamped on submissions")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long: "Runs steward as an MCP (Model Context Protocol) server over stdio.\n" +
		"Exposes gate tools: submit, approve, reject, pending, queue,\n" +
		"confidence, ack, classes.",
	RunE: runMCPServer,
}

func runMCPServer(cmd *cobra.Command, args []string) error {
	srv, err := stewardmcp.New(stewardmcp.Config{
		ConfigPath: configPath,
		AgentID:    mcpAgentID,
	})
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "steward MCP server running on stdio")
	return srv.Run(ctx)
}
