package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	configx "github.com/tanpawarit/agent-squad-router/pkg/config"
	"github.com/tanpawarit/agent-squad-router/pkg/httpserver"
	logx "github.com/tanpawarit/agent-squad-router/pkg/logger"
	"github.com/tanpawarit/agent-squad-router/pkg/telemetry"
)

var version = "dev"

func main() {
	var (
		envFile    string
		agentsFile string
	)

	rootCmd := &cobra.Command{
		Use:           "agent-squad-router",
		Short:         "Route user requests to the best-suited agent",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			configx.SetEnvFile(envFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "env file to export before loading config (default ./.env)")
	rootCmd.PersistentFlags().StringVar(&agentsFile, "agents", "", "agents file (default $AGENTS_FILE or agents.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the routing API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := newLogger()

			otelCfg, err := configx.New[telemetry.Config]("OTEL")
			if err != nil {
				return err
			}
			shutdown, err := telemetry.Init(ctx, *otelCfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.WithoutCancel(ctx)); err != nil {
					logger.Warn().Err(err).Msg("telemetry shutdown failed")
				}
			}()

			a, err := buildApp(ctx, agentsFile, logger)
			if err != nil {
				return err
			}
			defer a.close()

			httpCfg, err := configx.New[httpserver.Config]("HTTP")
			if err != nil {
				return err
			}
			return httpserver.New(a.orchestrator, *httpCfg, logger).Run(ctx)
		},
	}

	var (
		userID    string
		sessionID string
		params    map[string]string
	)
	askCmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Route one question and print the answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := newLogger()

			a, err := buildApp(ctx, agentsFile, logger)
			if err != nil {
				return err
			}
			defer a.close()

			if sessionID == "" {
				sessionID = uuid.NewString()
			}
			resp, err := a.orchestrator.RouteRequest(ctx, strings.Join(args, " "), userID, sessionID, params)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.Metadata.AgentName != "" {
				fmt.Fprintf(out, "[%s]\n", resp.Metadata.AgentName)
			}
			if !resp.Streaming || resp.Stream == nil {
				fmt.Fprintln(out, resp.Output)
				return nil
			}
			for {
				chunk, err := resp.Stream.Recv()
				if errors.Is(err, io.EOF) {
					break
				}
				if err != nil {
					return err
				}
				fmt.Fprint(out, chunk)
			}
			fmt.Fprintln(out)
			return nil
		},
	}
	askCmd.Flags().StringVar(&userID, "user", "cli", "user id")
	askCmd.Flags().StringVar(&sessionID, "session", "", "session id (random when empty)")
	askCmd.Flags().StringToStringVar(&params, "param", nil, "additional params passed to the agent (key=value)")

	var asJSON bool
	overlapCmd := &cobra.Command{
		Use:   "overlap",
		Short: "Report how much the configured agent descriptions overlap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx, agentsFile, zerolog.Nop())
			if err != nil {
				return err
			}
			defer a.close()

			report := a.orchestrator.AnalyzeAgentOverlap()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			if len(report.Pairs) == 0 {
				fmt.Fprintln(out, report.Description)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "AGENT A\tAGENT B\tSIMILARITY\tOVERLAP")
			for _, p := range report.Pairs {
				fmt.Fprintf(w, "%s\t%s\t%.4f\t%s\n", p.AgentA, p.AgentB, p.Similarity, p.Level)
			}
			fmt.Fprintln(w)
			fmt.Fprintln(w, "AGENT\tUNIQUENESS")
			for _, u := range report.Uniqueness {
				fmt.Fprintf(w, "%s\t%.4f\n", u.AgentID, u.Score)
			}
			return w.Flush()
		},
	}
	overlapCmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	rootCmd.AddCommand(serveCmd, askCmd, overlapCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger() zerolog.Logger {
	conf, err := configx.New[logx.Config]("LOG")
	if err != nil {
		conf = logx.DefaultConfig
	}
	return logx.Init(*conf)
}
