package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/encoding/protojson"
	"gopkg.in/yaml.v3"

	"github.com/dreamware/drswing/internal/journal"
	"github.com/dreamware/drswing/internal/probe"
	"github.com/dreamware/drswing/internal/status"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
	outputJSON  = "json"
)

func statusCmd(opts *globalOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running controller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			rep, err := (&status.Client{BaseURL: opts.statusAddr}).Report(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, rep, func(w io.Writer) { printReport(w, rep) })
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format: table, yaml or json")
	return cmd
}

func eventsCmd(opts *globalOptions) *cobra.Command {
	var output string
	var limit int

	cmd := &cobra.Command{
		Use:   "events",
		Short: "List recent failover and alert events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			events, err := (&status.Client{BaseURL: opts.statusAddr}).Events(ctx, limit)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), output, events, func(w io.Writer) { printEvents(w, events) })
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", outputTable, "Output format: table, yaml or json")
	cmd.Flags().IntVar(&limit, "limit", status.DefaultEventLimit, "Maximum number of events")
	return cmd
}

func checkCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Query the gRPC health service; fails unless the primary is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			resp, err := status.CheckHealth(ctx, opts.grpcAddr)
			if err != nil {
				return err
			}
			data, err := protojson.Marshal(resp)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))

			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is %s", status.HealthService, resp.GetStatus())
			}
			return nil
		},
	}
}

func probeCmd(opts *globalOptions) *cobra.Command {
	var mode string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "probe <address>",
		Short: "Run one reachability probe",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := probe.New(mode)
			if err != nil {
				return err
			}

			start := time.Now()
			ok := p.Probe(cmd.Context(), args[0], timeout)
			elapsed := time.Since(start).Round(time.Millisecond)

			if !ok {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", args[0], color.RedString("unreachable"), elapsed)
				return fmt.Errorf("%s unreachable", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", args[0], color.GreenString("reachable"), elapsed)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", probe.ModeICMP, "Probe mode: icmp, icmp-privileged or tcp")
	cmd.Flags().DurationVar(&timeout, "probe-timeout", time.Second, "Probe timeout")
	return cmd
}

func render(w io.Writer, output string, v any, table func(io.Writer)) error {
	switch output {
	case outputTable, "":
		table(w)
		return nil
	case outputYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
}

func printReport(w io.Writer, s status.Report) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	outage := color.GreenString("no")
	if s.OutageAlerted {
		outage = color.RedString("yes, operators alerted")
	}
	telemetry := "running"
	if s.TelemetryPaused {
		telemetry = color.YellowString("paused")
	}

	fmt.Fprintf(tw, "PRIMARY\t%s\n", color.New(color.Bold).Sprint(s.Primary))
	fmt.Fprintf(tw, "STANDBY\t%s\n", s.Standby)
	fmt.Fprintf(tw, "FAILURES\t%d/%d\n", s.ConsecutiveFailures, s.FailureThreshold)
	fmt.Fprintf(tw, "OUTAGE\t%s\n", outage)
	fmt.Fprintf(tw, "TELEMETRY\t%s\n", telemetry)
	if s.Promoting {
		fmt.Fprintf(tw, "PROMOTING\t%s\n", color.YellowString("%s -> %s", s.Primary, s.Standby))
	}
	fmt.Fprintf(tw, "PROMOTIONS\t%d ok, %d failed\n", s.Promotions, s.FailedPromotions)
	if !s.LastTick.IsZero() {
		fmt.Fprintf(tw, "LAST TICK\t%s (%d total)\n", s.LastTick.Format(time.RFC3339), s.Ticks)
	}
	if s.Storage != nil {
		fmt.Fprintf(tw, "STORAGE\t%d keys, %d bytes\n", s.Storage.Keys, s.Storage.Bytes)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "NODE\tADDRESS\tROLE\tREACHABLE")
	for _, n := range s.Nodes {
		reach := color.RedString("no")
		if n.Reachable {
			reach = color.GreenString("yes")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", n.Hostname, n.Address, n.Role, reach)
	}
	tw.Flush()
}

func printEvents(w io.Writer, events []journal.Event) {
	if len(events) == 0 {
		fmt.Fprintln(w, "no events")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tKIND\tNODE\tMESSAGE")
	for _, ev := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", ev.Time.Format(time.RFC3339), kindColor(ev.Kind), ev.Node, ev.Message)
	}
	tw.Flush()
}

func kindColor(k journal.Kind) string {
	switch k {
	case journal.KindOutageAlert, journal.KindPromotionFailed, journal.KindTelemetryError:
		return color.RedString(string(k))
	case journal.KindPromotionSucceeded, journal.KindOutageRecovered:
		return color.GreenString(string(k))
	default:
		return string(k)
	}
}
