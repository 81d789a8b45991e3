package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/caihongdao/antbox-monitor/internal/scanner"
)

var scanOpts struct {
	start       string
	end         string
	port        int
	timeout     int
	concurrency int
	scanType    string
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan an address range once and print the devices found",
	Example: `  antbox-scanner scan --start 192.168.1.1 --end 192.168.1.254
  antbox-scanner scan --start 10.0.0.1 --end 10.0.3.255 --type miner --concurrency 200`,
	RunE: runScan,
}

func init() {
	f := scanCmd.Flags()
	f.StringVar(&scanOpts.start, "start", "", "first address of the range")
	f.StringVar(&scanOpts.end, "end", "", "last address of the range")
	f.IntVar(&scanOpts.port, "port", 0, "HTTP port to probe (default from config)")
	f.IntVar(&scanOpts.timeout, "timeout", 0, "per-request timeout in milliseconds (default from config)")
	f.IntVar(&scanOpts.concurrency, "concurrency", 0, "parallel probes (default from config, max 999)")
	f.StringVar(&scanOpts.scanType, "type", "", "device filter: all, antbox or miner")
	_ = scanCmd.MarkFlagRequired("start")
	_ = scanCmd.MarkFlagRequired("end")
}

func runScan(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	sugar := logger.Sugar()

	c, err := build(cfg, sugar)
	if err != nil {
		return err
	}
	defer c.Close(sugar)

	id, err := c.scanner.Start(scanner.ScanRequest{
		StartAddress: scanOpts.start,
		EndAddress:   scanOpts.end,
		Port:         scanOpts.port,
		Timeout:      time.Duration(scanOpts.timeout) * time.Millisecond,
		Concurrency:  scanOpts.concurrency,
		ScanType:     scanner.ScanType(scanOpts.scanType),
	})
	if err != nil {
		return err
	}

	// Interrupting stops the scan; the partial results are still printed.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		_ = c.scanner.Stop(id)
	}()

	summary, err := c.scanner.Wait(context.Background(), id)
	if err != nil {
		return err
	}
	results, err := c.scanner.Results(id)
	if err != nil {
		return err
	}

	renderResults(os.Stdout, summary, results)
	return nil
}

func renderResults(w io.Writer, summary scanner.Summary, results []scanner.ProbeOutcome) {
	fmt.Fprintf(w, "Scan %d %s: %s - %s, %d addresses in %.1fs\n",
		summary.SessionID, summary.Status, summary.StartAddress, summary.EndAddress,
		summary.Total, summary.ElapsedSeconds)
	fmt.Fprintf(w, "Scanned %d, found %d (antbox %d, miner %d, unknown %d), offline %d\n",
		summary.Counters.Scanned, summary.Counters.Found, summary.Counters.AntBox,
		summary.Counters.Miner, summary.Counters.Unknown, summary.Counters.Offline)

	if len(results) == 0 {
		fmt.Fprintln(w, "No devices found.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("IP", "Port", "Type", "Status", "Model", "Version", "Hashrate", "Latency")
	for _, r := range results {
		latency := "-"
		if r.Ping != nil && r.Ping.Success {
			latency = strconv.FormatFloat(r.Ping.LatencyMS, 'f', 1, 64) + "ms"
		}
		_ = table.Append([]string{
			r.Address,
			strconv.Itoa(r.Port),
			string(r.Category),
			string(r.Status),
			orDash(firstNonEmpty(r.Metadata.Model, r.Metadata.Title)),
			orDash(r.Metadata.Version),
			orDash(r.Metadata.Hashrate),
			latency,
		})
	}
	_ = table.Render()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
