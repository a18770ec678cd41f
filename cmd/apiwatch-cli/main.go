package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var cliFlags struct {
	API      string
	Key      string
	OpenOnly bool
}

var rootCmd = &cobra.Command{
	Use:   "apiwatch-cli",
	Short: "apiwatch-cli talks to a running apiwatchd",
}

var checkCmd = &cobra.Command{
	Use:   "check <endpoint-id>",
	Short: "Run one check immediately and print the outcome",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var overviewCmd = &cobra.Command{
	Use:   "overview",
	Short: "Print fleet-wide stats for the last 24 hours",
	Args:  cobra.NoArgs,
	RunE:  runOverview,
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List recent alerts",
	Args:  cobra.NoArgs,
	RunE:  runAlerts,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&cliFlags.API, "api", defaultAPI(), "Base URL of the apiwatchd API.")
	rootCmd.PersistentFlags().StringVar(&cliFlags.Key, "key", os.Getenv("APIWATCH_API_KEY"), "API key, falls back to APIWATCH_API_KEY.")
	alertsCmd.Flags().BoolVar(&cliFlags.OpenOnly, "open", false, "Only unresolved alerts.")

	rootCmd.AddCommand(checkCmd, overviewCmd, alertsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultAPI() string {
	if v := os.Getenv("API_BASE"); v != "" {
		return v
	}
	return "http://localhost:8080"
}

func call(method, path string, out any) error {
	req, err := http.NewRequest(method, cliFlags.API+path, nil)
	if err != nil {
		return err
	}
	if cliFlags.Key != "" {
		req.Header.Set("X-API-Key", cliFlags.Key)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("contact api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("api returned %s: %s", resp.Status, strings.TrimSpace(string(b)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func runCheck(cmd *cobra.Command, args []string) error {
	var res struct {
		Verdict        string    `json:"verdict"`
		StatusCode     *int      `json:"status_code"`
		ResponseTimeMS *float64  `json:"response_time_ms"`
		Error          string    `json:"error"`
		CheckedAt      time.Time `json:"checked_at"`
	}
	if err := call(http.MethodPost, "/api/endpoints/"+args[0]+"/check", &res); err != nil {
		return err
	}

	status := "n/a"
	if res.StatusCode != nil {
		status = fmt.Sprintf("%d", *res.StatusCode)
	}
	latency := "n/a"
	if res.ResponseTimeMS != nil {
		latency = fmt.Sprintf("%.0f ms", *res.ResponseTimeMS)
	}
	fmt.Printf("verdict: %s\nstatus:  %s\nlatency: %s\nchecked: %s\n",
		res.Verdict, status, latency, res.CheckedAt.Format(time.RFC3339))
	if res.Error != "" {
		fmt.Printf("error:   %s\n", res.Error)
	}
	return nil
}

func runOverview(cmd *cobra.Command, args []string) error {
	var ov struct {
		TotalEndpoints  int      `json:"total_endpoints"`
		ActiveEndpoints int      `json:"active_endpoints"`
		OpenAlerts      int      `json:"unresolved_alerts"`
		ChecksLast24h   int      `json:"total_checks_24h"`
		SuccessRate     *float64 `json:"success_rate_24h"`
		AvgLatencyMS    *float64 `json:"avg_response_time_24h"`
	}
	if err := call(http.MethodGet, "/api/overview", &ov); err != nil {
		return err
	}

	rate := "n/a"
	if ov.SuccessRate != nil {
		rate = fmt.Sprintf("%.2f%%", *ov.SuccessRate)
	}
	latency := "n/a"
	if ov.AvgLatencyMS != nil {
		latency = fmt.Sprintf("%.0f ms", *ov.AvgLatencyMS)
	}
	fmt.Printf("endpoints:    %d (%d active)\n", ov.TotalEndpoints, ov.ActiveEndpoints)
	fmt.Printf("open alerts:  %d\n", ov.OpenAlerts)
	fmt.Printf("checks 24h:   %d\n", ov.ChecksLast24h)
	fmt.Printf("success rate: %s\n", rate)
	fmt.Printf("avg latency:  %s\n", latency)
	return nil
}

func runAlerts(cmd *cobra.Command, args []string) error {
	path := "/api/alerts"
	if cliFlags.OpenOnly {
		path += "?resolved=false"
	}
	var alerts []struct {
		ID         int64     `json:"id"`
		EndpointID string    `json:"endpoint_id"`
		Type       string    `json:"alert_type"`
		Message    string    `json:"message"`
		CreatedAt  time.Time `json:"created_at"`
		Resolved   bool      `json:"resolved"`
	}
	if err := call(http.MethodGet, path, &alerts); err != nil {
		return err
	}

	if len(alerts) == 0 {
		fmt.Println("no alerts")
		return nil
	}
	for _, a := range alerts {
		state := "OPEN"
		if a.Resolved {
			state = "RESOLVED"
		}
		fmt.Printf("%-6d %-8s %-16s %-24s %s\n",
			a.ID, state, a.Type, a.EndpointID, a.Message)
	}
	return nil
}
