package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/StrathCole/flux-aggregator/pkg/server/api"
)

func queryCommand() *cobra.Command {
	var (
		endpoint string
		feedName string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Query a running aggregator",
	}
	cmd.PersistentFlags().StringVar(&endpoint, "endpoint", "http://localhost:8080", "Aggregator API endpoint")
	cmd.PersistentFlags().StringVar(&feedName, "feed", "", "Feed name")

	var roundID uint64
	round := &cobra.Command{
		Use:   "round",
		Short: "Print the answer of a round (latest when --round is 0)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "rounds/latest"
			if roundID != 0 {
				path = "rounds/" + strconv.FormatUint(roundID, 10)
			}
			var resp api.RoundDataResponse
			if err := getJSON(endpoint, feedName, path, &resp); err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	round.Flags().Uint64Var(&roundID, "round", 0, "Round id")

	var statusID uint64
	status := &cobra.Command{
		Use:   "status",
		Short: "Print a round together with its open details",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp api.RoundStatusResponse
			if err := getJSON(endpoint, feedName, "rounds/"+strconv.FormatUint(statusID, 10)+"/status", &resp); err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	status.Flags().Uint64Var(&statusID, "round", 1, "Round id")

	var amountIn string
	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Print an authenticated quote",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var resp api.QuoteResponse
			if err := getJSON(endpoint, feedName, "quote?amount_in="+url.QueryEscape(amountIn), &resp); err != nil {
				return err
			}
			return printJSON(cmd, resp)
		},
	}
	quoteCmd.Flags().StringVar(&amountIn, "amount-in", "1", "Amount of the input brand")

	cmd.AddCommand(round, status, quoteCmd)
	return cmd
}

func getJSON(endpoint, feedName, path string, out interface{}) error {
	if feedName == "" {
		return fmt.Errorf("--feed is required")
	}
	u := fmt.Sprintf("%s/v1/feeds/%s/%s", endpoint, url.PathEscape(feedName), path)

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(u) // #nosec G107 -- endpoint is operator supplied
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e api.ErrorResponse
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return json.Unmarshal(body, out)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(data))
	return nil
}
