package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

var httpClient = &http.Client{Timeout: 15 * time.Second}

var scanCmd = &cobra.Command{
	Use:   "scan <user> <barcode>",
	Short: "Record a scan for a user",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		body, _ := json.Marshal(map[string]string{"barcode": args[1]})

		resp, err := httpClient.Post(endpoint("/scan/"+url.PathEscape(args[0])), "application/json", bytes.NewReader(body))
		if err != nil {
			fail("%v", err)
		}
		defer resp.Body.Close()

		out, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			fail("server returned %s: %s", resp.Status, out)
		}
		fmt.Println(string(out))
	},
}

var (
	scansFormat string
	scansLatest bool
)

var scansCmd = &cobra.Command{
	Use:   "scans [user]",
	Short: "List scans, newest first",
	Long: `List every scan, or the scans of one user.

With --latest only the most recent scan of the user is printed.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		path := "/scans"
		if len(args) == 1 {
			path += "/" + url.PathEscape(args[0])
		}

		format := scansFormat
		if scansLatest {
			if len(args) == 0 {
				fail("--latest needs a user")
			}
			path += "/latest"
			if format == "barcodes-only" {
				format = "barcode-only"
			}
		}

		resp, err := httpClient.Get(endpoint(path) + "?format=" + url.QueryEscape(format))
		if err != nil {
			fail("%v", err)
		}
		defer resp.Body.Close()

		out, _ := io.ReadAll(resp.Body)
		switch resp.StatusCode {
		case http.StatusOK:
			fmt.Println(string(out))
		case http.StatusNoContent:
			fmt.Println("no scans")
		default:
			fail("server returned %s: %s", resp.Status, out)
		}
	},
}

func init() {
	scansCmd.Flags().StringVarP(&scansFormat, "format", "f", "barcodes-only", "Output format: json or barcodes-only")
	scansCmd.Flags().BoolVar(&scansLatest, "latest", false, "Only print the latest scan")
}
