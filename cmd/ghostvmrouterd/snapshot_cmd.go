package main

import (
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/spf13/cobra"
)

var leasesCmd = &cobra.Command{
	Use:   "leases",
	Short: "Print the running router's current DHCP lease table as JSON",
	RunE:  fetchSnapshot("/api/leases"),
}

var natCmd = &cobra.Command{
	Use:   "nat",
	Short: "Print the running router's current NAT entry count as JSON",
	RunE:  fetchSnapshot("/api/nat"),
}

func init() {
	for _, c := range []*cobra.Command{leasesCmd, natCmd} {
		c.Flags().StringVar(&apiAddr, "api", "http://127.0.0.1:9177", "base URL of a running ghostvmrouterd's snapshot API")
	}
}

func fetchSnapshot(path string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(apiAddr + path)
		if err != nil {
			return fmt.Errorf("ghostvmrouterd: querying %s: %w", path, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ghostvmrouterd: %s returned %s", path, resp.Status)
		}
		_, err = io.Copy(os.Stdout, resp.Body)
		fmt.Println()
		return err
	}
}
