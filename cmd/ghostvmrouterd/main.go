// Command ghostvmrouterd runs the GhostVM user-space network router against
// a host tap(4) device and exposes its §6 observable state over a small
// HTTP surface (Prometheus metrics plus JSON lease/NAT snapshots).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/groundwater/ghostvm-vnet/dhcpsvc/leasestore"
	"github.com/groundwater/ghostvm-vnet/internal/tapdev"
	"github.com/groundwater/ghostvm-vnet/vrouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var (
	configPath string
	tapName    string
	leaseDB    string
	httpAddr   string
	apiAddr    string
)

var rootCmd = &cobra.Command{
	Use:   "ghostvmrouterd",
	Short: "GhostVM user-space network router",
	Long:  "ghostvmrouterd routes a guest VM's Ethernet traffic: ARP, DHCP, DNS forwarding, NAT, firewalling and inbound port forwarding.",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/ghostvmrouterd/config.yaml", "path to the router's YAML config file")
	rootCmd.AddCommand(startCmd, leasesCmd, natCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the router against a host tap device",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().StringVar(&tapName, "tap", "ghostvm0", "name of the host tap(4) device to attach to")
	startCmd.Flags().StringVar(&leaseDB, "lease-db", "", "optional bbolt file to persist DHCP leases across restarts")
	startCmd.Flags().StringVar(&httpAddr, "http", ":9177", "address to serve Prometheus metrics and the JSON snapshot API on")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	dev, err := tapdev.Open(tapName)
	if err != nil {
		return fmt.Errorf("ghostvmrouterd: opening tap device: %w", err)
	}
	defer dev.Close()

	var store *leasestore.Store
	if leaseDB != "" {
		store, err = leasestore.Open(leaseDB)
		if err != nil {
			return fmt.Errorf("ghostvmrouterd: opening lease db: %w", err)
		}
		defer store.Close()
	}

	log := slog.Default()
	var r *vrouter.Router
	if store != nil {
		r, err = vrouter.New(cfg, dev, store, log)
	} else {
		r, err = vrouter.New(cfg, dev, nil, log)
	}
	if err != nil {
		return fmt.Errorf("ghostvmrouterd: building router: %w", err)
	}
	if err := r.Start(); err != nil {
		return fmt.Errorf("ghostvmrouterd: starting router: %w", err)
	}
	defer r.Stop()

	srv := newSnapshotServer(r)
	httpSrv := &http.Server{Addr: httpAddr, Handler: srv}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("ghostvmrouterd: snapshot server exited", slog.String("err", err.Error()))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	log.Info("ghostvmrouterd: shutting down")
	httpSrv.Close()
	return nil
}

func newSnapshotServer(r *vrouter.Router) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/leases", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, leaseSnapshot(r))
	})
	mux.HandleFunc("/api/nat", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, map[string]int{"entry_count": r.NATEntryCount()})
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type leaseView struct {
	IP       string `json:"ip"`
	MAC      string `json:"mac"`
	Hostname string `json:"hostname"`
	Static   bool   `json:"static"`
	Expiry   string `json:"expiry,omitempty"`
}

func leaseSnapshot(r *vrouter.Router) []leaseView {
	leases := r.Leases()
	out := make([]leaseView, 0, len(leases))
	for _, l := range leases {
		v := leaseView{IP: l.IP.String(), MAC: l.MAC.String(), Hostname: l.Hostname, Static: l.Static}
		if !l.Expiry.IsZero() {
			v.Expiry = l.Expiry.Format("2006-01-02T15:04:05Z07:00")
		}
		out = append(out, v)
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
