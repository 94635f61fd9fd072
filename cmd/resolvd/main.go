// Command resolvd runs the resolvd engine behind a DNS listener and a
// localhost control/metrics endpoint. Flag parsing and process wiring
// only; the resolution logic all lives in the root resolvd package.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/brevity-dns/resolvd"
	"github.com/brevity-dns/resolvd/internal/hints"
	"github.com/brevity-dns/resolvd/internal/outbound"
	"github.com/brevity-dns/resolvd/internal/telemetry"
	"github.com/brevity-dns/resolvd/internal/validator"
)

var log = logrus.New()

var (
	listenAddr    string
	controlAddr   string
	rootHintsFile string
	anchorFiles   []string
	permissive    bool
	ignoreCD      bool
	metrics       bool
	clientSubnet  bool
	upstreamQPS   float64
)

var rootCmd = &cobra.Command{
	Use:   "resolvd",
	Short: "recursive, caching, DNSSEC-validating DNS resolver",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:53", "address to serve DNS queries on")
	rootCmd.Flags().StringVar(&controlAddr, "control", "127.0.0.1:8953", "address to serve the control/metrics endpoint on")
	rootCmd.Flags().StringVar(&rootHintsFile, "root-hints", "", "path to a root-hints zone file (required)")
	rootCmd.Flags().StringArrayVar(&anchorFiles, "trust-anchor", nil, "zone=path, repeatable (e.g. .=/etc/resolvd/root.key)")
	rootCmd.Flags().BoolVar(&permissive, "permissive", false, "demote bogus answers to indeterminate instead of SERVFAIL")
	rootCmd.Flags().BoolVar(&ignoreCD, "ignore-cd-flag", false, "validate even when the client sets the CD bit")
	rootCmd.Flags().BoolVar(&metrics, "metrics", true, "export Prometheus metrics on the control endpoint")
	rootCmd.Flags().BoolVar(&clientSubnet, "client-subnet", false, "cache and forward EDNS Client Subnet (RFC 7871) options")
	rootCmd.Flags().Float64Var(&upstreamQPS, "upstream-qps", 0, "pace outbound queries per upstream to at most this many per second (0 disables pacing)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	if rootHintsFile == "" {
		return fmt.Errorf("resolvd: --root-hints is required")
	}

	rootHintRRs, err := loadZoneFile(rootHintsFile, ".")
	if err != nil {
		return fmt.Errorf("loading root hints: %w", err)
	}
	rootHints := hints.BuildRootHints(rootHintRRs)

	anchors := map[string]validator.TrustAnchor{}
	for _, spec := range anchorFiles {
		zone, path, err := splitAnchorSpec(spec)
		if err != nil {
			return err
		}
		rrs, err := loadZoneFile(path, zone)
		if err != nil {
			return fmt.Errorf("loading trust anchor for %s: %w", zone, err)
		}
		anchors[dns.Fqdn(zone)] = hints.BuildTrustAnchor(zone, rrs)
	}

	cfg := resolvd.DefaultConfig()
	cfg.PermissiveMode = permissive
	cfg.IgnoreCD = ignoreCD
	cfg.ClientSubnet = clientSubnet
	if upstreamQPS > 0 {
		cfg.UpstreamQPS = upstreamQPS
		cfg.UpstreamBurst = 1
	}

	var rec telemetry.Recorder = telemetry.NoOp{}
	var prom *telemetry.Prometheus
	if metrics {
		prom = telemetry.NewPrometheus()
		rec = prom
	}

	engine := resolvd.New(cfg, outbound.NewDNSExchanger(), rootHints, anchors, rec)

	srv := &resolverServer{engine: engine, log: log}
	dns.HandleFunc(".", srv.handleQuery)
	dnsServer := &dns.Server{
		Addr:         listenAddr,
		Net:          "udp",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", controlAddr).Info("control endpoint listening")
		if err := serveControl(controlAddr, engine, prom); err != nil {
			log.WithError(err).Error("control endpoint stopped")
		}
	}()

	log.WithField("addr", listenAddr).Info("resolvd listening")
	return dnsServer.ListenAndServe()
}
