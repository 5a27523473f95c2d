package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/spendguard/spendguard/internal/probes"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <name>",
		Short: "Run one diagnostic probe directly",
		Long:  "Run a single diagnostic probe against one ad and print its evidence as JSON.",
		Args:  cobra.ExactArgs(1),
		RunE:  runProbe,
	}
	cmd.Flags().String("tenant", "", "Tenant short code")
	cmd.Flags().String("ad", "", "Ad identifier")
	cmd.Flags().Int("window", 30, "Analysis window in days")
	cmd.Flags().String("fixture", "", "YAML fixture file (offline mode)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("ad")
	return cmd
}

func runProbe(cmd *cobra.Command, args []string) error {
	tenant, _ := cmd.Flags().GetString("tenant")
	adID, _ := cmd.Flags().GetString("ad")
	window, _ := cmd.Flags().GetInt("window")
	fixture, _ := cmd.Flags().GetString("fixture")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, _, cleanup, err := buildStore(cfg, fixture)
	if err != nil {
		return err
	}
	defer cleanup()

	catalog := probes.NewCatalog(store)
	probe, ok := catalog.ByName(args[0])
	if !ok {
		return fmt.Errorf("unknown probe %q; catalog: %s", args[0], strings.Join(catalog.Names(), ", "))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ProbeTimeout())
	defer cancel()

	ev, err := probe.Run(ctx, tenant, adID, window)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(ev)
}
