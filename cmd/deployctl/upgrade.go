package main

import (
	"github.com/spf13/cobra"

	"github.com/aspecta/points-deployer/internal/deployer"
)

func newUpgradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Upgrade deployed proxies or the dev pool beacon",
	}
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "validate parameters without connecting")

	targets := make([]string, len(deployer.Targets))
	for i, t := range deployer.Targets {
		targets[i] = string(t)
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "proxy <target>",
		Short: "Upgrade one proxy in place",
		Long: `Deploys the current implementation of the target contract and points the
proxy at it. The proxy address is read from the target's address parameter:
  building-point        ASPECTA_BUILDING_POINT_ADDRESS
  dev-pool-factory      ASPECTA_DEV_POOL_FACTORY_ADDRESS
  pool-factory-getters  POOL_FACTORY_GETTERS_ADDRESS`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: targets,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, deployer.Operation{
				Kind:   deployer.KindUpgradeProxy,
				Target: deployer.Target(args[0]),
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "beacon",
		Short: "Upgrade the dev pool beacon at BEACON_ADDRESS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, deployer.Operation{Kind: deployer.KindUpgradeBeacon})
		},
	})
	return cmd
}
