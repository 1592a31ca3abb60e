package main

import (
	"github.com/spf13/cobra"

	"github.com/aspecta/points-deployer/internal/deployer"
)

func newDeployCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Deploy the points contracts",
	}
	cmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "validate parameters without connecting")

	cmd.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Deploy the token, the dev pool beacon and the factory proxies, then grant the factory role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, deployer.Operation{Kind: deployer.KindDeployAll})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "token",
		Short: "Deploy the AspectaBuildingPoint token only",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, deployer.Operation{Kind: deployer.KindDeployToken})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:     "project",
		Aliases: []string{"attach"},
		Short:   "Attach to the deployed token and deploy the rest of the system",
		Long: `Attaches to the token at ASPECTA_BUILDING_POINT_ADDRESS, deploys the dev pool
beacon and the factory and getters proxies, then grants the factory role.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOperation(cmd, deployer.Operation{Kind: deployer.KindAttachAndExtend})
		},
	})
	return cmd
}
