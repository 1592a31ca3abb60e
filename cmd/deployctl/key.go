package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/aspecta/points-deployer/internal/chain"
	"github.com/aspecta/points-deployer/internal/config"
	"github.com/aspecta/points-deployer/internal/secrets"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Manage the local deployer key file",
	}

	var force bool
	fetchCmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the deployer key from AWS Secrets Manager or OpenBao into DEPLOYER_KEY_FILE",
		Long: `Fetches the deployer private key from the configured secret store and writes
it to DEPLOYER_KEY_FILE with owner-only permissions. Later runs pick the file
up automatically when SIGNER is unset.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyFetch(cmd, force)
		},
	}
	fetchCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")

	cmd.AddCommand(fetchCmd)
	return cmd
}

func runKeyFetch(cmd *cobra.Command, force bool) error {
	params, err := loadParams(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	// A key file never counts as a source here.
	source, err := params.SignerSource(nil)
	if err != nil {
		return err
	}
	if source != config.SignerAWS && source != config.SignerBao {
		return config.Invalid(config.Signer, fmt.Sprintf("must be aws or bao to fetch a key, got %q", source))
	}
	if err := params.Require(source.Required()...); err != nil {
		return err
	}

	path := params.Get(config.DeployerKeyFile)
	if !force && fileExists(path) {
		return fmt.Errorf("%s already exists, use --force to overwrite", path)
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	provider, err := providers(ctx, source, params)
	if err != nil {
		return err
	}
	key, err := provider.PrivateKey(ctx)
	if err != nil {
		return err
	}
	signer, err := chain.NewKeySigner(key)
	if err != nil {
		return fmt.Errorf("%w: %v", secrets.ErrSecretMalformed, err)
	}
	if err := secrets.WriteKeyFile(path, key); err != nil {
		return err
	}

	logger.Info("deployer key stored",
		slog.String("source", string(source)),
		slog.String("path", path),
		slog.String("address", signer.Address().Hex()),
	)
	fmt.Fprintf(cmd.OutOrStdout(), "Key for %s written to %s\n", signer.Address().Hex(), path)
	return nil
}
