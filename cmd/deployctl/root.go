package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aspecta/points-deployer/internal/config"
	"github.com/aspecta/points-deployer/internal/deployer"
	"github.com/aspecta/points-deployer/internal/secrets"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"

	// Global flags
	cfgFile    string
	envFile    string
	logLevel   string
	logFormat  string
	reportPath string
	timeout    time.Duration
	jsonOutput bool
	dryRun     bool
	setValues  []string

	rootCmd *cobra.Command
)

// Replaced in tests.
var (
	dialer     deployer.Dialer          = deployer.DialEthereum
	providers  deployer.ProviderFactory = secrets.ForSource
	artifacts  deployer.ArtifactLoader  = deployer.OpenArtifactStore
	fileExists func(string) bool        = secrets.FileExists
)

// paramFlags maps flag names to the parameters they set.
var paramFlags = map[string]string{
	"rpc-url":       config.JSONRPCURL,
	"chain-id":      config.ChainID,
	"signer":        config.Signer,
	"key-file":      config.DeployerKeyFile,
	"artifacts":     config.ArtifactsDir,
	"proxy-kind":    config.ProxyKind,
	"role-accessor": config.RoleAccessor,
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "deployctl",
		Short: "Deploy and upgrade the Aspecta points contracts",
		Long: `deployctl deploys the AspectaBuildingPoint token, the AspectaDevPool beacon
and the AspectaDevPoolFactory and PoolFactoryGetters proxies, grants the
factory role on the token, and upgrades the deployed proxies and beacon.

Parameters are read from flags, then the environment, then the .env file,
then the optional YAML config file:
  JSON_RPC_URL       Node endpoint
  CHAIN_ID           Expected chain id, checked before any transaction
  SIGNER             aws, bao, keyfile, env or node (detected when unset)
  AWS_REGION, AWS_SECRET_NAME, AWS_SECRET_KEY
  BAO_ADDR, BAO_TOKEN, BAO_SECRET_PATH, BAO_SECRET_KEY, BAO_NAMESPACE
  PRIVATE_KEY, DEPLOYER_KEY_FILE
  DEFAULT_INFLATION_RATE, DEFAULT_SHARE_DECAY_RATE,
  DEFAULT_REWARD_CUT, DEFAULT_LOCK_PERIOD
  ASPECTA_BUILDING_POINT_ADDRESS, ASPECTA_DEV_POOL_FACTORY_ADDRESS,
  POOL_FACTORY_GETTERS_ADDRESS, BEACON_ADDRESS`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deployctl %s\n", Version)
			fmt.Fprintf(cmd.OutOrStdout(), "  commit: %s\n", Commit)
			fmt.Fprintf(cmd.OutOrStdout(), "  built:  %s\n", BuildDate)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file")
	pf.StringVar(&envFile, "env-file", ".env", "dotenv file, ignored when missing")
	pf.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	pf.StringVar(&reportPath, "report", "", "write the run report to this .json or .yaml file")
	pf.DurationVar(&timeout, "timeout", 0, "abort the run after this duration (0 disables)")
	pf.BoolVar(&jsonOutput, "json", false, "print the run report as JSON instead of progress lines")
	pf.StringArrayVar(&setValues, "set", nil, "set a parameter, NAME=VALUE (repeatable)")

	pf.String("rpc-url", "", "node endpoint (JSON_RPC_URL)")
	pf.String("chain-id", "", "expected chain id (CHAIN_ID)")
	pf.String("signer", "", "signer source: aws, bao, keyfile, env, node (SIGNER)")
	pf.String("key-file", "", "local deployer key file (DEPLOYER_KEY_FILE)")
	pf.String("artifacts", "", "compiled artifacts directory (ARTIFACTS_DIR)")
	pf.String("proxy-kind", "", "proxy flavour for new proxies: transparent, uups (PROXY_KIND)")
	pf.String("role-accessor", "", "token function returning the factory role (ROLE_ACCESSOR)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(newDeployCmd())
	rootCmd.AddCommand(newUpgradeCmd())
	rootCmd.AddCommand(newKeyCmd())
	rootCmd.AddCommand(newParamsCmd())
}

// ExecuteContext runs the root command with ctx and reports a failure on
// stderr.
func ExecuteContext(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(rootCmd.ErrOrStderr(), "Error: %v\n", err)
	}
	return err
}

// ExecuteWithArgs runs the root command with the provided arguments (for testing)
func ExecuteWithArgs(args []string) error {
	rootCmd.SetArgs(args)
	return ExecuteContext(context.Background())
}

// SetOutput sets the output writer for the root command (for testing)
func SetOutput(w io.Writer) {
	rootCmd.SetOut(w)
	rootCmd.SetErr(w)
}

// SetOutputs sets separate stdout and stderr writers (for testing)
func SetOutputs(out, errOut io.Writer) {
	rootCmd.SetOut(out)
	rootCmd.SetErr(errOut)
}

// ResetFlags resets all flags to their default values (for testing)
func ResetFlags() {
	cfgFile = ""
	envFile = ".env"
	logLevel = "info"
	logFormat = "text"
	reportPath = ""
	timeout = 0
	jsonOutput = false
	dryRun = false
	setValues = nil

	resetCommandFlags(rootCmd)
}

func resetCommandFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetCommandFlags(sub)
	}
}

// loadParams builds the parameter set. Flags win over the environment, the
// environment over the dotenv file and the dotenv file over the config file.
func loadParams(cmd *cobra.Command) (*config.Params, error) {
	fromFlags, err := flagLookup(cmd)
	if err != nil {
		return nil, err
	}

	dotenv, err := config.LoadEnvFile(envFile)
	if err != nil {
		return nil, err
	}

	fromFile, err := configFileLookup(cfgFile)
	if err != nil {
		return nil, err
	}

	return config.FromLookup(config.Layer(
		fromFlags,
		os.LookupEnv,
		config.MapLookup(dotenv),
		fromFile,
	)), nil
}

func flagLookup(cmd *cobra.Command) (func(string) (string, bool), error) {
	values := make(map[string]string)
	for _, kv := range setValues {
		name, value, ok := strings.Cut(kv, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q, want NAME=VALUE", kv)
		}
		values[strings.ToUpper(name)] = value
	}
	for flagName, param := range paramFlags {
		f := cmd.Flags().Lookup(flagName)
		if f != nil && f.Changed {
			values[param] = f.Value.String()
		}
	}
	return config.MapLookup(values), nil
}

func configFileLookup(path string) (func(string) (string, bool), error) {
	if path == "" {
		return nil, nil
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return func(name string) (string, bool) {
		if !v.IsSet(name) {
			return "", false
		}
		return v.GetString(name), true
	}, nil
}

func newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}
	switch strings.ToLower(logFormat) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q, want text or json", logFormat)
	}
}

// commandContext applies --timeout to the command context.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

// runOperation validates or runs op and writes the report when requested.
func runOperation(cmd *cobra.Command, op deployer.Operation) error {
	params, err := loadParams(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	progress := out
	if jsonOutput {
		progress = io.Discard
	}
	orch := deployer.New(params,
		deployer.WithDialer(dialer),
		deployer.WithProviderFactory(providers),
		deployer.WithArtifacts(artifacts),
		deployer.WithFileExists(fileExists),
		deployer.WithOutput(progress),
		deployer.WithLogger(logger),
	)

	if dryRun {
		if err := orch.Validate(op); err != nil {
			return err
		}
		fmt.Fprintf(out, "Parameters valid for %s\n", op)
		return nil
	}

	ctx, cancel := commandContext(cmd)
	defer cancel()

	report, runErr := orch.Run(ctx, op)
	if report == nil {
		return runErr
	}
	if reportPath != "" {
		if err := report.WriteFile(reportPath); err != nil {
			logger.Error("report not written", slog.String("path", reportPath), slog.String("error", err.Error()))
			if runErr == nil {
				runErr = err
			}
		} else {
			logger.Info("report written", slog.String("path", reportPath))
		}
	}
	if jsonOutput {
		if err := printJSON(out, report); err != nil && runErr == nil {
			runErr = err
		}
	}
	return runErr
}
