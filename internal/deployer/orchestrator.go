// Package deployer runs the deployment and upgrade procedures for the points
// and staking contracts against a chain.Client.
package deployer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/aspecta/points-deployer/internal/artifact"
	"github.com/aspecta/points-deployer/internal/chain"
	"github.com/aspecta/points-deployer/internal/config"
	"github.com/aspecta/points-deployer/internal/preflight"
	"github.com/aspecta/points-deployer/internal/secrets"
)

// staleRoleGetter is the role getter of an older token revision.
const staleRoleGetter = "getFactoryRole"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// Dialer opens a chain client.
type Dialer func(ctx context.Context, cfg chain.Config) (chain.Client, error)

// ProviderFactory builds the secret provider for a signer source.
type ProviderFactory func(ctx context.Context, source config.SignerSource, p *config.Params) (secrets.Provider, error)

// ArtifactLoader opens the artifact source rooted at dir.
type ArtifactLoader func(dir string) artifact.Source

// OpenArtifactStore is the default ArtifactLoader.
func OpenArtifactStore(dir string) artifact.Source {
	return artifact.NewStore(dir)
}

// DialEthereum is the default Dialer.
func DialEthereum(ctx context.Context, cfg chain.Config) (chain.Client, error) {
	c, err := chain.Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Orchestrator validates a parameter set and drives one operation.
type Orchestrator struct {
	params     *config.Params
	dial       Dialer
	providers  ProviderFactory
	artifacts  ArtifactLoader
	fileExists func(string) bool
	out        io.Writer
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithDialer replaces the chain dialer.
func WithDialer(d Dialer) Option {
	return func(o *Orchestrator) {
		o.dial = d
	}
}

// WithProviderFactory replaces the secret provider factory.
func WithProviderFactory(f ProviderFactory) Option {
	return func(o *Orchestrator) {
		o.providers = f
	}
}

// WithArtifacts replaces the artifact loader.
func WithArtifacts(l ArtifactLoader) Option {
	return func(o *Orchestrator) {
		o.artifacts = l
	}
}

// WithFileExists replaces the key file probe used by signer auto-detection.
func WithFileExists(f func(string) bool) Option {
	return func(o *Orchestrator) {
		o.fileExists = f
	}
}

// WithOutput sets the console writer.
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) {
		o.out = w
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// New creates an orchestrator for params. params is not modified.
func New(params *config.Params, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		params:     params,
		dial:       DialEthereum,
		providers:  secrets.ForSource,
		artifacts:  OpenArtifactStore,
		fileExists: secrets.FileExists,
		out:        io.Discard,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// plan is the fully validated input of a run.
type plan struct {
	op              Operation
	signer          config.SignerSource
	rpcURL          string
	expectedChainID uint64
	proxyKind       chain.ProxyKind
	artifactsDir    string
	artifacts       artifact.Source
	roleAccessor    string
	economics       []interface{}
	address         common.Address
}

// Validate checks every parameter op needs and the compiled artifacts the
// run deploys or calls. It reads the artifact directory and probes for the
// local key file but does no network I/O.
func (o *Orchestrator) Validate(op Operation) error {
	_, err := o.validate(op)
	return err
}

func (o *Orchestrator) validate(op Operation) (*plan, error) {
	if err := op.Validate(); err != nil {
		return nil, err
	}
	p := o.params

	signer, err := p.SignerSource(o.fileExists)
	if err != nil {
		return nil, err
	}
	if err := p.Require(signer.Required()...); err != nil {
		return nil, err
	}
	if err := p.Require(config.JSONRPCURL); err != nil {
		return nil, err
	}
	if err := p.Require(op.RequiredParams()...); err != nil {
		return nil, err
	}
	if err := validateSignerInput(p, signer); err != nil {
		return nil, err
	}

	pl := &plan{
		op:           op,
		signer:       signer,
		rpcURL:       p.Get(config.JSONRPCURL),
		artifactsDir: p.Get(config.ArtifactsDir),
		roleAccessor: p.Get(config.RoleAccessor),
	}

	if err := validateRPCURL(pl.rpcURL); err != nil {
		return nil, err
	}
	if pl.expectedChainID, err = p.Uint64(config.ChainID); err != nil {
		return nil, err
	}
	kind, err := p.OneOf(config.ProxyKind, string(chain.ProxyTransparent), string(chain.ProxyUUPS))
	if err != nil {
		return nil, err
	}
	pl.proxyKind = chain.ProxyKind(kind)
	if !identifierPattern.MatchString(pl.roleAccessor) {
		return nil, config.Invalid(config.RoleAccessor, "is not a valid function name")
	}

	switch op.Kind {
	case KindDeployAll, KindAttachAndExtend:
		for _, name := range config.Economics {
			n, err := p.BigInt(name)
			if err != nil {
				return nil, err
			}
			pl.economics = append(pl.economics, n)
		}
	}

	switch op.Kind {
	case KindAttachAndExtend:
		pl.address, err = p.Address(config.BuildingPointAddress)
	case KindUpgradeProxy:
		pl.address, err = p.Address(op.Target.AddressParam())
	case KindUpgradeBeacon:
		pl.address, err = p.Address(config.BeaconAddress)
	}
	if err != nil {
		return nil, err
	}

	if err := o.resolveArtifacts(pl); err != nil {
		return nil, err
	}
	return pl, nil
}

// validateSignerInput checks the key material that is available locally.
func validateSignerInput(p *config.Params, signer config.SignerSource) error {
	switch signer {
	case config.SignerEnv:
		if _, err := chain.NewKeySigner(p.Get(config.PrivateKey)); err != nil {
			return config.Invalid(config.PrivateKey, "is not a valid private key")
		}
	case config.SignerBao:
		if _, _, err := secrets.SplitKVPath(p.Get(config.BaoSecretPath)); err != nil {
			return config.Invalid(config.BaoSecretPath, "must be <mount>/<path>")
		}
	}
	return nil
}

// requiredArtifacts lists the contracts op deploys or calls, including the
// proxy infrastructure for kind.
func requiredArtifacts(op Operation, kind chain.ProxyKind) []string {
	switch op.Kind {
	case KindDeployToken:
		return []string{BuildingPoint}
	case KindDeployAll, KindAttachAndExtend:
		proxy := chain.TransparentProxyContract
		if kind == chain.ProxyUUPS {
			proxy = chain.ERC1967ProxyContract
		}
		return []string{BuildingPoint, DevPool, chain.BeaconContract, DevPoolFactory, FactoryGetters, proxy}
	case KindUpgradeProxy:
		return []string{op.Target.Contract()}
	case KindUpgradeBeacon:
		return []string{DevPool}
	default:
		return nil
	}
}

// resolveArtifacts loads every artifact the run needs and checks the calls
// made on them, so a broken build fails before the first transaction.
func (o *Orchestrator) resolveArtifacts(pl *plan) error {
	src := o.artifacts(pl.artifactsDir)
	loaded, err := artifact.LoadAll(src, requiredArtifacts(pl.op, pl.proxyKind)...)
	if err != nil {
		return config.Invalid(config.ArtifactsDir, fmt.Sprintf("%q is unusable: %v", pl.artifactsDir, err))
	}
	pl.artifacts = src

	incompatible := func(err error) error {
		return config.Invalid(config.ArtifactsDir, fmt.Sprintf("%q holds an incompatible artifact: %v", pl.artifactsDir, err))
	}
	var zero common.Address

	switch pl.op.Kind {
	case KindDeployToken:
		if _, err := loaded[BuildingPoint].Pack("", zero); err != nil {
			return incompatible(err)
		}
	case KindDeployAll, KindAttachAndExtend:
		token := loaded[BuildingPoint]
		if pl.op.Kind == KindDeployAll {
			if _, err := token.Pack("", zero); err != nil {
				return incompatible(err)
			}
		}
		if !token.HasMethod(pl.roleAccessor) {
			return config.Invalid(config.RoleAccessor, fmt.Sprintf("%q is not declared by the %s ABI", pl.roleAccessor, BuildingPoint))
		}
		factoryArgs := append([]interface{}{zero, zero, zero}, pl.economics...)
		if _, err := loaded[DevPoolFactory].Pack(Initializer, factoryArgs...); err != nil {
			return incompatible(err)
		}
		if _, err := loaded[FactoryGetters].Pack(Initializer, zero, zero); err != nil {
			return incompatible(err)
		}
	}
	return nil
}

func validateRPCURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return config.Invalid(config.JSONRPCURL, "is not a valid URL")
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
		if u.Host == "" {
			return config.Invalid(config.JSONRPCURL, "has no host")
		}
		return nil
	case "":
		// IPC endpoint path
		return nil
	default:
		return config.Invalid(config.JSONRPCURL, fmt.Sprintf("has unsupported scheme %q", u.Scheme))
	}
}

// Run validates, resolves the signer, connects and performs op. The returned
// report is non-nil once validation passed, also on failure.
func (o *Orchestrator) Run(ctx context.Context, op Operation) (*Report, error) {
	pl, err := o.validate(op)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:     uuid.NewString(),
		Operation: op,
		StartedAt: o.now().UTC(),
		Contracts: []*chain.Contract{},
	}
	logger := o.logger.With(
		slog.String("run_id", report.RunID),
		slog.String("operation", op.String()),
	)

	err = o.run(ctx, pl, report, logger)
	report.FinishedAt = o.now().UTC()
	if err != nil {
		report.Error = err.Error()
		logger.Error("run failed",
			slog.String("error", err.Error()),
			slog.Int("confirmed_contracts", len(report.Contracts)),
		)
		return report, err
	}
	logger.Info("run complete", slog.Int("contracts", len(report.Contracts)))
	return report, nil
}

func (o *Orchestrator) run(ctx context.Context, pl *plan, report *Report, logger *slog.Logger) error {
	key, err := o.resolveKey(ctx, pl.signer)
	if err != nil {
		return err
	}
	logger.Info("signer resolved", slog.String("source", signerName(pl.signer)))

	client, err := o.dial(ctx, chain.Config{
		RPCURL:     pl.rpcURL,
		PrivateKey: key,
		ProxyKind:  pl.proxyKind,
		Artifacts:  pl.artifacts,
		Logger:     logger,
	})
	if err != nil {
		return err
	}
	defer client.Close()

	network, err := preflight.NewChecker(logger).Check(ctx, client, pl.expectedChainID)
	report.Network = network
	if err != nil {
		return err
	}
	o.printf("Network: %s\n", network.Name)
	o.printf("Chain ID: %s\n", network.ChainID)
	o.printf("Account: %s\n", network.Account.Hex())
	o.printf("Balance: %s ether\n", network.Balance)

	s := &session{o: o, client: client, plan: pl, report: report, logger: logger}
	switch pl.op.Kind {
	case KindDeployAll:
		return s.deploySystem(ctx, false)
	case KindAttachAndExtend:
		return s.deploySystem(ctx, true)
	case KindDeployToken:
		_, err := s.deployToken(ctx)
		return err
	case KindUpgradeProxy:
		return s.upgradeProxy(ctx)
	case KindUpgradeBeacon:
		return s.upgradeBeacon(ctx)
	default:
		return fmt.Errorf("unknown operation %q", pl.op.Kind)
	}
}

func (o *Orchestrator) resolveKey(ctx context.Context, source config.SignerSource) (string, error) {
	provider, err := o.providers(ctx, source, o.params)
	if err != nil {
		return "", err
	}
	if provider == nil {
		return "", nil
	}
	key, err := provider.PrivateKey(ctx)
	if err != nil {
		return "", err
	}
	return key, nil
}

func (o *Orchestrator) printf(format string, args ...interface{}) {
	fmt.Fprintf(o.out, format, args...)
}

func signerName(s config.SignerSource) string {
	if s == config.SignerAuto {
		return "auto"
	}
	return string(s)
}

// session holds the state of one connected run.
type session struct {
	o      *Orchestrator
	client chain.Client
	plan   *plan
	report *Report
	logger *slog.Logger
}

func (s *session) record(c *chain.Contract) {
	s.report.Contracts = append(s.report.Contracts, c)
	s.logger.Info("contract confirmed",
		slog.String("contract", c.Name),
		slog.String("kind", string(c.Kind)),
		slog.String("address", c.Address.Hex()),
		slog.String("implementation", c.Implementation.Hex()),
	)
}

func (s *session) deployToken(ctx context.Context) (*chain.Contract, error) {
	f, err := s.client.ContractFactory(BuildingPoint)
	if err != nil {
		return nil, err
	}
	token, err := s.client.Deploy(ctx, f, s.client.Account())
	if err != nil {
		return nil, err
	}
	s.record(token)
	s.o.printf("%s deployed to: %s\n", BuildingPoint, token.Address.Hex())
	return token, nil
}

func (s *session) attachToken(ctx context.Context) (*chain.Contract, error) {
	f, err := s.client.ContractFactory(BuildingPoint)
	if err != nil {
		return nil, err
	}
	token, err := s.client.Attach(ctx, f, s.plan.address)
	if err != nil {
		return nil, err
	}
	s.record(token)
	s.o.printf("%s contract address: %s\n", BuildingPoint, token.Address.Hex())
	return token, nil
}

// deploySystem deploys or attaches the token, then the dev pool beacon, the
// factory and getters proxies, and finally grants the factory role on the
// token to the factory proxy.
func (s *session) deploySystem(ctx context.Context, attach bool) error {
	var (
		token *chain.Contract
		err   error
	)
	if attach {
		token, err = s.attachToken(ctx)
	} else {
		token, err = s.deployToken(ctx)
	}
	if err != nil {
		return err
	}

	poolF, err := s.client.ContractFactory(DevPool)
	if err != nil {
		return err
	}
	beacon, err := s.client.DeployBeacon(ctx, poolF)
	if err != nil {
		return err
	}
	s.record(beacon)
	s.o.printf("Beacon deployed to: %s\n", beacon.Address.Hex())

	owner := s.client.Account()
	factoryF, err := s.client.ContractFactory(DevPoolFactory)
	if err != nil {
		return err
	}
	args := append([]interface{}{owner, token.Address, beacon.Address}, s.plan.economics...)
	factory, err := s.client.DeployProxy(ctx, factoryF, Initializer, args...)
	if err != nil {
		return err
	}
	s.record(factory)
	s.o.printf("%s deployed to: %s\n", DevPoolFactory, factory.Address.Hex())

	gettersF, err := s.client.ContractFactory(FactoryGetters)
	if err != nil {
		return err
	}
	getters, err := s.client.DeployProxy(ctx, gettersF, Initializer, owner, factory.Address)
	if err != nil {
		return err
	}
	s.record(getters)
	s.o.printf("%s deployed to: %s\n", FactoryGetters, getters.Address.Hex())

	return s.grantFactoryRole(ctx, token, factory)
}

// grantFactoryRole grants the role read from the configured accessor on token
// to grantee. A missing or zero address on either side is a configuration
// error raised before the client is called.
func (s *session) grantFactoryRole(ctx context.Context, token, grantee *chain.Contract) error {
	if token == nil || token.Address == (common.Address{}) {
		return config.Invalid(config.BuildingPointAddress, "is not available for the role grant")
	}
	if grantee == nil || grantee.Address == (common.Address{}) {
		return config.Invalid(config.DevPoolFactoryAddress, "is not available for the role grant")
	}
	if s.plan.roleAccessor == staleRoleGetter {
		s.logger.Warn("role accessor refers to a stale token interface, prefer the role constant",
			slog.String("accessor", s.plan.roleAccessor),
		)
	}

	grant, err := s.client.GrantRole(ctx, token, s.plan.roleAccessor, grantee.Address)
	if err != nil {
		return err
	}
	s.report.RoleGrants = append(s.report.RoleGrants, grant)
	s.logger.Info("role granted",
		slog.String("accessor", grant.Accessor),
		slog.String("role", grant.Role.Hex()),
		slog.String("grantee", grant.Grantee.Hex()),
		slog.String("tx_hash", grant.TxHash.Hex()),
	)
	s.o.printf("Role %s granted to %s\n", grant.Accessor, grant.Grantee.Hex())
	return nil
}

func (s *session) upgradeProxy(ctx context.Context) error {
	name := s.plan.op.Target.Contract()
	f, err := s.client.ContractFactory(name)
	if err != nil {
		return err
	}
	upgraded, err := s.client.UpgradeProxy(ctx, s.plan.address, f)
	if err != nil {
		return err
	}
	if upgraded.Address != s.plan.address {
		return fmt.Errorf("%s proxy moved from %s to %s during upgrade", name, s.plan.address.Hex(), upgraded.Address.Hex())
	}
	s.record(upgraded)
	s.o.printf("%s upgraded: proxy %s, implementation %s\n", name, upgraded.Address.Hex(), upgraded.Implementation.Hex())
	return nil
}

func (s *session) upgradeBeacon(ctx context.Context) error {
	f, err := s.client.ContractFactory(DevPool)
	if err != nil {
		return err
	}
	upgraded, err := s.client.UpgradeBeacon(ctx, s.plan.address, f)
	if err != nil {
		return err
	}
	s.record(upgraded)
	s.o.printf("Beacon upgraded: beacon %s, implementation %s\n", upgraded.Address.Hex(), upgraded.Implementation.Hex())
	return nil
}

// ExitCode maps a run result to the process exit status.
func ExitCode(err error) int {
	if err != nil {
		return 1
	}
	return 0
}
