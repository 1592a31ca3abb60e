package config

import "fmt"

// SignerSource selects where the deployer identity comes from.
type SignerSource string

const (
	SignerAuto    SignerSource = ""
	SignerAWS     SignerSource = "aws"
	SignerBao     SignerSource = "bao"
	SignerKeyFile SignerSource = "keyfile"
	SignerEnv     SignerSource = "env"
	SignerNode    SignerSource = "node"
)

// Required returns the parameters the source needs.
func (s SignerSource) Required() []string {
	switch s {
	case SignerAWS:
		return []string{AWSRegion, AWSSecretName}
	case SignerBao:
		return []string{BaoAddr, BaoToken, BaoSecretPath}
	case SignerEnv:
		return []string{PrivateKey}
	default:
		return nil
	}
}

// SignerSource resolves the signer source. An explicit SIGNER value wins;
// otherwise a raw PRIVATE_KEY, then an existing key file, then an OpenBao
// secret path are tried before falling back to AWS Secrets Manager.
func (p *Params) SignerSource(fileExists func(string) bool) (SignerSource, error) {
	if v, ok := p.Lookup(Signer); ok {
		switch s := SignerSource(v); s {
		case SignerAWS, SignerBao, SignerKeyFile, SignerEnv, SignerNode:
			return s, nil
		default:
			return SignerAuto, Invalid(Signer, fmt.Sprintf("has unsupported value %q", v))
		}
	}

	if _, ok := p.Lookup(PrivateKey); ok {
		return SignerEnv, nil
	}
	if fileExists != nil && fileExists(p.Get(DeployerKeyFile)) {
		return SignerKeyFile, nil
	}
	if _, ok := p.Lookup(BaoSecretPath); ok {
		return SignerBao, nil
	}
	return SignerAWS, nil
}
