package deployer

import (
	"fmt"
	"strings"

	"github.com/aspecta/points-deployer/internal/config"
)

// Contract names as compiled.
const (
	BuildingPoint  = "AspectaBuildingPoint"
	DevPool        = "AspectaDevPool"
	DevPoolFactory = "AspectaDevPoolFactory"
	FactoryGetters = "PoolFactoryGetters"
)

// Initializer is the proxy initializer called on upgradeable contracts.
const Initializer = "initialize"

// Kind is an operation variant.
type Kind string

const (
	// KindDeployAll deploys the token, the dev pool beacon, the factory and
	// getters proxies, then grants the factory role.
	KindDeployAll Kind = "deploy-all"
	// KindDeployToken deploys the token only.
	KindDeployToken Kind = "deploy-token"
	// KindAttachAndExtend reuses an existing token and deploys the rest.
	KindAttachAndExtend Kind = "attach-and-extend"
	// KindUpgradeProxy upgrades one proxy selected by Target.
	KindUpgradeProxy Kind = "upgrade-proxy"
	// KindUpgradeBeacon upgrades the dev pool beacon.
	KindUpgradeBeacon Kind = "upgrade-beacon"
)

// Target selects the proxy for KindUpgradeProxy.
type Target string

const (
	TargetBuildingPoint  Target = "building-point"
	TargetDevPoolFactory Target = "dev-pool-factory"
	TargetFactoryGetters Target = "pool-factory-getters"
)

// Targets lists every upgradeable proxy target.
var Targets = []Target{TargetBuildingPoint, TargetDevPoolFactory, TargetFactoryGetters}

// Contract returns the contract name behind the target.
func (t Target) Contract() string {
	switch t {
	case TargetBuildingPoint:
		return BuildingPoint
	case TargetDevPoolFactory:
		return DevPoolFactory
	case TargetFactoryGetters:
		return FactoryGetters
	default:
		return ""
	}
}

// AddressParam returns the parameter holding the target's proxy address.
func (t Target) AddressParam() string {
	switch t {
	case TargetBuildingPoint:
		return config.BuildingPointAddress
	case TargetDevPoolFactory:
		return config.DevPoolFactoryAddress
	case TargetFactoryGetters:
		return config.FactoryGettersAddress
	default:
		return ""
	}
}

// Operation is one run of the orchestrator.
type Operation struct {
	Kind   Kind   `json:"kind" yaml:"kind"`
	Target Target `json:"target,omitempty" yaml:"target,omitempty"`
}

func (op Operation) String() string {
	if op.Target != "" {
		return string(op.Kind) + ":" + string(op.Target)
	}
	return string(op.Kind)
}

// Validate checks the kind and, for proxy upgrades, the target.
func (op Operation) Validate() error {
	switch op.Kind {
	case KindDeployAll, KindDeployToken, KindAttachAndExtend, KindUpgradeBeacon:
		if op.Target != "" {
			return fmt.Errorf("operation %s takes no target", op.Kind)
		}
		return nil
	case KindUpgradeProxy:
		if op.Target.Contract() == "" {
			return fmt.Errorf("unknown upgrade target %q, want one of %s", op.Target, joinTargets())
		}
		return nil
	default:
		return fmt.Errorf("unknown operation %q", op.Kind)
	}
}

// RequiredParams lists the operation-specific parameters in check order.
func (op Operation) RequiredParams() []string {
	switch op.Kind {
	case KindDeployAll:
		return config.Economics
	case KindAttachAndExtend:
		return append([]string{config.BuildingPointAddress}, config.Economics...)
	case KindUpgradeProxy:
		return []string{op.Target.AddressParam()}
	case KindUpgradeBeacon:
		return []string{config.BeaconAddress}
	default:
		return nil
	}
}

func joinTargets() string {
	names := make([]string, len(Targets))
	for i, t := range Targets {
		names[i] = string(t)
	}
	return strings.Join(names, "|")
}
