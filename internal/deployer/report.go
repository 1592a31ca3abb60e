package deployer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aspecta/points-deployer/internal/chain"
	"github.com/aspecta/points-deployer/internal/preflight"
)

// Report is the record of one run. On failure it holds everything confirmed
// before the failing step.
type Report struct {
	RunID      string                   `json:"runId" yaml:"runId"`
	Operation  Operation                `json:"operation" yaml:"operation"`
	StartedAt  time.Time                `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time                `json:"finishedAt" yaml:"finishedAt"`
	Network    *preflight.NetworkReport `json:"network,omitempty" yaml:"network,omitempty"`
	Contracts  []*chain.Contract        `json:"contracts" yaml:"contracts"`
	RoleGrants []*chain.RoleGrant       `json:"roleGrants,omitempty" yaml:"roleGrants,omitempty"`
	Error      string                   `json:"error,omitempty" yaml:"error,omitempty"`
}

// Contract returns the first recorded contract with name.
func (r *Report) Contract(name string) *chain.Contract {
	for _, c := range r.Contracts {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// WriteFile writes the report as JSON or YAML, chosen by the file extension.
func (r *Report) WriteFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(r, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(r)
	default:
		return fmt.Errorf("report %s: unsupported extension, use .json, .yaml or .yml", path)
	}
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
