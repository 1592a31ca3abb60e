// Package artifact loads compiled contract artifacts (ABI and creation
// bytecode) produced by Hardhat or Foundry.
package artifact

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Sentinel errors
var (
	ErrNotFound  = errors.New("artifact not found")
	ErrAmbiguous = errors.New("artifact name is ambiguous")
	ErrNoCode    = errors.New("artifact has no creation bytecode")
)

// Artifact is a compiled contract ready for deployment.
type Artifact struct {
	Name     string
	Path     string
	ABI      abi.ABI
	Bytecode []byte
}

// Pack encodes a call to method. An empty method encodes constructor
// arguments.
func (a *Artifact) Pack(method string, args ...interface{}) ([]byte, error) {
	data, err := a.ABI.Pack(method, args...)
	if err != nil {
		if method == "" {
			return nil, fmt.Errorf("%s: pack constructor: %w", a.Name, err)
		}
		return nil, fmt.Errorf("%s: pack %s: %w", a.Name, method, err)
	}
	return data, nil
}

// HasMethod reports whether the ABI declares method.
func (a *Artifact) HasMethod(method string) bool {
	_, ok := a.ABI.Methods[method]
	return ok
}

// rawArtifact covers both layouts. Hardhat stores bytecode as a hex string,
// Foundry as {"object": "0x..."}.
type rawArtifact struct {
	ContractName string          `json:"contractName"`
	ABI          json.RawMessage `json:"abi"`
	Bytecode     json.RawMessage `json:"bytecode"`
}

type bytecodeObject struct {
	Object string `json:"object"`
}

// Parse decodes a single artifact document.
func Parse(name string, data []byte) (*Artifact, error) {
	var raw rawArtifact
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	if len(raw.ABI) == 0 {
		return nil, fmt.Errorf("parse %s: missing abi", name)
	}

	parsed, err := abi.JSON(bytes.NewReader(raw.ABI))
	if err != nil {
		return nil, fmt.Errorf("parse %s abi: %w", name, err)
	}

	code, err := decodeBytecode(raw.Bytecode)
	if err != nil {
		return nil, fmt.Errorf("parse %s bytecode: %w", name, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoCode, name)
	}

	return &Artifact{
		Name:     name,
		ABI:      parsed,
		Bytecode: code,
	}, nil
}

func decodeBytecode(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var hex string
	if raw[0] == '{' {
		var obj bytecodeObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		hex = obj.Object
	} else if err := json.Unmarshal(raw, &hex); err != nil {
		return nil, err
	}

	hex = strings.TrimSpace(hex)
	if hex == "" || hex == "0x" {
		return nil, nil
	}
	if !strings.HasPrefix(hex, "0x") {
		hex = "0x" + hex
	}
	if strings.Contains(hex, "__") {
		return nil, errors.New("bytecode has unlinked library placeholders")
	}
	return hexutil.Decode(hex)
}

// Source resolves artifacts by contract name.
type Source interface {
	Load(name string) (*Artifact, error)
}

// LoadAll loads every name from src. Names without an artifact are reported
// together in a single ErrNotFound error.
func LoadAll(src Source, names ...string) (map[string]*Artifact, error) {
	loaded := make(map[string]*Artifact, len(names))
	var missing []string
	for _, name := range names {
		if _, ok := loaded[name]; ok {
			continue
		}
		a, err := src.Load(name)
		switch {
		case errors.Is(err, ErrNotFound):
			missing = append(missing, name)
		case err != nil:
			return nil, err
		default:
			loaded[name] = a
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, strings.Join(missing, ", "))
	}
	return loaded, nil
}

// Store resolves artifacts by contract name under a root directory. Any
// file named <Name>.json at any depth matches, so both
// artifacts/contracts/X.sol/X.json and out/X.sol/X.json layouts work.
type Store struct {
	dir string

	mu     sync.Mutex
	index  map[string][]string
	loaded map[string]*Artifact
}

// NewStore creates a store rooted at dir. The directory is indexed lazily.
func NewStore(dir string) *Store {
	return &Store{
		dir:    dir,
		loaded: make(map[string]*Artifact),
	}
}

// Load returns the artifact for name.
func (s *Store) Load(name string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.loaded[name]; ok {
		return a, nil
	}
	if err := s.buildIndex(); err != nil {
		return nil, err
	}

	paths := s.index[name]
	switch len(paths) {
	case 0:
		return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, s.dir)
	case 1:
	default:
		return nil, fmt.Errorf("%w: %s matches %v", ErrAmbiguous, name, paths)
	}

	data, err := os.ReadFile(paths[0])
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", paths[0], err)
	}
	a, err := Parse(name, data)
	if err != nil {
		return nil, err
	}
	a.Path = paths[0]
	s.loaded[name] = a
	return a, nil
}

func (s *Store) buildIndex() error {
	if s.index != nil {
		return nil
	}

	index := make(map[string][]string)
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Hardhat build-info holds full compiler input, never a single contract.
			if d.Name() == "build-info" || d.Name() == "cache" {
				return filepath.SkipDir
			}
			return nil
		}
		base := d.Name()
		if filepath.Ext(base) != ".json" || strings.HasSuffix(base, ".dbg.json") {
			return nil
		}
		name := strings.TrimSuffix(base, ".json")
		index[name] = append(index[name], path)
		return nil
	})
	if err != nil {
		return fmt.Errorf("index artifacts in %s: %w", s.dir, err)
	}
	for _, paths := range index {
		sort.Strings(paths)
	}
	s.index = index
	return nil
}
