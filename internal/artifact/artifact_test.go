package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tokenABI = `[
	{"type":"constructor","inputs":[{"name":"owner","type":"address"}],"stateMutability":"nonpayable"},
	{"type":"function","name":"FACTORY_ROLE","inputs":[],"outputs":[{"name":"","type":"bytes32"}],"stateMutability":"view"}
]`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestParse_Formats(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"hardhat", `{"contractName":"Token","abi":` + tokenABI + `,"bytecode":"0x6080604052"}`},
		{"foundry", `{"abi":` + tokenABI + `,"bytecode":{"object":"0x6080604052","linkReferences":{}}}`},
		{"unprefixed", `{"abi":` + tokenABI + `,"bytecode":{"object":"6080604052"}}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a, err := Parse("Token", []byte(tc.doc))
			require.NoError(t, err)
			assert.Equal(t, "Token", a.Name)
			assert.Equal(t, []byte{0x60, 0x80, 0x60, 0x40, 0x52}, a.Bytecode)
			assert.True(t, a.HasMethod("FACTORY_ROLE"))
			assert.False(t, a.HasMethod("getFactoryRole"))
		})
	}
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse("I", []byte(`{"abi":[],"bytecode":"0x"}`))
	assert.ErrorIs(t, err, ErrNoCode)

	_, err = Parse("L", []byte(`{"abi":[],"bytecode":"0x60__$abc$__60"}`))
	assert.Error(t, err)

	_, err = Parse("X", []byte(`{"bytecode":"0x60"}`))
	assert.Error(t, err)

	_, err = Parse("X", []byte(`not json`))
	assert.Error(t, err)
}

func TestArtifact_PackConstructor(t *testing.T) {
	a, err := Parse("Token", []byte(`{"abi":`+tokenABI+`,"bytecode":"0x60"}`))
	require.NoError(t, err)

	owner := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	data, err := a.Pack("", owner)
	require.NoError(t, err)
	assert.Len(t, data, 32)
	assert.Equal(t, owner.Bytes(), data[12:])

	_, err = a.Pack("", "not-an-address")
	assert.Error(t, err)
}

func TestStore_Load(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "contracts", "Token.sol", "Token.json"),
		`{"abi":`+tokenABI+`,"bytecode":"0x6080"}`)
	writeFile(t, filepath.Join(dir, "contracts", "Token.sol", "Token.dbg.json"), `{}`)
	writeFile(t, filepath.Join(dir, "build-info", "abc.json"), `{}`)
	writeFile(t, filepath.Join(dir, "@openzeppelin", "ERC1967Proxy.sol", "ERC1967Proxy.json"),
		`{"abi":[],"bytecode":{"object":"0x6080"}}`)

	s := NewStore(dir)
	a, err := s.Load("Token")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "contracts", "Token.sol", "Token.json"), a.Path)

	again, err := s.Load("Token")
	require.NoError(t, err)
	assert.Same(t, a, again)

	_, err = s.Load("ERC1967Proxy")
	require.NoError(t, err)

	_, err = s.Load("Missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoadAll(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "Token.sol", "Token.json"), `{"abi":`+tokenABI+`,"bytecode":"0x6080"}`)
	writeFile(t, filepath.Join(dir, "ERC1967Proxy.sol", "ERC1967Proxy.json"), `{"abi":[],"bytecode":"0x6080"}`)
	writeFile(t, filepath.Join(dir, "Broken.sol", "Broken.json"), `{"abi":[],"bytecode":"0x"}`)
	s := NewStore(dir)

	loaded, err := LoadAll(s, "Token", "ERC1967Proxy", "Token")
	require.NoError(t, err)
	assert.Len(t, loaded, 2)
	assert.True(t, loaded["Token"].HasMethod("FACTORY_ROLE"))

	_, err = LoadAll(s, "Token", "Missing", "ERC1967Proxy", "UpgradeableBeacon")
	require.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "Missing, UpgradeableBeacon")

	_, err = LoadAll(s, "Token", "Broken")
	assert.ErrorIs(t, err, ErrNoCode)
}

func TestStore_Ambiguous(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a", "Token.json"), `{"abi":[],"bytecode":"0x60"}`)
	writeFile(t, filepath.Join(dir, "b", "Token.json"), `{"abi":[],"bytecode":"0x60"}`)

	_, err := NewStore(dir).Load("Token")
	assert.ErrorIs(t, err, ErrAmbiguous)
}

func TestStore_MissingDir(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "nope")).Load("Token")
	assert.Error(t, err)
}
