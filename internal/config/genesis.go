package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Genesis is the initial token state of the ledger. It never contains the
// bridge state: initialize_contract creates that.
type Genesis struct {
	Mints         []GenesisMint         `yaml:"mints" json:"mints"`
	TokenAccounts []GenesisTokenAccount `yaml:"token_accounts" json:"token_accounts"`
}

// GenesisMint declares a mint. MintAuthority may be empty.
type GenesisMint struct {
	Address       string `yaml:"address" json:"address"`
	Decimals      uint8  `yaml:"decimals" json:"decimals"`
	MintAuthority string `yaml:"mint_authority" json:"mint_authority"`
}

// GenesisTokenAccount funds owner's associated account for mint, or the
// explicit Address when set.
type GenesisTokenAccount struct {
	Address string `yaml:"address" json:"address"`
	Owner   string `yaml:"owner" json:"owner"`
	Mint    string `yaml:"mint" json:"mint"`
	Amount  uint64 `yaml:"amount" json:"amount"`
}

var ErrEmptyGenesis = errors.New("genesis document is empty")

// ParseGenesis decodes a YAML or JSON genesis document. Unknown keys are
// rejected.
func ParseGenesis(data []byte) (*Genesis, error) {
	var g Genesis
	if len(data) == 0 {
		return &g, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&g); err != nil {
		if errors.Is(err, io.EOF) {
			return &g, nil
		}
		return nil, fmt.Errorf("parse genesis: %w", err)
	}
	for i, m := range g.Mints {
		if m.Address == "" {
			return nil, fmt.Errorf("genesis mint %d: address is required", i)
		}
	}
	for i, a := range g.TokenAccounts {
		if a.Mint == "" || a.Owner == "" {
			return nil, fmt.Errorf("genesis token account %d: mint and owner are required", i)
		}
	}
	return &g, nil
}

// LoadGenesis reads and parses the genesis file at path.
func LoadGenesis(path string) (*Genesis, error) {
	if path == "" {
		return nil, ErrEmptyGenesis
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	return ParseGenesis(data)
}
