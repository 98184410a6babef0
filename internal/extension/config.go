package extension

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "VaultChain/internal/errors"
)

// Extension kinds accepted in the definitions file.
const (
	KindVaultDeposit = "vault_deposit"
	KindVaultRedeem  = "vault_redeem"
	KindSwap         = "swap"
)

// Protocol kinds accepted in the definitions file.
const (
	KindExternalVault = "external_vault"
	KindSwapRouter    = "swap_router"
)

// Definitions models the structure of configs/extensions.yaml.
type Definitions struct {
	Extensions map[string]Definition         `yaml:"extensions"`
	Protocols  map[string]ProtocolDefinition `yaml:"protocols"`
}

// Definition describes a single installable extension.
type Definition struct {
	Kind    string   `yaml:"kind"`
	Owner   string   `yaml:"owner"`
	Routers []string `yaml:"routers"`
}

// ProtocolDefinition describes a simulated external venue the extensions can
// route into.
type ProtocolDefinition struct {
	Kind    string            `yaml:"kind"`
	RateBps map[string]uint64 `yaml:"rate_bps"`
}

// LoadDefinitions parses the YAML file describing extensions and venues. An
// empty path yields empty definitions.
func LoadDefinitions(path string) (Definitions, error) {
	if strings.TrimSpace(path) == "" {
		return Definitions{
			Extensions: map[string]Definition{},
			Protocols:  map[string]ProtocolDefinition{},
		}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Definitions{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "read extension definitions")
	}

	var defs Definitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return Definitions{}, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse extension definitions")
	}
	if defs.Extensions == nil {
		defs.Extensions = map[string]Definition{}
	}
	if defs.Protocols == nil {
		defs.Protocols = map[string]ProtocolDefinition{}
	}
	for id, def := range defs.Extensions {
		switch def.Kind {
		case KindVaultDeposit, KindVaultRedeem, KindSwap:
		default:
			return Definitions{}, xerrors.New(xerrors.CodeInvalidArgument,
				"extension "+id+" has unsupported kind "+def.Kind)
		}
	}
	for id, def := range defs.Protocols {
		switch def.Kind {
		case KindExternalVault, KindSwapRouter:
		default:
			return Definitions{}, xerrors.New(xerrors.CodeInvalidArgument,
				"protocol "+id+" has unsupported kind "+def.Kind)
		}
	}
	return defs, nil
}
