package chain

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	xerrors "VaultChain/internal/errors"
)

// Step pairs an installed extension with its opaque parameter blob. The
// engine never interprets Data; each extension parses its own schema.
type Step struct {
	ExtensionID string          `json:"extension_id"`
	Data        json.RawMessage `json:"data"`
}

// Operation is one atomic call descriptor produced by an extension build.
type Operation struct {
	Target  common.Address
	Value   *big.Int
	Payload []byte
}

// UseLastOutput is the sentinel amount meaning "resolve this magnitude from
// the previous step's realized output at execute time".
var UseLastOutput = new(big.Int).Set(abi.MaxUint256)

// IsDynamicAmount reports whether amount carries the sentinel.
func IsDynamicAmount(amount *big.Int) bool {
	return amount != nil && amount.Cmp(UseLastOutput) == 0
}

// Extension is the contract every pluggable unit implements. Build turns the
// step blob into ordered Operations; prev is the structural reference to the
// previous step's extension (nil for the first step) so a dynamic amount can
// be read back at execute time.
type Extension interface {
	ID() string
	Address() common.Address
	Build(prev Extension, data []byte) ([]Operation, error)
	InitializeContext() error
	FinalizeContext()
}

// OutputProducer is implemented by extensions whose realized output can feed
// a later step.
type OutputProducer interface {
	ProduceOutput() (*big.Int, error)
}

// Registry resolves extension ids during a build.
type Registry interface {
	Get(id string) (Extension, bool)
}

const (
	CodeEmptyChain       xerrors.Code = "CHAIN_EMPTY"
	CodeUnknownExtension xerrors.Code = "CHAIN_UNKNOWN_EXTENSION"
	CodeBuildFailure     xerrors.Code = "CHAIN_BUILD_FAILED"
	CodeRunFailure       xerrors.Code = "CHAIN_RUN_FAILED"
)

func init() {
	xerrors.Register(CodeEmptyChain, xerrors.Attributes{
		Message:  "chain must contain at least one step",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeUnknownExtension, xerrors.Attributes{
		Message:  "extension is not installed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeBuildFailure, xerrors.Attributes{
		Message:  "chain build failed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeRunFailure, xerrors.Attributes{
		Message:  "chain run aborted",
		Severity: xerrors.SeverityWarning,
	})
}

var (
	ErrEmptyChain       = xerrors.New(CodeEmptyChain, "")
	ErrUnknownExtension = xerrors.New(CodeUnknownExtension, "")
)
