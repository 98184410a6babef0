package chain

import (
	"fmt"

	xerrors "VaultChain/internal/errors"
)

// Builder flattens an ordered step list into one ordered Operation list.
type Builder struct {
	registry Registry
}

// NewBuilder constructs a builder over the given extension registry.
func NewBuilder(registry Registry) *Builder {
	return &Builder{registry: registry}
}

// Build resolves every step, hands each extension the structural reference to
// its predecessor and concatenates the produced Operations in step order. It
// also returns the distinct extensions the chain touches, in first-use order,
// for the executor's lifecycle phases.
func (b *Builder) Build(steps []Step) ([]Operation, []Extension, error) {
	if len(steps) == 0 {
		return nil, nil, ErrEmptyChain
	}
	if b.registry == nil {
		return nil, nil, xerrors.New(xerrors.CodeStateFailure, "builder has no registry")
	}

	var (
		ops     []Operation
		touched []Extension
		seen    = make(map[string]struct{})
		prev    Extension
	)
	for i, step := range steps {
		ext, ok := b.registry.Get(step.ExtensionID)
		if !ok {
			return nil, nil, xerrors.Wrap(CodeUnknownExtension, ErrUnknownExtension,
				fmt.Sprintf("step %d references %q", i, step.ExtensionID))
		}
		stepOps, err := ext.Build(prev, step.Data)
		if err != nil {
			return nil, nil, xerrors.Wrap(CodeBuildFailure, err,
				fmt.Sprintf("build step %d (%s)", i, step.ExtensionID))
		}
		ops = append(ops, stepOps...)
		if _, dup := seen[ext.ID()]; !dup {
			seen[ext.ID()] = struct{}{}
			touched = append(touched, ext)
		}
		prev = ext
	}
	return ops, touched, nil
}
