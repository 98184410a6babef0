package vault

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"VaultChain/internal/auth"
	"VaultChain/internal/events"
	"VaultChain/internal/host"
	"VaultChain/pkg/logger"
)

// Service is the participant-facing facade over the vault ledger. Deposit
// and redemption calls act for the caller's own controller address; the
// privileged surface (settlement, pause, delta guard) is capability-gated.
type Service struct {
	vault    *Vault
	checker  auth.Checker
	producer events.Producer
	log      *slog.Logger
}

// NewService wires the vault facade.
func NewService(vault *Vault, checker auth.Checker, producer events.Producer) *Service {
	return &Service{
		vault:    vault,
		checker:  checker,
		producer: producer,
		log:      logger.Named("vault"),
	}
}

// Vault exposes the underlying ledger for read paths.
func (s *Service) Vault() *Vault { return s.vault }

// ControllerAddress derives the custody address for a caller identity.
func ControllerAddress(identity string) common.Address {
	return host.DeriveAddress("account/" + identity)
}

func (s *Service) controller(ctx context.Context) (string, common.Address, error) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return "", common.Address{}, auth.ErrMissingIdentity
	}
	return identity, ControllerAddress(identity), nil
}

// RequestDeposit escrows assets from the caller's controller address.
func (s *Service) RequestDeposit(ctx context.Context, assets *big.Int) error {
	identity, controller, err := s.controller(ctx)
	if err != nil {
		return err
	}
	if err := s.vault.RequestDeposit(controller, assets); err != nil {
		return err
	}
	s.publish(ctx, events.KindDepositRequested, map[string]any{
		"controller": identity,
		"assets":     assets.String(),
	})
	return nil
}

// Deposit claims a fulfilled deposit request and mints shares. A zero
// receiver mints to the caller's own controller address.
func (s *Service) Deposit(ctx context.Context, assets *big.Int, receiver common.Address) (*big.Int, error) {
	identity, controller, err := s.controller(ctx)
	if err != nil {
		return nil, err
	}
	if receiver == (common.Address{}) {
		receiver = controller
	}
	minted, err := s.vault.Deposit(controller, receiver, assets)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.KindDeposited, map[string]any{
		"controller": identity,
		"assets":     assets.String(),
		"shares":     minted.String(),
	})
	logger.Audit().Info("deposit claimed",
		slog.String("controller", identity),
		slog.String("assets", assets.String()),
		slog.String("shares", minted.String()),
	)
	return minted, nil
}

// Mint claims a fulfilled deposit request for an exact share amount.
func (s *Service) Mint(ctx context.Context, sharesOut *big.Int, receiver common.Address) (*big.Int, error) {
	identity, controller, err := s.controller(ctx)
	if err != nil {
		return nil, err
	}
	if receiver == (common.Address{}) {
		receiver = controller
	}
	assets, err := s.vault.Mint(controller, receiver, sharesOut)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.KindDeposited, map[string]any{
		"controller": identity,
		"assets":     assets.String(),
		"shares":     sharesOut.String(),
	})
	return assets, nil
}

// RequestRedeem escrows shares from the caller's controller address.
func (s *Service) RequestRedeem(ctx context.Context, sharesIn *big.Int) error {
	identity, controller, err := s.controller(ctx)
	if err != nil {
		return err
	}
	if err := s.vault.RequestRedeem(controller, sharesIn); err != nil {
		return err
	}
	s.publish(ctx, events.KindRedeemRequested, map[string]any{
		"controller": identity,
		"shares":     sharesIn.String(),
	})
	return nil
}

// Redeem claims fulfilled redeem shares and pays assets.
func (s *Service) Redeem(ctx context.Context, sharesIn *big.Int, receiver common.Address) (*big.Int, error) {
	identity, controller, err := s.controller(ctx)
	if err != nil {
		return nil, err
	}
	if receiver == (common.Address{}) {
		receiver = controller
	}
	assets, err := s.vault.Redeem(controller, receiver, sharesIn)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.KindRedeemed, map[string]any{
		"controller": identity,
		"shares":     sharesIn.String(),
		"assets":     assets.String(),
	})
	logger.Audit().Info("redemption claimed",
		slog.String("controller", identity),
		slog.String("shares", sharesIn.String()),
		slog.String("assets", assets.String()),
	)
	return assets, nil
}

// Withdraw claims fulfilled redeem shares for an exact asset amount.
func (s *Service) Withdraw(ctx context.Context, assets *big.Int, receiver common.Address) (*big.Int, error) {
	identity, controller, err := s.controller(ctx)
	if err != nil {
		return nil, err
	}
	if receiver == (common.Address{}) {
		receiver = controller
	}
	burned, err := s.vault.Withdraw(controller, receiver, assets)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.KindRedeemed, map[string]any{
		"controller": identity,
		"shares":     burned.String(),
		"assets":     assets.String(),
	})
	return burned, nil
}

// Settle sets the accounted total under the delta guard and commits the
// declared strategy breakdown. Requires the settle capability.
func (s *Service) Settle(ctx context.Context, newTotal *big.Int, ids []common.Hash, values []*big.Int) (common.Hash, error) {
	if err := auth.Require(ctx, s.checker, auth.CapabilitySettle); err != nil {
		return common.Hash{}, err
	}
	root, err := ComputeCommitment(ids, values)
	if err != nil {
		return common.Hash{}, err
	}
	if err := s.vault.Settle(newTotal, root); err != nil {
		return common.Hash{}, err
	}
	identity, _ := auth.IdentityFromContext(ctx)
	s.publish(ctx, events.KindSettled, map[string]any{
		"settler":     identity,
		"total":       newTotal.String(),
		"merkle_root": root.Hex(),
		"strategies":  len(ids),
	})
	logger.Audit().Info("settlement applied",
		slog.String("settler", identity),
		slog.String("total", newTotal.String()),
		slog.String("merkle_root", root.Hex()),
	)
	return root, nil
}

// SetMaxAllowedDelta updates the settlement guard. Requires administer.
func (s *Service) SetMaxAllowedDelta(ctx context.Context, bps uint64) error {
	if err := auth.Require(ctx, s.checker, auth.CapabilityAdminister); err != nil {
		return err
	}
	if err := s.vault.SetMaxAllowedDelta(bps); err != nil {
		return err
	}
	identity, _ := auth.IdentityFromContext(ctx)
	logger.Audit().Info("delta guard updated",
		slog.String("identity", identity),
		slog.Uint64("max_delta_bps", bps),
	)
	return nil
}

// Pause blocks deposits and redemptions. Requires the pause capability.
func (s *Service) Pause(ctx context.Context) error {
	if err := auth.Require(ctx, s.checker, auth.CapabilityPause); err != nil {
		return err
	}
	if err := s.vault.Pause(); err != nil {
		return err
	}
	identity, _ := auth.IdentityFromContext(ctx)
	s.publish(ctx, events.KindPaused, map[string]any{"identity": identity})
	logger.Audit().Warn("vault paused", slog.String("identity", identity))
	return nil
}

// Unpause lifts the pause. Requires the pause capability.
func (s *Service) Unpause(ctx context.Context) error {
	if err := auth.Require(ctx, s.checker, auth.CapabilityPause); err != nil {
		return err
	}
	if err := s.vault.Unpause(); err != nil {
		return err
	}
	identity, _ := auth.IdentityFromContext(ctx)
	s.publish(ctx, events.KindUnpaused, map[string]any{"identity": identity})
	logger.Audit().Info("vault unpaused", slog.String("identity", identity))
	return nil
}

func (s *Service) publish(ctx context.Context, kind events.Kind, payload map[string]any) {
	if s.producer == nil {
		return
	}
	if err := s.producer.Publish(ctx, events.New(kind, "", payload)); err != nil {
		s.log.Error("publish vault event", slog.Any("error", err), slog.String("kind", string(kind)))
	}
}
