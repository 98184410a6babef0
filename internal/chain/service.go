package chain

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"

	"VaultChain/internal/auth"
	xerrors "VaultChain/internal/errors"
	"VaultChain/internal/events"
	"VaultChain/internal/journal"
	"VaultChain/pkg/logger"
)

// Service is the chain submission facade: it gates callers on the execute
// capability, drives builder and executor as one unit, journals the run and
// publishes the outcome.
type Service struct {
	builder  *Builder
	executor *Executor
	checker  auth.Checker
	store    journal.Store
	producer events.Producer
	log      *slog.Logger
}

// NewService wires the submission facade.
func NewService(builder *Builder, executor *Executor, checker auth.Checker, store journal.Store, producer events.Producer) *Service {
	return &Service{
		builder:  builder,
		executor: executor,
		checker:  checker,
		store:    store,
		producer: producer,
		log:      logger.Named("chain"),
	}
}

// Submit runs one chain as an indivisible unit of work and returns the
// journal record, which carries one raw result per executed operation. Any
// failure is reported synchronously; nothing is retried internally.
func (s *Service) Submit(ctx context.Context, steps []Step) (*journal.Run, error) {
	if err := auth.Require(ctx, s.checker, auth.CapabilityExecute); err != nil {
		return nil, err
	}
	submitter, _ := auth.IdentityFromContext(ctx)

	encodedSteps, err := json.Marshal(steps)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode steps")
	}
	run := &journal.Run{
		ID:        uuid.NewString(),
		Submitter: submitter,
		Steps:     encodedSteps,
		CreatedAt: time.Now().Unix(),
	}

	results, runErr := s.run(ctx, steps)
	if runErr != nil {
		run.Status = journal.StatusFailed
		run.ErrorCode = string(xerrors.CodeOf(runErr))
		run.LastError = runErr.Error()
	} else {
		run.Status = journal.StatusSucceeded
		run.Results = make([]string, len(results))
		for i, result := range results {
			run.Results[i] = hexutil.Encode(result)
		}
	}

	s.record(ctx, run)
	s.publish(ctx, run)

	if runErr != nil {
		return nil, runErr
	}
	logger.Audit().Info("chain executed",
		slog.String("run_id", run.ID),
		slog.String("submitter", submitter),
		slog.Int("operations", len(run.Results)),
	)
	return run, nil
}

func (s *Service) run(ctx context.Context, steps []Step) ([][]byte, error) {
	ops, touched, err := s.builder.Build(steps)
	if err != nil {
		return nil, err
	}
	return s.executor.Execute(ctx, ops, touched)
}

// History lists journalled runs.
func (s *Service) History(ctx context.Context, opts ...journal.ListOption) ([]*journal.Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeStateFailure, "journal store not configured")
	}
	return s.store.List(ctx, journal.BuildListOptions(opts))
}

// Stats aggregates journalled run outcomes.
func (s *Service) Stats(ctx context.Context) (journal.Stats, error) {
	if s.store == nil {
		return journal.Stats{}, xerrors.New(xerrors.CodeStateFailure, "journal store not configured")
	}
	return s.store.Stats(ctx, journal.ListOptions{})
}

// Run returns a single journalled run by id.
func (s *Service) Run(ctx context.Context, id string) (*journal.Run, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeStateFailure, "journal store not configured")
	}
	return s.store.Get(ctx, id)
}

func (s *Service) record(ctx context.Context, run *journal.Run) {
	if s.store == nil {
		return
	}
	if err := s.store.Record(ctx, run); err != nil {
		s.log.Error("journal chain run", slog.Any("error", err), slog.String("run_id", run.ID))
	}
}

func (s *Service) publish(ctx context.Context, run *journal.Run) {
	if s.producer == nil {
		return
	}
	kind := events.KindChainExecuted
	payload := map[string]any{"status": string(run.Status), "submitter": run.Submitter}
	if run.Status == journal.StatusFailed {
		kind = events.KindChainAborted
		payload["error_code"] = run.ErrorCode
	}
	if err := s.producer.Publish(ctx, events.New(kind, run.ID, payload)); err != nil {
		s.log.Error("publish chain event", slog.Any("error", err), slog.String("run_id", run.ID))
	}
}
