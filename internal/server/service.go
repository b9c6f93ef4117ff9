package server

import (
	"TroveLedger/internal/core"
	"TroveLedger/internal/ingestion"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/persistence"
	"TroveLedger/internal/projection"
	"TroveLedger/internal/query"
	"TroveLedger/internal/state"
	"context"
	"database/sql"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Engine is the read surface of the deterministic core used by the API.
type Engine interface {
	GetSequence() int64
	GetStateHash() [32]byte
	SystemTotals() core.SystemTotals
	Position(id uuid.UUID) (core.PositionView, error)
	SortedPositions() []uuid.UUID
	InsertHints(nicr fpmath.Decimal, prev, next uuid.UUID) (uuid.UUID, uuid.UUID)
	RedemptionHints(amount fpmath.Decimal, maxIterations int) (uuid.UUID, fpmath.Decimal, fpmath.Decimal)
	Deposit(depositor uuid.UUID) core.DepositView
	FrontEnd(id uuid.UUID) core.FrontEndView
	Stake(staker uuid.UUID) core.StakeView
	StabilityPool() core.PoolView
	Redistribution() state.RedistributionState
	BalanceOf(owner uuid.UUID, asset ledger.AssetID) fpmath.Decimal
	Supply(asset ledger.AssetID) fpmath.Decimal
	CollateralSurplus(owner uuid.UUID) fpmath.Decimal
	BorrowingRate() fpmath.Decimal
	RedemptionRate() fpmath.Decimal
}

// LedgerServer is the ledger RPC surface.
type LedgerServer interface {
	GetSystem(context.Context, *Empty) (*SystemResponse, error)
	GetPosition(context.Context, *PositionRequest) (*PositionResponse, error)
	ListSortedPositions(context.Context, *SortedPositionsRequest) (*SortedPositionsResponse, error)
	GetInsertHints(context.Context, *InsertHintsRequest) (*InsertHintsResponse, error)
	GetRedemptionHints(context.Context, *RedemptionHintsRequest) (*RedemptionHintsResponse, error)
	GetDeposit(context.Context, *DepositRequest) (*core.DepositView, error)
	GetFrontEnd(context.Context, *FrontEndRequest) (*core.FrontEndView, error)
	GetStake(context.Context, *StakeRequest) (*core.StakeView, error)
	GetStabilityPool(context.Context, *Empty) (*StabilityPoolResponse, error)
	GetBalance(context.Context, *BalanceRequest) (*BalanceResponse, error)
	GetCollateralSurplus(context.Context, *SurplusRequest) (*SurplusResponse, error)
	GetRates(context.Context, *Empty) (*RatesResponse, error)

	GetProjectedBalance(context.Context, *BalanceRequest) (*query.BalanceResponse, error)
	ListPositions(context.Context, *ListPositionsRequest) (*ListPositionsResponse, error)
	ListLiquidations(context.Context, *ListLiquidationsRequest) (*ListLiquidationsResponse, error)
	ListRedemptions(context.Context, *ListRedemptionsRequest) (*ListRedemptionsResponse, error)
	ListJournals(context.Context, *JournalsRequest) (*JournalsResponse, error)

	SubmitCommand(context.Context, *SubmitCommandRequest) (*SubmitCommandResponse, error)

	AdminTakeSnapshot(context.Context, *Empty) (*TakeSnapshotResponse, error)
	AdminRebuildProjections(context.Context, *Empty) (*RebuildProjectionsResponse, error)
	AdminGetEventLogInfo(context.Context, *Empty) (*EventLogInfoResponse, error)
	AdminVerifyIntegrity(context.Context, *Empty) (*VerifyIntegrityResponse, error)
}

// ServerDeps holds everything the ledger service calls into. Only Engine is
// required; a missing dependency turns its methods into Unavailable.
type ServerDeps struct {
	Engine        Engine
	QueryService  *query.QueryService
	IngestService *ingestion.CommandIngestService
	SnapshotMgr   *persistence.SnapshotManager
	DB            *sql.DB
	TakeSnapshot  func(ctx context.Context) (int64, error)
	AdminToken    string
}

type ledgerService struct {
	deps *ServerDeps
}

// NewLedgerService returns the LedgerServer backed by deps.
func NewLedgerService(deps *ServerDeps) LedgerServer {
	return &ledgerService{deps: deps}
}

var errUnavailable = status.Error(codes.Unavailable, "dependency not configured")

// ============================================================================
// Live engine views
// ============================================================================

func (s *ledgerService) GetSystem(ctx context.Context, _ *Empty) (*SystemResponse, error) {
	hash := s.deps.Engine.GetStateHash()
	return &SystemResponse{
		Totals:    s.deps.Engine.SystemTotals(),
		Sequence:  s.deps.Engine.GetSequence(),
		StateHash: hex.EncodeToString(hash[:]),
	}, nil
}

func (s *ledgerService) GetPosition(ctx context.Context, req *PositionRequest) (*PositionResponse, error) {
	if req.ID == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}
	view, err := s.deps.Engine.Position(req.ID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &PositionResponse{Position: view}, nil
}

func (s *ledgerService) ListSortedPositions(ctx context.Context, req *SortedPositionsRequest) (*SortedPositionsResponse, error) {
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}
	ids := s.deps.Engine.SortedPositions()
	total := len(ids)
	if req.Limit > 0 && req.Limit < total {
		ids = ids[:req.Limit]
	}
	return &SortedPositionsResponse{Positions: ids, Total: total}, nil
}

func (s *ledgerService) GetInsertHints(ctx context.Context, req *InsertHintsRequest) (*InsertHintsResponse, error) {
	if req.NICR.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "nicr must be positive")
	}
	prev, next := s.deps.Engine.InsertHints(req.NICR, req.Prev, req.Next)
	return &InsertHintsResponse{Prev: prev, Next: next}, nil
}

func (s *ledgerService) GetRedemptionHints(ctx context.Context, req *RedemptionHintsRequest) (*RedemptionHintsResponse, error) {
	if req.Amount.IsZero() {
		return nil, status.Error(codes.InvalidArgument, "amount must be positive")
	}
	if req.MaxIterations < 0 {
		return nil, status.Error(codes.InvalidArgument, "max_iterations must not be negative")
	}
	first, partial, truncated := s.deps.Engine.RedemptionHints(req.Amount, req.MaxIterations)
	return &RedemptionHintsResponse{First: first, PartialNICR: partial, Truncated: truncated}, nil
}

func (s *ledgerService) GetDeposit(ctx context.Context, req *DepositRequest) (*core.DepositView, error) {
	if req.Depositor == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "depositor is required")
	}
	view := s.deps.Engine.Deposit(req.Depositor)
	return &view, nil
}

func (s *ledgerService) GetStake(ctx context.Context, req *StakeRequest) (*core.StakeView, error) {
	if req.Staker == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "staker is required")
	}
	view := s.deps.Engine.Stake(req.Staker)
	return &view, nil
}

func (s *ledgerService) GetFrontEnd(ctx context.Context, req *FrontEndRequest) (*core.FrontEndView, error) {
	if req.FrontEnd == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "front_end is required")
	}
	view := s.deps.Engine.FrontEnd(req.FrontEnd)
	return &view, nil
}

func (s *ledgerService) GetStabilityPool(ctx context.Context, _ *Empty) (*StabilityPoolResponse, error) {
	return &StabilityPoolResponse{
		Pool:           s.deps.Engine.StabilityPool(),
		Redistribution: s.deps.Engine.Redistribution(),
	}, nil
}

func (s *ledgerService) GetBalance(ctx context.Context, req *BalanceRequest) (*BalanceResponse, error) {
	if req.Owner == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "owner is required")
	}
	asset, ok := ledger.GetAssetID(req.Asset)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown asset %q", req.Asset)
	}
	return &BalanceResponse{
		Owner:    req.Owner,
		Asset:    req.Asset,
		Balance:  s.deps.Engine.BalanceOf(req.Owner, asset),
		Supply:   s.deps.Engine.Supply(asset),
		Sequence: s.deps.Engine.GetSequence(),
	}, nil
}

func (s *ledgerService) GetCollateralSurplus(ctx context.Context, req *SurplusRequest) (*SurplusResponse, error) {
	if req.Owner == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "owner is required")
	}
	return &SurplusResponse{Owner: req.Owner, Amount: s.deps.Engine.CollateralSurplus(req.Owner)}, nil
}

func (s *ledgerService) GetRates(ctx context.Context, _ *Empty) (*RatesResponse, error) {
	return &RatesResponse{
		BaseRate:       s.deps.Engine.SystemTotals().BaseRate,
		BorrowingRate:  s.deps.Engine.BorrowingRate(),
		RedemptionRate: s.deps.Engine.RedemptionRate(),
	}, nil
}

// ============================================================================
// Projected history
// ============================================================================

func (s *ledgerService) GetProjectedBalance(ctx context.Context, req *BalanceRequest) (*query.BalanceResponse, error) {
	if s.deps.QueryService == nil {
		return nil, errUnavailable
	}
	if req.Owner == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "owner is required")
	}
	bal, err := s.deps.QueryService.GetBalance(ctx, req.Owner, req.Asset)
	if err != nil {
		return nil, toStatus(err)
	}
	return bal, nil
}

func (s *ledgerService) ListPositions(ctx context.Context, req *ListPositionsRequest) (*ListPositionsResponse, error) {
	if s.deps.QueryService == nil {
		return nil, errUnavailable
	}
	rows, err := s.deps.QueryService.ListPositions(ctx, req.Status, req.Page)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListPositionsResponse{Positions: rows}, nil
}

func (s *ledgerService) ListLiquidations(ctx context.Context, req *ListLiquidationsRequest) (*ListLiquidationsResponse, error) {
	if s.deps.QueryService == nil {
		return nil, errUnavailable
	}
	rows, err := s.deps.QueryService.ListLiquidations(ctx, req.Position, req.Page)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListLiquidationsResponse{Liquidations: rows}, nil
}

func (s *ledgerService) ListRedemptions(ctx context.Context, req *ListRedemptionsRequest) (*ListRedemptionsResponse, error) {
	if s.deps.QueryService == nil {
		return nil, errUnavailable
	}
	rows, err := s.deps.QueryService.ListRedemptions(ctx, req.Redeemer, req.Page)
	if err != nil {
		return nil, toStatus(err)
	}
	return &ListRedemptionsResponse{Redemptions: rows}, nil
}

func (s *ledgerService) ListJournals(ctx context.Context, req *JournalsRequest) (*JournalsResponse, error) {
	if s.deps.QueryService == nil {
		return nil, errUnavailable
	}
	if req.Owner == uuid.Nil {
		return nil, status.Error(codes.InvalidArgument, "owner is required")
	}
	rows, err := s.deps.QueryService.GetJournalHistory(ctx, req.Owner, req.Page)
	if err != nil {
		return nil, toStatus(err)
	}
	return &JournalsResponse{Journals: rows}, nil
}

// ============================================================================
// Commands
// ============================================================================

func (s *ledgerService) SubmitCommand(ctx context.Context, req *SubmitCommandRequest) (*SubmitCommandResponse, error) {
	if s.deps.IngestService == nil {
		return nil, errUnavailable
	}
	if req.CommandType == "" || len(req.Payload) == 0 {
		return nil, status.Error(codes.InvalidArgument, "command_type and payload are required")
	}
	cmd, err := s.deps.IngestService.Submit(ctx, req.CommandType, req.Payload)
	if err != nil {
		return nil, commandStatus(err)
	}
	return &SubmitCommandResponse{
		CommandType:    cmd.EventType().String(),
		IdempotencyKey: cmd.IdempotencyKey(),
	}, nil
}

// ============================================================================
// Admin
// ============================================================================

func (s *ledgerService) AdminTakeSnapshot(ctx context.Context, _ *Empty) (*TakeSnapshotResponse, error) {
	if s.deps.TakeSnapshot == nil {
		return nil, errUnavailable
	}
	seq, err := s.deps.TakeSnapshot(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "snapshot: %v", err)
	}
	return &TakeSnapshotResponse{Sequence: seq}, nil
}

func (s *ledgerService) AdminRebuildProjections(ctx context.Context, _ *Empty) (*RebuildProjectionsResponse, error) {
	if s.deps.DB == nil {
		return nil, errUnavailable
	}
	if err := projection.RebuildProjections(ctx, s.deps.DB); err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildProjectionsResponse{Rebuilt: true}, nil
}

func (s *ledgerService) AdminGetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfoResponse, error) {
	hash := s.deps.Engine.GetStateHash()
	resp := &EventLogInfoResponse{
		NextSequence: s.deps.Engine.GetSequence(),
		StateHash:    hex.EncodeToString(hash[:]),
	}
	if s.deps.SnapshotMgr == nil {
		return resp, nil
	}
	seq, ok, err := s.deps.SnapshotMgr.GetLatestSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
	}
	resp.LastPersistedSequence, resp.HasEvents = seq, ok
	return resp, nil
}

func (s *ledgerService) AdminVerifyIntegrity(ctx context.Context, _ *Empty) (*VerifyIntegrityResponse, error) {
	if s.deps.QueryService == nil {
		return nil, errUnavailable
	}
	report, err := s.deps.QueryService.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return &VerifyIntegrityResponse{Report: *report}, nil
}

// ============================================================================
// Errors
// ============================================================================

// toStatus maps domain errors to gRPC codes.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	case errors.Is(err, state.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, ingestion.ErrUnknownCommand),
		errors.Is(err, ingestion.ErrMissingField),
		errors.Is(err, ingestion.ErrInvalidEncoding),
		errors.Is(err, query.ErrUnknownAsset):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, core.ErrDuplicateCommand):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, ingestion.ErrIngestClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, sql.ErrConnDone):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// commandStatus is toStatus for SubmitCommand: a rejection the engine raised
// for a protocol rule is a failed precondition, not an internal error.
func commandStatus(err error) error {
	st := toStatus(err)
	if status.Code(st) == codes.Internal {
		return status.Error(codes.FailedPrecondition, err.Error())
	}
	return st
}
