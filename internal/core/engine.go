package core

import (
	"TroveLedger/internal/event"
	"TroveLedger/internal/ledger"
	fpmath "TroveLedger/internal/math"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/stability"
	"TroveLedger/internal/state"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DeterministicCore applies commands one at a time. Every accepted command
// produces exactly one envelope with the next sequence number and a chained
// state hash. Rejected commands leave no trace.
//
// The core never reads the wall clock for protocol logic: "now" is the
// command timestamp.
type DeterministicCore struct {
	mu sync.RWMutex

	params  state.Params
	oracle  PriceOracle
	logger  zerolog.Logger
	metrics *observability.Metrics

	ledger      *ledger.Ledger
	validator   *ledger.InvariantValidator
	collToken   *ledger.Token
	debtToken   DebtToken
	rewardToken RewardToken
	activePool  CollateralVault
	defaultPool CollateralVault

	positions *state.PositionRegistry
	sorted    *state.SortedPositions
	rewards   *state.RedistributionAccumulator
	surplus   *state.CollSurplusPool
	pool      *stability.Pool
	issuance  *stability.CommunityIssuance
	staking   *stability.FeeStaking

	baseRate         fpmath.Decimal
	lastFeeOperation time.Time

	sequence    int64
	hasher      *StateHasher
	idempotency *IdempotencyChecker

	// per-command scratch, reset by begin
	now     time.Time
	price   fpmath.Decimal
	events  []event.Event
	touched map[uuid.UUID]struct{}

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is everything one accepted command produced.
type CoreOutput struct {
	Envelope *event.EventEnvelope
	Batch    *ledger.Batch
	Events   []event.Event
	Result   any
}

// Config wires a core. Zero channels disable emission; a nil DBChecker
// disables the second dedup tier.
type Config struct {
	Params         state.Params
	Oracle         PriceOracle
	DeployedAt     time.Time
	StartSequence  int64
	LRUCapacity    int
	PersistChan    chan<- CoreOutput
	ProjectionChan chan<- CoreOutput
	DBChecker      DBIdempotencyChecker
	Metrics        *observability.Metrics
	Logger         *zerolog.Logger
}

func NewDeterministicCore(cfg Config) (*DeterministicCore, error) {
	if err := state.ValidateParams(cfg.Params); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if cfg.Oracle == nil {
		return nil, errors.New("price oracle is required")
	}
	capacity := cfg.LRUCapacity
	if capacity <= 0 {
		capacity = 1_000_000
	}
	logger := observability.NopLogger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	l := ledger.NewLedger()
	c := &DeterministicCore{
		params:           cfg.Params,
		oracle:           cfg.Oracle,
		logger:           logger,
		metrics:          cfg.Metrics,
		ledger:           l,
		validator:        ledger.NewInvariantValidator(l.Tracker()),
		collToken:        l.Token(ledger.AssetCollateral),
		debtToken:        l.Token(ledger.AssetDebt),
		rewardToken:      l.Token(ledger.AssetReward),
		activePool:       ledger.NewVault(l, ledger.SubTypeActivePool),
		defaultPool:      ledger.NewVault(l, ledger.SubTypeDefaultPool),
		positions:        state.NewPositionRegistry(),
		rewards:          state.NewRedistributionAccumulator(),
		surplus:          state.NewCollSurplusPool(),
		pool:             stability.NewPool(),
		issuance:         stability.NewCommunityIssuance(fpmath.NewIssuanceCurve(cfg.Params.RewardSupplyCap, cfg.Params.RewardIssuanceFactor), cfg.DeployedAt),
		staking:          stability.NewFeeStaking(),
		lastFeeOperation: cfg.DeployedAt,
		sequence:         cfg.StartSequence,
		hasher:           NewStateHasher(),
		idempotency:      NewIdempotencyChecker(capacity, cfg.DBChecker, cfg.Metrics),
		persistChan:      cfg.PersistChan,
		projectionChan:   cfg.ProjectionChan,
	}
	c.sorted = state.NewSortedPositions(cfg.Params.MaxSortedListSize, nicrSource{c})
	return c, nil
}

// nicrSource feeds the sorted list with live nominal ratios. It is only
// called with the core lock held.
type nicrSource struct{ c *DeterministicCore }

func (s nicrSource) NominalICR(id uuid.UUID) fpmath.Decimal { return s.c.nominalICR(id) }

// ProcessCommand is the main processing pipeline.
func (c *DeterministicCore) ProcessCommand(cmd event.Command) (*CoreOutput, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	eventType := cmd.EventType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: two-tier dedup
	if c.idempotency.IsDuplicate(eventType, idempotencyKey) {
		c.reject(eventType, ErrDuplicateCommand)
		return nil, fmt.Errorf("%s %s: %w", eventType, idempotencyKey, ErrDuplicateCommand)
	}

	// Step 2: dispatch. Handlers validate before they mutate, so an error
	// here means nothing changed.
	c.begin(cmd)
	result, err := c.dispatchCommand(cmd)
	if err != nil {
		c.ledger.End()
		c.reject(eventType, err)
		c.logger.Debug().Err(err).Str("command", eventType).Str("key", idempotencyKey).Msg("command rejected")
		return nil, err
	}
	batch := c.ledger.End()

	// Step 3: batch balance and post-checks
	if batch != nil {
		if err := c.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}
	}
	if err := c.postCheckInvariants(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 4: envelope with chained state hash
	payload, err := json.Marshal(cmd)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode command: %v", err))
	}
	encodedEvents, err := event.EncodeEvents(c.events)
	if err != nil {
		panic(fmt.Sprintf("FATAL: encode events: %v", err))
	}
	prevHash := c.hasher.GetPrevHash()
	stateHash := c.hasher.ComputeHash(c.sequence, c.computeStateDigest(batch))

	output := &CoreOutput{
		Envelope: &event.EventEnvelope{
			Sequence:       c.sequence,
			IdempotencyKey: idempotencyKey,
			EventType:      cmd.EventType(),
			Timestamp:      c.now,
			Payload:        payload,
			Events:         encodedEvents,
			StateHash:      stateHash,
			PrevHash:       prevHash,
		},
		Batch:  batch,
		Events: c.events,
		Result: result,
	}
	c.sequence++

	// Step 5: emit. Persistence is a blocking send for backpressure;
	// projections drop on a full channel and rebuild from the event log.
	if c.persistChan != nil {
		c.persistChan <- *output
	}
	if c.projectionChan != nil {
		select {
		case c.projectionChan <- *output:
		default:
			if c.metrics != nil {
				c.metrics.PublishDrops.Inc()
			}
		}
	}

	c.idempotency.MarkProcessed(eventType, idempotencyKey)
	c.recordApplied(eventType, start, batch)
	return output, nil
}

func (c *DeterministicCore) begin(cmd event.Command) {
	c.now = cmd.Time()
	c.price = c.oracle.Price()
	c.events = nil
	c.touched = make(map[uuid.UUID]struct{})
	c.ledger.Begin(cmd.IdempotencyKey(), c.sequence, c.now.UnixMicro())
}

func (c *DeterministicCore) dispatchCommand(cmd event.Command) (any, error) {
	switch cmd := cmd.(type) {
	case *event.PriceUpdate:
		return c.handlePriceUpdate(cmd)
	case *event.FundCollateral:
		return c.handleFundCollateral(cmd)
	case *event.TransferDebt:
		return c.handleTransferDebt(cmd)
	case *event.OpenPosition:
		return c.handleOpenPosition(cmd)
	case *event.AdjustPosition:
		return c.handleAdjustPosition(cmd)
	case *event.ClosePosition:
		return c.handleClosePosition(cmd)
	case *event.ClaimCollateralSurplus:
		return c.handleClaimCollateralSurplus(cmd)
	case *event.RegisterFrontEnd:
		return c.handleRegisterFrontEnd(cmd)
	case *event.ProvideToSP:
		return c.handleProvideToSP(cmd)
	case *event.WithdrawFromSP:
		return c.handleWithdrawFromSP(cmd)
	case *event.WithdrawCollateralGainToPosition:
		return c.handleWithdrawCollateralGainToPosition(cmd)
	case *event.Liquidate:
		return c.handleLiquidate(cmd)
	case *event.LiquidatePositions:
		return c.handleLiquidatePositions(cmd)
	case *event.BatchLiquidate:
		return c.handleBatchLiquidate(cmd)
	case *event.Redeem:
		return c.handleRedeem(cmd)
	case *event.StakeRewards:
		return c.handleStakeRewards(cmd)
	case *event.UnstakeRewards:
		return c.handleUnstakeRewards(cmd)
	default:
		return nil, fmt.Errorf("%T: %w", cmd, ErrUnknownCommand)
	}
}

// postCheckInvariants ties the accounting modules to the token ledger.
func (c *DeterministicCore) postCheckInvariants() error {
	systemDebt := c.activePool.Debt().Add(c.defaultPool.Debt())
	if supply := c.debtToken.TotalSupply(); !supply.Eq(systemDebt) {
		return fmt.Errorf("debt supply %s != system debt %s", supply, systemDebt)
	}
	if err := c.validator.ValidateAccountEquals(stabilityDebtKey, c.pool.TotalDeposits()); err != nil {
		return fmt.Errorf("stability pool deposits: %w", err)
	}
	if err := c.validator.ValidateAccountEquals(stabilityCollKey, c.pool.Collateral()); err != nil {
		return fmt.Errorf("stability pool collateral: %w", err)
	}
	if err := c.validator.ValidateAccountEquals(collSurplusKey, c.surplus.Total()); err != nil {
		return fmt.Errorf("collateral surplus: %w", err)
	}
	if err := c.validator.ValidateAccountEquals(stakingRewardKey, c.staking.TotalStaked()); err != nil {
		return fmt.Errorf("fee staking: %w", err)
	}
	if c.sequence > 0 && c.sequence%1000 == 0 {
		if err := c.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("at seq %d: %w", c.sequence, err)
		}
	}
	return nil
}

// computeStateDigest creates canonical bytes for the state hash: affected
// balances, touched positions and the global accumulators.
func (c *DeterministicCore) computeStateDigest(batch *ledger.Batch) []byte {
	affected := make(map[ledger.AccountKey]bool)
	if batch != nil {
		for _, j := range batch.Journals {
			affected[j.DebitAccount] = true
			affected[j.CreditAccount] = true
		}
	}
	accounts := make([]ledger.AccountKey, 0, len(affected))
	for key := range affected {
		accounts = append(accounts, key)
	}
	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64+len(c.touched)*200+512)
	for _, key := range accounts {
		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, path...)
		digest = appendDecimal(digest, c.ledger.BalanceOf(key))
	}

	ids := make([]uuid.UUID, 0, len(c.touched))
	for id := range c.touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		if pos := c.positions.Get(id); pos != nil {
			digest = append(digest, pos.CanonicalBytes()...)
		}
	}

	digest = appendDecimal(digest, c.activePool.Debt())
	digest = appendDecimal(digest, c.defaultPool.Debt())
	digest = appendDecimal(digest, c.rewards.LCollateral())
	digest = appendDecimal(digest, c.rewards.LDebt())
	digest = appendDecimal(digest, c.rewards.TotalStakes())
	digest = appendDecimal(digest, c.pool.TotalDeposits())
	digest = appendDecimal(digest, c.pool.P())
	digest = appendUint64LE(digest, c.pool.CurrentEpoch())
	digest = appendUint64LE(digest, c.pool.CurrentScale())
	digest = appendDecimal(digest, c.staking.FCollateral())
	digest = appendDecimal(digest, c.staking.FDebt())
	digest = appendDecimal(digest, c.staking.TotalStaked())
	digest = appendDecimal(digest, c.baseRate)
	digest = appendDecimal(digest, c.price)
	return digest
}

func appendDecimal(buf []byte, d fpmath.Decimal) []byte {
	b := d.Uint256().Bytes32()
	return append(buf, b[:]...)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

func (c *DeterministicCore) reject(eventType string, err error) {
	if c.metrics != nil {
		c.metrics.CommandsRejected.WithLabelValues(eventType, rejectReason(err)).Inc()
	}
}

func (c *DeterministicCore) recordApplied(eventType string, start time.Time, batch *ledger.Batch) {
	if c.metrics == nil {
		return
	}
	c.metrics.CommandsApplied.WithLabelValues(eventType).Inc()
	c.metrics.CommandDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	c.metrics.Sequence.Set(float64(c.sequence))
	if batch != nil {
		for _, j := range batch.Journals {
			c.metrics.Journals.WithLabelValues(j.JournalType.String()).Inc()
		}
	}

	coll, debt := c.systemCollateral(), c.systemDebt()
	c.metrics.SystemColl.Set(coll.Float64())
	c.metrics.SystemDebt.Set(debt.Float64())
	c.metrics.ActivePositions.Set(float64(c.positions.Count()))
	c.metrics.TotalCollateralRat.Set(fpmath.Min(c.tcr(), fpmath.FromUnits(1_000_000)).Float64())
	if c.isRecoveryMode() {
		c.metrics.RecoveryMode.Set(1)
	} else {
		c.metrics.RecoveryMode.Set(0)
	}
	c.metrics.BaseRate.Set(c.baseRate.Float64())
	c.metrics.SPDeposits.Set(c.pool.TotalDeposits().Float64())
	c.metrics.SPCollateral.Set(c.pool.Collateral().Float64())
	c.metrics.SPProduct.Set(c.pool.P().Float64())
	c.metrics.SPEpoch.Set(float64(c.pool.CurrentEpoch()))
	c.metrics.SPScale.Set(float64(c.pool.CurrentScale()))
}

// === Shared helpers (lock held) ===

func (c *DeterministicCore) emit(evt event.Event) {
	c.events = append(c.events, evt)
}

func (c *DeterministicCore) touch(id uuid.UUID) {
	c.touched[id] = struct{}{}
}

// must panics on a ledger failure after validation passed: at that point the
// in-memory state is already partially updated and cannot be trusted.
func must(err error) {
	if err != nil {
		panic(fmt.Sprintf("FATAL: ledger update after validation: %v", err))
	}
}

func (c *DeterministicCore) systemCollateral() fpmath.Decimal {
	return c.activePool.Collateral().Add(c.defaultPool.Collateral())
}

func (c *DeterministicCore) systemDebt() fpmath.Decimal {
	return c.activePool.Debt().Add(c.defaultPool.Debt())
}

func (c *DeterministicCore) tcr() fpmath.Decimal {
	return fpmath.ComputeCR(c.systemCollateral(), c.systemDebt(), c.price)
}

func (c *DeterministicCore) isRecoveryMode() bool {
	return c.tcr().Lt(c.params.CCR)
}

// newTCR is the TCR after the given collateral and debt changes.
func (c *DeterministicCore) newTCR(collChange fpmath.Decimal, collIncrease bool, debtChange fpmath.Decimal, debtIncrease bool) fpmath.Decimal {
	coll, debt := c.systemCollateral(), c.systemDebt()
	if collIncrease {
		coll = coll.Add(collChange)
	} else {
		coll = coll.Sub(collChange)
	}
	if debtIncrease {
		debt = debt.Add(debtChange)
	} else {
		debt = debt.Sub(debtChange)
	}
	return fpmath.ComputeCR(coll, debt, c.price)
}

func (c *DeterministicCore) nominalICR(id uuid.UUID) fpmath.Decimal {
	pos := c.positions.Get(id)
	if pos == nil || !pos.IsActive() {
		return fpmath.Zero()
	}
	debt, coll, _, _ := c.rewards.EntireDebtAndColl(pos)
	return fpmath.ComputeNominalCR(coll, debt)
}

func (c *DeterministicCore) currentICR(pos *state.Position, price fpmath.Decimal) fpmath.Decimal {
	debt, coll, _, _ := c.rewards.EntireDebtAndColl(pos)
	return fpmath.ComputeCR(coll, debt, price)
}

// applyPending folds redistribution rewards into pos and moves the matching
// tokens and debt from the default pool to the active pool.
func (c *DeterministicCore) applyPending(pos *state.Position) {
	pendingColl, pendingDebt := c.rewards.ApplyPending(pos)
	if pendingColl.IsZero() && pendingDebt.IsZero() {
		return
	}
	c.touch(pos.ID)
	if !pendingColl.IsZero() {
		must(c.defaultPool.SendCollateral(c.activePool.Account(), pendingColl))
	}
	if !pendingDebt.IsZero() {
		c.defaultPool.DecreaseDebt(pendingDebt)
		c.activePool.IncreaseDebt(pendingDebt)
	}
}

func (c *DeterministicCore) emitPositionUpdated(pos *state.Position, operation string) {
	c.touch(pos.ID)
	c.emit(&event.PositionUpdated{
		Position:   pos.ID,
		Debt:       pos.Debt,
		Collateral: pos.Collateral,
		Stake:      pos.Stake,
		Operation:  operation,
	})
}

func wallet(owner uuid.UUID, asset ledger.AssetID) ledger.AccountKey {
	return ledger.NewUserAccountKey(owner, asset)
}

func (c *DeterministicCore) requireBalance(key ledger.AccountKey, amount fpmath.Decimal) error {
	if have := c.ledger.BalanceOf(key); have.Lt(amount) {
		return fmt.Errorf("%s has %s, needs %s: %w", key.AccountPath(), have, amount, ErrInsufficientBalance)
	}
	return nil
}
