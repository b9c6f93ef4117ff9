package stability

import (
	fpmath "TroveLedger/internal/math"
	"sort"

	"github.com/google/uuid"
)

// SlotValues is one (epoch, scale) entry of S and G.
type SlotValues struct {
	Epoch uint64         `json:"epoch"`
	Scale uint64         `json:"scale"`
	S     fpmath.Decimal `json:"s"`
	G     fpmath.Decimal `json:"g"`
}

// PoolState is the serializable form of the pool.
type PoolState struct {
	TotalDeposits       fpmath.Decimal         `json:"total_deposits"`
	Collateral          fpmath.Decimal         `json:"collateral"`
	P                   fpmath.Decimal         `json:"p"`
	CurrentScale        uint64                 `json:"current_scale"`
	CurrentEpoch        uint64                 `json:"current_epoch"`
	Slots               []SlotValues           `json:"slots"`
	LastCollateralError fpmath.Decimal         `json:"last_collateral_error"`
	LastDebtLossError   fpmath.Decimal         `json:"last_debt_loss_error"`
	LastRewardError     fpmath.Decimal         `json:"last_reward_error"`
	UnassignedReward    fpmath.Decimal         `json:"unassigned_reward"`
	Deposits            map[uuid.UUID]Deposit  `json:"deposits"`
	FrontEnds           map[uuid.UUID]FrontEnd `json:"front_ends"`
}

// State returns a deep copy of the pool.
func (p *Pool) State() PoolState {
	s := PoolState{
		TotalDeposits:       p.totalDeposits,
		Collateral:          p.collateral,
		P:                   p.p,
		CurrentScale:        p.currentScale,
		CurrentEpoch:        p.currentEpoch,
		LastCollateralError: p.lastCollateralError,
		LastDebtLossError:   p.lastDebtLossError,
		LastRewardError:     p.lastRewardError,
		UnassignedReward:    p.unassignedReward,
		Deposits:            make(map[uuid.UUID]Deposit, len(p.deposits)),
		FrontEnds:           make(map[uuid.UUID]FrontEnd, len(p.frontEnds)),
	}

	seen := make(map[slot]struct{}, len(p.sums)+len(p.gains))
	for k := range p.sums {
		seen[k] = struct{}{}
	}
	for k := range p.gains {
		seen[k] = struct{}{}
	}
	for k := range seen {
		s.Slots = append(s.Slots, SlotValues{Epoch: k.epoch, Scale: k.scale, S: p.sums[k], G: p.gains[k]})
	}
	sort.Slice(s.Slots, func(i, j int) bool {
		if s.Slots[i].Epoch != s.Slots[j].Epoch {
			return s.Slots[i].Epoch < s.Slots[j].Epoch
		}
		return s.Slots[i].Scale < s.Slots[j].Scale
	})

	for id, d := range p.deposits {
		s.Deposits[id] = *d
	}
	for id, fe := range p.frontEnds {
		s.FrontEnds[id] = *fe
	}
	return s
}

// Restore replaces the pool contents.
func (p *Pool) Restore(s PoolState) {
	p.totalDeposits = s.TotalDeposits
	p.collateral = s.Collateral
	p.p = s.P
	if p.p.IsZero() {
		p.p = fpmath.DecimalPrecision
	}
	p.currentScale = s.CurrentScale
	p.currentEpoch = s.CurrentEpoch
	p.lastCollateralError = s.LastCollateralError
	p.lastDebtLossError = s.LastDebtLossError
	p.lastRewardError = s.LastRewardError
	p.unassignedReward = s.UnassignedReward

	p.sums = make(map[slot]fpmath.Decimal, len(s.Slots))
	p.gains = make(map[slot]fpmath.Decimal, len(s.Slots))
	for _, sv := range s.Slots {
		k := slot{sv.Epoch, sv.Scale}
		p.sums[k] = sv.S
		p.gains[k] = sv.G
	}

	p.deposits = make(map[uuid.UUID]*Deposit, len(s.Deposits))
	for id, d := range s.Deposits {
		d := d
		p.deposits[id] = &d
	}
	p.frontEnds = make(map[uuid.UUID]*FrontEnd, len(s.FrontEnds))
	for id, fe := range s.FrontEnds {
		fe := fe
		p.frontEnds[id] = &fe
	}
}
