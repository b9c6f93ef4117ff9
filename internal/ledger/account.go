package ledger

import (
	"fmt"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota

	// System sub-types
	SubTypeActivePool
	SubTypeDefaultPool
	SubTypeStabilityPool
	SubTypeGasPool
	SubTypeCollSurplus
	SubTypeFeeStaking
	SubTypeCommunityIssuance

	// External sub-types
	SubTypeExternalIssuer
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	AssetCollateral AssetID = 1
	AssetDebt       AssetID = 2
	AssetReward     AssetID = 3
)

var (
	assetToID = map[string]AssetID{
		"COLL": AssetCollateral,
		"DEBT": AssetDebt,
		"RWD":  AssetReward,
	}
	idToAsset = map[AssetID]string{
		AssetCollateral: "COLL",
		AssetDebt:       "DEBT",
		AssetReward:     "RWD",
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, zero for system accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a wallet key for a user
func NewUserAccountKey(userID uuid.UUID, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  SubTypeWallet,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for a protocol pool
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for the mint/burn boundary
func NewExternalAccountKey(assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: SubTypeExternalIssuer,
		AssetID: assetID,
	}
}

// WithAsset returns the same account for another asset.
func (k AccountKey) WithAsset(assetID AssetID) AccountKey {
	k.AssetID = assetID
	return k
}

// IsExternal reports the issuer boundary, whose balance is never tracked.
func (k AccountKey) IsExternal() bool {
	return k.Scope == AccountScopeExternal
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeActivePool:
		return "active_pool"
	case SubTypeDefaultPool:
		return "default_pool"
	case SubTypeStabilityPool:
		return "stability_pool"
	case SubTypeGasPool:
		return "gas_pool"
	case SubTypeCollSurplus:
		return "coll_surplus"
	case SubTypeFeeStaking:
		return "fee_staking"
	case SubTypeCommunityIssuance:
		return "community_issuance"
	case SubTypeExternalIssuer:
		return "issuer"
	default:
		return "unknown"
	}
}
