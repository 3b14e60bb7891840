package solend

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/solend-liquidator/utils"
)

var (
	LendingMarketLayoutSize        = 290
	ReserveLayoutSize              = 619
	ObligationFixLayoutSize        = 204
	ObligationCollateralLayoutSize = 88
	ObligationLiquidityLayoutSize  = 112
	ObligationLayoutSize           = ObligationFixLayoutSize + ObligationCollateralLayoutSize + 9*ObligationLiquidityLayoutSize
	// LendingMarketOffset is where reserves and obligations store their lending market key.
	LendingMarketOffset = uint64(10)
)

const WadExponent = 18

type DecimalLayout struct {
	Data [16]byte
}

func (d *DecimalLayout) BigInt() *big.Int {
	dst := make([]byte, 16)
	utils.ReverseBytes(dst, d.Data[:])
	return new(big.Int).SetBytes(dst)
}

// Decimal is the fixed point wad as a decimal number.
func (d *DecimalLayout) Decimal() decimal.Decimal {
	return decimal.NewFromBigInt(d.BigInt(), -WadExponent)
}

func WadFromDecimal(value decimal.Decimal) DecimalLayout {
	raw := value.Shift(WadExponent).BigInt().Bytes()
	var layout DecimalLayout
	utils.ReverseBytes(layout.Data[:len(raw)], raw)
	return layout
}

type LendingMarketLayout struct {
	Version           uint8
	BumpSeed          uint8
	Owner             solana.PublicKey
	QuoteCurrency     solana.PublicKey
	TokenProgramId    solana.PublicKey
	OracleProgramId   solana.PublicKey
	SwitchBoardOracle solana.PublicKey
	_                 [128]byte
}

type KeyedLendingMarket struct {
	LendingMarketLayout
	Height uint64
	Key    solana.PublicKey
}

type LastUpdateLayout struct {
	Slot  uint64
	Stale bool
}

type ReserveLiquidityLayout struct {
	Mint                     solana.PublicKey
	MintDecimals             uint8
	Supply                   solana.PublicKey
	Oracle                   solana.PublicKey
	SwitchBoardOracle        solana.PublicKey
	AvailableAmount          uint64
	BorrowedAmountWads       DecimalLayout
	CumulativeBorrowRateWads DecimalLayout
	MarketPrice              DecimalLayout
}

type ReserveCollateralLayout struct {
	Mint            solana.PublicKey
	MintTotalSupply uint64
	Supply          solana.PublicKey
}

type ReserveFeesLayout struct {
	BorrowFeeWad      uint64
	FlashLoanFeeWad   uint64
	HostFeePercentage uint8
}

type ReserveConfigLayout struct {
	OptimalUtilizationRate uint8
	LoanToValueRatio       uint8
	LiquidationBonus       uint8
	LiquidationThreshold   uint8
	MinBorrowRate          uint8
	OptimalBorrowRate      uint8
	MaxBorrowRate          uint8
	ReserveFees            ReserveFeesLayout
	DepositLimit           uint64
	BorrowLimit            uint64
	FeeReceiver            solana.PublicKey
	ProtocolLiquidationFee uint8
	ProtocolTakeRate       uint8
}

type ReserveLayout struct {
	Version                     uint8
	LastUpdate                  LastUpdateLayout
	LendingMarket               solana.PublicKey
	ReserveLiquidity            ReserveLiquidityLayout
	ReserveCollateral           ReserveCollateralLayout
	ReserveConfig               ReserveConfigLayout
	AccumulatedProtocolFeesWads DecimalLayout
	_                           [56]byte
	AddedBorrowWeightBPS        uint64
	_                           [166]byte
}

type KeyedReserve struct {
	ReserveLayout
	Height uint64
	Key    solana.PublicKey
}

type ObligationCollateralLayout struct {
	DepositReserve  solana.PublicKey
	DepositedAmount uint64
	MarketValue     DecimalLayout
	_               [32]byte
}

type ObligationLiquidityLayout struct {
	BorrowReserve            solana.PublicKey
	CumulativeBorrowRateWads DecimalLayout
	BorrowedAmountWads       DecimalLayout
	MarketValue              DecimalLayout
	_                        [32]byte
}

type ObligationFixLayout struct {
	Version              uint8
	LastUpdate           LastUpdateLayout
	LendingMarket        solana.PublicKey
	Owner                solana.PublicKey
	DepositedValue       DecimalLayout
	BorrowedValue        DecimalLayout
	AllowedBorrowValue   DecimalLayout
	UnhealthyBorrowValue DecimalLayout
	_                    [64]byte
	DepositsLen          uint8
	BorrowsLen           uint8
}

type ObligationLayout struct {
	ObligationFixLayout
	ObligationCollateral []ObligationCollateralLayout
	ObligationLiquidity  []ObligationLiquidityLayout
}

type KeyedObligation struct {
	ObligationLayout
	Height uint64
	Key    solana.PublicKey
}

func (layout *LendingMarketLayout) unpack(data []byte) error {
	if len(data) != LendingMarketLayoutSize {
		return errors.Errorf("lending market: data length %d", len(data))
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, layout)
}

func (layout *ReserveLayout) unpack(data []byte) error {
	if len(data) != ReserveLayoutSize {
		return errors.Errorf("reserve: data length %d", len(data))
	}
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, layout)
}

func (layout *ObligationLayout) unpack(data []byte) error {
	if len(data) != ObligationLayoutSize {
		return errors.Errorf("obligation: data length %d", len(data))
	}
	index := 0
	buf := bytes.NewReader(data[index : index+ObligationFixLayoutSize])
	err := binary.Read(buf, binary.LittleEndian, &layout.ObligationFixLayout)
	if err != nil {
		return err
	}
	index += ObligationFixLayoutSize
	entries := int(layout.DepositsLen)*ObligationCollateralLayoutSize + int(layout.BorrowsLen)*ObligationLiquidityLayoutSize
	if index+entries > len(data) {
		return errors.Errorf("obligation: %d deposits and %d borrows overflow the account", layout.DepositsLen, layout.BorrowsLen)
	}
	layout.ObligationCollateral = make([]ObligationCollateralLayout, layout.DepositsLen)
	for i := 0; i < int(layout.DepositsLen); i++ {
		buf = bytes.NewReader(data[index : index+ObligationCollateralLayoutSize])
		err = binary.Read(buf, binary.LittleEndian, &layout.ObligationCollateral[i])
		if err != nil {
			return err
		}
		index += ObligationCollateralLayoutSize
	}
	layout.ObligationLiquidity = make([]ObligationLiquidityLayout, layout.BorrowsLen)
	for i := 0; i < int(layout.BorrowsLen); i++ {
		buf = bytes.NewReader(data[index : index+ObligationLiquidityLayoutSize])
		err = binary.Read(buf, binary.LittleEndian, &layout.ObligationLiquidity[i])
		if err != nil {
			return err
		}
		index += ObligationLiquidityLayoutSize
	}
	return nil
}

func DecodeLendingMarket(key solana.PublicKey, height uint64, data []byte) (*KeyedLendingMarket, error) {
	market := &KeyedLendingMarket{Key: key, Height: height}
	if err := market.unpack(data); err != nil {
		return nil, errors.Wrapf(err, "decode lending market %s", key)
	}
	return market, nil
}

func DecodeReserve(key solana.PublicKey, height uint64, data []byte) (*KeyedReserve, error) {
	reserve := &KeyedReserve{Key: key, Height: height}
	if err := reserve.unpack(data); err != nil {
		return nil, errors.Wrapf(err, "decode reserve %s", key)
	}
	if reserve.LendingMarket.IsZero() {
		return nil, errors.Errorf("invalid reserve %s", key)
	}
	return reserve, nil
}

func DecodeObligation(key solana.PublicKey, height uint64, data []byte) (*KeyedObligation, error) {
	obligation := &KeyedObligation{Key: key, Height: height}
	if err := obligation.unpack(data); err != nil {
		return nil, errors.Wrapf(err, "decode obligation %s", key)
	}
	if obligation.LendingMarket.IsZero() {
		return nil, errors.Errorf("invalid obligation %s", key)
	}
	return obligation, nil
}
