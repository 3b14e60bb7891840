package pyth

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var (
	Magic     = uint32(0xa1b2c3d4)
	PriceType = 3
)

var (
	BaseLayoutSize           = 16
	PriceFixLayoutSize       = 240
	PriceInfoLayoutSize      = 32
	PriceComponentLayoutSize = 96
)

const StatusTrading = 1

type BaseLayout struct {
	Magic   uint32
	Version uint32
	Type    uint32
	Size    uint32
}

type PriceInfoLayout struct {
	Raw             int64
	Price           float64
	Confidence      float64
	Status          uint32
	CorporateAction uint32
	PublishSlot     uint64
}

func (price *PriceInfoLayout) unpack(data []byte, exp int32) error {
	if len(data) < PriceInfoLayoutSize {
		return errors.Errorf("price info: data length %d", len(data))
	}
	y := math.Pow(10, float64(exp))
	price.Raw = int64(binary.LittleEndian.Uint64(data[0:8]))
	price.Price = float64(price.Raw) * y
	price.Confidence = float64(binary.LittleEndian.Uint64(data[8:16])) * y
	price.Status = binary.LittleEndian.Uint32(data[16:20])
	price.CorporateAction = binary.LittleEndian.Uint32(data[20:24])
	price.PublishSlot = binary.LittleEndian.Uint64(data[24:32])
	return nil
}

type PriceComponent struct {
	Aggregate PriceInfoLayout
	Latest    PriceInfoLayout
}

type EmaLayout struct {
	Value       float64
	Numerator   int64
	Denominator int64
}

func (ema *EmaLayout) unpack(data []byte, exp int32) {
	ema.Value = Drv(int64(binary.LittleEndian.Uint64(data[0:8])), exp)
	ema.Numerator = int64(binary.LittleEndian.Uint64(data[8:16]))
	ema.Denominator = int64(binary.LittleEndian.Uint64(data[16:24]))
}

func Drv(drvComponent int64, exp int32) float64 {
	y := math.Pow(10, float64(exp))
	return float64(drvComponent) * y
}

type PriceLayout struct {
	BaseLayout
	PriceType           uint32
	Exponent            int32
	NumComponentPrices  uint32
	NumQuoters          uint32
	LastSlot            uint64
	ValidSlot           uint64
	Twap                EmaLayout
	Twac                EmaLayout
	Drv1                float64
	MinPublishers       uint8
	ProductAccountKey   solana.PublicKey
	NextPriceAccountKey solana.PublicKey
	PreviousSlot        uint64
	PreviousPrice       float64
	PreviousConfidence  float64
	Aggregate           PriceInfoLayout
	PriceComponents     map[solana.PublicKey]PriceComponent
}

// Value is the aggregate price as an exact decimal.
func (p *PriceLayout) Value() decimal.Decimal {
	return decimal.New(p.Aggregate.Raw, p.Exponent)
}

func (p *PriceLayout) Trading() bool {
	return p.Aggregate.Status == StatusTrading
}

type KeyedPrice struct {
	PriceLayout
	Key    solana.PublicKey
	Height uint64
}

func (p *PriceLayout) unpack(data []byte) error {
	if len(data) < PriceFixLayoutSize {
		return errors.Errorf("price account: data length %d", len(data))
	}
	index := 0
	buf := bytes.NewReader(data[index : index+BaseLayoutSize])
	if err := binary.Read(buf, binary.LittleEndian, &p.BaseLayout); err != nil {
		return err
	}
	if p.Magic != Magic {
		return errors.Errorf("price account: bad magic %x", p.Magic)
	}
	if p.Type != uint32(PriceType) {
		return errors.Errorf("price account: type %d", p.Type)
	}
	index += BaseLayoutSize
	p.PriceType = binary.LittleEndian.Uint32(data[index : index+4])
	index += 4
	p.Exponent = int32(binary.LittleEndian.Uint32(data[index : index+4]))
	index += 4
	p.NumComponentPrices = binary.LittleEndian.Uint32(data[index : index+4])
	index += 4
	p.NumQuoters = binary.LittleEndian.Uint32(data[index : index+4])
	index += 4
	p.LastSlot = binary.LittleEndian.Uint64(data[index : index+8])
	index += 8
	p.ValidSlot = binary.LittleEndian.Uint64(data[index : index+8])
	index += 8
	p.Twap.unpack(data[index:index+24], p.Exponent)
	index += 24
	p.Twac.unpack(data[index:index+24], p.Exponent)
	index += 24
	p.Drv1 = Drv(int64(binary.LittleEndian.Uint64(data[index:index+8])), p.Exponent)
	index += 8
	p.MinPublishers = data[index]
	// skip the three reserved fields after min publishers
	index += 8
	p.ProductAccountKey = solana.PublicKeyFromBytes(data[index : index+32])
	index += 32
	p.NextPriceAccountKey = solana.PublicKeyFromBytes(data[index : index+32])
	index += 32
	p.PreviousSlot = binary.LittleEndian.Uint64(data[index : index+8])
	index += 8
	p.PreviousPrice = Drv(int64(binary.LittleEndian.Uint64(data[index:index+8])), p.Exponent)
	index += 8
	p.PreviousConfidence = Drv(int64(binary.LittleEndian.Uint64(data[index:index+8])), p.Exponent)
	index += 8
	// publish timestamp
	index += 8
	if err := p.Aggregate.unpack(data[index:index+PriceInfoLayoutSize], p.Exponent); err != nil {
		return err
	}
	index += PriceInfoLayoutSize

	p.PriceComponents = make(map[solana.PublicKey]PriceComponent)
	for index+PriceComponentLayoutSize <= len(data) {
		key := solana.PublicKeyFromBytes(data[index : index+32])
		if key.IsZero() {
			break
		}
		var component PriceComponent
		if err := component.Aggregate.unpack(data[index+32:index+64], p.Exponent); err != nil {
			return err
		}
		if err := component.Latest.unpack(data[index+64:index+96], p.Exponent); err != nil {
			return err
		}
		p.PriceComponents[key] = component
		index += PriceComponentLayoutSize
	}
	return nil
}

// DecodePrice decodes a price account.
func DecodePrice(key solana.PublicKey, height uint64, data []byte) (*KeyedPrice, error) {
	price := &KeyedPrice{Key: key, Height: height}
	if err := price.unpack(data); err != nil {
		return nil, errors.Wrapf(err, "decode price %s", key)
	}
	return price, nil
}
