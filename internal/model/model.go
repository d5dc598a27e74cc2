package model

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/theplant/luhn"
)

// Роли участников цепочки

type Role string

const (
	RoleFarmer      Role = "farmer"
	RoleTransporter Role = "transporter"
	RoleRetailer    Role = "retailer"
	RoleConsumer    Role = "consumer"
)

var Roles = []Role{RoleFarmer, RoleTransporter, RoleRetailer, RoleConsumer}

func ParseRole(s string) (Role, bool) {
	for _, r := range Roles {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

// Стадии конвейера. Вычисляются по флагам записи

type Stage string

const (
	StageListed            Stage = "LISTED"
	StageTransporterPicked Stage = "TRANSPORTER_PICKED"
	StageRetailerPicked    Stage = "RETAILER_PICKED"
	StagePaid              Stage = "PAID"
)

// Партия урожая

type CropRecord struct {
	ID                string    `json:"id"`
	Seq               int       `json:"seq"`
	CropName          string    `json:"crop"`
	QuantityKg        string    `json:"quantity"`
	PricePerKg        string    `json:"price"`
	Quality           string    `json:"quality,omitempty"`
	ListedDate        string    `json:"date"`
	ListedTime        string    `json:"time"`
	ListedAt          time.Time `json:"listedAt"`
	TransporterPicked bool      `json:"transporterPicked"`
	RetailerPicked    bool      `json:"retailerPicked"`
	Paid              bool      `json:"paid"`
	Buyer             string    `json:"buyer,omitempty"`
	WalletID          string    `json:"walletId,omitempty"`
	TxHash            string    `json:"txHash,omitempty"`
	Version           int       `json:"version"`
}

const (
	CropQualityPremium  = "Premium"
	CropQualityStandard = "Standard"
	CropQualityOrganic  = "Organic"
)

// Stage returns the furthest stage reached according to the flags.
func (rec CropRecord) Stage() Stage {
	switch {
	case rec.Paid:
		return StagePaid
	case rec.RetailerPicked:
		return StageRetailerPicked
	case rec.TransporterPicked:
		return StageTransporterPicked
	default:
		return StageListed
	}
}

// LotNumber is Seq with a trailing Luhn check digit.
func (rec CropRecord) LotNumber() int {
	if rec.Seq <= 0 {
		return 0
	}
	return rec.Seq*10 + luhn.CalculateLuhn(rec.Seq)
}

// SeqFromLot strips the check digit. ok is false if the number fails the Luhn check.
func SeqFromLot(lot int) (seq int, ok bool) {
	if lot < 10 || !luhn.Valid(lot) {
		return 0, false
	}
	return lot / 10, true
}

// TotalPrice returns quantity*price. ok is false if either value is not a number.
func (rec CropRecord) TotalPrice() (decimal.Decimal, bool) {
	qty, err := decimal.NewFromString(rec.QuantityKg)
	if err != nil {
		return decimal.Zero, false
	}
	price, err := decimal.NewFromString(rec.PricePerKg)
	if err != nil {
		return decimal.Zero, false
	}
	return qty.Mul(price), true
}

// Формат даты и времени листинга, как в исходных дашбордах (en-US locale)
const (
	ListedDateLayout = "1/2/2006"
	ListedTimeLayout = "3:04:05 PM"
)
