// Package pipeline holds the stage rules of the crop supply chain:
// which records each role sees and which transitions are allowed.
// Functions here are pure; persistence is the store's job.
package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/iurnickita/cropchain/internal/model"
)

var (
	ErrOutOfOrder = errors.New("transition out of pipeline order")
	ErrBuyer      = errors.New("buyer is required")
)

// Visible reports whether rec belongs to the role's view.
func Visible(role model.Role, rec model.CropRecord) bool {
	switch role {
	case model.RoleFarmer, model.RoleTransporter:
		return true
	case model.RoleRetailer:
		return rec.TransporterPicked
	case model.RoleConsumer:
		return rec.RetailerPicked
	default:
		return false
	}
}

// Filter keeps the records visible to role, preserving order.
func Filter(role model.Role, recs []model.CropRecord) []model.CropRecord {
	view := make([]model.CropRecord, 0, len(recs))
	for _, rec := range recs {
		if Visible(role, rec) {
			view = append(view, rec)
		}
	}
	return view
}

// ToggleTransporter flips TransporterPicked.
// Unpicking is refused once the retailer has picked the record.
func ToggleTransporter(rec model.CropRecord) (model.CropRecord, error) {
	if rec.TransporterPicked && rec.RetailerPicked {
		return rec, ErrOutOfOrder
	}
	rec.TransporterPicked = !rec.TransporterPicked
	return rec, nil
}

// ToggleRetailer flips RetailerPicked.
// Requires TransporterPicked; unpicking is refused once paid.
func ToggleRetailer(rec model.CropRecord) (model.CropRecord, error) {
	if !rec.TransporterPicked {
		return rec, ErrOutOfOrder
	}
	if rec.RetailerPicked && rec.Paid {
		return rec, ErrOutOfOrder
	}
	rec.RetailerPicked = !rec.RetailerPicked
	return rec, nil
}

// Pay marks rec as paid by buyer. changed is false when rec was already paid,
// in which case rec is returned untouched.
func Pay(rec model.CropRecord, buyer string, random io.Reader) (_ model.CropRecord, changed bool, err error) {
	if rec.Paid {
		return rec, false, nil
	}
	if !rec.RetailerPicked {
		return rec, false, ErrOutOfOrder
	}
	if buyer == "" {
		return rec, false, ErrBuyer
	}
	walletID, err := NewWalletID(random)
	if err != nil {
		return rec, false, err
	}
	rec.Paid = true
	rec.Buyer = buyer
	rec.WalletID = walletID
	rec.TxHash, err = Digest(rec)
	if err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

// NewWalletID returns "0x" followed by 16 hex characters.
// The identifier is decorative; it is not a ledger address.
func NewWalletID(random io.Reader) (string, error) {
	if random == nil {
		random = rand.Reader
	}
	b := make([]byte, 8)
	if _, err := io.ReadFull(random, b); err != nil {
		return "", err
	}
	return "0x" + hex.EncodeToString(b), nil
}

// поля, входящие в дайджест. Version и TxHash не входят
type digestContent struct {
	ID                string `json:"id"`
	CropName          string `json:"crop"`
	QuantityKg        string `json:"quantity"`
	PricePerKg        string `json:"price"`
	Quality           string `json:"quality"`
	ListedDate        string `json:"date"`
	ListedTime        string `json:"time"`
	TransporterPicked bool   `json:"transporterPicked"`
	RetailerPicked    bool   `json:"retailerPicked"`
	Paid              bool   `json:"paid"`
	Buyer             string `json:"buyer"`
	WalletID          string `json:"walletId"`
}

// Digest is the hex SHA3-256 of the record content.
func Digest(rec model.CropRecord) (string, error) {
	content, err := json.Marshal(digestContent{
		ID:                rec.ID,
		CropName:          rec.CropName,
		QuantityKg:        rec.QuantityKg,
		PricePerKg:        rec.PricePerKg,
		Quality:           rec.Quality,
		ListedDate:        rec.ListedDate,
		ListedTime:        rec.ListedTime,
		TransporterPicked: rec.TransporterPicked,
		RetailerPicked:    rec.RetailerPicked,
		Paid:              rec.Paid,
		Buyer:             rec.Buyer,
		WalletID:          rec.WalletID,
	})
	if err != nil {
		return "", err
	}
	sum := sha3.Sum256(content)
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// Consistent reports whether the flags respect the pipeline order
// and a paid record carries its buyer data.
func Consistent(rec model.CropRecord) bool {
	if rec.RetailerPicked && !rec.TransporterPicked {
		return false
	}
	if rec.Paid && (!rec.RetailerPicked || rec.Buyer == "" || rec.WalletID == "") {
		return false
	}
	return true
}
