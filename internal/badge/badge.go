// Package badge renders student badge QR codes. The QR payload is a small
// JSON document so campus scanners can read the registration number and
// identity without calling back into the API.
package badge

import (
	"encoding/json"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"github.com/campusreg/apiserver/types"
)

// PNG edge length in pixels.
const imageSize = 256

type payload struct {
	RegistrationNumber string `json:"registration_number"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	Email              string `json:"email"`
}

// Render encodes the account's badge payload as a PNG QR image.
func Render(account types.Account) ([]byte, error) {
	data, err := json.Marshal(payload{
		RegistrationNumber: account.RegistrationNumber,
		FirstName:          account.FirstName,
		LastName:           account.LastName,
		Email:              account.Email,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding badge payload: %w", err)
	}

	png, err := qrcode.Encode(string(data), qrcode.Medium, imageSize)
	if err != nil {
		return nil, fmt.Errorf("rendering badge qr code: %w", err)
	}
	return png, nil
}

// ObjectName is the object storage key for an account's cached badge.
func ObjectName(accountID string) string {
	return fmt.Sprintf("badges/%s.png", accountID)
}
