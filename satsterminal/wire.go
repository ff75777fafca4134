package satsterminal

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"

	"github.com/runekit/runeswap"
)

// flexFloat decodes JSON values that the API emits either as numbers or as
// numeric strings, depending on the endpoint revision.
type flexFloat float64

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexFloat) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}

		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.Wrapf(err, "numeric string %q", s)
		}
		*f = flexFloat(v)

		return nil
	}

	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = flexFloat(v)

	return nil
}

// flexString decodes JSON values that the API emits either as strings or as
// raw numbers, preserving the textual form.
type flexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *flexString) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)

		return nil
	}

	if string(data) == "null" {
		*f = ""
		return nil
	}

	*f = flexString(data)

	return nil
}

type wireOrder struct {
	ID              string    `json:"id"`
	Price           flexFloat `json:"price"`
	FormattedAmount flexFloat `json:"formattedAmount"`
	Side            string    `json:"side,omitempty"`
}

func ordersToWire(orders []runeswap.Order) []wireOrder {
	wire := make([]wireOrder, len(orders))
	for i, order := range orders {
		wire[i] = wireOrder{
			ID:              order.ID,
			Price:           flexFloat(order.Price),
			FormattedAmount: flexFloat(order.FormattedAmount),
			Side:            order.Side,
		}
	}

	return wire
}

type quoteRequest struct {
	BTCAmount  string `json:"btcAmount"`
	RuneAmount string `json:"runeAmount,omitempty"`
	RuneName   string `json:"runeName"`
	Address    string `json:"address"`
	Sell       bool   `json:"sell"`
}

type quoteResponse struct {
	SelectedOrders       []wireOrder `json:"selectedOrders"`
	TotalFormattedAmount flexString  `json:"totalFormattedAmount"`
	TotalPrice           flexString  `json:"totalPrice"`
}

type psbtRequest struct {
	Orders           []wireOrder `json:"orders"`
	Address          string      `json:"address"`
	PublicKey        string      `json:"publicKey"`
	PaymentAddress   string      `json:"paymentAddress"`
	PaymentPublicKey string      `json:"paymentPublicKey"`
	RuneName         string      `json:"runeName"`
	Sell             bool        `json:"sell"`
	FeeRate          uint64      `json:"feeRate"`
}

type psbtResponse struct {
	PSBTBase64   string `json:"psbtBase64"`
	PSBT         string `json:"psbt"`
	SwapID       string `json:"swapId"`
	RBFProtected *struct {
		Base64 string `json:"base64"`
	} `json:"rbfProtected"`
}

type confirmRequest struct {
	Orders              []wireOrder `json:"orders"`
	Address             string      `json:"address"`
	PublicKey           string      `json:"publicKey"`
	PaymentAddress      string      `json:"paymentAddress"`
	PaymentPublicKey    string      `json:"paymentPublicKey"`
	SignedPSBTBase64    string      `json:"signedPsbtBase64"`
	SwapID              string      `json:"swapId"`
	RuneName            string      `json:"runeName"`
	Sell                bool        `json:"sell"`
	SignedRBFPSBTBase64 string      `json:"signedRbfPsbtBase64,omitempty"`
	RBFProtection       bool        `json:"rbfProtection"`
}

type confirmResponse struct {
	TxID          string `json:"txid"`
	RBFProtection *struct {
		FundsPreparationTxID string `json:"fundsPreparationTxId"`
	} `json:"rbfProtection"`
}
