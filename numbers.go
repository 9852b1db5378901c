package leadpilot

import (
	"context"
	"errors"
	"strings"
)

// ErrMissingPhoneNumber is returned before any request when a number
// operation has no phone number.
var ErrMissingPhoneNumber = errors.New("phone number is required")

// NumbersClient manages the account's purchased phone numbers.
type NumbersClient struct{ c *Client }

func (n *NumbersClient) List(ctx context.Context) ([]PhoneNumber, error) {
	data, err := n.c.doRequest(ctx, "GET", "/api/mobile/numbers", nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeList[PhoneNumber](data, "numbers")
}

// Available searches purchasable numbers, optionally within an area code.
func (n *NumbersClient) Available(ctx context.Context, areaCode string) ([]AvailableNumber, error) {
	var query map[string]string
	if areaCode = strings.TrimSpace(areaCode); areaCode != "" {
		query = map[string]string{"areaCode": areaCode}
	}
	data, err := n.c.doRequest(ctx, "GET", "/api/mobile/numbers/available", nil, query)
	if err != nil {
		return nil, err
	}
	return decodeList[AvailableNumber](data, "numbers", "available")
}

func (n *NumbersClient) Buy(ctx context.Context, phoneNumber string) (*PhoneNumber, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return nil, ErrMissingPhoneNumber
	}
	data, err := n.c.doRequest(ctx, "POST", "/api/mobile/numbers/buy", map[string]string{"phoneNumber": phoneNumber}, nil)
	if err != nil {
		return nil, err
	}
	num, err := decodeObject[PhoneNumber](data, "number", "data")
	if err != nil {
		return nil, err
	}
	if num.PhoneNumber == "" {
		num.PhoneNumber = phoneNumber
	}
	return num, nil
}

func (n *NumbersClient) Release(ctx context.Context, phoneNumber string) error {
	phoneNumber = strings.TrimSpace(phoneNumber)
	if phoneNumber == "" {
		return ErrMissingPhoneNumber
	}
	_, err := n.c.doRequest(ctx, "POST", "/api/mobile/numbers/release", map[string]string{"phoneNumber": phoneNumber}, nil)
	return err
}
