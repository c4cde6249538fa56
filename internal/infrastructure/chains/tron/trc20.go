package tron

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fbsobreira/gotron-sdk/pkg/address"

	apperrors "github.com/baymax-09/roobet-casino-sub000/internal/domain/errors"
)

// TRC20 function selectors
const (
	selectorBalanceOf    = "70a08231"
	selectorAllowance    = "dd62ed3e"
	selectorTransfer     = "a9059cbb"
	selectorApprove      = "095ea7b3"
	selectorTransferFrom = "23b872dd"
)

// MaxAllowance is the approval granted to the treasury
var MaxAllowance = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ValidateAddress checks a base58check account address
func ValidateAddress(addr string) error {
	if len(addr) != 34 || addr[0] != 'T' {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidAddress, addr)
	}
	if _, err := address.Base58ToAddress(addr); err != nil {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidAddress, addr)
	}
	return nil
}

func addressParam(addr string) (string, error) {
	a, err := address.Base58ToAddress(addr)
	if err != nil {
		return "", fmt.Errorf("%w: %s", apperrors.ErrInvalidAddress, addr)
	}
	return hex.EncodeToString(common.LeftPadBytes(a.Bytes()[1:], 32)), nil
}

func uintParam(v *big.Int) string {
	return hex.EncodeToString(common.LeftPadBytes(v.Bytes(), 32))
}

// PackTransfer encodes transfer(to, amount) as hex calldata
func PackTransfer(to string, amount *big.Int) (string, error) {
	p, err := addressParam(to)
	if err != nil {
		return "", err
	}
	return selectorTransfer + p + uintParam(amount), nil
}

// PackApprove encodes approve(spender, amount)
func PackApprove(spender string, amount *big.Int) (string, error) {
	p, err := addressParam(spender)
	if err != nil {
		return "", err
	}
	return selectorApprove + p + uintParam(amount), nil
}

// PackTransferFrom encodes transferFrom(from, to, amount)
func PackTransferFrom(from, to string, amount *big.Int) (string, error) {
	f, err := addressParam(from)
	if err != nil {
		return "", err
	}
	t, err := addressParam(to)
	if err != nil {
		return "", err
	}
	return selectorTransferFrom + f + t + uintParam(amount), nil
}

func packBalanceOf(owner string) (string, error) {
	p, err := addressParam(owner)
	if err != nil {
		return "", err
	}
	return selectorBalanceOf + p, nil
}

func packAllowance(owner, spender string) (string, error) {
	o, err := addressParam(owner)
	if err != nil {
		return "", err
	}
	s, err := addressParam(spender)
	if err != nil {
		return "", err
	}
	return selectorAllowance + o + s, nil
}
