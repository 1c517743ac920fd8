package codec

import (
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// 1 AR = 10^12 winston
const arDecimals = 12

var winstonPerAr = new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(arDecimals), nil))

// WinstonToAr converts an integer winston amount to a decimal AR
// string with trailing zeros removed.
func WinstonToAr(winston string) (ar string, err error) {
	w, ok := new(big.Rat).SetString(winston)
	if !ok {
		return "", errors.Errorf("invalid winston amount: %q", winston)
	}
	ar = new(big.Rat).Quo(w, winstonPerAr).FloatString(arDecimals)
	ar = strings.TrimRight(ar, "0")
	ar = strings.TrimSuffix(ar, ".")
	return
}

// ArToWinston converts a decimal AR amount to an integer winston
// string.  Fractions of a winston round half away from zero.
func ArToWinston(ar string) (winston string, err error) {
	a, ok := new(big.Rat).SetString(ar)
	if !ok {
		return "", errors.Errorf("invalid AR amount: %q", ar)
	}
	return new(big.Rat).Mul(a, winstonPerAr).FloatString(0), nil
}
