package facility

import (
	"math"
	"math/big"
	"strings"
	"unicode/utf16"

	"github.com/kass/go-facility-map/pkg/models"
)

const (
	idAddressUnits = 10
	idNameUnits    = 10
	idCoordDigits  = 4
)

// ID derives the annotation key for a facility: the first ten UTF-16 units of
// the address, both coordinates fixed to four decimals, and the first ten
// UTF-16 units of the name, joined by underscores.
//
// The key is lossy. Two facilities that share an address prefix, a name
// prefix and rounded coordinates collide. It is kept in this form because
// exported memo and color records are keyed by it.
func ID(f models.Facility) string {
	var b strings.Builder
	b.WriteString(truncateUTF16(f.Address, idAddressUnits))
	b.WriteByte('_')
	b.WriteString(toFixed(f.Latitude, idCoordDigits))
	b.WriteByte('_')
	b.WriteString(toFixed(f.Longitude, idCoordDigits))
	b.WriteByte('_')
	b.WriteString(truncateUTF16(f.Name, idNameUnits))
	return b.String()
}

// truncateUTF16 keeps the first n UTF-16 code units of s. A surrogate pair cut
// in half leaves its lone high surrogate, which is written as U+FFFD.
func truncateUTF16(s string, n int) string {
	units := utf16.Encode([]rune(s))
	if len(units) <= n {
		return s
	}
	return string(utf16.Decode(units[:n]))
}

// toFixed formats x with the given number of decimals, rounding the exact
// binary value half away from zero.
func toFixed(x float64, digits int) string {
	if math.IsNaN(x) {
		return "NaN"
	}
	if math.IsInf(x, 0) {
		if x > 0 {
			return "Infinity"
		}
		return "-Infinity"
	}

	neg := x < 0
	r := new(big.Rat).SetFloat64(math.Abs(x))
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	r.Mul(r, new(big.Rat).SetInt(scale))

	// floor(r + 1/2)
	r.Add(r, big.NewRat(1, 2))
	n := new(big.Int).Quo(r.Num(), r.Denom())

	s := n.String()
	if len(s) <= digits {
		s = strings.Repeat("0", digits-len(s)+1) + s
	}
	out := s[:len(s)-digits] + "." + s[len(s)-digits:]
	if neg {
		out = "-" + out
	}
	return out
}
