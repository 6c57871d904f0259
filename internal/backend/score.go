package backend

import (
	"math"
	"strconv"
)

var (
	negInf = math.Inf(-1)
	posInf = math.Inf(1)
)

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
