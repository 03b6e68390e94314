package control

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

type priceMode int

const (
	modePrice priceMode = iota
	modePercent
)

func (m priceMode) String() string {
	if m == modePercent {
		return "pct"
	}
	return "price"
}

// targetArgs is a parsed sl or tp request.
type targetArgs struct {
	symbol string
	value  float64
	mode   priceMode
}

// tpslArgs is a parsed tpsl request; both legs share one mode.
type tpslArgs struct {
	symbol string
	sl     float64
	tp     float64
	mode   priceMode
}

// closeAllArgs is a parsed close_all request. scope is all, long or short.
type closeAllArgs struct {
	scope   string
	confirm bool
}

// closeArgs is a parsed close request. A nil amount closes everything.
type closeArgs struct {
	symbol  string
	amount  *float64
	percent bool
}

// parseValue reads "48000" as a price and "-5%" as a percentage.
func parseValue(raw string) (float64, priceMode, error) {
	s := strings.TrimSpace(raw)
	mode := modePrice
	if strings.HasSuffix(s, "%") {
		mode = modePercent
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, mode, fmt.Errorf("%q is not a number", raw)
	}
	if mode == modePrice && v <= 0 {
		return 0, mode, fmt.Errorf("price must be positive, got %s", strings.TrimSpace(raw))
	}
	if mode == modePercent && v == 0 {
		return 0, mode, errors.New("percentage must not be zero")
	}
	return v, mode, nil
}

func parseSymbol(raw string) (string, error) {
	sym := domain.BaseSymbol(raw)
	if sym == "" {
		return "", errors.New("missing or invalid symbol")
	}
	for _, r := range sym {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("invalid symbol %q", raw)
		}
	}
	return sym, nil
}

// parseTargetArgs accepts:
//
//	SYMBOL price VALUE
//	SYMBOL pct VALUE
//	SYMBOL VALUE      (a % suffix means percentage)
func parseTargetArgs(name string, args []string) (targetArgs, error) {
	usage := fmt.Sprintf("usage: /%s SYMBOL [price|pct] VALUE, e.g. /%s BTC 48000 or /%s BTC -5%%", name, name, name)
	if len(args) < 2 {
		return targetArgs{}, errors.New(usage)
	}
	if len(args) > 3 {
		return targetArgs{}, errors.New("too many arguments, " + usage)
	}
	sym, err := parseSymbol(args[0])
	if err != nil {
		return targetArgs{}, err
	}
	out := targetArgs{symbol: sym}

	if len(args) == 2 {
		out.value, out.mode, err = parseValue(args[1])
		if err != nil {
			return targetArgs{}, err
		}
		return out, nil
	}

	raw := strings.TrimSpace(args[2])
	switch strings.ToLower(strings.TrimSpace(args[1])) {
	case "price", "p":
		if strings.HasSuffix(raw, "%") {
			return targetArgs{}, errors.New("price mode does not take a % value")
		}
		out.value, out.mode, err = parseValue(raw)
	case "pct", "percent", "%":
		if !strings.HasSuffix(raw, "%") {
			raw += "%"
		}
		out.value, out.mode, err = parseValue(raw)
	default:
		return targetArgs{}, fmt.Errorf("unknown mode %q, use price or pct", args[1])
	}
	if err != nil {
		return targetArgs{}, err
	}
	return out, nil
}

// parseTPSLArgs accepts SYMBOL SL_VALUE TP_VALUE where both values use the
// same mode.
func parseTPSLArgs(args []string) (tpslArgs, error) {
	const usage = "usage: /tpsl SYMBOL SL TP, e.g. /tpsl BTC 48000 55000 or /tpsl BTC -5% 10%"
	if len(args) < 3 {
		return tpslArgs{}, errors.New("specify both stop-loss and take-profit, " + usage)
	}
	if len(args) > 3 {
		return tpslArgs{}, errors.New("too many arguments, " + usage)
	}
	sym, err := parseSymbol(args[0])
	if err != nil {
		return tpslArgs{}, err
	}
	sl, slMode, err := parseValue(args[1])
	if err != nil {
		return tpslArgs{}, fmt.Errorf("stop-loss: %w", err)
	}
	tp, tpMode, err := parseValue(args[2])
	if err != nil {
		return tpslArgs{}, fmt.Errorf("take-profit: %w", err)
	}
	if slMode != tpMode {
		return tpslArgs{}, errors.New("stop-loss and take-profit must use the same mode (both prices or both percentages)")
	}
	return tpslArgs{symbol: sym, sl: sl, tp: tp, mode: slMode}, nil
}

// parseCloseAllArgs accepts [long|short] [confirm] in that order.
func parseCloseAllArgs(args []string) (closeAllArgs, error) {
	out := closeAllArgs{scope: "all"}
	dirIdx, confirmIdx := -1, -1
	for i, raw := range args {
		switch a := strings.ToLower(strings.TrimSpace(raw)); a {
		case "long", "short":
			if dirIdx >= 0 {
				return closeAllArgs{}, errors.New("only one direction (long or short) may be given")
			}
			dirIdx = i
			out.scope = a
		case "confirm":
			if confirmIdx >= 0 {
				return closeAllArgs{}, errors.New("'confirm' given more than once")
			}
			confirmIdx = i
			out.confirm = true
		default:
			return closeAllArgs{}, fmt.Errorf("invalid argument %q, usage: /close_all [long|short] [confirm]", raw)
		}
	}
	if dirIdx >= 0 && confirmIdx >= 0 && confirmIdx < dirIdx {
		return closeAllArgs{}, fmt.Errorf("direction must come before confirm: /close_all %s confirm", out.scope)
	}
	return out, nil
}

// parseCloseArgs accepts SYMBOL [AMOUNT], where AMOUNT is a size or a
// percentage of the open size.
func parseCloseArgs(args []string) (closeArgs, error) {
	if len(args) == 0 {
		return closeArgs{}, errors.New("usage: /close SYMBOL [amount|pct%]")
	}
	if len(args) > 2 {
		return closeArgs{}, errors.New("too many arguments, usage: /close SYMBOL [amount|pct%]")
	}
	sym, err := parseSymbol(args[0])
	if err != nil {
		return closeArgs{}, err
	}
	out := closeArgs{symbol: sym}
	if len(args) == 1 {
		return out, nil
	}
	v, mode, err := parseValue(args[1])
	if err != nil {
		return closeArgs{}, fmt.Errorf("amount: %w", err)
	}
	if v <= 0 || (mode == modePercent && v > 100) {
		return closeArgs{}, fmt.Errorf("amount %s out of range", args[1])
	}
	out.amount = &v
	out.percent = mode == modePercent
	return out, nil
}
