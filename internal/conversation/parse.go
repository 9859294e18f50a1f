package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fare-alerts/internal/domain"
)

var (
	dateRe = regexp.MustCompile(`^(\d{1,2})[/.\-](\d{1,2})[/.\-](\d{4})$`)

	currencyMarkers = []string{"R$", "US$", "BRL", "USD", "EUR", "$", "€"}

	flexibleWords = map[string]bool{
		"flex":     true,
		"flexible": true,
		"flexivel": true,
		"flexível": true,
		"any":      true,
	}
)

// IsFlexible reports whether input asks for the flexible date window.
func IsFlexible(input string) bool {
	return flexibleWords[strings.ToLower(strings.TrimSpace(input))]
}

// ParseDate reads a DD/MM/YYYY date (also with '-' or '.') or a flexible
// keyword. Concrete dates must fall strictly after today.
func ParseDate(input string, today time.Time) (domain.TravelDate, error) {
	if IsFlexible(input) {
		return domain.FlexibleDate(), nil
	}

	m := dateRe.FindStringSubmatch(strings.TrimSpace(input))
	if m == nil {
		return domain.TravelDate{}, invalid("date", "Use the DD/MM/YYYY format, e.g. 24/12/2026, or choose flexible dates.")
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	date := domain.DateOn(year, time.Month(month), day)
	if date.Day.Day() != day || int(date.Day.Month()) != month || date.Day.Year() != year {
		return domain.TravelDate{}, invalid("date", "That day does not exist on the calendar.")
	}

	floor := domain.DateOn(today.Year(), today.Month(), today.Day())
	if !date.Day.After(floor.Day) {
		return domain.TravelDate{}, invalid("date", "The date must be after today.")
	}
	return date, nil
}

// ParsePrice reads a positive amount, tolerating currency markers and either
// thousands/decimal convention ("1.234,56", "1,234.56", "1234.5").
func ParsePrice(input string) (decimal.Decimal, error) {
	s := strings.TrimSpace(input)
	upper := strings.ToUpper(s)
	for _, marker := range currencyMarkers {
		if strings.HasPrefix(upper, marker) {
			s, upper = s[len(marker):], upper[len(marker):]
			break
		}
		if strings.HasSuffix(upper, marker) {
			s, upper = s[:len(s)-len(marker)], upper[:len(upper)-len(marker)]
			break
		}
	}
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\t' {
			return -1
		}
		return r
	}, s)

	if s == "" {
		return decimal.Decimal{}, invalid("price", "Send the maximum price as a number, e.g. 850 or 1.200,50.")
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return decimal.Decimal{}, invalid("price", "Send the maximum price as a number, e.g. 850 or 1.200,50.")
		}
	}

	normalised, ok := normaliseSeparators(s)
	if !ok {
		return decimal.Decimal{}, invalid("price", "I could not read that amount. Try 1200 or 1.200,50.")
	}
	amount, err := decimal.NewFromString(normalised)
	if err != nil {
		return decimal.Decimal{}, invalid("price", "I could not read that amount. Try 1200 or 1.200,50.")
	}
	if !amount.IsPositive() {
		return decimal.Decimal{}, invalid("price", "The price must be greater than zero.")
	}
	return amount, nil
}

// normaliseSeparators rewrites s into a plain "1234.56" form.
func normaliseSeparators(s string) (string, bool) {
	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	switch {
	case dots == 0 && commas == 0:
		return s, true
	case dots > 0 && commas > 0:
		decSep, thouSep := ",", "."
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			decSep, thouSep = ".", ","
		}
		if strings.Count(s, decSep) != 1 {
			return "", false
		}
		idx := strings.LastIndex(s, decSep)
		intPart, frac := s[:idx], s[idx+1:]
		if strings.Contains(intPart, decSep) || !validGroups(intPart, thouSep) || !digitsOnly(frac) {
			return "", false
		}
		return strings.ReplaceAll(intPart, thouSep, "") + "." + frac, true
	default:
		sep := "."
		if commas > 0 {
			sep = ","
		}
		if strings.Count(s, sep) > 1 {
			if !validGroups(s, sep) {
				return "", false
			}
			return strings.ReplaceAll(s, sep, ""), true
		}
		idx := strings.Index(s, sep)
		intPart, frac := s[:idx], s[idx+1:]
		if intPart == "" && frac == "" {
			return "", false
		}
		if len(frac) == 3 && intPart != "" && intPart != "0" && len(intPart) <= 3 {
			return intPart + frac, true
		}
		if intPart == "" {
			intPart = "0"
		}
		if !digitsOnly(frac) {
			return "", false
		}
		return intPart + "." + frac, true
	}
}

// validGroups checks "1.234.567" style grouping: a leading group of 1-3
// digits followed by groups of exactly 3.
func validGroups(s, sep string) bool {
	groups := strings.Split(s, sep)
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return len(groups) == 1 && len(groups[0]) > 0
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return false
		}
	}
	return true
}

func digitsOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
