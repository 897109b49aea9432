package catalog

import "strings"

// sizeCodes is the closed vocabulary of size codes a product can be stocked in.
var sizeCodes = map[string]string{
	"XS": "XS", "S": "S", "M": "M", "L": "L", "XL": "XL", "XXL": "XXL",
	"28": "28", "30": "30", "32": "32", "34": "34", "36": "36",
	"5": "5", "6": "6", "7": "7", "8": "8", "9": "9", "10": "10", "11": "11", "12": "12",
	"0-2": "0-2 Years", "3-5": "3-5 Years", "6-7": "6-7 Years", "8-10": "8-10 Years", "11-14": "11-14 Years",
	"FZ": "Free Size",
}

// IsValidSize reports whether code is a known size code. Codes are case sensitive.
func IsValidSize(code string) bool {
	_, ok := sizeCodes[code]
	return ok
}

// SizeLabel returns the display label for code, or "" for unknown codes.
func SizeLabel(code string) string {
	return sizeCodes[code]
}

// NormalizeSize trims raw and returns it when it is a known code. Anything else, such as a
// product name that leaked into the size field, becomes "" and ok is false.
func NormalizeSize(raw string) (code string, ok bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", true
	}
	if IsValidSize(s) {
		return s, true
	}
	return "", false
}
