package prompt

// EstimateTokens approximates the model tokenizer without shipping one: a
// CJK rune is roughly one token, everything else averages four characters
// per token. Budgeting only needs to be conservative, not exact.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	cjk := 0
	other := 0
	for _, r := range s {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	return cjk + (other+3)/4
}

// TruncateTokens drops text from the end until it fits the ceiling.
func TruncateTokens(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if EstimateTokens(s) <= max {
		return s
	}
	cjk := 0
	other := 0
	out := make([]rune, 0, max)
	for _, r := range s {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
		if cjk+(other+3)/4 > max {
			break
		}
		out = append(out, r)
	}
	return string(out)
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF, // CJK unified
		r >= 0x3400 && r <= 0x4DBF, // extension A
		r >= 0x3000 && r <= 0x303F, // CJK punctuation
		r >= 0xFF00 && r <= 0xFFEF: // fullwidth forms
		return true
	default:
		return false
	}
}
