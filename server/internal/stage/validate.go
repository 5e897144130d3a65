package stage

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	nameMinRunes = 2
	nameMaxRunes = 40

	phoneMinDigits = 6
	phoneMaxDigits = 20
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidName 校验用户报的名字：去首尾空白后 2..40 个字符，且不能全是数字。
func ValidName(raw string) bool {
	name := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(name)
	if n < nameMinRunes || n > nameMaxRunes {
		return false
	}
	allDigits := true
	for _, r := range name {
		if !unicode.IsDigit(r) {
			allDigits = false
			break
		}
	}
	return !allDigits
}

// ValidEmail 校验联系邮箱，宽松格式：本地部分@域名.后缀。
func ValidEmail(raw string) bool {
	return emailRe.MatchString(strings.TrimSpace(raw))
}

// ValidPhone 校验联系电话：允许数字、空格、加号、连字符和括号，
// 数字位数在 6..20 之间。
func ValidPhone(raw string) bool {
	phone := strings.TrimSpace(raw)
	if phone == "" {
		return false
	}
	digits := 0
	for _, r := range phone {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == ' ' || r == '+' || r == '-' || r == '(' || r == ')':
		default:
			return false
		}
	}
	return digits >= phoneMinDigits && digits <= phoneMaxDigits
}

// NormalizePhone 规整电话：去掉分隔符，只留数字和可选的前导加号。
func NormalizePhone(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
