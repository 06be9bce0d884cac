package cashfree

import (
	"regexp"
)

const fallbackPhone = "9999999999"

var phoneDigitsPattern = regexp.MustCompile(`\+?\d+`)

// SanitizePhone 将任意格式的手机号归一为 Cashfree 可接受的形式。
// 抽取所有数字段后取末 10 位；不足 10 位（含空串与纯乱码）回退到占位号码
func SanitizePhone(raw string) string {
	matches := phoneDigitsPattern.FindAllString(raw, -1)
	digits := ""
	for _, match := range matches {
		for _, r := range match {
			if r >= '0' && r <= '9' {
				digits += string(r)
			}
		}
	}
	if len(digits) < 10 {
		return fallbackPhone
	}
	return digits[len(digits)-10:]
}
