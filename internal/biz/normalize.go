package biz

import (
	"strings"
	"unicode"

	"xinyuan_tech/subtracker-service/internal/constants"
)

// weeksPerMonth 周付折算月付系数
const weeksPerMonth = 4.33

// NormalizeToMonthly 将任意计费周期的价格折算为月度等价价格
// 周期未知时原样返回, 调用方应将合计视为近似值
func NormalizeToMonthly(price float64, billingCycle string) float64 {
	switch billingCycle {
	case constants.CycleAnnual:
		return price / 12
	case constants.CycleQuarterly:
		return price / 3
	case constants.CycleWeekly:
		return price * weeksPerMonth
	case constants.CycleMonthly:
		return price
	default:
		// unknown: 不折算
		return price
	}
}

// NormalizeServiceName 归一化服务名, 仅用于精确匹配的连接键
// 小写化并去除空白与标点
func NormalizeServiceName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// SimilarityScore 计算两个服务名的相似度, 取值 [0.0, 1.0]
// 基于大小写不敏感的编辑距离: 1 - distance / max(len(a), len(b))
func SimilarityScore(a, b string) float64 {
	ra := []rune(strings.ToLower(a))
	rb := []rune(strings.ToLower(b))
	if len(ra) == 0 && len(rb) == 0 {
		return 1.0
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0.0
	}

	dist := levenshtein(ra, rb)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	return 1.0 - float64(dist)/float64(maxLen)
}

// levenshtein 经典双行 DP 编辑距离
func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
