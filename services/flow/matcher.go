package flow

import (
	"regexp"
	"strings"

	"github.com/autoflow/autoflow/models"
)

// regexPrefix 正则型 pattern 的标记前缀
const regexPrefix = "regex:"

// NormalizeURL 去掉尾部斜杠，前缀比较前双方都做同样归一化
func NormalizeURL(s string) string {
	return strings.TrimRight(s, "/")
}

// MatchPattern 单条 pattern 是否命中 URL。
// 前缀匹配：双方右侧去斜杠后 starts-with（大小写敏感，协议与主机都算在内）；
// regex: 前缀：剩余部分编译为正则，对原始 URL 测试，编译失败视为永不命中。
func MatchPattern(url, pattern string) bool {
	if strings.HasPrefix(pattern, regexPrefix) {
		re, err := regexp.Compile(pattern[len(regexPrefix):])
		if err != nil {
			return false
		}
		return re.MatchString(url)
	}
	return strings.HasPrefix(NormalizeURL(url), NormalizeURL(pattern))
}

// PickRule 按存储顺序返回第一条命中的规则；没有命中返回 nil。
// 顺序即优先级，由调用方维护，不做去重也不做最长前缀偏好。
func PickRule(rules []models.Rule, url string) *models.Rule {
	for i := range rules {
		if MatchPattern(url, rules[i].Pattern) {
			return &rules[i]
		}
	}
	return nil
}
