package moderation

import (
	"fmt"
	"strings"
	"time"

	"github.com/iamwavecut/tool"

	"github.com/iamwavecut/antispambot/internal/activity"
)

const spamCheckPrompt = `你是一个专用于 Telegram 群组的垃圾广告检测引擎。请分析用户发言，并以 JSON 格式返回分析结果。

# 判断规则
1. 新入群用户（加入不足1天且发言少于3次）需要严格审查：发言简短、带有链接、涉及区块链或金融推广、用户名带有广告特征，都应高度怀疑。
2. 老用户（加入超过1天且发言超过3次）可以适当放宽，但与群组主题无关且明显在推广的内容，或用户名带有垃圾广告特征时，应提高广告概率。
3. 正常讨论即使提到“金融”“赌博”等词，只要没有推广意图就不是广告。用谐音、错别字、同音字等方式规避关键词属于典型广告行为。没有明显广告特征的发言一律判定为不是广告，避免误封。
4. 消息仅为“白嫖”两字时，判定为不是广告。消息仅为“广告测试”四字时，判定为广告。

# 用户信息
{{ .user_info }}

# 待分析的发言
双引号内是一条来自 Telegram 群组的用户发言: "{{ .text }}"

# 输出
只返回一个严格的 JSON 对象，不要附加任何说明文字:
{
  "result": <0或1，1表示是广告>,
  "spamChance": <0到100的整数，表示是广告的概率>,
  "spamReason": "<简短原因，不是广告则留空>",
  "mockText": "<若判定为广告，写一句50字以内的提醒评论，可带表情符号。不得出现用户名、@符号或广告推广的内容，并提醒大家不要轻信>"
}`

const userInfoTemplate = `- 该用户的名称为 "{{ .name }}"
- 这是该用户在本群的第 {{ .count }} 次发言
- 该用户于约 {{ .elapsed }} 前加入群组`

// BuildPrompt renders the classification request for one message.
func BuildPrompt(msg Message, rec activity.Record, now time.Time) string {
	userInfo := tool.ExecTemplate(userInfoTemplate, map[string]any{
		"name":    msg.DisplayName,
		"count":   rec.MessageCount,
		"elapsed": FormatElapsed(now.Sub(rec.JoinTime)),
	})
	return tool.ExecTemplate(spamCheckPrompt, map[string]any{
		"user_info": userInfo,
		"text":      strings.TrimSpace(msg.Text),
	})
}

// FormatElapsed renders whole days and hours, like "2天3小时" or "5小时".
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	totalHours := int(d / time.Hour)
	days, hours := totalHours/24, totalHours%24
	if days > 0 {
		return fmt.Sprintf("%d天%d小时", days, hours)
	}
	return fmt.Sprintf("%d小时", hours)
}
