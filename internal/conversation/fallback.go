package conversation

import "strings"

// fallbackRule maps symptom keywords to a canned reply.
type fallbackRule struct {
	keywords []string
	reply    string
}

var fallbackRules = []fallbackRule{
	{
		keywords: []string{"失眠", "睡眠"},
		reply:    "关于失眠问题，中医建议：\n1. 睡前1小时避免使用电子设备\n2. 可尝试温水泡脚，加入少许盐\n3. 保持卧室安静、黑暗\n4. 睡前可听轻音乐放松\n建议规律作息，必要时咨询专业中医师。",
	},
	{
		keywords: []string{"头痛", "头晕"},
		reply:    "头痛可能与多种因素有关：\n• 肝阳上亢：建议避免辛辣食物\n• 气血不足：注意营养均衡\n• 外感风寒：注意保暖避风\n建议观察头痛发作时间、部位，记录症状变化。",
	},
	{
		keywords: []string{"消化", "胃"},
		reply:    "消化问题中医调理建议：\n1. 饮食规律，细嚼慢咽\n2. 避免生冷油腻食物\n3. 可适量食用山药、薏米健脾\n4. 饭后适当散步助消化",
	},
	{
		keywords: []string{"疲劳", "累"},
		reply:    "疲劳感调理建议：\n• 保证充足睡眠，避免熬夜\n• 适当运动，如散步、太极拳\n• 饮食均衡，多食补气血食物\n• 保持心情愉悦，避免过度思虑",
	},
}

const defaultFallback = "感谢您的咨询。根据中医理论，健康需要阴阳平衡、气血调和。建议您：\n1. 保持规律作息\n2. 饮食均衡营养\n3. 适当运动锻炼\n4. 保持心情舒畅\n如有具体症状，请详细描述，我会提供更针对性的建议。"

// FallbackReply returns the canned reply for the first matching symptom
// group, in table order.
func FallbackReply(symptoms string) string {
	lower := strings.ToLower(symptoms)
	for _, r := range fallbackRules {
		for _, k := range r.keywords {
			if strings.Contains(lower, k) {
				return r.reply
			}
		}
	}
	return defaultFallback
}
