package orchestrator

import "presip-lab/server/internal/model"

// FallbackMessage 模拟器失败时写入 transcript 的系统消息。
func FallbackMessage(lang model.Language) string {
	if lang == model.LanguageZH {
		return "系统：连接中断，请重试。"
	}
	return "System: Connection interruption. Please try again."
}

// GenericTip 生成提示失败时的兜底提示，格式与正常提示一致。
func GenericTip(lang model.Language) string {
	if lang == model.LanguageZH {
		return "情绪状态：对方需要被倾听和理解。\n" +
			"NEL 联系：建立积极的关系是所有学习的基础。\n" +
			"试试这样做：先描述你观察到的情况，再邀请对方一起想办法。"
	}
	return "Emotional State: They need to feel heard and understood.\n" +
		"NEL Link: Positive relationships are the foundation of all learning.\n" +
		"Try This: Describe what you observe first, then invite them to problem-solve with you."
}
