package simulator

import (
	"strings"
	"unicode/utf8"

	"presip-lab/server/internal/model"
)

// TipLabel 教练提示的三个固定标签。
type TipLabel string

const (
	LabelEmotionalState TipLabel = "emotional_state"
	LabelNELLink        TipLabel = "nel_link"
	LabelTryThis        TipLabel = "try_this"
)

var tipLabelText = map[model.Language]map[TipLabel]string{
	model.LanguageEN: {
		LabelEmotionalState: "Emotional State",
		LabelNELLink:        "NEL Link",
		LabelTryThis:        "Try This",
	},
	model.LanguageZH: {
		LabelEmotionalState: "情绪状态",
		LabelNELLink:        "NEL 联系",
		LabelTryThis:        "试试这样做",
	},
}

// TipSegment 解析后的一段提示。Label 为空表示无标签的正文。
type TipSegment struct {
	Label   TipLabel `json:"label,omitempty"`
	Title   string   `json:"title,omitempty"`
	Content string   `json:"content"`
}

// FormatTip 生成 “标签: 内容” 三行格式；中文使用全角冒号。
func FormatTip(lang model.Language, emotionalState, nelLink, tryThis string) string {
	labels, ok := tipLabelText[lang]
	if !ok {
		labels = tipLabelText[model.LanguageEN]
	}
	sep := ": "
	if lang == model.LanguageZH {
		sep = "："
	}
	lines := []string{
		labels[LabelEmotionalState] + sep + strings.TrimSpace(emotionalState),
		labels[LabelNELLink] + sep + strings.TrimSpace(nelLink),
		labels[LabelTryThis] + sep + strings.TrimSpace(tryThis),
	}
	return strings.Join(lines, "\n")
}

// ParseTip 按行拆分提示，每行在第一个半角或全角冒号处切开。
// 没有任何可识别标签时整体作为一段正文返回。
func ParseTip(text string) []TipSegment {
	var segments []TipSegment
	recognized := false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		head, body, ok := splitFirstColon(line)
		if ok {
			if label, title, known := lookupLabel(head); known {
				segments = append(segments, TipSegment{Label: label, Title: title, Content: body})
				recognized = true
				continue
			}
		}
		segments = append(segments, TipSegment{Content: line})
	}

	if !recognized {
		prose := strings.TrimSpace(text)
		if prose == "" {
			return nil
		}
		return []TipSegment{{Content: prose}}
	}
	return segments
}

func splitFirstColon(line string) (string, string, bool) {
	idx := strings.IndexAny(line, ":：")
	if idx < 0 {
		return "", "", false
	}
	_, size := utf8.DecodeRuneInString(line[idx:])
	body := strings.TrimLeft(line[idx+size:], "*")
	return line[:idx], strings.TrimSpace(body), true
}

func lookupLabel(head string) (TipLabel, string, bool) {
	// 大模型常输出 "- **Try This**" 这类 markdown 包裹。
	head = strings.Trim(strings.TrimSpace(head), "-*# ")
	for _, labels := range tipLabelText {
		for label, title := range labels {
			if strings.EqualFold(head, title) {
				return label, title, true
			}
		}
	}
	return "", "", false
}
