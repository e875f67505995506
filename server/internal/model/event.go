package model

import "time"

// Event 是写入 timeline 的一条事实记录（会话里发生过的动作）。
// 约定：只追加不修改，用于回放与复盘。
type Event struct {
	Seq       int64  `json:"seq"`
	SessionID string `json:"session_id"`
	// EventID 客户端或服务端生成的幂等键，可为空。
	EventID    string      `json:"event_id,omitempty"`
	Type       string      `json:"type"`
	RoleID     string      `json:"role_id,omitempty"`
	ScenarioID string      `json:"scenario_id,omitempty"`
	Language   Language    `json:"language,omitempty"`
	MessageID  string      `json:"message_id,omitempty"`
	Text       string      `json:"text,omitempty"`
	Mode       MessageMode `json:"mode,omitempty"`
	Options    []string    `json:"options,omitempty"`
	Epoch      int64       `json:"epoch"`
	// Stage 动作生效后的阶段。
	Stage    Stage     `json:"stage"`
	ServerTS time.Time `json:"server_ts"`
}
