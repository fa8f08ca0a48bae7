package worker

// 统一的 WebSocket 消息协议（通过 Redis Pub/Sub 转发给前端）。
// 注意：这里的字段名与前端解析保持一致。
type CommentPushMessage struct {
	Event         string `json:"event"`
	AdID          uint   `json:"ad_id"`
	RubricID      uint   `json:"rubric_id"`
	AdTitle       string `json:"ad_title"`
	CommentID     uint   `json:"comment_id"`
	Author        string `json:"author"`
	Content       string `json:"content"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

// NotifyChannel 返回用户的推送频道名，ws_handler 订阅同一频道。
func NotifyChannel(userID uint) string {
	return "user_notify:" + uintToString(userID)
}
