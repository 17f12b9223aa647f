package session

// SessionStats 汇总符合过滤条件的会话数量与更新时间范围。
type SessionStats struct {
	Total           int   `json:"total"`
	Open            int   `json:"open"`
	Running         int   `json:"running"`
	Finalized       int   `json:"finalized"`
	Exhausted       int   `json:"exhausted"`
	Recorded        int   `json:"recorded"`
	Failed          int   `json:"failed"`
	OldestUpdatedAt int64 `json:"oldest_updated_at"`
	NewestUpdatedAt int64 `json:"newest_updated_at"`
}
