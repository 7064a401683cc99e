package voice

import (
	"fmt"
	"time"
)

// EntryTimeLayout 与页面显示一致的 24 小时制时间格式。
const EntryTimeLayout = "15:04:05"

// Entry is one line of the activity log or the inbound message list.
type Entry struct {
	ID   int64  `json:"id"`
	Time string `json:"time"`
	Text string `json:"text"`
}

// FormatDuration renders elapsed seconds as MM:SS.
func FormatDuration(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func formatEntryTime(t time.Time) string {
	return t.Format(EntryTimeLayout)
}
