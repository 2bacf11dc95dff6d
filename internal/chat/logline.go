package chat

import (
	"regexp"
	"strconv"

	"github.com/wiedmann/zlogger/internal/domain"
)

// Chat log lines look like:
//
//	14:03:22 < 12345 > [J. Rider] gg everyone
var logLineRE = regexp.MustCompile(`^([0-9]+:[0-9]+:[0-9]+)\s+<\s*([0-9]+)\s*>\s\[([^]]*)\]\s*(.*)$`)

// ParseLogLine parses one observer chat log line. Lines that do not match
// the chat format are skipped by returning ok=false.
func ParseLogLine(line string) (domain.ChatMessage, bool) {
	m := logLineRE.FindStringSubmatch(line)
	if m == nil {
		return domain.ChatMessage{}, false
	}
	riderID, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return domain.ChatMessage{}, false
	}
	return domain.ChatMessage{
		Time:        m[1],
		RiderID:     riderID,
		PartialName: m[3],
		Msg:         m[4],
	}, true
}
