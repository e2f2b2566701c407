package audit

import "fmt"

// Summary is the end-of-request synthesis record: request identity from the
// first event, outcome from the last, and upload/quota specifics found by
// event-name lookup within the buffer.
type Summary struct {
	RequestID    string
	Method       string
	Path         string
	IP           string
	SessionID    string
	APIKeyMasked string
	UserID       string
	Username     string
	Status       int
	DurationMs   float64
	Filename     string
	FileSize     int64
	Mode         string
	QuotaCurrent int64
	QuotaLimit   int64
	BlockReason  string
}

// Summarize condenses an ordered event buffer into one Summary. The buffer
// must be non-empty.
func Summarize(events []Event) Summary {
	first := events[0]
	last := events[len(events)-1]

	s := Summary{
		RequestID:  first.RequestID,
		Method:     str(first.Fields["method"]),
		Path:       str(first.Fields["path"]),
		IP:         str(first.Fields["ip"]),
		SessionID:  str(first.Fields["session_id"]),
		Status:     num(last.Fields["status"]),
		DurationMs: flt(last.Fields["duration_ms"]),
	}
	// The request-start hook records the key already masked; mask again so a
	// raw value can never leak through the summary.
	s.APIKeyMasked = MaskAPIKey(str(first.Fields["api_key"]))

	if e := findEvent(events, "get_current_user_success"); e != nil {
		s.UserID = str(e.Fields["user_id"])
	}
	if e := findField(events, "username"); e != nil {
		s.Username = str(e.Fields["username"])
		if s.UserID == "" {
			s.UserID = str(e.Fields["user_id"])
		}
	}
	if e := findEvent(events, "upload_completed"); e != nil {
		s.Filename = str(e.Fields["filename"])
		s.Mode = str(e.Fields["mode"])
		s.FileSize = int64(num(e.Fields["file_size"]))
	} else if e := findEvent(events, "upload_engine_failed"); e != nil {
		s.Filename = str(e.Fields["filename"])
		s.Mode = str(e.Fields["mode"])
	}
	if e := findEvent(events, "hourly_upload_quota_check"); e != nil {
		s.QuotaCurrent = int64(num(e.Fields["current_usage"]))
		s.QuotaLimit = int64(num(e.Fields["limit"]))
	}
	if e := findEvent(events, "upload_blocked"); e != nil {
		s.BlockReason = str(e.Fields["reason"])
	}
	return s
}

// QuotaSummary renders the quota position as "n / limit uploads (hourly)".
func (s Summary) QuotaSummary() string {
	return fmt.Sprintf("%d / %d uploads (hourly)", s.QuotaCurrent, s.QuotaLimit)
}

// MaskAPIKey redacts an API key for rendering: first four and last four
// characters with a fixed placeholder between. Keys of eight characters or
// fewer are fully redacted.
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return ""
	}
	return key[:4] + "****" + key[len(key)-4:]
}

func findEvent(events []Event, name string) *Event {
	for i := range events {
		if str(events[i].Fields["event"]) == name {
			return &events[i]
		}
	}
	return nil
}

func findField(events []Event, field string) *Event {
	for i := range events {
		if _, ok := events[i].Fields[field]; ok {
			return &events[i]
		}
	}
	return nil
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

func flt(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
