package audit

import "testing"

func TestMaskAPIKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"api_12_JOHNDOE", "api_****HDOE"},
		{"short", ""},
		{"12345678", ""},
		{"123456789", "1234****6789"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := MaskAPIKey(tt.in); got != tt.want {
			t.Errorf("MaskAPIKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskAPIKeyIdempotent(t *testing.T) {
	masked := MaskAPIKey("api_42_LONGUSERNAME")
	if masked == "" {
		t.Fatal("unexpected full redaction")
	}
	if again := MaskAPIKey(masked); again != masked {
		t.Errorf("re-masking changed the value: %q -> %q", masked, again)
	}
}

func TestSummarize(t *testing.T) {
	events := []Event{
		{
			RequestID: "req-1",
			Fields: map[string]any{
				"event":      "request_received",
				"method":     "POST",
				"path":       "/upload",
				"ip":         "10.0.0.1",
				"session_id": "sess-abc",
				"api_key":    "api_7_SOMEBODY",
			},
		},
		{
			Fields: map[string]any{
				"event":    "upload_request_received",
				"user_id":  int64(7),
				"username": "somebody",
			},
		},
		{
			Fields: map[string]any{
				"event":         "hourly_upload_quota_check",
				"current_usage": int64(3),
				"limit":         50,
				"allowed":       true,
			},
		},
		{
			Fields: map[string]any{
				"event":     "upload_completed",
				"filename":  "meeting.wav",
				"mode":      "transcribe",
				"file_size": int64(2048),
			},
		},
		{
			Fields: map[string]any{
				"event":       "request_completed",
				"status":      200,
				"duration_ms": 412.5,
			},
		},
	}

	s := Summarize(events)

	if s.RequestID != "req-1" {
		t.Errorf("RequestID = %q", s.RequestID)
	}
	if s.Method != "POST" || s.Path != "/upload" || s.IP != "10.0.0.1" {
		t.Errorf("request identity = %q %q %q", s.Method, s.Path, s.IP)
	}
	if s.Status != 200 || s.DurationMs != 412.5 {
		t.Errorf("outcome = %d %v", s.Status, s.DurationMs)
	}
	if s.Username != "somebody" {
		t.Errorf("Username = %q", s.Username)
	}
	if s.Filename != "meeting.wav" || s.Mode != "transcribe" || s.FileSize != 2048 {
		t.Errorf("upload = %q %q %d", s.Filename, s.Mode, s.FileSize)
	}
	if s.QuotaCurrent != 3 || s.QuotaLimit != 50 {
		t.Errorf("quota = %d/%d", s.QuotaCurrent, s.QuotaLimit)
	}
	if got := s.QuotaSummary(); got != "3 / 50 uploads (hourly)" {
		t.Errorf("QuotaSummary = %q", got)
	}
	// The start hook records the key already masked; summarizing must not
	// mangle it further.
	if s.APIKeyMasked != MaskAPIKey("api_7_SOMEBODY") {
		t.Errorf("APIKeyMasked = %q", s.APIKeyMasked)
	}
	if s.BlockReason != "" {
		t.Errorf("BlockReason = %q, want empty", s.BlockReason)
	}
}

func TestSummarizeBlockedUpload(t *testing.T) {
	events := []Event{
		{Fields: map[string]any{"event": "request_received", "method": "POST", "path": "/upload"}},
		{Fields: map[string]any{"event": "upload_blocked", "reason": "quota_exceeded"}},
		{Fields: map[string]any{"event": "request_completed", "status": 403}},
	}
	s := Summarize(events)
	if s.BlockReason != "quota_exceeded" {
		t.Errorf("BlockReason = %q, want quota_exceeded", s.BlockReason)
	}
	if s.Status != 403 {
		t.Errorf("Status = %d, want 403", s.Status)
	}
}
