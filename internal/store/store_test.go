package store

import (
	"context"
	"errors"
	"testing"

	"github.com/audiogate/audiogate/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedUser(t *testing.T, s *Store, username string) *model.User {
	t.Helper()
	user := &model.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		UploadLimit:  model.DefaultUploadLimit,
	}
	if err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	return user
}

func TestUserCRUD(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	user := seedUser(t, s, "alice")
	if user.ID == 0 {
		t.Fatal("insert did not populate ID")
	}

	got, err := s.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.Username != "alice" || got.UploadLimit != model.DefaultUploadLimit {
		t.Errorf("GetUser = %+v", got)
	}

	// Lookup works by username and by email.
	if _, err := s.GetUserByIdentifier(ctx, "alice"); err != nil {
		t.Errorf("GetUserByIdentifier(username): %v", err)
	}
	if _, err := s.GetUserByIdentifier(ctx, "alice@example.com"); err != nil {
		t.Errorf("GetUserByIdentifier(email): %v", err)
	}
	if _, err := s.GetUserByIdentifier(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUserByIdentifier(unknown): err = %v, want ErrNotFound", err)
	}

	exists, err := s.UserExists(ctx, "alice", "other@example.com")
	if err != nil || !exists {
		t.Errorf("UserExists = (%v, %v), want (true, nil)", exists, err)
	}

	if err := s.UpdateUploadLimit(ctx, user.ID, 5); err != nil {
		t.Fatalf("UpdateUploadLimit: %v", err)
	}
	if err := s.UpdateAdminFlag(ctx, user.ID, true); err != nil {
		t.Fatalf("UpdateAdminFlag: %v", err)
	}
	got, _ = s.GetUser(ctx, user.ID)
	if got.UploadLimit != 5 || !got.IsAdmin {
		t.Errorf("after updates: %+v", got)
	}

	if err := s.UpdateUploadLimit(ctx, 9999, 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateUploadLimit(unknown): err = %v, want ErrNotFound", err)
	}
}

func TestAPIKeyStore(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "bob")

	key := &model.APIKey{UserID: user.ID, RawKey: "api_1_BOB", KeyHash: "deadbeef"}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey: %v", err)
	}

	got, err := s.GetAPIKeyByHash(ctx, "deadbeef")
	if err != nil {
		t.Fatalf("GetAPIKeyByHash: %v", err)
	}
	if got.Active {
		t.Error("new key stored active")
	}
	if got.ActivatedAt != nil {
		t.Error("new key has activation timestamp")
	}

	if err := s.SetAPIKeyActive(ctx, user.ID, true); err != nil {
		t.Fatalf("SetAPIKeyActive: %v", err)
	}
	got, _ = s.GetAPIKeyByHash(ctx, "deadbeef")
	if !got.Active || got.ActivatedAt == nil {
		t.Errorf("after activation: active=%v activated_at=%v", got.Active, got.ActivatedAt)
	}

	if err := s.SetAPIKeyActive(ctx, 9999, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetAPIKeyActive(no keys): err = %v, want ErrNotFound", err)
	}
}

func TestTranscriptionOwnerScoping(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	owner := seedUser(t, s, "carol")
	other := seedUser(t, s, "mallory")

	rec := &model.Transcription{
		UserID:   owner.ID,
		Username: owner.Username,
		Filename: "call.wav",
		Mode:     "transcribe",
		Result:   `{"segments":[]}`,
		FileSize: 1024,
	}
	if err := s.CreateTranscription(ctx, rec); err != nil {
		t.Fatalf("CreateTranscription: %v", err)
	}

	if _, err := s.GetTranscription(ctx, rec.ID, owner.ID); err != nil {
		t.Errorf("owner lookup: %v", err)
	}
	// Someone else's valid ID is indistinguishable from a missing record.
	if _, err := s.GetTranscription(ctx, rec.ID, other.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("cross-user lookup: err = %v, want ErrNotFound", err)
	}

	list, err := s.ListTranscriptions(ctx, owner.ID, 10)
	if err != nil || len(list) != 1 {
		t.Errorf("ListTranscriptions = (%d, %v), want 1 record", len(list), err)
	}
	list, _ = s.ListTranscriptions(ctx, other.ID, 10)
	if len(list) != 0 {
		t.Errorf("other user sees %d records, want 0", len(list))
	}
}

func TestUsageCounters(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "dora")

	if err := s.BumpUsage(ctx, user.ID, 30); err != nil {
		t.Fatalf("BumpUsage: %v", err)
	}
	if err := s.BumpUsage(ctx, user.ID, 45); err != nil {
		t.Fatalf("BumpUsage: %v", err)
	}

	stats, err := s.ListUsage(ctx)
	if err != nil {
		t.Fatalf("ListUsage: %v", err)
	}
	if len(stats) != 1 {
		t.Fatalf("ListUsage = %d rows, want 1", len(stats))
	}
	if stats[0].FilesUploaded != 2 || stats[0].SecondsProcessed != 75 {
		t.Errorf("usage = %+v, want 2 files / 75 seconds", stats[0])
	}
}

func TestAuditRecords(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := &model.AuditRecord{
			Category:  "logs_api",
			RequestID: "req-9",
			Data:      `{"event":"request_received","user_id":12}`,
		}
		if err := s.AppendAuditRecord(ctx, rec); err != nil {
			t.Fatalf("AppendAuditRecord: %v", err)
		}
	}

	recs, err := s.ListAuditRecords(ctx, "req-9")
	if err != nil {
		t.Fatalf("ListAuditRecords: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("ListAuditRecords = %d, want 3", len(recs))
	}

	n, err := s.DeleteAuditRecordsForUser(ctx, 12)
	if err != nil {
		t.Fatalf("DeleteAuditRecordsForUser: %v", err)
	}
	if n != 3 {
		t.Errorf("deleted %d audit records, want 3", n)
	}
}

func TestCascadeDeleteLeavesNoResidue(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	user := seedUser(t, s, "erin")

	s.CreateAPIKey(ctx, &model.APIKey{UserID: user.ID, RawKey: "k", KeyHash: "h"})
	s.CreateTranscription(ctx, &model.Transcription{
		UserID: user.ID, Username: user.Username, Filename: "f.wav",
		Mode: "diarize", Result: "{}",
	})
	s.BumpUsage(ctx, user.ID, 10)
	s.AppendAuditRecord(ctx, &model.AuditRecord{
		Category: "logs_usage", RequestID: "r",
		Data: `{"event":"upload_completed","user_id":` + "1" + `}`,
	})

	// Mirror of the admin cascade: each dependent store cleared, then the
	// user row.
	if n, err := s.DeleteAPIKeysForUser(ctx, user.ID); err != nil || n != 1 {
		t.Errorf("DeleteAPIKeysForUser = (%d, %v)", n, err)
	}
	if n, err := s.DeleteTranscriptionsForUser(ctx, user.ID); err != nil || n != 1 {
		t.Errorf("DeleteTranscriptionsForUser = (%d, %v)", n, err)
	}
	if n, err := s.DeleteUsageForUser(ctx, user.ID); err != nil || n != 1 {
		t.Errorf("DeleteUsageForUser = (%d, %v)", n, err)
	}
	if _, err := s.DeleteAuditRecordsForUser(ctx, user.ID); err != nil {
		t.Errorf("DeleteAuditRecordsForUser: %v", err)
	}
	if err := s.DeleteUser(ctx, user.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}

	if _, err := s.GetUser(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser after delete: err = %v, want ErrNotFound", err)
	}
	if _, err := s.GetNewestAPIKey(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetNewestAPIKey after delete: err = %v, want ErrNotFound", err)
	}
	if list, _ := s.ListTranscriptions(ctx, user.ID, 10); len(list) != 0 {
		t.Errorf("transcriptions left after delete: %d", len(list))
	}
	if stats, _ := s.ListUsage(ctx); len(stats) != 0 {
		t.Errorf("usage rows left after delete: %d", len(stats))
	}

	// Deleting again reports not found.
	if err := s.DeleteUser(ctx, user.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteUser: err = %v, want ErrNotFound", err)
	}
}
