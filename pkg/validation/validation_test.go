package validation

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateUserID(t *testing.T) {
	tests := []struct {
		name    string
		userID  string
		wantErr bool
	}{
		{"valid id", "alice", false},
		{"valid with underscore", "user_42", false},
		{"valid with dash", "user-42", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
		{"invalid chars", "user name", true},
		{"invalid chars 2", "user@host", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUserID(tt.userID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUserID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCallID(t *testing.T) {
	tests := []struct {
		name    string
		callID  string
		wantErr bool
	}{
		{"valid id", "call_a1b2c3d4e5f6a7b8", false},
		{"empty", "", true},
		{"too long", strings.Repeat("c", 101), true},
		{"invalid chars", "call/123", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCallID(tt.callID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCallID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateGroupCallID(t *testing.T) {
	if err := ValidateGroupCallID("group_a1b2c3d4"); err != nil {
		t.Errorf("expected valid group call ID, got %v", err)
	}
	if err := ValidateGroupCallID(""); err == nil {
		t.Error("expected error for empty group call ID")
	}
	if err := ValidateGroupCallID("group:1"); err == nil {
		t.Error("expected error for invalid characters")
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name     string
		username string
		wantErr  bool
	}{
		{"valid username", "user123", false},
		{"valid with underscore", "user_name", false},
		{"valid with dash", "user-name", false},
		{"too short", "ab", true},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 51), true},
		{"invalid chars", "user name", true},
		{"invalid chars 2", "user@name", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.username)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateUsername() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCallType(t *testing.T) {
	if err := ValidateCallType("voice"); err != nil {
		t.Errorf("expected voice to be valid, got %v", err)
	}
	if err := ValidateCallType("video"); err != nil {
		t.Errorf("expected video to be valid, got %v", err)
	}
	if err := ValidateCallType("screen"); err == nil {
		t.Error("expected error for unknown call type")
	}
	if err := ValidateCallType(""); err == nil {
		t.Error("expected error for empty call type")
	}
}

func TestValidateTitle(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		wantErr bool
	}{
		{"valid title", "Weekly standup", false},
		{"valid unicode", "Планёрка", false},
		{"empty", "", true},
		{"only whitespace", "   ", true},
		{"too long", strings.Repeat("a", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTitle(tt.title)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateTitle() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateInvitees(t *testing.T) {
	tests := []struct {
		name     string
		invitees []string
		wantErr  bool
	}{
		{"valid list", []string{"alice", "bob"}, false},
		{"single invitee", []string{"alice"}, false},
		{"empty list", nil, true},
		{"duplicate", []string{"alice", "alice"}, true},
		{"invalid member", []string{"alice", "bad user"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInvitees(tt.invitees)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateInvitees() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	t.Run("too many invitees", func(t *testing.T) {
		big := make([]string, 101)
		for i := range big {
			big[i] = fmt.Sprintf("user%d", i)
		}
		if err := ValidateInvitees(big); err == nil {
			t.Error("expected error for oversized invitee list")
		}
	})
}

func TestValidateNonEmptyString(t *testing.T) {
	if err := ValidateNonEmptyString("value", "field"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := ValidateNonEmptyString("   ", "field"); err == nil {
		t.Error("expected error for whitespace-only string")
	}
}

func TestValidateStringLength(t *testing.T) {
	if err := ValidateStringLength("hello", 1, 10, "field"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if err := ValidateStringLength("", 1, 10, "field"); err == nil {
		t.Error("expected error for too-short string")
	}
	if err := ValidateStringLength(strings.Repeat("a", 11), 1, 10, "field"); err == nil {
		t.Error("expected error for too-long string")
	}
}
