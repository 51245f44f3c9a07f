package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// IDRegex validates user, call and group call identifiers
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	// UsernameRegex validates usernames for token issuance
	UsernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

// ValidateUserID validates a user identifier
func ValidateUserID(userID string) error {
	if userID == "" {
		return fmt.Errorf("user ID is required")
	}
	if len(userID) > 100 {
		return fmt.Errorf("user ID is too long (max 100 characters)")
	}
	if !IDRegex.MatchString(userID) {
		return fmt.Errorf("invalid user ID format")
	}
	return nil
}

// ValidateCallID validates a call identifier
func ValidateCallID(callID string) error {
	if callID == "" {
		return fmt.Errorf("call ID is required")
	}
	if len(callID) > 100 {
		return fmt.Errorf("call ID is too long (max 100 characters)")
	}
	if !IDRegex.MatchString(callID) {
		return fmt.Errorf("invalid call ID format")
	}
	return nil
}

// ValidateGroupCallID validates a group call identifier
func ValidateGroupCallID(groupCallID string) error {
	if groupCallID == "" {
		return fmt.Errorf("group call ID is required")
	}
	if len(groupCallID) > 100 {
		return fmt.Errorf("group call ID is too long (max 100 characters)")
	}
	if !IDRegex.MatchString(groupCallID) {
		return fmt.Errorf("invalid group call ID format")
	}
	return nil
}

// ValidateUsername validates username
func ValidateUsername(username string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if len(username) < 3 {
		return fmt.Errorf("username must be at least 3 characters")
	}
	if len(username) > 50 {
		return fmt.Errorf("username is too long (max 50 characters)")
	}
	if !UsernameRegex.MatchString(username) {
		return fmt.Errorf("username contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateCallType validates a call type value
func ValidateCallType(callType string) error {
	switch callType {
	case "voice", "video":
		return nil
	default:
		return fmt.Errorf("invalid call type (must be voice or video)")
	}
}

// ValidateTitle validates a group call title
func ValidateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title is required")
	}
	if utf8.RuneCountInString(title) > 100 {
		return fmt.Errorf("title is too long (max 100 characters)")
	}
	if !utf8.ValidString(title) {
		return fmt.Errorf("title contains invalid characters")
	}
	return nil
}

// ValidateInvitees validates the invitee list of a group call
func ValidateInvitees(invitees []string) error {
	if len(invitees) == 0 {
		return fmt.Errorf("at least one invitee is required")
	}
	if len(invitees) > 100 {
		return fmt.Errorf("too many invitees (max 100)")
	}
	seen := make(map[string]bool, len(invitees))
	for _, id := range invitees {
		if err := ValidateUserID(id); err != nil {
			return fmt.Errorf("invitee %q: %w", id, err)
		}
		if seen[id] {
			return fmt.Errorf("duplicate invitee %q", id)
		}
		seen[id] = true
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
