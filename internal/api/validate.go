package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
)

const maxFieldLength = 255

var codePattern = regexp.MustCompile(`^\d{6}$`)

var deviceTypes = map[string]bool{
	"macos": true, "ios": true, "android": true, "web": true, "windows": true, "linux": true,
}

// decodeJSON reads the body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decodeJSON(r *http.Request, v any, allowEmpty bool) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func validEmail(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > maxFieldLength {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}

func validCode(s string) bool {
	return codePattern.MatchString(s)
}

func validUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

func tooLong(s string) bool {
	return utf8.RuneCountInString(s) > maxFieldLength
}

// deviceFields is embedded in login and register bodies.
type deviceFields struct {
	DeviceID   string `json:"device_id,omitempty"`
	DeviceName string `json:"device_name,omitempty"`
	DeviceType string `json:"device_type,omitempty"`
}

func (d deviceFields) validate() string {
	switch {
	case tooLong(d.DeviceID):
		return "device_id is too long"
	case tooLong(d.DeviceName):
		return "device_name is too long"
	case d.DeviceType != "" && !deviceTypes[d.DeviceType]:
		return "device_type must be one of macos, ios, android, web, windows, linux"
	}
	return ""
}

func validateProfile(username, fullName string) string {
	if username != "" && !auth.IsValidUsername(username) {
		return "username must be 3-100 letters, digits, hyphens or underscores"
	}
	if tooLong(fullName) {
		return "full_name is too long"
	}
	return ""
}
