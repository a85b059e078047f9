package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"outsy/services/auth/internal/apperr"
	"outsy/services/auth/internal/password"
	"outsy/services/auth/internal/users"
)

const dateLayout = "2006-01-02"

// MinUsernameLength is the shortest username signup accepts.
const MinUsernameLength = 2

// Date is a calendar day. It decodes from "YYYY-MM-DD" or an RFC 3339 timestamp.
type Date struct {
	time.Time
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	s = strings.TrimSpace(s)
	if t, err := time.Parse(dateLayout, s); err == nil {
		d.Time = t
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return fmt.Errorf("date %q is neither YYYY-MM-DD nor RFC 3339", s)
	}
	y, m, day := t.Date()
	d.Time = time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	return nil
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

// SignupInput is the body of a signup request.
type SignupInput struct {
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	Username  string   `json:"username"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Gender    string   `json:"gender"`
	Birthdate Date     `json:"birthdate"`
	Location  string   `json:"location"`
	Interests []string `json:"interests"`
	Bio       *string  `json:"bio,omitempty"`
	IGURL     *string  `json:"igUrl,omitempty"`
}

// Validate reports every problem with the input as a single BadRequest.
func (in SignupInput) Validate(now time.Time) error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if addr, err := mail.ParseAddress(strings.TrimSpace(in.Email)); err != nil || addr.Address != strings.TrimSpace(in.Email) {
		add("email is invalid")
	}
	switch n := len(in.Password); {
	case n < 8:
		add("password must be at least 8 characters")
	case n > password.MaxBytes:
		add("password must be at most %d bytes", password.MaxBytes)
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.Username)) < MinUsernameLength {
		add("username must be at least %d characters", MinUsernameLength)
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.FirstName)) < 2 {
		add("firstName must be at least 2 characters")
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.LastName)) < 2 {
		add("lastName must be at least 2 characters")
	}
	if strings.TrimSpace(in.Gender) == "" {
		add("gender is required")
	}
	if in.Birthdate.IsZero() {
		add("birthdate is required")
	} else if in.Birthdate.After(now) {
		add("birthdate is in the future")
	}
	if strings.TrimSpace(in.Location) == "" {
		add("location is required")
	}
	if in.Interests == nil {
		add("interests is required")
	}

	if len(problems) > 0 {
		return apperr.BadRequest(strings.Join(problems, "; "))
	}
	return nil
}

func (in SignupInput) params(hash string) users.CreateParams {
	return users.CreateParams{
		Email:        in.Email,
		Username:     strings.TrimSpace(in.Username),
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Gender:       strings.TrimSpace(in.Gender),
		Birthdate:    in.Birthdate.Time,
		Location:     strings.TrimSpace(in.Location),
		Interests:    in.Interests,
		Bio:          in.Bio,
		IGURL:        in.IGURL,
	}
}
