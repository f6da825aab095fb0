package profile

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Status is the lifecycle state stored with a profile.
type Status string

// Status values. No other value is ever assigned.
const (
	StatusStopped Status = "Stopped"
	StatusRunning Status = "Running"
)

// Valid reports whether s is one of the two known statuses.
func (s Status) Valid() bool {
	return s == StatusStopped || s == StatusRunning
}

// Epoch is a timestamp in seconds since the Unix epoch, with fraction.
type Epoch float64

// EpochFrom converts t to an Epoch.
func EpochFrom(t time.Time) Epoch {
	return Epoch(float64(t.Unix()) + float64(t.Nanosecond())/1e9)
}

// Time converts e back to a time.Time rounded to the microsecond, the
// precision a float64 holds for current Unix times.
func (e Epoch) Time() time.Time {
	sec, frac := math.Modf(float64(e))
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*1e3)
}

// Profile is one persisted account: a token, a job configuration and a status.
type Profile struct {
	Name      string          `json:"-"`
	Token     string          `json:"token"`
	Config    json.RawMessage `json:"config,omitempty"`
	Status    Status          `json:"status"`
	StartTime *Epoch          `json:"start_time,omitempty"`
}

// Copy returns a deep copy of p.
func (p Profile) Copy() Profile {
	cp := p
	if p.Config != nil {
		cp.Config = bytes.Clone(p.Config)
	}
	if p.StartTime != nil {
		st := *p.StartTime
		cp.StartTime = &st
	}
	return cp
}

// EffectiveConfig returns the profile's config, or the default document
// when none is stored.
func (p Profile) EffectiveConfig() json.RawMessage {
	if len(p.Config) == 0 {
		return DefaultConfig()
	}
	return bytes.Clone(p.Config)
}

// Started returns the start time and whether one is recorded.
func (p Profile) Started() (time.Time, bool) {
	if p.StartTime == nil {
		return time.Time{}, false
	}
	return p.StartTime.Time(), true
}

//go:embed default_config.json
var defaultConfig []byte

// DefaultConfig returns a copy of the built-in worker configuration.
func DefaultConfig() json.RawMessage {
	return bytes.Clone(defaultConfig)
}

// MaskedToken hides the token, showing the last four characters of long ones.
func (p Profile) MaskedToken() string {
	switch {
	case p.Token == "":
		return ""
	case len(p.Token) <= 8:
		return "****"
	default:
		return "****" + p.Token[len(p.Token)-4:]
	}
}

// ValidateName checks that name can be used for a new profile. New names must
// also be usable in file paths and carry no surrounding whitespace.
func ValidateName(name string) error {
	if err := ValidatePathName(name); err != nil {
		return err
	}
	if strings.TrimSpace(name) != name {
		return NewError(ErrCodeInvalidName, fmt.Sprintf("profile name %q has surrounding whitespace", name), nil)
	}
	return nil
}

// ValidatePathName checks that name can be embedded in a file name. Profiles
// loaded from disk are kept whatever their name; this is checked only where
// a path is derived from one.
func ValidatePathName(name string) error {
	switch {
	case name == "":
		return NewError(ErrCodeInvalidName, "profile name is empty", nil)
	case name == "." || name == "..":
		return NewError(ErrCodeInvalidName, fmt.Sprintf("profile name %q is reserved", name), nil)
	case strings.ContainsAny(name, "/\\\x00"):
		return NewError(ErrCodeInvalidName, fmt.Sprintf("profile name %q contains a path separator", name), nil)
	}
	return nil
}
