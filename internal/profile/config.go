package profile

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ValidateConfig checks that doc is a JSON object.
func ValidateConfig(doc []byte) error {
	if !gjson.ValidBytes(doc) {
		return NewError(ErrCodeInvalidConfig, "config is not valid JSON", nil)
	}
	if !gjson.ParseBytes(doc).IsObject() {
		return NewError(ErrCodeInvalidConfig, "config must be a JSON object", nil)
	}
	return nil
}

// SetConfig replaces a profile's config document.
func (s *Store) SetConfig(name string, doc json.RawMessage) error {
	s.barrier.RLock()
	defer s.barrier.RUnlock()

	if err := ValidateConfig(doc); err != nil {
		return err
	}
	if err := s.update(name, func(p *Profile) error {
		p.Config = append(json.RawMessage(nil), doc...)
		return nil
	}); err != nil {
		return err
	}
	return s.Save()
}

// ResetConfig restores the default config document.
func (s *Store) ResetConfig(name string) error {
	s.barrier.RLock()
	defer s.barrier.RUnlock()

	if err := s.update(name, func(p *Profile) error {
		p.Config = DefaultConfig()
		return nil
	}); err != nil {
		return err
	}
	return s.Save()
}

// ConfigValue returns the raw JSON found at path in the profile's effective
// config. Paths use gjson syntax, e.g. "main.jobs.0.enabled".
func (s *Store) ConfigValue(name, path string) (json.RawMessage, error) {
	p, err := s.Get(name)
	if err != nil {
		return nil, err
	}

	res := gjson.GetBytes(p.EffectiveConfig(), path)
	if !res.Exists() {
		return nil, NewError(ErrCodeInvalidConfig, fmt.Sprintf("config path %q not found", path), nil)
	}
	return json.RawMessage(res.Raw), nil
}

// SetConfigValue sets the raw JSON value at path in the profile's effective
// config. Paths use sjson syntax; intermediate objects are created.
func (s *Store) SetConfigValue(name, path string, value json.RawMessage) error {
	s.barrier.RLock()
	defer s.barrier.RUnlock()

	if path == "" {
		return NewError(ErrCodeInvalidConfig, "config path is empty", nil)
	}
	if !gjson.ValidBytes(value) {
		return NewError(ErrCodeInvalidConfig, fmt.Sprintf("value for %q is not valid JSON", path), nil)
	}

	if err := s.update(name, func(p *Profile) error {
		doc, err := sjson.SetRawBytes(p.EffectiveConfig(), path, value)
		if err != nil {
			return NewError(ErrCodeInvalidConfig, fmt.Sprintf("failed to set %q", path), err)
		}
		if err := ValidateConfig(doc); err != nil {
			return err
		}
		p.Config = doc
		return nil
	}); err != nil {
		return err
	}
	return s.Save()
}
