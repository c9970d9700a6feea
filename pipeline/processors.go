package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
)

// CleanerProcessor cleans data
type CleanerProcessor struct {
	*BaseProcessor
	config CleanerConfig
}

// CleanerConfig contains cleaner configuration
type CleanerConfig struct {
	TrimSpace      bool
	RemoveEmpty    bool
	NormalizeSpace bool
	ToLower        bool
	ToUpper        bool
}

// NewCleanerProcessor creates a cleaner processor
func NewCleanerProcessor(config CleanerConfig) *CleanerProcessor {
	return &CleanerProcessor{
		BaseProcessor: NewBaseProcessor("cleaner"),
		config:        config,
	}
}

// Process cleans the data
func (cp *CleanerProcessor) Process(ctx context.Context, data interface{}) (interface{}, error) {
	switch v := data.(type) {
	case string:
		return cp.cleanString(v), nil
	case map[string]interface{}:
		return cp.cleanMap(v), nil
	case []interface{}:
		return cp.cleanSlice(v), nil
	default:
		return data, nil
	}
}

func (cp *CleanerProcessor) cleanString(s string) string {
	if cp.config.TrimSpace {
		s = strings.TrimSpace(s)
	}
	if cp.config.NormalizeSpace {
		s = regexp.MustCompile(`\s+`).ReplaceAllString(s, " ")
	}
	if cp.config.ToLower {
		s = strings.ToLower(s)
	}
	if cp.config.ToUpper {
		s = strings.ToUpper(s)
	}
	return s
}

func (cp *CleanerProcessor) cleanMap(m map[string]interface{}) map[string]interface{} {
	cleaned := make(map[string]interface{})

	for k, v := range m {
		switch val := v.(type) {
		case string:
			cleanedVal := cp.cleanString(val)
			if !cp.config.RemoveEmpty || cleanedVal != "" {
				cleaned[k] = cleanedVal
			}
		case map[string]interface{}:
			cleaned[k] = cp.cleanMap(val)
		case []interface{}:
			cleaned[k] = cp.cleanSlice(val)
		default:
			cleaned[k] = v
		}
	}

	return cleaned
}

func (cp *CleanerProcessor) cleanSlice(s []interface{}) []interface{} {
	cleaned := make([]interface{}, 0, len(s))

	for _, v := range s {
		switch val := v.(type) {
		case string:
			cleanedVal := cp.cleanString(val)
			if !cp.config.RemoveEmpty || cleanedVal != "" {
				cleaned = append(cleaned, cleanedVal)
			}
		case map[string]interface{}:
			cleaned = append(cleaned, cp.cleanMap(val))
		case []interface{}:
			cleaned = append(cleaned, cp.cleanSlice(val))
		default:
			cleaned = append(cleaned, v)
		}
	}

	return cleaned
}

// ValidatorProcessor validates data
type ValidatorProcessor struct {
	*BaseProcessor
	rules []ValidationRule
}

// ValidationRule defines a validation rule
type ValidationRule struct {
	Field    string
	Required bool
	Type     string // string, number, email, url, etc.
	Min      interface{}
	Max      interface{}
	Pattern  string
	Custom   func(interface{}) bool
}

// NewValidatorProcessor creates a validator processor
func NewValidatorProcessor(rules []ValidationRule) *ValidatorProcessor {
	return &ValidatorProcessor{
		BaseProcessor: NewBaseProcessor("validator"),
		rules:         rules,
	}
}

// Process validates the data
func (vp *ValidatorProcessor) Process(ctx context.Context, data interface{}) (interface{}, error) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return data, fmt.Errorf("validator expects map[string]interface{}")
	}

	for _, rule := range vp.rules {
		value, exists := m[rule.Field]

		// Check required
		if rule.Required && !exists {
			return nil, fmt.Errorf("required field missing: %s", rule.Field)
		}

		if !exists {
			continue
		}

		// Type validation
		if rule.Type != "" {
			if err := vp.validateType(value, rule.Type); err != nil {
				return nil, fmt.Errorf("field %s: %w", rule.Field, err)
			}
		}

		// Pattern validation
		if rule.Pattern != "" {
			if s, ok := value.(string); ok {
				if matched, _ := regexp.MatchString(rule.Pattern, s); !matched {
					return nil, fmt.Errorf("field %s does not match pattern", rule.Field)
				}
			}
		}

		// Custom validation
		if rule.Custom != nil && !rule.Custom(value) {
			return nil, fmt.Errorf("field %s failed custom validation", rule.Field)
		}
	}

	return data, nil
}

func (vp *ValidatorProcessor) validateType(value interface{}, dataType string) error {
	switch dataType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("expected string")
		}
	case "number":
		switch value.(type) {
		case int, int64, float64:
		default:
			return fmt.Errorf("expected number")
		}
	case "email":
		if s, ok := value.(string); ok {
			if _, err := mail.ParseAddress(s); err != nil {
				return fmt.Errorf("invalid email")
			}
		}
	case "url":
		if s, ok := value.(string); ok {
			u, err := url.ParseRequestURI(s)
			if err != nil || u.Scheme == "" || u.Host == "" {
				return fmt.Errorf("invalid URL")
			}
		}
	}
	return nil
}

// DeduplicatorProcessor removes duplicates
type DeduplicatorProcessor struct {
	*BaseProcessor
	keyField string
	seen     map[string]bool
}

// NewDeduplicatorProcessor creates a deduplicator processor
func NewDeduplicatorProcessor(keyField string) *DeduplicatorProcessor {
	return &DeduplicatorProcessor{
		BaseProcessor: NewBaseProcessor("deduplicator"),
		keyField:      keyField,
		seen:          make(map[string]bool),
	}
}

// Process removes duplicates
func (dp *DeduplicatorProcessor) Process(ctx context.Context, data interface{}) (interface{}, error) {
	switch v := data.(type) {
	case map[string]interface{}:
		key := dp.getKey(v)
		if dp.seen[key] {
			return nil, nil // Skip duplicate
		}
		dp.seen[key] = true
		return v, nil

	case []interface{}:
		unique := make([]interface{}, 0)
		for _, item := range v {
			if m, ok := item.(map[string]interface{}); ok {
				key := dp.getKey(m)
				if !dp.seen[key] {
					dp.seen[key] = true
					unique = append(unique, item)
				}
			} else {
				unique = append(unique, item)
			}
		}
		return unique, nil

	default:
		return data, nil
	}
}

func (dp *DeduplicatorProcessor) getKey(m map[string]interface{}) string {
	if dp.keyField != "" {
		if v, ok := m[dp.keyField]; ok {
			return fmt.Sprintf("%v", v)
		}
	}

	// Use hash of entire map
	h := md5.New()
	h.Write([]byte(fmt.Sprintf("%v", m)))
	return hex.EncodeToString(h.Sum(nil))
}
