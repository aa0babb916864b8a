package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// canonical field names and their accepted aliases. snake_case is the
// canonical spelling; camelCase is accepted on input.
var fieldAliases = map[string][]string{
	"server_url":      {"server_url", "serverUrl"},
	"keyword":         {"keyword"},
	"users":           {"users"},
	"city":            {"city"},
	"date":            {"date"},
	"price":           {"price"},
	"price_index":     {"price_index", "priceIndex"},
	"if_commit_order": {"if_commit_order", "ifCommitOrder"},
	"device_caps":     {"device_caps", "deviceCaps"},
	"wait_timeout":    {"wait_timeout", "waitTimeout"},
	"retry_delay":     {"retry_delay", "retryDelay"},
	"start_at_time":   {"start_at_time", "startAtTime"},
	"warmup_sec":      {"warmup_sec", "warmupSec"},
	"devices":         {"devices"},
}

// Load reads and resolves a JSONC configuration file.
func Load(path string) ([]TicketConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	configs, err := Resolve(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return configs, nil
}

// Resolve parses the raw JSONC document and returns the base
// configuration followed by one configuration per device override, in
// input order. A document with no devices yields exactly one config.
func Resolve(raw []byte) ([]TicketConfig, error) {
	stripped := jsonc.ToJSON(raw)

	var doc map[string]any
	if err := json.Unmarshal(stripped, &doc); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	base := normalizeKeys(doc)

	overrides, fieldErr := deviceList(base["devices"])
	if fieldErr != "" {
		return nil, newValidationError("config validation failed", []string{fieldErr})
	}
	delete(base, "devices")

	baseConfig, errs := buildConfig(base)
	if len(errs) > 0 {
		return nil, newValidationError("config validation failed", errs)
	}

	configs := []TicketConfig{baseConfig}
	for i, override := range overrides {
		merged := mergeOverride(base, normalizeKeys(override))
		cfg, errs := buildConfig(merged)
		if len(errs) > 0 {
			message := fmt.Sprintf("device override %d failed validation", i+1)
			return nil, newValidationError(message, errs)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func deviceList(value any) ([]map[string]any, string) {
	if value == nil {
		return nil, ""
	}
	items, ok := value.([]any)
	if !ok {
		return nil, fieldError("devices", "must be an array of objects")
	}
	overrides := make([]map[string]any, 0, len(items))
	for i, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			return nil, fieldError(fmt.Sprintf("devices[%d]", i), "must be an object")
		}
		overrides = append(overrides, entry)
	}
	return overrides, ""
}

// normalizeKeys maps every accepted alias onto its canonical snake_case
// name. The snake_case spelling wins when both forms are present.
func normalizeKeys(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for canonical, aliases := range fieldAliases {
		for _, alias := range aliases {
			value, ok := doc[alias]
			if !ok {
				continue
			}
			if _, taken := out[canonical]; taken && alias != canonical {
				continue
			}
			out[canonical] = value
		}
	}
	return out
}

// mergeOverride layers a device override onto the base document. The
// capability map is merged key-by-key (override wins, base keys kept);
// every other field overrides only when explicitly non-null and, for
// strings, non-blank.
func mergeOverride(base, override map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(override))
	for key, value := range base {
		merged[key] = value
	}

	baseCaps, _ := base["device_caps"].(map[string]any)
	overrideCaps, _ := override["device_caps"].(map[string]any)
	if len(overrideCaps) > 0 || len(baseCaps) > 0 {
		caps := make(map[string]any, len(baseCaps)+len(overrideCaps))
		for key, value := range baseCaps {
			caps[key] = value
		}
		for key, value := range overrideCaps {
			caps[key] = value
		}
		merged["device_caps"] = caps
	}

	for key, value := range override {
		if key == "device_caps" || value == nil {
			continue
		}
		if text, ok := value.(string); ok && strings.TrimSpace(text) == "" {
			continue
		}
		merged[key] = value
	}
	return merged
}

// buildConfig validates a canonical document and produces a resolved
// TicketConfig with defaults applied. Every problem found is reported;
// validation does not stop at the first failure.
func buildConfig(doc map[string]any) (TicketConfig, []string) {
	var errs []string
	cfg := TicketConfig{
		CommitOrder: true,
		WaitTimeout: DefaultWaitTimeout,
		RetryDelay:  DefaultRetryDelay,
	}

	serverURL, err := requiredString(doc["server_url"], "server_url")
	if err != "" {
		errs = append(errs, err)
	} else {
		cfg.ServerURL = normalizeServerURL(serverURL)
	}

	cfg.Keyword = optionalString(doc["keyword"])
	cfg.City = optionalString(doc["city"])
	cfg.Date = optionalString(doc["date"])
	cfg.Price = optionalString(doc["price"])
	cfg.StartAt = optionalString(doc["start_at_time"])

	users, err := userList(doc["users"])
	if err != "" {
		errs = append(errs, err)
	}
	cfg.Users = users

	priceIndex, err := optionalIndex(doc["price_index"], "price_index")
	if err != "" {
		errs = append(errs, err)
	}
	cfg.PriceIndex = priceIndex

	commit, err := boolValue(doc["if_commit_order"], "if_commit_order", true)
	if err != "" {
		errs = append(errs, err)
	}
	cfg.CommitOrder = commit

	caps, err := capsMap(doc["device_caps"])
	if err != "" {
		errs = append(errs, err)
	}
	cfg.DeviceCaps = caps

	waitTimeout, err := durationValue(doc["wait_timeout"], "wait_timeout", DefaultWaitTimeout)
	if err != "" {
		errs = append(errs, err)
	}
	cfg.WaitTimeout = waitTimeout

	retryDelay, err := durationValue(doc["retry_delay"], "retry_delay", DefaultRetryDelay)
	if err != "" {
		errs = append(errs, err)
	}
	cfg.RetryDelay = retryDelay

	warmup, err := optionalIndex(doc["warmup_sec"], "warmup_sec")
	if err != "" {
		errs = append(errs, err)
	}
	if warmup != nil {
		cfg.WarmupSec = *warmup
	}

	return cfg, errs
}

func normalizeServerURL(url string) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return url
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return "http://" + url
	}
	return url
}

func requiredString(value any, name string) (string, string) {
	if value == nil {
		return "", fieldError(name, "must not be empty")
	}
	text, ok := value.(string)
	if !ok {
		return "", fieldError(name, "must be a string")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fieldError(name, "must not be empty")
	}
	return text, ""
}

// optionalString normalizes a blank or missing value to absent.
func optionalString(value any) string {
	text, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(text)
}

func userList(value any) ([]string, string) {
	switch v := value.(type) {
	case nil:
		return nil, ""
	case string:
		return cleanUsers([]any{v}), ""
	case []any:
		return cleanUsers(v), ""
	default:
		return nil, fieldError("users", "must be an array of strings")
	}
}

func cleanUsers(items []any) []string {
	var users []string
	for _, item := range items {
		if item == nil {
			continue
		}
		text := strings.TrimSpace(fmt.Sprint(item))
		if text == "" {
			continue
		}
		users = append(users, text)
	}
	return users
}

func optionalIndex(value any, name string) (*int, string) {
	switch v := value.(type) {
	case nil:
		return nil, ""
	case float64:
		if v < 0 || v != math.Trunc(v) {
			return nil, fieldError(name, "must be a non-negative integer")
		}
		index := int(v)
		return &index, ""
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return nil, ""
		}
		index, err := strconv.Atoi(text)
		if err != nil || index < 0 {
			return nil, fieldError(name, "must be a non-negative integer")
		}
		return &index, ""
	default:
		return nil, fieldError(name, "must be a non-negative integer")
	}
}

func boolValue(value any, name string, fallback bool) (bool, string) {
	switch v := value.(type) {
	case nil:
		return fallback, ""
	case bool:
		return v, ""
	case float64:
		return v != 0, ""
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "":
			return fallback, ""
		case "true", "1", "yes", "y":
			return true, ""
		case "false", "0", "no", "n":
			return false, ""
		}
		return fallback, fieldError(name, "must be a boolean")
	default:
		return fallback, fieldError(name, "must be a boolean")
	}
}

func capsMap(value any) (map[string]any, string) {
	switch v := value.(type) {
	case nil:
		return map[string]any{}, ""
	case string:
		if strings.TrimSpace(v) == "" {
			return map[string]any{}, ""
		}
		return nil, fieldError("device_caps", "must be an object")
	case map[string]any:
		caps := make(map[string]any, len(v))
		for key, item := range v {
			caps[key] = item
		}
		return caps, ""
	default:
		return nil, fieldError("device_caps", "must be an object")
	}
}

// durationValue parses a non-negative number of seconds (number or
// numeric string) into a duration.
func durationValue(value any, name string, fallback time.Duration) (time.Duration, string) {
	switch v := value.(type) {
	case nil:
		return fallback, ""
	case float64:
		if v < 0 {
			return fallback, fieldError(name, "must be a non-negative number")
		}
		return time.Duration(v * float64(time.Second)), ""
	case string:
		text := strings.TrimSpace(v)
		if text == "" {
			return fallback, ""
		}
		seconds, err := strconv.ParseFloat(text, 64)
		if err != nil || seconds < 0 {
			return fallback, fieldError(name, "must be a non-negative number")
		}
		return time.Duration(seconds * float64(time.Second)), ""
	default:
		return fallback, fieldError(name, "must be a non-negative number")
	}
}
