package config

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"hazardwatch/internal/pipeline"
)

// Runtime setting keys persisted in the settings store
const (
	KeyCooldown              = "cooldown"
	KeyConfidenceThreshold   = "confidence_threshold"
	KeyMonitoredClassID      = "monitored_class_id"
	KeyPrompt                = "prompt"
	KeyMinRetryInterval      = "min_retry_interval"
	KeyMaxAttemptsPerEpisode = "max_attempts_per_episode"
	KeySynonymsPrefix        = "synonyms."
)

// ApplyOverrides returns t with the runtime settings in kv applied. Values
// are validated; t is never modified.
func ApplyOverrides(t pipeline.Tuning, kv map[string]string) (pipeline.Tuning, error) {
	out := t
	out.Synonyms = make(map[pipeline.Condition][]string, len(t.Synonyms))
	for c, terms := range t.Synonyms {
		out.Synonyms[c] = terms
	}

	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := strings.TrimSpace(kv[key])
		switch {
		case key == KeyCooldown:
			d, err := time.ParseDuration(value)
			if err != nil || d <= 0 {
				return t, fmt.Errorf("%s must be a positive duration, got %q", key, value)
			}
			out.Cooldown = d
		case key == KeyConfidenceThreshold:
			f, err := strconv.ParseFloat(value, 32)
			if err != nil || f < 0 || f >= 1 {
				return t, fmt.Errorf("%s must be in [0, 1), got %q", key, value)
			}
			out.ConfidenceThreshold = float32(f)
		case key == KeyMonitoredClassID:
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return t, fmt.Errorf("%s must be a non-negative integer, got %q", key, value)
			}
			out.MonitoredClassID = n
		case key == KeyPrompt:
			if value == "" {
				return t, fmt.Errorf("%s must not be empty", key)
			}
			out.Prompt = value
		case key == KeyMinRetryInterval:
			d, err := time.ParseDuration(value)
			if err != nil || d < 0 {
				return t, fmt.Errorf("%s must be a non-negative duration, got %q", key, value)
			}
			out.MinRetryInterval = d
		case key == KeyMaxAttemptsPerEpisode:
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return t, fmt.Errorf("%s must be a non-negative integer, got %q", key, value)
			}
			out.MaxAttemptsPerEpisode = n
		case strings.HasPrefix(key, KeySynonymsPrefix):
			cond := pipeline.Condition(strings.TrimPrefix(key, KeySynonymsPrefix))
			if cond == "" {
				return t, fmt.Errorf("synonym key needs a condition name")
			}
			terms := splitTerms(value)
			if len(terms) == 0 {
				return t, fmt.Errorf("%s needs at least one term", key)
			}
			out.Synonyms[cond] = terms
		default:
			return t, fmt.Errorf("unknown setting %q", key)
		}
	}
	return out, nil
}

// TuningSettings renders t in the settings key space
func TuningSettings(t pipeline.Tuning) map[string]string {
	kv := map[string]string{
		KeyCooldown:              t.Cooldown.String(),
		KeyConfidenceThreshold:   strconv.FormatFloat(float64(t.ConfidenceThreshold), 'f', -1, 32),
		KeyMonitoredClassID:      strconv.Itoa(t.MonitoredClassID),
		KeyPrompt:                t.Prompt,
		KeyMinRetryInterval:      t.MinRetryInterval.String(),
		KeyMaxAttemptsPerEpisode: strconv.Itoa(t.MaxAttemptsPerEpisode),
	}
	for cond, terms := range t.Synonyms {
		kv[KeySynonymsPrefix+string(cond)] = strings.Join(terms, ", ")
	}
	return kv
}

func splitTerms(s string) []string {
	var terms []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			terms = append(terms, p)
		}
	}
	return terms
}
