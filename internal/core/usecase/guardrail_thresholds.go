package usecase

import "github.com/kirillkom/grounded-rag/internal/core/domain"

var thresholdProfiles = map[domain.ThresholdProfile]domain.AnswerabilityThreshold{
	domain.ThresholdStrict: {
		MinConfidence:  0.8,
		MinTopScore:    0.8,
		MinMeanScore:   0.6,
		MaxStdDev:      0.25,
		MinResultCount: 2,
	},
	domain.ThresholdModerate: {
		MinConfidence:  0.6,
		MinTopScore:    0.6,
		MinMeanScore:   0.4,
		MaxStdDev:      0.35,
		MinResultCount: 1,
	},
	domain.ThresholdPermissive: {
		MinConfidence:  0.4,
		MinTopScore:    0.4,
		MinMeanScore:   0.25,
		MaxStdDev:      0.5,
		MinResultCount: 1,
	},
}

// lowConfidenceCutoff separates the fixed floor profile from linear scaling in
// CustomThreshold.
const lowConfidenceCutoff = 0.3

// CustomThreshold derives a full threshold from one confidence parameter.
// Values below 0.3 use a fixed floor profile; the two branches do not meet at
// the cutoff.
func CustomThreshold(confidence float64) domain.AnswerabilityThreshold {
	c := clamp01(confidence)
	if c < lowConfidenceCutoff {
		return domain.AnswerabilityThreshold{
			MinConfidence:  c,
			MinTopScore:    0.25,
			MinMeanScore:   0.15,
			MaxStdDev:      0.5,
			MinResultCount: 1,
		}
	}
	minCount := 1
	if c >= 0.8 {
		minCount = 2
	}
	return domain.AnswerabilityThreshold{
		MinConfidence:  c,
		MinTopScore:    c,
		MinMeanScore:   c * 2 / 3,
		MaxStdDev:      0.5 - 0.25*c,
		MinResultCount: minCount,
	}
}

// ThresholdFor resolves the effective threshold and profile name of cfg.
func ThresholdFor(cfg domain.GuardrailConfig) (domain.AnswerabilityThreshold, domain.ThresholdProfile) {
	if cfg.Override != nil {
		return *cfg.Override, domain.ThresholdCustom
	}
	if cfg.Profile == domain.ThresholdCustom {
		return CustomThreshold(cfg.CustomConfidence), domain.ThresholdCustom
	}
	if threshold, ok := thresholdProfiles[cfg.Profile]; ok {
		return threshold, cfg.Profile
	}
	return thresholdProfiles[domain.ThresholdModerate], domain.ThresholdModerate
}
