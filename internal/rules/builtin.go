package rules

import (
	"strings"

	"github.com/abdelilah771/devsecops-pipeline/internal/model"
)

// Built-in rule names
const (
	UnpinnedActionRule = "unpinned_action_rule"
	SecretLeakRule     = "secret_leak_rule"
)

// Fix keys understood by the fix suggester
const (
	FixPinGitHubAction = "pin_github_action"
	FixMaskSecret      = "mask_secret_in_logs"
)

// credentialMarkers are matched against the lowercased message
var credentialMarkers = []string{"secret", "aws_access_key_id"}

// Builtins returns the built-in rules in evaluation order
func Builtins() []Rule {
	return []Rule{
		UnpinnedAction(),
		SecretLeak(),
	}
}

// UnpinnedAction flags actions referenced through the mutable "latest" tag
func UnpinnedAction() Rule {
	return Func{
		RuleName: UnpinnedActionRule,
		Predicate: func(ev model.Event) bool {
			return strings.Contains(ev.Message, "uses:") && strings.Contains(ev.Message, "@latest")
		},
		Builder: func(ev model.Event) model.Vulnerability {
			return model.Vulnerability{
				OWASPCategory:   "CICD-SEC-07: Insecure System Configuration (Unpinned Action)",
				Severity:        model.SeverityHigh,
				Description:     "GitHub Action is used with mutable tag 'latest' instead of a pinned commit SHA.",
				Location:        model.LocationFor(ev, ev.Message),
				Evidence:        model.Evidence{Rule: UnpinnedActionRule, Confidence: 0.99},
				SuggestedFixKey: FixPinGitHubAction,
			}
		},
	}
}

// SecretLeak flags credentials printed into pipeline logs
func SecretLeak() Rule {
	return Func{
		RuleName: SecretLeakRule,
		Predicate: func(ev model.Event) bool {
			lower := strings.ToLower(ev.Message)
			for _, marker := range credentialMarkers {
				if strings.Contains(lower, marker) {
					return true
				}
			}
			return false
		},
		Builder: func(ev model.Event) model.Vulnerability {
			return model.Vulnerability{
				OWASPCategory:   "CICD-SEC-06: Insufficient Credential Hygiene",
				Severity:        model.SeverityCritical,
				Description:     "Possible secret leakage detected in pipeline logs.",
				Location:        model.LocationFor(ev, ev.Message),
				Evidence:        model.Evidence{Rule: SecretLeakRule, Confidence: 0.95},
				SuggestedFixKey: FixMaskSecret,
			}
		},
	}
}
