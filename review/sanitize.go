package review

import (
	"strings"

	"github.com/c360studio/semreview/patch"
)

// sensitiveFragments mark a path as secret-bearing when any of them
// appears in the lowercased path. The id_rsa fragment also covers
// derived names like id_rsa.pub.
var sensitiveFragments = []string{
	"secrets",
	"credentials",
	".env",
	".pem",
	".key",
	".p12",
	"id_rsa",
}

// SensitivePath reports whether the path looks secret-bearing. The
// check is deliberately broad; a false positive costs one file of
// review coverage, a false negative can echo a credential into a
// public PR comment.
func SensitivePath(path string) bool {
	lower := strings.ToLower(path)
	for _, fragment := range sensitiveFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// SecurityRemediationText replaces any security finding message that
// targets a sensitive path, so review output never echoes secret
// material.
const SecurityRemediationText = "This file appears to contain secrets or credentials. " +
	"Rotate any values that may have been exposed, move them into your secret manager, " +
	"and load them at runtime instead of committing them. " +
	"Finding details are withheld to avoid reproducing sensitive content."

// SanitizeFindings enforces the output-safety rules on reviewer
// findings and returns the cleaned slice:
//
//   - findings on sensitive paths lose their suggested patch
//   - security findings on sensitive paths get the canonical
//     remediation message and lose their evidence
//   - suggested patches that are not structurally valid unified diffs
//     are dropped; valid ones are kept in cleaned form
//
// The input slice is not modified.
func SanitizeFindings(findings []Finding) []Finding {
	if len(findings) == 0 {
		return nil
	}
	out := make([]Finding, len(findings))
	copy(out, findings)

	for i := range out {
		f := &out[i]
		if SensitivePath(f.File) {
			f.SuggestedPatch = nil
			if f.Type == FindingSecurity {
				f.Message = SecurityRemediationText
				f.Evidence = ""
			}
			continue
		}
		if f.SuggestedPatch == nil {
			continue
		}
		cleaned := patch.Clean(*f.SuggestedPatch)
		if !patch.LooksLikeUnifiedDiff(cleaned) {
			f.SuggestedPatch = nil
			continue
		}
		f.SuggestedPatch = &cleaned
	}
	return out
}
