package codesign

import (
	"fmt"
	"slices"
)

// SigningInfo is the result of verifying one file.
type SigningInfo struct {
	// Signed is true iff the signature validity check exited with zero.
	Signed bool
	// TeamID is the team identifier from the signer dump, empty if absent.
	TeamID string
	// Authority is the signer chain in the order it was reported.
	Authority []string
	// Notarized is true iff the Gatekeeper assessment exited with zero.
	Notarized bool
	// RawOutput holds every check's output when verification ran in debug mode.
	RawOutput string
	// Errors lists problems that prevented verification.
	Errors []string
}

// Policy is what a caller requires of a signature.
type Policy struct {
	RequiredTeamID      string   `yaml:"team_id"`
	RequireNotarized    bool     `yaml:"require_notarized"`
	RequiredAuthorities []string `yaml:"authorities"`
}

// Policy violation messages.
const (
	msgNotSigned    = "File is not signed"
	msgNotNotarized = "File is not notarized"
)

// Evaluate checks info against policy. Checks run in a fixed order and the
// first violation ends the evaluation: not signed, team identifier mismatch,
// missing notarization, then each required authority. The returned errors are
// info.Errors followed by at most one violation; a pass returns no errors.
func Evaluate(info *SigningInfo, policy Policy) (bool, []string) {
	if info == nil {
		info = new(SigningInfo)
	}

	violation := firstViolation(info, policy)
	if violation == "" {
		return true, nil
	}

	errs := make([]string, 0, len(info.Errors)+1)
	errs = append(errs, info.Errors...)
	errs = append(errs, violation)

	return false, errs
}

func firstViolation(info *SigningInfo, policy Policy) string {
	if !info.Signed {
		return msgNotSigned
	}

	if policy.RequiredTeamID != "" && info.TeamID != policy.RequiredTeamID {
		found := info.TeamID
		if found == "" {
			found = "none"
		}

		return fmt.Sprintf("Team ID mismatch: found %s, expected %s", found, policy.RequiredTeamID)
	}

	if policy.RequireNotarized && !info.Notarized {
		return msgNotNotarized
	}

	for _, authority := range policy.RequiredAuthorities {
		if !slices.Contains(info.Authority, authority) {
			return "Required signing authority not found: " + authority
		}
	}

	return ""
}
