// Package codesign reports the signing and notarization state of an
// application and checks it against a policy.
//
// Verify runs three checks in order: signature validity, a signer dump that
// yields the team identifier and authority chain, and a Gatekeeper assessment.
// Disk images are mounted first and the bundle inside is verified. Evaluate is
// pure and stops at the first policy violation.
package codesign
