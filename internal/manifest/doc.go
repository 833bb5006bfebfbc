// Package manifest reads package manifests and turns their build and code_sign
// sections into pipeline inputs.
package manifest
