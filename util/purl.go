// Package util provides utility functions for the backend.
package util

import (
	"strings"

	"github.com/package-url/packageurl-go"
)

// BasePURL removes the version component from a PURL to create a base
// package identifier. Dependency findings fingerprint on the base PURL so
// version bumps do not change an issue's identity.
// Example: pkg:npm/lodash@4.17.20 -> pkg:npm/lodash
func BasePURL(purlStr string) (string, error) {
	parsed, err := packageurl.FromString(purlStr)
	if err != nil {
		return "", err
	}

	base := packageurl.PackageURL{
		Type:      parsed.Type,
		Namespace: parsed.Namespace,
		Name:      parsed.Name,
		// Version, Qualifiers, Subpath intentionally omitted
	}

	return strings.ToLower(base.ToString()), nil
}
