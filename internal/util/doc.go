// Package util provides common utility functions used across the authguard library.
//
// These utilities are used internally by multiple packages to avoid code
// duplication and keep logging behavior consistent across the codebase.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging sensitive data
package util
