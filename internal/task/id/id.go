// Package id provides unique identifier generation for tasks.
package id

import "github.com/google/uuid"

// Generate creates a new random task ID in canonical UUID form.
func Generate() string {
	return uuid.NewString()
}

// Valid reports whether s looks like an ID produced by Generate.
func Valid(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
