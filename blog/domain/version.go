package domain

import (
	"fmt"
	"time"
)

// ValidationStatus records whether a version's generated HTML passed validation.
type ValidationStatus string

const (
	NotValidated ValidationStatus = "not_validated"
	Valid        ValidationStatus = "valid"
	Invalid      ValidationStatus = "invalid"
)

func (s ValidationStatus) IsKnown() bool {
	switch s {
	case NotValidated, Valid, Invalid:
		return true
	}
	return false
}

// versionNameLayout sorts lexically in creation order and is safe as a path segment.
const versionNameLayout = "20060102T150405.000000000Z"

// Version is one generated HTML rendering of a Post. The HTML itself lives in
// the blob store under (location, Name); a Version never carries it inline.
type Version struct {
	ID               string
	PostID           string
	Name             string
	GenerationPrompt *string
	Status           ValidationStatus
	ValidationError  string
	CreatedAt        time.Time
}

func (v Version) IsValid() bool {
	return v.Status == Valid
}

// nextVersionName returns a timestamp name not already used by any of versions.
func nextVersionName(at time.Time, versions []Version) string {
	base := at.UTC().Format(versionNameLayout)
	taken := make(map[string]struct{}, len(versions))
	for _, v := range versions {
		taken[v.Name] = struct{}{}
	}
	name := base
	for n := 2; ; n++ {
		if _, exists := taken[name]; !exists {
			return name
		}
		name = fmt.Sprintf("%s-%d", base, n)
	}
}
