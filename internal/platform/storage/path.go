package storage

import (
	"fmt"
	"path"
	"strings"
	"unicode"
)

const uploadsPrefix = "uploads"

// UploadKey composes the object key for a customer upload: uploads/<user>/<upload>/<file>.
func UploadKey(userID, uploadID, fileName string) (string, error) {
	owner := strings.TrimSpace(userID)
	if owner == "" {
		owner = "anonymous"
	}
	owner, err := validateSegment("userID", owner)
	if err != nil {
		return "", err
	}
	upload, err := validateSegment("uploadID", uploadID)
	if err != nil {
		return "", err
	}
	name, err := CleanFileName(fileName)
	if err != nil {
		return "", err
	}
	return path.Join(uploadsPrefix, owner, upload, name), nil
}

// CleanFileName strips directories and replaces characters that are awkward in URLs.
func CleanFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if i := strings.LastIndexAny(value, `/\`); i >= 0 {
		value = value[i+1:]
	}
	value = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '.', r == '-', r == '_':
			return r
		case unicode.IsSpace(r):
			return '_'
		default:
			return -1
		}
	}, value)
	value = strings.TrimLeft(value, ".")
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	return value, nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
