// Package log provides secure logging utilities with data sanitization capabilities.
package log

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
)

// SanitizationMode controls how sensitive data is handled in logs
type SanitizationMode int32

const (
	// ProductionMode hashes sensitive data for production use
	ProductionMode SanitizationMode = iota
	// DevelopmentMode shows truncated sensitive data for debugging
	DevelopmentMode
	// DebugMode shows full sensitive data (only for development)
	DebugMode
)

var currentMode atomic.Int32

func init() {
	if mode, ok := ParseMode(os.Getenv("BUNDLEFS_LOG_MODE")); ok {
		SetMode(mode)
	}
}

// ParseMode maps "production", "development" or "debug" to a mode
func ParseMode(s string) (SanitizationMode, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "production":
		return ProductionMode, true
	case "development":
		return DevelopmentMode, true
	case "debug":
		return DebugMode, true
	}
	return ProductionMode, false
}

// SetMode changes the sanitization mode for the whole process
func SetMode(mode SanitizationMode) {
	currentMode.Store(int32(mode))
}

// Mode returns the current sanitization mode
func Mode() SanitizationMode {
	return SanitizationMode(currentMode.Load())
}

// SanitizePath sanitizes file paths for logging based on the current mode
func SanitizePath(path string) string {
	if path == "" {
		return ""
	}

	switch Mode() {
	case DevelopmentMode:
		if len(path) <= 20 {
			return path
		}
		return path[:10] + "..." + path[len(path)-7:]
	case DebugMode:
		return path
	default:
		// Hash the path to prevent leaking sensitive filenames
		hash := sha256.Sum256([]byte(path))
		return fmt.Sprintf("hash:%x", hash[:8])
	}
}

// SanitizeUserID sanitizes user IDs for logging
func SanitizeUserID(userID string) string {
	if userID == "" {
		return ""
	}

	switch Mode() {
	case DevelopmentMode:
		if len(userID) <= 8 {
			return userID
		}
		return userID[:4] + "****"
	case DebugMode:
		return userID
	default:
		hash := sha256.Sum256([]byte(userID))
		return fmt.Sprintf("user_hash:%x", hash[:6])
	}
}

// SanitizeSize rounds sizes to the nearest KiB in production mode
func SanitizeSize(size int64) int64 {
	if Mode() == ProductionMode {
		return (size + 512) / 1024 * 1024
	}
	return size
}
