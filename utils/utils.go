package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Pointer returns a pointer to the given value
func Pointer[T any](v T) *T {
	return &v
}

// ExtractDomain returns the domain part of an email address or URL-ish
// company domain field ("https://acme.test/" -> "acme.test").
func ExtractDomain(s string) string {
	s = strings.TrimSpace(s)
	if at := strings.LastIndex(s, "@"); at != -1 {
		s = s[at+1:]
	}
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if slash := strings.Index(s, "/"); slash != -1 {
		s = s[:slash]
	}
	return s
}

// FallbackRecipient synthesizes an address for a company with no
// contacts: info@<company-domain>.
func FallbackRecipient(companyDomain string) string {
	return "info@" + ExtractDomain(companyDomain)
}

// StartOfDay truncates t to midnight in its own location
func StartOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// GenerateRateLimitKey creates a unique key for rate limiting
func GenerateRateLimitKey(userID uint, path string) string {
	return fmt.Sprintf("rl:%d:%s", userID, path)
}

// ErrorResponse creates a standardized error response
func ErrorResponse(c *fiber.Ctx, status int, message string, err error) error {
	response := fiber.Map{
		"success": false,
		"error":   message,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	return c.Status(status).JSON(response)
}

// ParseUint safely parses a string to uint
func ParseUint(s string) uint {
	i, _ := strconv.ParseUint(s, 10, 32)
	return uint(i)
}
