package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidSubdomain(t *testing.T) {
	valid := []string{"acme", "acme-crm", "a1b", "partner-01"}
	for _, s := range valid {
		assert.True(t, IsValidSubdomain(s), s)
	}
	invalid := []string{"", "ab", "-acme", "acme-", "Acme", "acme.crm", "a b"}
	for _, s := range invalid {
		assert.False(t, IsValidSubdomain(s), s)
	}
}

func TestIsValidDomain(t *testing.T) {
	assert.True(t, IsValidDomain("crm.example.com"))
	assert.True(t, IsValidDomain("Example.COM"))
	assert.False(t, IsValidDomain("localhost"))
	assert.False(t, IsValidDomain("http://example.com"))
	assert.False(t, IsValidDomain(""))
}

func TestIsValidEmail(t *testing.T) {
	assert.True(t, IsValidEmail("ops@acme.com"))
	assert.False(t, IsValidEmail("ops@"))
	assert.False(t, IsValidEmail("Ops <ops@acme.com>"))
}

func TestIsValidHexColor(t *testing.T) {
	assert.True(t, IsValidHexColor("#1a2b3c"))
	assert.True(t, IsValidHexColor("#ABC"))
	assert.False(t, IsValidHexColor("1a2b3c"))
	assert.False(t, IsValidHexColor("#12345"))
}

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "hello", SanitizeString("  hello\x00  ", 100))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))
}

func TestValidateCollectsErrors(t *testing.T) {
	errs := Validate(
		Required("name", ""),
		ValidEmail("email", "nope"),
		ValidSubdomain("subdomain", "acme"),
	)
	assert.Len(t, errs, 2)
	assert.Equal(t, "name", errs[0].Field)
}
