package db

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchema_ContainsOverlapBackstop(t *testing.T) {
	s := Schema()

	assert.Contains(t, s, "appointments_no_overlap EXCLUDE USING gist")
	assert.Contains(t, s, "WHERE (status = 'SCHEDULED')")
	assert.Contains(t, s, "appointment_id  uuid NOT NULL UNIQUE")
	assert.Contains(t, s, "invoice_number  text NOT NULL UNIQUE")
}

func TestSchema_IsIdempotent(t *testing.T) {
	for _, stmt := range strings.Split(Schema(), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		assert.Regexp(t, `IF NOT EXISTS`, stmt, "statement must be re-runnable: %s", firstLine(stmt))
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}
