package domain

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "gatekeeper/pkg/domain-errors"
)

var uuidParsers = map[string]func(string) (string, error){
	"tenant": func(s string) (string, error) {
		v, err := ParseTenantID(s)
		return v.String(), err
	},
	"approval": func(s string) (string, error) {
		v, err := ParseApprovalID(s)
		return v.String(), err
	},
	"event": func(s string) (string, error) {
		v, err := ParseEventID(s)
		return v.String(), err
	},
	"dead letter": func(s string) (string, error) {
		v, err := ParseDeadLetterID(s)
		return v.String(), err
	},
}

func TestParseUUIDs(t *testing.T) {
	valid := "550e8400-e29b-41d4-a716-446655440000"
	inputs := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"not a uuid", "not-a-uuid", ""},
		{"nil uuid", uuid.Nil.String(), ""},
		{"sql injection", "'; DROP TABLE approval_items;--", ""},
		{"path traversal", "../../../etc/passwd", ""},
		{"null byte", "550e8400\x00-e29b-41d4-a716-446655440000", ""},
		{"oversized", strings.Repeat("a", 1000), ""},
		{"padded", "  " + valid + " ", valid},
		{"uppercase", strings.ToUpper(valid), valid},
		{"lowercase", valid, valid},
	}

	for kind, parse := range uuidParsers {
		for _, tt := range inputs {
			t.Run(kind+"/"+tt.name, func(t *testing.T) {
				got, err := parse(tt.input)
				if tt.want == "" {
					require.Error(t, err)
					assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
	}
}

func TestParseActorID(t *testing.T) {
	t.Run("trims and accepts role references", func(t *testing.T) {
		id, err := ParseActorID("  role:finance-lead ")
		require.NoError(t, err)
		assert.Equal(t, ActorID("role:finance-lead"), id)
	})

	t.Run("rejects blank", func(t *testing.T) {
		_, err := ParseActorID("   ")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects control characters", func(t *testing.T) {
		_, err := ParseActorID("alice\x00")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("rejects oversized references", func(t *testing.T) {
		_, err := ParseActorID(strings.Repeat("a", 300))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("system actor is recognised", func(t *testing.T) {
		assert.True(t, SystemActor.IsSystem())
		assert.False(t, ActorID("alice").IsSystem())
	})
}

// TestTenantIsolation_TypedIDs documents that tenant ids are never interchangeable
// with approval ids, even when they wrap the same UUID.
func TestTenantIsolation_TypedIDs(t *testing.T) {
	raw := uuid.New()
	tenant := TenantID(raw)
	approval := ApprovalID(raw)

	// var _ TenantID = approval // compile error
	assert.Equal(t, tenant.String(), approval.String())
	assert.False(t, tenant.IsNil())
}

func TestIDsEncodeAsText(t *testing.T) {
	tenant := TenantID(uuid.New())
	raw, err := json.Marshal(struct {
		Tenant TenantID `json:"tenant"`
	}{tenant})
	require.NoError(t, err)
	assert.JSONEq(t, `{"tenant":"`+tenant.String()+`"}`, string(raw))

	var decoded struct {
		Tenant TenantID `json:"tenant"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, tenant, decoded.Tenant)

	v, err := tenant.Value()
	require.NoError(t, err)
	var scanned TenantID
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, tenant, scanned)
}
