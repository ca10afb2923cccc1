package canonical

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Te-De-CX/Waas/internal/waaserr"
)

var walletContract = Fields("wallet", "name", "refId", "accountType")

func TestCanonicalize_DeclaredOrder(t *testing.T) {
	got, err := walletContract.Canonicalize(Values{
		"accountType": "Merchant",
		"refId":       "ref_1700000000000",
		"name":        "Test User",
	})
	require.NoError(t, err)
	require.Equal(t, `{"name":"Test User","refId":"ref_1700000000000","accountType":"Merchant"}`, got)
}

func TestCanonicalize_Deterministic(t *testing.T) {
	v := Values{"name": "Ada", "refId": "r1", "accountType": "User"}
	first, err := walletContract.Canonicalize(v)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := walletContract.Canonicalize(Values{"accountType": "User", "refId": "r1", "name": "Ada"})
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestCanonicalize_Alphabetical(t *testing.T) {
	c := walletContract
	c.Order = Alphabetical
	got, err := c.Canonicalize(Values{"name": "n", "refId": "r", "accountType": "a"})
	require.NoError(t, err)
	require.Equal(t, `{"accountType":"a","name":"n","refId":"r"}`, got)
}

func TestCanonicalize_ContractViolations(t *testing.T) {
	tests := []struct {
		name   string
		values Values
	}{
		{"missing required", Values{"name": "n", "refId": "r"}},
		{"unexpected field", Values{"name": "n", "refId": "r", "accountType": "a", "extra": "x"}},
		{"float amount", Values{"name": "n", "refId": 1.5, "accountType": "a"}},
		{"null value", Values{"name": nil, "refId": "r", "accountType": "a"}},
		{"bad utf8", Values{"name": string([]byte{0xff, 0xfe}), "refId": "r", "accountType": "a"}},
		{"bad number", Values{"name": "n", "refId": json.Number("1e"), "accountType": "a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := walletContract.Canonicalize(tt.values)
			require.ErrorIs(t, err, waaserr.ErrContractViolation)
		})
	}
}

func TestCanonicalize_OptionalOmitted(t *testing.T) {
	c := Fields("p", "amount", "email", "expireAt").Optional("email")

	got, err := c.Canonicalize(Values{"amount": "100.00", "expireAt": int64(1700001800)})
	require.NoError(t, err)
	require.Equal(t, `{"amount":"100.00","expireAt":1700001800}`, got)

	got, err = c.Canonicalize(Values{"amount": "1", "email": "", "expireAt": json.Number("5")})
	require.NoError(t, err)
	require.Equal(t, `{"amount":"1","email":"","expireAt":5}`, got)
}

func TestCanonicalize_EscapingMatchesJSONStringify(t *testing.T) {
	c := Fields("esc", "v")
	got, err := c.Canonicalize(Values{"v": "a<b>&\"q\"\\\n\t\x01é\u2028"})
	require.NoError(t, err)
	// JSON.stringify leaves <, >, & and U+2028 untouched.
	require.Equal(t, "{\"v\":\"a<b>&\\\"q\\\"\\\\\\n\\t\\u0001é\u2028\"}", got)
}

func TestCanonicalize_DuplicateRule(t *testing.T) {
	_, err := Fields("dup", "a", "a").Canonicalize(Values{"a": "x"})
	require.ErrorIs(t, err, waaserr.ErrContractViolation)
}

func TestAppendField(t *testing.T) {
	got, err := AppendField(`{"a":"1"}`, "sign", "abc")
	require.NoError(t, err)
	require.Equal(t, `{"a":"1","sign":"abc"}`, got)

	got, err = AppendField(`{}`, "sign", "abc")
	require.NoError(t, err)
	require.Equal(t, `{"sign":"abc"}`, got)

	_, err = AppendField(`[1]`, "sign", "abc")
	require.ErrorIs(t, err, waaserr.ErrContractViolation)
}
