package llm

import "testing"

func TestRoleConstantsMatchWireValues(t *testing.T) {
	cases := map[string]string{
		RoleSystem:    "system",
		RoleUser:      "user",
		RoleAssistant: "assistant",
	}
	for got, want := range cases {
		if got != want {
			t.Errorf("role constant = %q, want %q", got, want)
		}
	}
}
