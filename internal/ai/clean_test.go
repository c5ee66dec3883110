package ai

import "testing"

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"plain object untouched",
			`{"category_id":"groceries","confidence":0.9}`,
			`{"category_id":"groceries","confidence":0.9}`,
		},
		{
			"json fence",
			"```json\n{\"category_id\":\"groceries\"}\n```",
			`{"category_id":"groceries"}`,
		},
		{
			"bare fence",
			"```\n[1,2,3]\n```",
			`[1,2,3]`,
		},
		{
			"surrounding prose",
			"Here is the mapping you asked for:\n{\"date_column\":0}\nLet me know if you need more.",
			`{"date_column":0}`,
		},
		{
			"array of objects keeps the array",
			"The rules are: [{\"a\":1},{\"b\":2}] as requested",
			`[{"a":1},{"b":2}]`,
		},
		{
			"object containing array",
			"Result {\"ids\":[1,2,3]} done",
			`{"ids":[1,2,3]}`,
		},
		{
			"no json at all",
			"I could not determine the schema.",
			"I could not determine the schema.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := cleanModelJSON(tt.in); got != tt.want {
				t.Errorf("cleanModelJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
