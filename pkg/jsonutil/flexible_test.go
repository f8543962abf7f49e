package jsonutil

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestFlexibleStringValue(t *testing.T) {
	tests := []struct {
		name  string
		input json.RawMessage
		want  string
	}{
		{
			name:  "string value",
			input: json.RawMessage(`"last week"`),
			want:  "last week",
		},
		{
			name:  "integer value",
			input: json.RawMessage(`42`),
			want:  "42",
		},
		{
			name:  "float value",
			input: json.RawMessage(`3.14`),
			want:  "3.14",
		},
		{
			name:  "boolean true",
			input: json.RawMessage(`true`),
			want:  "true",
		},
		{
			name:  "null value",
			input: json.RawMessage(`null`),
			want:  "",
		},
		{
			name:  "nil raw message",
			input: nil,
			want:  "",
		},
		{
			name:  "large integer preserves precision",
			input: json.RawMessage(`9007199254740992`),
			want:  "9007199254740992",
		},
		{
			name:  "nested object falls back to raw string",
			input: json.RawMessage(`{"key":"value"}`),
			want:  `{"key":"value"}`,
		},
		{
			name:  "negative integer",
			input: json.RawMessage(`-7`),
			want:  "-7",
		},
		{
			name:  "empty string",
			input: json.RawMessage(`""`),
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlexibleStringValue(tt.input)
			if got != tt.want {
				t.Errorf("FlexibleStringValue(%s) = %q, want %q", string(tt.input), got, tt.want)
			}
		})
	}
}

func TestFlexibleStringSlice(t *testing.T) {
	tests := []struct {
		name  string
		input json.RawMessage
		want  []string
	}{
		{
			name:  "string array",
			input: json.RawMessage(`["sales","items"]`),
			want:  []string{"sales", "items"},
		},
		{
			name:  "mixed types coerced",
			input: json.RawMessage(`["sales", 7, true]`),
			want:  []string{"sales", "7", "true"},
		},
		{
			name:  "bare scalar becomes single element",
			input: json.RawMessage(`"sales"`),
			want:  []string{"sales"},
		},
		{
			name:  "null returns nil",
			input: json.RawMessage(`null`),
			want:  nil,
		},
		{
			name:  "empty returns nil",
			input: nil,
			want:  nil,
		},
		{
			name:  "empty array",
			input: json.RawMessage(`[]`),
			want:  []string{},
		},
		{
			name:  "null elements dropped",
			input: json.RawMessage(`["sales", null, "items"]`),
			want:  []string{"sales", "items"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlexibleStringSlice(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FlexibleStringSlice(%s) = %v, want %v", string(tt.input), got, tt.want)
			}
		})
	}
}
