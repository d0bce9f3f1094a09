package rules

import (
	"errors"
	"strings"
	"testing"

	"github.com/lunaform/switchboard/internal/types"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		payload types.Payload
		want    any
		wantErr error
	}{
		{
			name:    "top level field",
			path:    "status",
			payload: types.Payload{"status": "active"},
			want:    "active",
		},
		{
			name:    "nested object",
			path:    "message.status",
			payload: types.Payload{"message": map[string]any{"status": "sent"}},
			want:    "sent",
		},
		{
			name:    "array index",
			path:    "items.1.name",
			payload: types.Payload{"items": []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}}},
			want:    "b",
		},
		{
			name:    "string re-parse hop",
			path:    "payload.message.status",
			payload: types.Payload{"payload": map[string]any{"message": `{"status": "queued"}`}},
			want:    "queued",
		},
		{
			name:    "missing field",
			path:    "missing",
			payload: types.Payload{"status": "active"},
			wantErr: types.ErrFieldNotFound,
		},
		{
			name:    "missing intermediate",
			path:    "a.b.c",
			payload: types.Payload{"a": map[string]any{"x": 1.0}},
			wantErr: types.ErrFieldNotFound,
		},
		{
			name:    "non-parseable string mid path",
			path:    "message.status",
			payload: types.Payload{"message": "not json at all"},
			wantErr: types.ErrFieldNotFound,
		},
		{
			name:    "scalar string parse mid path",
			path:    "message.status",
			payload: types.Payload{"message": `"just a string"`},
			wantErr: types.ErrFieldNotFound,
		},
		{
			name:    "array index out of range",
			path:    "items.5",
			payload: types.Payload{"items": []any{"a"}},
			wantErr: types.ErrFieldNotFound,
		},
		{
			name:    "non-numeric array segment",
			path:    "items.first",
			payload: types.Payload{"items": []any{"a"}},
			wantErr: types.ErrFieldNotFound,
		},
		{
			name:    "path through scalar",
			path:    "count.value",
			payload: types.Payload{"count": 3.0},
			wantErr: types.ErrFieldNotFound,
		},
		{
			name:    "path too deep",
			path:    strings.Repeat("a.", types.MaxPathDepth) + "b",
			payload: types.Payload{},
			wantErr: types.ErrPathTooDeep,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.path, tt.payload)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Resolve() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve() error = %v, want nil", err)
			}
			if got != tt.want {
				t.Errorf("Resolve() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStringify(t *testing.T) {
	tests := []struct {
		name   string
		value  any
		want   string
		wantOK bool
	}{
		{name: "string", value: "hello", want: "hello", wantOK: true},
		{name: "float", value: 3.5, want: "3.5", wantOK: true},
		{name: "whole float", value: 42.0, want: "42", wantOK: true},
		{name: "int", value: 7, want: "7", wantOK: true},
		{name: "bool", value: true, want: "true", wantOK: true},
		{name: "object not comparable", value: map[string]any{"a": 1}, wantOK: false},
		{name: "array not comparable", value: []any{"a"}, wantOK: false},
		{name: "nil not comparable", value: nil, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Stringify(tt.value)
			if ok != tt.wantOK {
				t.Fatalf("Stringify() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Stringify() = %q, want %q", got, tt.want)
			}
		})
	}
}
