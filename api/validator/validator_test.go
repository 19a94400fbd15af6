package validator

import (
	"testing"
)

type testRequest struct {
	Name     string `validate:"required"`
	Color    string `validate:"required,oneof=#090c08 #474056 #8a95a5 #b9c6ae"`
	Optional string
}

func TestValidator_ValidateStruct(t *testing.T) {
	v := New()

	tests := []struct {
		name    string
		input   any
		wantErr bool
		fields  []string
	}{
		{
			name: "Valid struct",
			input: testRequest{
				Name:  "Maria",
				Color: "#474056",
			},
			wantErr: false,
		},
		{
			name:    "Missing required fields",
			input:   testRequest{},
			wantErr: true,
			fields:  []string{"Name", "Color"},
		},
		{
			name: "Color outside palette",
			input: testRequest{
				Name:  "Maria",
				Color: "#ffffff",
			},
			wantErr: true,
			fields:  []string{"Color"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.ValidateStruct(tt.input)

			if tt.wantErr && len(errs) == 0 {
				t.Error("ValidateStruct() expected errors but got none")
				return
			}
			if !tt.wantErr && len(errs) > 0 {
				t.Errorf("ValidateStruct() got unexpected errors: %v", errs)
				return
			}

			for _, wantField := range tt.fields {
				found := false
				for _, err := range errs {
					if err.Field == wantField {
						found = true
						break
					}
				}
				if !found {
					t.Errorf("Expected validation error for field %s, but got none", wantField)
				}
			}
		})
	}
}

func TestNew(t *testing.T) {
	v := New()
	if v == nil || v.cli == nil {
		t.Error("New() returned invalid validator")
	}
}
