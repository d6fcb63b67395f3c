package recipient

import "testing"

// TestRecipient_Validate tests required fields.
func TestRecipient_Validate(t *testing.T) {
	tests := []struct {
		name string
		r    Recipient
		want error
	}{
		{"valid", Recipient{ID: "l1", Address: "ana@example.com"}, nil},
		{"missing id", Recipient{Address: "ana@example.com"}, ErrEmptyID},
		{"blank address", Recipient{ID: "l1", Address: "  "}, ErrEmptyAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.r.Validate(); err != tt.want {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestRecipient_Clone_IsDeep tests that edits to the source map do not leak into the clone.
func TestRecipient_Clone_IsDeep(t *testing.T) {
	src := Recipient{ID: "l1", Fields: map[string]string{"name": "Ana"}}
	c := src.Clone()
	src.Fields["name"] = "Beto"
	if got := c.Field("name"); got != "Ana" {
		t.Errorf("clone Field(name) = %q, want %q", got, "Ana")
	}
}

// TestRecipient_Field_Missing tests that a missing field is empty.
func TestRecipient_Field_Missing(t *testing.T) {
	r := Recipient{ID: "l1"}
	if got := r.Field("name"); got != "" {
		t.Errorf("Field(name) = %q, want empty", got)
	}
}

// TestCloneAll_PreservesOrder tests batch copy ordering.
func TestCloneAll_PreservesOrder(t *testing.T) {
	batch := []Recipient{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	out := CloneAll(batch)
	for i := range batch {
		if out[i].ID != batch[i].ID {
			t.Errorf("out[%d].ID = %q, want %q", i, out[i].ID, batch[i].ID)
		}
	}
}
