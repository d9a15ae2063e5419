package span

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestSpan_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Span
		wantErr bool
	}{
		{
			name:  "integer triple",
			input: `[3,5,"PRAENOMEN"]`,
			want:  Span{Start: 3, End: 5, Label: "PRAENOMEN"},
		},
		{
			name:  "integral float offsets",
			input: `[3.0,5.0,"NOMEN"]`,
			want:  Span{Start: 3, End: 5, Label: "NOMEN"},
		},
		{
			name:    "fractional offset",
			input:   `[3.5,5,"NOMEN"]`,
			wantErr: true,
		},
		{
			name:    "two elements",
			input:   `[3,5]`,
			wantErr: true,
		},
		{
			name:    "numeric label",
			input:   `[3,5,7]`,
			wantErr: true,
		},
		{
			name:    "object instead of array",
			input:   `{"start":3,"end":5,"label":"X"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Span
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Unmarshal(%s) expected error, got %v", tt.input, got)
				}
				if !errors.Is(err, ErrInvalidSpan) {
					t.Errorf("error = %v, want ErrInvalidSpan", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSpan_MarshalJSON(t *testing.T) {
	data, err := json.Marshal([]Span{{Start: 0, End: 18, Label: "B"}})
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if string(data) != `[[0,18,"B"]]` {
		t.Errorf("Marshal = %s, want %s", data, `[[0,18,"B"]]`)
	}
}

func TestWhitespaceTokenizer(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Token
	}{
		{
			name: "plain words",
			text: "D M C IVLIO VALENTI",
			want: []Token{{0, 1}, {2, 3}, {4, 5}, {6, 11}, {12, 19}},
		},
		{
			name: "editorial brackets stay in token, trailing period split",
			text: "D(is) M(anibus) sacrum.",
			want: []Token{{0, 5}, {6, 15}, {16, 22}, {22, 23}},
		},
		{
			name: "repeated whitespace",
			text: "  a \t b  ",
			want: []Token{{2, 3}, {6, 7}},
		},
		{
			name: "lone punctuation",
			text: "a , b",
			want: []Token{{0, 1}, {2, 3}, {4, 5}},
		},
		{
			name: "non-ascii counts code points",
			text: "Iulia·Felix fecit",
			want: []Token{{0, 11}, {12, 17}},
		},
		{
			name: "empty",
			text: "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WhitespaceTokenizer{}.Tokenize(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %v, want %v", tt.text, got, tt.want)
			}
		})
	}
}

func TestSet_Valid(t *testing.T) {
	if !(Set{{0, 4, "A"}, {4, 8, "B"}}).Valid() {
		t.Error("adjacent spans should be valid")
	}
	if (Set{{0, 5, "A"}, {4, 8, "B"}}).Valid() {
		t.Error("overlapping spans should be invalid")
	}
	if (Set{{4, 8, "B"}, {0, 2, "A"}}).Valid() {
		t.Error("unsorted spans should be invalid")
	}
}
