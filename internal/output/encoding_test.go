package output

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"
)

type repoRow struct {
	ID    string  `json:"id"`
	Nodes int     `json:"nodes"`
	Score float64 `json:"score"`
}

func TestDeterministicEncode(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		wantJSON string
	}{
		{
			name: "simple struct with floats",
			input: struct {
				Name  string  `json:"name"`
				Score float64 `json:"score"`
				Count int     `json:"count"`
			}{
				Name:  "test",
				Score: 0.123456789,
				Count: 42,
			},
			wantJSON: `{"count":42,"name":"test","score":0.123457}`,
		},
		{
			name: "struct with omitted nil fields",
			input: struct {
				Name  string   `json:"name"`
				Score *float64 `json:"score,omitempty"`
			}{
				Name:  "test",
				Score: nil,
			},
			wantJSON: `{"name":"test"}`,
		},
		{
			name: "struct with zero values and omitempty",
			input: struct {
				Name  string `json:"name"`
				Count int    `json:"count,omitempty"`
			}{
				Name:  "test",
				Count: 0,
			},
			wantJSON: `{"name":"test"}`,
		},
		{
			name: "map with sorted keys",
			input: map[string]any{
				"zebra": "last",
				"alpha": "first",
				"beta":  "second",
			},
			wantJSON: `{"alpha":"first","beta":"second","zebra":"last"}`,
		},
		{
			name: "slice of structs",
			input: []struct {
				ID    string  `json:"id"`
				Value float64 `json:"value"`
			}{
				{ID: "a", Value: 1.123456789},
				{ID: "b", Value: 2.987654321},
			},
			wantJSON: `[{"id":"a","value":1.123457},{"id":"b","value":2.987654}]`,
		},
		{
			name:     "nil value",
			input:    nil,
			wantJSON: `null`,
		},
		{
			name:     "empty slice returns null",
			input:    []string{},
			wantJSON: `null`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DeterministicEncode(tt.input)
			if err != nil {
				t.Fatalf("DeterministicEncode() error = %v", err)
			}

			// Compare JSON strings
			var gotObj, wantObj any
			if err := json.Unmarshal(got, &gotObj); err != nil {
				t.Fatalf("Failed to unmarshal got: %v", err)
			}
			if err := json.Unmarshal([]byte(tt.wantJSON), &wantObj); err != nil {
				t.Fatalf("Failed to unmarshal want: %v", err)
			}

			gotJSON, _ := json.Marshal(gotObj)
			wantJSON, _ := json.Marshal(wantObj)

			if !bytes.Equal(gotJSON, wantJSON) {
				t.Errorf("DeterministicEncode() = %s, want %s", string(got), tt.wantJSON)
			}
		})
	}
}

func TestDeterministicEncodeConsistency(t *testing.T) {
	// Test that encoding the same data multiple times produces identical bytes
	data := map[string]any{
		"repos": []repoRow{
			{ID: "orders", Nodes: 10, Score: 0.5},
			{ID: "billing", Nodes: 5, Score: 0.9},
		},
		"scores": map[string]float64{
			"billing|api.Charge":  0.987654321,
			"orders|api.Checkout": 0.1,
		},
		"metadata": map[string]any{
			"version": "1.0",
			"score":   0.123456789,
		},
	}

	// Encode 10 times
	var results [][]byte
	for i := 0; i < 10; i++ {
		encoded, err := DeterministicEncode(data)
		if err != nil {
			t.Fatalf("DeterministicEncode() error = %v", err)
		}
		results = append(results, encoded)
	}

	// All results should be byte-identical
	for i := 1; i < len(results); i++ {
		if !bytes.Equal(results[0], results[i]) {
			t.Errorf("Encoding is not deterministic:\nrun 0: %s\nrun %d: %s", string(results[0]), i, string(results[i]))
		}
	}
}

func TestFloatRounding(t *testing.T) {
	tests := []struct {
		name  string
		input float64
		want  float64
	}{
		{
			name:  "round to 6 decimal places",
			input: 0.123456789,
			want:  0.123457,
		},
		{
			name:  "no rounding needed",
			input: 0.123456,
			want:  0.123456,
		},
		{
			name:  "round up",
			input: 0.1234567,
			want:  0.123457,
		},
		{
			name:  "round down",
			input: 0.1234564,
			want:  0.123456,
		},
		{
			name:  "zero",
			input: 0.0,
			want:  0.0,
		},
		{
			name:  "negative",
			input: -0.123456789,
			want:  -0.123457,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RoundFloat(tt.input)
			if got != tt.want {
				t.Errorf("RoundFloat(%v) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDeterministicEncodeIndented(t *testing.T) {
	data := map[string]any{
		"name":  "test",
		"value": 0.123456789,
	}

	got, err := DeterministicEncodeIndented(data, "  ")
	if err != nil {
		t.Fatalf("DeterministicEncodeIndented() error = %v", err)
	}

	// Verify it's valid JSON
	var decoded map[string]any
	if err := json.Unmarshal(got, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal result: %v", err)
	}

	// Verify indentation is present
	if !bytes.Contains(got, []byte("\n")) {
		t.Error("DeterministicEncodeIndented() should produce indented output")
	}
}

func TestDeterministicEncodeMarshalers(t *testing.T) {
	type keyed string
	data := struct {
		SavedAt time.Time        `json:"savedAt"`
		Took    time.Duration    `json:"took"`
		Counts  map[keyed]int    `json:"counts"`
		Raw     json.RawMessage  `json:"raw,omitempty"`
		Empty   map[string]int   `json:"empty,omitempty"`
		Tags    []string         `json:"tags,omitempty"`
		Nested  *struct{ A int } `json:"nested,omitempty"`
	}{
		SavedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		Took:    1500,
		Counts:  map[keyed]int{"b": 2, "a": 1},
	}

	got, err := DeterministicEncode(data)
	if err != nil {
		t.Fatalf("DeterministicEncode() error = %v", err)
	}
	want := `{"counts":{"a":1,"b":2},"savedAt":"2026-03-01T12:00:00Z","took":1500}`
	if string(got) != want {
		t.Errorf("DeterministicEncode() = %s, want %s", got, want)
	}
}

func TestComplexNestedStructure(t *testing.T) {
	type ComplexResponse struct {
		Repos     []repoRow              `json:"repos"`
		Symbols   []string               `json:"symbols,omitempty"`
		Metadata  map[string]any `json:"metadata"`
		Timestamp *string                `json:"timestamp,omitempty"`
	}

	response := ComplexResponse{
		Repos: []repoRow{
			{ID: "orders", Nodes: 10, Score: 0.5},
			{ID: "billing", Nodes: 5, Score: 0.9},
		},
		Symbols: nil, // Should be omitted
		Metadata: map[string]any{
			"zebra": "last",
			"alpha": "first",
			"score": 0.123456789,
		},
		Timestamp: nil, // Should be omitted
	}

	// Encode twice
	result1, err := DeterministicEncode(response)
	if err != nil {
		t.Fatalf("DeterministicEncode() error = %v", err)
	}

	result2, err := DeterministicEncode(response)
	if err != nil {
		t.Fatalf("DeterministicEncode() error = %v", err)
	}

	// Should be byte-identical
	if !bytes.Equal(result1, result2) {
		t.Errorf("Complex structure encoding is not deterministic:\n%s\nvs\n%s", string(result1), string(result2))
	}

	// Verify nil fields are omitted
	if bytes.Contains(result1, []byte("symbols")) {
		t.Error("Nil symbols field should be omitted")
	}
	if bytes.Contains(result1, []byte("timestamp")) {
		t.Error("Nil timestamp field should be omitted")
	}

	// Verify map keys are sorted
	var decoded map[string]any
	if err := json.Unmarshal(result1, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}

	metadata, ok := decoded["metadata"].(map[string]any)
	if !ok {
		t.Fatal("metadata is not a map")
	}

	// Re-encode to check key order
	metadataJSON, _ := json.Marshal(metadata)
	if !bytes.Contains(metadataJSON, []byte(`"alpha"`)) ||
		!bytes.Contains(metadataJSON, []byte(`"score"`)) ||
		!bytes.Contains(metadataJSON, []byte(`"zebra"`)) {
		t.Error("metadata keys are not properly handled")
	}
}

type Meta struct {
	Rev string `json:"rev"`
}

func TestDeterministicEncodeEmbedded(t *testing.T) {
	type row struct {
		Meta
		ID string `json:"id"`
	}
	type shadowed struct {
		Meta
		Rev string `json:"rev"`
	}

	got, err := DeterministicEncode(row{Meta: Meta{Rev: "b1"}, ID: "billing"})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"id":"billing","rev":"b1"}`; string(got) != want {
		t.Errorf("embedded = %s, want %s", got, want)
	}

	got, err = DeterministicEncode(shadowed{Meta: Meta{Rev: "inner"}, Rev: "outer"})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"rev":"outer"}`; string(got) != want {
		t.Errorf("shadowed = %s, want %s", got, want)
	}
}
