package protocol

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantDocs     []string
		wantResidual string
	}{
		{
			name:         "empty input",
			input:        "",
			wantDocs:     nil,
			wantResidual: "",
		},
		{
			name:         "single document",
			input:        `{"type":"heartbeat","value":52}`,
			wantDocs:     []string{`{"type":"heartbeat","value":52}`},
			wantResidual: "",
		},
		{
			name:         "complete document followed by partial",
			input:        `{"type":"heartbeat","value":52}{"type":"heartbeat","val`,
			wantDocs:     []string{`{"type":"heartbeat","value":52}`},
			wantResidual: `{"type":"heartbeat","val`,
		},
		{
			name:         "three documents in one read",
			input:        `{"type":"a"}{"type":"b"}{"type":"c"}`,
			wantDocs:     []string{`{"type":"a"}`, `{"type":"b"}`, `{"type":"c"}`},
			wantResidual: "",
		},
		{
			name:         "nested objects",
			input:        `{"type":"x","obj":{"a":{"b":1}}}{`,
			wantDocs:     []string{`{"type":"x","obj":{"a":{"b":1}}}`},
			wantResidual: `{`,
		},
		{
			name:         "escaped quote before brace inside string",
			input:        `{"type":"x","v":"a\"}b"}`,
			wantDocs:     []string{`{"type":"x","v":"a\"}b"}`},
			wantResidual: "",
		},
		{
			name:         "braces inside string value",
			input:        `{"type":"x","v":"{{{"}`,
			wantDocs:     []string{`{"type":"x","v":"{{{"}`},
			wantResidual: "",
		},
		{
			name:         "escaped backslash closes string",
			input:        `{"type":"x","v":"a\\"}{"type":"y"}`,
			wantDocs:     []string{`{"type":"x","v":"a\\"}`, `{"type":"y"}`},
			wantResidual: "",
		},
		{
			name:         "three backslashes keep string open",
			input:        `{"type":"x","v":"a\\\"}"}`,
			wantDocs:     []string{`{"type":"x","v":"a\\\"}"}`},
			wantResidual: "",
		},
		{
			name:         "no complete document",
			input:        `{"type":"never","v":{"closing":`,
			wantDocs:     nil,
			wantResidual: `{"type":"never","v":{"closing":`,
		},
		{
			name:         "whitespace between documents belongs to the next span",
			input:        "{\"type\":\"a\"}\n {\"type\":\"b\"}\n",
			wantDocs:     []string{`{"type":"a"}`, "\n {\"type\":\"b\"}"},
			wantResidual: "\n",
		},
		{
			name:         "unterminated string swallows closing brace",
			input:        `{"type":"x}`,
			wantDocs:     nil,
			wantResidual: `{"type":"x}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, residual := Extract([]byte(tt.input))

			if len(docs) != len(tt.wantDocs) {
				t.Fatalf("got %d documents %q, want %d %q", len(docs), docs, len(tt.wantDocs), tt.wantDocs)
			}
			for i := range docs {
				if string(docs[i]) != tt.wantDocs[i] {
					t.Errorf("doc[%d] = %q, want %q", i, docs[i], tt.wantDocs[i])
				}
			}
			if string(residual) != tt.wantResidual {
				t.Errorf("residual = %q, want %q", residual, tt.wantResidual)
			}
		})
	}
}

func TestExtractDoesNotAliasInput(t *testing.T) {
	input := []byte(`{"type":"a"}{"type":"b`)
	docs, residual := Extract(input)

	for i := range input {
		input[i] = 'X'
	}

	if string(docs[0]) != `{"type":"a"}` {
		t.Errorf("document aliased input: %q", docs[0])
	}
	if string(residual) != `{"type":"b` {
		t.Errorf("residual aliased input: %q", residual)
	}
}

var roundTripDocs = []string{
	`{"type":"heartbeat","value":52}`,
	`{"type":"userLogin","login":"bob","password":"secret"}`,
	`{"type":"x","v":"a\"}b"}`,
	`{"type":"nested","a":{"b":{"c":[1,2,{"d":"}"}]}}}`,
	`{"type":"slashes","v":"\\\\","w":"\\\"{"}`,
	`{"type":"unicode","v":"héllo {wörld}"}`,
}

// feedChunks runs stream through a Framer split at the given offsets
func feedChunks(stream []byte, cuts []int) ([]string, string) {
	var f Framer
	var got []string
	prev := 0
	for _, c := range append(cuts, len(stream)) {
		for _, d := range f.Feed(stream[prev:c]) {
			got = append(got, string(d))
		}
		prev = c
	}
	return got, string(f.Residual())
}

func TestFramerRoundTripEverySingleSplit(t *testing.T) {
	trailing := `{"type":"partial","v":"}`
	stream := []byte(strings.Join(roundTripDocs, "") + trailing)

	for cut := 0; cut <= len(stream); cut++ {
		got, residual := feedChunks(stream, []int{cut})
		if !equalStrings(got, roundTripDocs) {
			t.Fatalf("cut at %d: got %q, want %q", cut, got, roundTripDocs)
		}
		if residual != trailing {
			t.Fatalf("cut at %d: residual = %q, want %q", cut, residual, trailing)
		}
	}
}

func TestFramerRoundTripRandomChunks(t *testing.T) {
	stream := []byte(strings.Join(roundTripDocs, ""))
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 500; iter++ {
		var cuts []int
		pos := 0
		for {
			pos += 1 + rng.Intn(12)
			if pos >= len(stream) {
				break
			}
			cuts = append(cuts, pos)
		}

		got, residual := feedChunks(stream, cuts)
		if !equalStrings(got, roundTripDocs) {
			t.Fatalf("iteration %d cuts %v: got %q", iter, cuts, got)
		}
		if residual != "" {
			t.Fatalf("iteration %d: residual = %q, want empty", iter, residual)
		}
	}
}

func TestFramerByteAtATime(t *testing.T) {
	stream := []byte(strings.Join(roundTripDocs, ""))
	var f Framer
	var got []string
	for i := range stream {
		for _, d := range f.Feed(stream[i : i+1]) {
			got = append(got, string(d))
		}
	}
	if !equalStrings(got, roundTripDocs) {
		t.Fatalf("got %q, want %q", got, roundTripDocs)
	}
}

func TestFramerResidualGrowsUnbounded(t *testing.T) {
	var f Framer
	f.Feed([]byte(`{"type":"never-closes","data":"`))

	chunk := bytes.Repeat([]byte("{"), 1024)
	for i := 0; i < 64; i++ {
		if docs := f.Feed(chunk); len(docs) != 0 {
			t.Fatalf("unexpected document after %d chunks", i)
		}
	}

	want := len(`{"type":"never-closes","data":"`) + 64*1024
	if f.Len() != want {
		t.Errorf("residual length = %d, want %d", f.Len(), want)
	}

	f.Reset()
	if f.Len() != 0 {
		t.Errorf("residual length after Reset = %d, want 0", f.Len())
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
