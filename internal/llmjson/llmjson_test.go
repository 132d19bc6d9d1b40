package llmjson

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestExtractObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
		ok   bool
	}{
		{"bare", `{"a":1}`, `{"a":1}`, true},
		{"prose", "Sure! Here it is: {\"a\":1} hope it helps", `{"a":1}`, true},
		{"fenced", "```json\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`, true},
		{"none", "no braces here", "", false},
		{"reversed", "} before {", "", false},
	}
	for _, tc := range cases {
		got, ok := ExtractObject(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Fatalf("%s: got (%q,%v) want (%q,%v)", tc.name, got, ok, tc.want, tc.ok)
		}
	}
}

func TestDecode(t *testing.T) {
	var out struct {
		Queries []string `json:"queries"`
	}
	if err := Decode("result:\n{\"queries\":[\"q1\",\"q2\"]}", &out); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(out.Queries) != 2 || out.Queries[1] != "q2" {
		t.Fatalf("unexpected decode: %+v", out)
	}
	if err := Decode("nothing", &out); !errors.Is(err, ErrNoObject) {
		t.Fatalf("expected ErrNoObject, got %v", err)
	}
	if err := Decode("{not json}", &out); err == nil || errors.Is(err, ErrNoObject) {
		t.Fatalf("expected syntax error, got %v", err)
	}
}

func TestStrings(t *testing.T) {
	got := Strings([]interface{}{" a ", "", 3.0, nil, "b", "   "})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected strings: %#v", got)
	}
}

func TestList(t *testing.T) {
	cases := []struct {
		in   string
		want []string
	}{
		{`["a", " b ", 1]`, []string{"a", "b"}},
		{`"solo"`, []string{"solo"}},
		{`null`, []string{}},
		{`{"a":1}`, []string{}},
		{``, []string{}},
	}
	for _, tc := range cases {
		got := List(json.RawMessage(tc.in))
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %#v want %#v", tc.in, got, tc.want)
		}
		for i := range got {
			if got[i] != tc.want[i] {
				t.Fatalf("%s: got %#v want %#v", tc.in, got, tc.want)
			}
		}
	}
}

func TestText(t *testing.T) {
	cases := map[string]string{
		`" x "`:     "x",
		`3.5`:       "3.5",
		`true`:      "true",
		`["a","b"]`: "a b",
		`{"k":"v"}`: "",
		`null`:      "",
		`not json`:  "",
	}
	for in, want := range cases {
		if got := Text(json.RawMessage(in)); got != want {
			t.Fatalf("%s: got %q want %q", in, got, want)
		}
	}
}

func TestGlossary(t *testing.T) {
	got := Glossary(json.RawMessage(`{"CTR":"click-through rate"," ":"blank","n":2}`))
	if len(got) != 2 || got["CTR"] != "click-through rate" || got["n"] != "2" {
		t.Fatalf("unexpected object glossary %v", got)
	}
	got = Glossary(json.RawMessage(`[{"term":"ROAS","definition":"return on ad spend"},"CPM",{"other":1}]`))
	if len(got) != 2 || got["ROAS"] != "return on ad spend" {
		t.Fatalf("unexpected array glossary %v", got)
	}
	if len(Glossary(json.RawMessage(`"just text"`))) != 0 {
		t.Fatalf("scalar glossary should be empty")
	}
}
