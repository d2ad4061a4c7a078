package httpx

import "testing"

func TestParams_FormBody(t *testing.T) {
	req := testRequest("POST", "HTTP/1.1", "Content-Type", "application/x-www-form-urlencoded")
	req.Body = []byte("a=1&b=2&c=xyz")
	got := req.Params()
	want := map[string]string{"a": "1", "b": "2", "c": "xyz"}
	if len(got) != len(want) {
		t.Fatalf("params = %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("params[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestParams_LastOccurrenceWins(t *testing.T) {
	req := testRequest("GET", "HTTP/1.1")
	req.RawQuery = "k=first&k=second"
	if got := req.Param("k"); got != "second" {
		t.Fatalf("k = %q, want second", got)
	}
}

func TestParams_FormOverridesQuery(t *testing.T) {
	req := testRequest("POST", "HTTP/1.1")
	req.RawQuery = "k=query&q=only"
	req.Body = []byte("k=form")
	if req.Param("k") != "form" || req.Param("q") != "only" {
		t.Fatalf("params = %v", req.Params())
	}
}

func TestParams_NonFormBodyIgnored(t *testing.T) {
	req := testRequest("POST", "HTTP/1.1", "Content-Type", "application/json")
	req.Body = []byte(`k=v`)
	if _, ok := req.Params()["k"]; ok {
		t.Fatal("json body parsed as form")
	}
}

func TestParams_Decoding(t *testing.T) {
	req := testRequest("GET", "HTTP/1.1")
	req.RawQuery = "name=a+b%21&bad=%zz&mixed=a+b%21%zz%4&flag"
	p := req.Params()
	if p["name"] != "a b!" {
		t.Fatalf("name = %q", p["name"])
	}
	if p["bad"] != "%zz" {
		t.Fatalf("bad = %q", p["bad"])
	}
	if p["mixed"] != "a b!%zz%4" {
		t.Fatalf("mixed = %q", p["mixed"])
	}
	if v, ok := p["flag"]; !ok || v != "" {
		t.Fatalf("flag = %q %v", v, ok)
	}
}

func TestParams_MatchOverrides(t *testing.T) {
	req := testRequest("GET", "HTTP/1.1")
	req.RawQuery = "id=query"
	req.Match, _ = MustRule("/u/${id}").Match("/u/7")
	if got := req.Param("id"); got != "7" {
		t.Fatalf("id = %q", got)
	}
}
