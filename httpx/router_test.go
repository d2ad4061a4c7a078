package httpx

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
)

func TestURLRule_RecoversSubstitutedValues(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	word := func(alphabet string) string {
		n := 1 + rng.Intn(8)
		var b strings.Builder
		for i := 0; i < n; i++ {
			b.WriteByte(alphabet[rng.Intn(len(alphabet))])
		}
		return b.String()
	}
	const (
		digits = "0123456789"
		words  = "abcxyzABC_019"
		slugs  = "abc-def.q"
	)
	for i := 0; i < 200; i++ {
		rule := NewRule("/api/${v}/items/${id}.${fmt}/x-${slug}").
			Validate("id", `[0-9]+`).
			Validate("slug", `[a-z.\-]+`)
		want := map[string]string{
			"v":    word(words),
			"id":   word(digits),
			"fmt":  word("abcdefgh"),
			"slug": strings.ToLower(word(slugs)),
		}
		path := "/api/" + want["v"] + "/items/" + want["id"] + "." + want["fmt"] + "/x-" + want["slug"]
		m, ok := rule.Match(path)
		if !ok {
			t.Fatalf("no match for %q", path)
		}
		for k, v := range want {
			if m.Vars[k] != v {
				t.Fatalf("%q: %s = %q, want %q", path, k, m.Vars[k], v)
			}
		}
		if m.Trailing != "" {
			t.Fatalf("%q: trailing = %q", path, m.Trailing)
		}
	}
}

func TestURLRule_DefaultWhenOmitted(t *testing.T) {
	rule := NewRule("/page/${n}").Default("n", "1")
	m, ok := rule.Match("/page/")
	if !ok {
		t.Fatal("omitted placeholder did not match")
	}
	if got := m.Get("n"); got != "1" {
		t.Fatalf("n = %q, want default 1", got)
	}
	m, ok = rule.Match("/page/7")
	if !ok || m.Get("n") != "7" {
		t.Fatalf("explicit value: ok=%v n=%q", ok, m.Get("n"))
	}
}

func TestURLRule_RequiredPlaceholder(t *testing.T) {
	rule := NewRule("/page/${n}")
	if _, ok := rule.Match("/page/"); ok {
		t.Fatal("placeholder without default matched an empty segment")
	}
}

func TestURLRule_TrailingSuffix(t *testing.T) {
	rule := MustRule("/files")
	m, ok := rule.Match("/files/docs/readme.txt")
	if !ok {
		t.Fatal("no match")
	}
	if m.Trailing != "/docs/readme.txt" {
		t.Fatalf("trailing = %q", m.Trailing)
	}
	if _, ok := rule.Match("/other/files"); ok {
		t.Fatal("rule matched a path not starting with the template")
	}
}

func TestURLRule_LiteralsAreEscaped(t *testing.T) {
	rule := MustRule("/a.b/(x)")
	if _, ok := rule.Match("/aXb/(x)"); ok {
		t.Fatal("dot was treated as a wildcard")
	}
	if _, ok := rule.Match("/a.b/(x)"); !ok {
		t.Fatal("literal path did not match")
	}
}

func TestURLRule_PatternWithOwnGroups(t *testing.T) {
	rule := NewRule("/d/${date}/${slug}").Validate("date", `(\d{4})-(\d{2})`)
	m, ok := rule.Match("/d/2024-05/hello")
	if !ok {
		t.Fatal("no match")
	}
	if m.Get("date") != "2024-05" || m.Get("slug") != "hello" {
		t.Fatalf("vars = %v", m.Vars)
	}
}

func TestURLRule_CompileErrors(t *testing.T) {
	if err := NewRule("/x/${oops").Compile(); err == nil {
		t.Fatal("unclosed placeholder compiled")
	}
	if err := NewRule("/x/${}").Compile(); err == nil {
		t.Fatal("empty placeholder compiled")
	}
	if err := NewRule("/x/${a}").Validate("a", "(").Compile(); err == nil {
		t.Fatal("bad validation pattern compiled")
	}
}

func TestURLRule_ImmutableAfterCompile(t *testing.T) {
	rule := MustRule("/x/${a}")
	defer func() {
		v := recover()
		err, ok := v.(error)
		if !ok || !errors.Is(err, ErrRuleCompiled) {
			t.Fatalf("recover = %v, want ErrRuleCompiled", v)
		}
	}()
	rule.Validate("a", "[0-9]+")
}

func TestURLRule_Variables(t *testing.T) {
	got := NewRule("/${a}/${b}").Variables()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("Variables = %v", got)
	}
}

func TestRouter_FirstMatchWins(t *testing.T) {
	var rt Router
	a := HandlerFunc(func(*Request, *Response) (bool, error) { return true, nil })
	b := HandlerFunc(func(*Request, *Response) (bool, error) { return true, nil })
	if err := rt.Add(NewRule("/${x}"), "a", a); err != nil {
		t.Fatal(err)
	}
	if err := rt.Add(NewRule("/only"), "b", b); err != nil {
		t.Fatal(err)
	}
	r, _ := rt.Match("/only")
	if r == nil || r.Name != "a" {
		t.Fatalf("route = %+v, want a", r)
	}
	routes := rt.Routes()
	if len(routes) != 2 || routes[0].Name != "a" || routes[1].Name != "b" {
		t.Fatalf("Routes = %+v", routes)
	}
	rt.Remove("a")
	if len(routes) != 2 || len(rt.Routes()) != 1 {
		t.Fatalf("Routes after Remove = %+v, snapshot %+v", rt.Routes(), routes)
	}
	r, _ = rt.Match("/only")
	if r == nil || r.Name != "b" {
		t.Fatalf("after Remove route = %+v, want b", r)
	}
}

func TestRouter_AdminRules(t *testing.T) {
	var rt Router
	h := HandlerFunc(func(*Request, *Response) (bool, error) { return true, nil })
	rt.Add(NewRule("/admin/${id}").Validate("id", "[0-9]+"), "by-id", h)
	rt.Add(NewRule("/admin/${name}"), "by-name", h)

	r, m := rt.Match("/admin/42")
	if r == nil || r.Name != "by-id" || m.Get("id") != "42" {
		t.Fatalf("/admin/42 -> %+v %v", r, m)
	}
	r, m = rt.Match("/admin/bob")
	if r == nil || r.Name != "by-name" || m.Get("name") != "bob" {
		t.Fatalf("/admin/bob -> %+v %v", r, m)
	}
	if r, _ := rt.Match("/nothing"); r != nil {
		t.Fatalf("unexpected route %+v", r)
	}
}
