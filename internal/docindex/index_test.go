package docindex

import (
	"reflect"
	"testing"
)

const sampleDoc = `<!DOCTYPE html>
<html>
<head><title>Acme</title></head>
<body>
<nav class="px-4 flex items-center"><a href="/">Acme</a></nav>
<section class="hero bg-white"><h1>Welcome</h1></section>
<main><p>Body</p></main>
<footer><small>© Acme</small></footer>
</body>
</html>`

func TestBuild_ExtractsKnownSections(t *testing.T) {
	t.Parallel()

	idx := Build("proj-1", sampleDoc)

	for _, name := range []string{"Navbar", "Hero", "Footer", "Head", "Main"} {
		if _, ok := idx.Sections[name]; !ok {
			t.Fatalf("missing section %q, got %v", name, idx.SectionNames())
		}
	}
	if got := idx.Sections["Navbar"].Content; got != `<nav class="px-4 flex items-center"><a href="/">Acme</a></nav>` {
		t.Fatalf("navbar content=%q", got)
	}
	if idx.StyleSystem != StyleTailwind {
		t.Fatalf("style=%q, want %q", idx.StyleSystem, StyleTailwind)
	}
}

func TestBuild_NoMatchesYieldsEmptyIndex(t *testing.T) {
	t.Parallel()

	idx := Build("proj-1", `<p>plain text page</p>`)
	if len(idx.Sections) != 0 {
		t.Fatalf("sections=%v, want empty", idx.SectionNames())
	}
	if idx.StyleSystem != StyleUnknown {
		t.Fatalf("style=%q, want unknown", idx.StyleSystem)
	}
}

func TestBuild_GenericClassesDetectCSS(t *testing.T) {
	t.Parallel()

	idx := Build("proj-1", `<div class="wrapper"><nav class="topnav">x</nav></div>`)
	if idx.StyleSystem != StyleCSS {
		t.Fatalf("style=%q, want css", idx.StyleSystem)
	}
}

func TestBuild_FirstMatchWins(t *testing.T) {
	t.Parallel()

	idx := Build("proj-1", `<footer>first</footer><footer>second</footer>`)
	if got := idx.Sections["Footer"].Content; got != `<footer>first</footer>` {
		t.Fatalf("footer=%q", got)
	}
}

func TestBuild_RebuildIsIdempotent(t *testing.T) {
	t.Parallel()

	a := Build("proj-1", sampleDoc)
	b := Build("proj-1", sampleDoc)

	if !reflect.DeepEqual(a.Sections, b.Sections) {
		t.Fatalf("sections differ:\n%v\n%v", a.Sections, b.Sections)
	}
	if a.StyleSystem != b.StyleSystem {
		t.Fatalf("style differs: %q vs %q", a.StyleSystem, b.StyleSystem)
	}
}
