package embedder

import (
	"context"
	"math"
	"testing"
)

const sqlSnippet = `cursor.execute("SELECT * FROM users WHERE id = " + user_id)`

func TestVectorIsDeterministic(t *testing.T) {
	cases := []struct {
		snippet, patternType string
	}{
		{sqlSnippet, "sql_injection"},
		{"", "xss"},
		{"element.innerHTML = userInput;", "xss"},
		{"password = \"hunter2\"", "some_custom_type"},
	}

	for _, c := range cases {
		a := Vector(c.snippet, c.patternType)
		b := Vector(c.snippet, c.patternType)
		if len(a) != Dimensions {
			t.Fatalf("expected %d dims, got %d", Dimensions, len(a))
		}
		for i := range a {
			if math.Float32bits(a[i]) != math.Float32bits(b[i]) {
				t.Fatalf("%q: dimension %d differs: %v vs %v", c.snippet, i, a[i], b[i])
			}
		}
	}
}

func TestVectorIsUnitLength(t *testing.T) {
	v := Vector(sqlSnippet, "sql_injection")

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-4 {
		t.Errorf("expected unit norm, got %v", sum)
	}
}

func TestFormattingDoesNotChangeHashBlock(t *testing.T) {
	ha := make([]float64, hashDims)
	hb := make([]float64, hashDims)
	contentHash(ha, "x := a + b // add", "complexity")
	contentHash(hb, "x   :=  a + b", "complexity")
	for i := range ha {
		if ha[i] != hb[i] {
			t.Fatalf("hash block differs at %d after comment/whitespace change", i)
		}
	}
}

func TestPatternTypeChangesVector(t *testing.T) {
	a := Vector(sqlSnippet, "sql_injection")
	b := Vector(sqlSnippet, "xss")

	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("expected different pattern types to produce different vectors")
	}
}

func TestSimilarSnippetsScoreHigherThanUnrelated(t *testing.T) {
	a := Vector(`cursor.execute("SELECT * FROM users WHERE id = " + user_id)`, "sql_injection")
	b := Vector(`cursor.execute("SELECT * FROM orders WHERE id = " + order_id)`, "sql_injection")
	c := Vector("for i := 0; i < n; i++ {\n\tif err != nil {\n\t\tpanic(err)\n\t}\n}", "error_handling")

	if dot(a, b) <= dot(a, c) {
		t.Errorf("expected related SQL snippets to be closer: ab=%v ac=%v", dot(a, b), dot(a, c))
	}
}

func TestFeaturesEmbedder(t *testing.T) {
	var e Embedder = NewFeatures()

	v, err := e.Embed(context.Background(), sqlSnippet, "sql_injection")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(v) != e.Dim() {
		t.Errorf("expected %d dims, got %d", e.Dim(), len(v))
	}
	if e.Name() == "" {
		t.Error("expected a name")
	}
}

func TestVocabularyFitsLayout(t *testing.T) {
	if len(keywords) > keywordSlots {
		t.Errorf("%d keywords exceed %d slots", len(keywords), keywordSlots)
	}
	if len(operators) > operatorSlots {
		t.Errorf("%d operators exceed %d slots", len(operators), operatorSlots)
	}
	if len(knownTypes) > knownTypeSlots {
		t.Errorf("%d known types exceed %d slots", len(knownTypes), knownTypeSlots)
	}
	if len(families) != familyCount {
		t.Errorf("expected %d families, got %d", familyCount, len(families))
	}
	if hashDims <= 0 {
		t.Errorf("hash block has no room: %d", hashDims)
	}
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"a  =  b // trailing":       "a = b",
		"url = \"http://x\"  # c":   "url = \"http://x\"",
		"/* block */ call( x )":     "call( x )",
		"line1\n\n\tline2":          "line1 line2",
	}
	for in, want := range cases {
		if got := normalize(in); got != want {
			t.Errorf("normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
