package embedder

import (
	"context"
	"encoding/binary"
	"math"
	"strings"

	"lukechampine.com/blake3"
)

// Block layout of the feature vector.
const (
	lexicalDims    = 256
	structuralDims = 64
	semanticDims   = 192
	hashDims       = Dimensions - lexicalDims - structuralDims - semanticDims

	lexicalOff    = 0
	structuralOff = lexicalOff + lexicalDims
	semanticOff   = structuralOff + structuralDims
	hashOff       = semanticOff + semanticDims
)

// Lexical block sub-layout.
const (
	keywordSlots  = 96
	operatorSlots = 32
	literalSlots  = 8
	identSlots    = lexicalDims - keywordSlots - operatorSlots - literalSlots
)

// Semantic block sub-layout.
const (
	knownTypeSlots  = 32
	hashedTypeSlots = 32
	familySlots     = 16
	familyCount     = (semanticDims - knownTypeSlots - hashedTypeSlots) / familySlots
)

// Per-block weights applied after each block is unit-normalised.
const (
	lexicalWeight    = 1.0
	structuralWeight = 0.5
	semanticWeight   = 1.0
	hashWeight       = 0.35
)

var keywords = []string{
	"if", "else", "for", "while", "return", "func", "def", "function",
	"class", "import", "from", "var", "let", "const", "try", "catch",
	"except", "finally", "throw", "raise", "new", "await", "async", "yield",
	"switch", "case", "break", "continue", "go", "defer", "select", "insert",
	"update", "delete", "where", "exec", "eval", "true", "false", "nil",
	"null", "none", "self", "this", "public", "private", "static", "void",
	"int", "string", "with", "as", "in", "is", "not", "and",
	"or", "lambda", "struct", "interface", "type", "package", "range", "map",
	"chan", "goto", "do", "typeof", "instanceof", "export", "default", "extends",
	"implements", "super", "print", "open", "read", "write", "join", "format",
	"sprintf", "query", "execute", "request", "response", "input", "password", "token",
	"secret", "key", "http", "sql", "os", "system", "err", "error",
}

var operators = []string{
	"==", "!=", "<=", ">=", "&&", "||", "+=", "-=",
	":=", "=>", "->", "++", "--", "<<", ">>", "**",
	"=", "+", "-", "*", "/", "%", "<", ">",
	"!", "&", "|", "^", "?", ":", ".", ",",
}

// knownTypes get a dedicated one-hot slot; anything else is hashed.
var knownTypes = []string{
	"sql_injection", "xss", "hardcoded_secrets", "command_injection",
	"path_traversal", "insecure_deserialization", "weak_crypto", "missing_input_validation",
	"error_handling", "complexity", "duplication", "auth_boundary",
	"http_endpoint", "database_access", "external_dependency", "open_redirect",
	"ssrf", "xxe", "csrf", "insecure_random",
	"log_injection", "race_condition", "resource_leak", "null_dereference",
}

type family struct {
	name    string
	markers []string
	words   []string
}

// families pair pattern-type markers with the keywords that give a finding
// of that family its context.
var families = []family{
	{"sql", []string{"sql", "database", "query", "input_validation"},
		[]string{"select", "insert", "update", "delete", "drop", "union", "where", "from", "execute", "exec", "query", "cursor", "prepare", "sprintf", "format"}},
	{"xss", []string{"xss", "html", "template", "redirect"},
		[]string{"innerhtml", "outerhtml", "document", "write", "html", "dangerouslysetinnerhtml", "render", "template", "escape", "sanitize", "script", "href", "location", "response", "v"}},
	{"secrets", []string{"secret", "password", "credential", "token", "key"},
		[]string{"password", "passwd", "pwd", "secret", "token", "api_key", "apikey", "private_key", "access_key", "auth", "bearer", "credential", "getenv", "environ", "env"}},
	{"command", []string{"command", "shell", "exec", "rce"},
		[]string{"system", "popen", "subprocess", "shell", "exec", "spawn", "run", "call", "command", "cmd", "sh", "bash", "os", "child_process", "runtime"}},
	{"path", []string{"path", "traversal", "file", "ssrf", "xxe"},
		[]string{"open", "path", "join", "readfile", "file", "dir", "filepath", "abs", "url", "fetch", "get", "http", "request", "sendfile", "upload"}},
	{"crypto", []string{"crypto", "hash", "random", "cipher", "tls"},
		[]string{"md5", "sha1", "des", "rc4", "ecb", "random", "rand", "math", "cipher", "encrypt", "decrypt", "hash", "tls", "insecureskipverify", "seed"}},
	{"deserialization", []string{"deserial", "pickle", "eval", "unsafe"},
		[]string{"pickle", "loads", "load", "yaml", "unmarshal", "deserialize", "eval", "marshal", "objectinputstream", "readobject", "gob", "decode", "json", "exec", "compile"}},
	{"errors", []string{"error", "exception", "panic", "leak", "null"},
		[]string{"err", "error", "except", "catch", "panic", "recover", "throw", "raise", "finally", "nil", "null", "none", "ignore", "pass", "log"}},
}

var (
	keywordIndex  = indexOf(keywords)
	operatorIndex = indexOf(operators)
	typeIndex     = indexOf(knownTypes)
)

func indexOf(list []string) map[string]int {
	m := make(map[string]int, len(list))
	for i, s := range list {
		m[s] = i
	}
	return m
}

// Features is the default deterministic embedder. It concatenates lexical,
// structural, semantic and content-hash blocks and has no hidden state.
type Features struct{}

// NewFeatures returns the feature-vector embedder.
func NewFeatures() *Features { return &Features{} }

func (f *Features) Dim() int     { return Dimensions }
func (f *Features) Name() string { return "features-v1" }

// Embed never fails; the error is part of the Embedder contract.
func (f *Features) Embed(_ context.Context, snippet, patternType string) ([]float32, error) {
	return Vector(snippet, patternType), nil
}

// Vector computes the feature vector for a snippet.
func Vector(snippet, patternType string) []float32 {
	v := make([]float64, Dimensions)
	toks := tokenize(snippet)
	patternType = strings.ToLower(strings.TrimSpace(patternType))

	lexical(v[lexicalOff:structuralOff], toks)
	structural(v[structuralOff:semanticOff], snippet, len(toks))
	semantic(v[semanticOff:hashOff], toks, patternType)
	contentHash(v[hashOff:], snippet, patternType)

	scaleUnit(v[lexicalOff:structuralOff], lexicalWeight)
	scaleUnit(v[structuralOff:semanticOff], structuralWeight)
	scaleUnit(v[semanticOff:hashOff], semanticWeight)
	scaleUnit(v[hashOff:], hashWeight)
	scaleUnit(v, 1)

	out := make([]float32, Dimensions)
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func lexical(block []float64, toks []token) {
	kw := block[:keywordSlots]
	ops := block[keywordSlots : keywordSlots+operatorSlots]
	lit := block[keywordSlots+operatorSlots : keywordSlots+operatorSlots+literalSlots]
	ids := block[keywordSlots+operatorSlots+literalSlots:]

	seen := make(map[string]bool)
	for i, t := range toks {
		switch t.kind {
		case tokIdent:
			lower := strings.ToLower(t.text)
			if k, ok := keywordIndex[lower]; ok {
				kw[k]++
			} else {
				ids[bucket(lower, identSlots)]++
				lit[2]++
				seen[lower] = true
			}
			if i+1 < len(toks) && toks[i+1].text == "(" {
				lit[5]++
			}
		case tokNumber:
			lit[1]++
		case tokString:
			lit[0]++
			lit[7] += float64(len(t.text))
		case tokOperator:
			if k, ok := operatorIndex[t.text]; ok {
				ops[k]++
			}
			switch t.text {
			case ".":
				lit[6]++
			case "+":
				if (i > 0 && toks[i-1].kind == tokString) || (i+1 < len(toks) && toks[i+1].kind == tokString) {
					lit[4]++
				}
			}
		}
	}
	if lit[2] > 0 {
		lit[3] = float64(len(seen)) / lit[2]
	}

	for i := range block {
		block[i] = math.Log1p(block[i])
	}
}

func structural(block []float64, snippet string, tokenCount int) {
	lines := strings.Split(snippet, "\n")
	indentHist := block[16:40]
	lengthHist := block[40:64]

	var maxIndent, sumIndent, maxLen, sumLen, comments, blanks, colonEnds, semis int
	var depth, maxBrace, paren, maxParen, bracket, maxBracket int
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blanks++
			continue
		}
		indent := indentWidth(line)
		if indent > maxIndent {
			maxIndent = indent
		}
		sumIndent += indent
		level := indent / 4
		if level >= len(indentHist) {
			level = len(indentHist) - 1
		}
		indentHist[level]++

		n := len(trimmed)
		if n > maxLen {
			maxLen = n
		}
		sumLen += n
		lb := n / 8
		if lb >= len(lengthHist) {
			lb = len(lengthHist) - 1
		}
		lengthHist[lb]++

		if isCommentLine(trimmed) {
			comments++
		}
		if strings.HasSuffix(trimmed, ":") {
			colonEnds++
		}
		semis += strings.Count(trimmed, ";")

		for _, r := range trimmed {
			switch r {
			case '{':
				depth++
				maxBrace = max(maxBrace, depth)
			case '}':
				depth--
			case '(':
				paren++
				maxParen = max(maxParen, paren)
			case ')':
				paren--
			case '[':
				bracket++
				maxBracket = max(maxBracket, bracket)
			case ']':
				bracket--
			}
		}
	}

	nonBlank := len(lines) - blanks
	meanIndent, meanLen := 0.0, 0.0
	if nonBlank > 0 {
		meanIndent = float64(sumIndent) / float64(nonBlank)
		meanLen = float64(sumLen) / float64(nonBlank)
	}

	block[0] = squash(float64(len(lines)), 10)
	block[1] = squash(float64(maxIndent), 8)
	block[2] = squash(meanIndent, 8)
	block[3] = squash(float64(maxBrace), 3)
	block[4] = squash(float64(maxParen), 3)
	block[5] = squash(float64(maxBracket), 2)
	block[6] = squash(meanLen, 40)
	block[7] = squash(float64(maxLen), 80)
	block[8] = squash(float64(tokenCount), 50)
	block[9] = squash(float64(comments), 2)
	block[10] = squash(float64(blanks), 2)
	block[11] = squash(float64(colonEnds), 2)
	block[12] = squash(float64(semis), 3)
	block[13] = squash(math.Abs(float64(depth)), 1)
	block[14] = squash(math.Abs(float64(paren)), 1)
	block[15] = squash(float64(nonBlank), 10)

	for i := range indentHist {
		indentHist[i] = squash(indentHist[i], 4)
	}
	for i := range lengthHist {
		lengthHist[i] = squash(lengthHist[i], 4)
	}
}

func semantic(block []float64, toks []token, patternType string) {
	if patternType != "" {
		if k, ok := typeIndex[patternType]; ok {
			block[k] = 1
		} else {
			block[knownTypeSlots+bucket(patternType, hashedTypeSlots)] = 1
		}
	}

	words := make(map[string]int)
	for _, t := range toks {
		if t.kind == tokIdent {
			words[strings.ToLower(t.text)]++
		}
	}

	base := knownTypeSlots + hashedTypeSlots
	for fi, fam := range families {
		if fi >= familyCount {
			break
		}
		slots := block[base+fi*familySlots : base+(fi+1)*familySlots]
		weight := 1.0
		if fam.matches(patternType) {
			slots[0] = 1
			weight = 2
		}
		for wi, w := range fam.words {
			if wi+1 >= familySlots {
				break
			}
			if n := words[w]; n > 0 {
				slots[wi+1] = weight * math.Log1p(float64(n))
			}
		}
	}
}

func (f family) matches(patternType string) bool {
	for _, m := range f.markers {
		if strings.Contains(patternType, m) {
			return true
		}
	}
	return false
}

// contentHash spreads a keyed hash of the normalised code over the block so
// exact duplicates produce identical vectors.
func contentHash(block []float64, snippet, patternType string) {
	h := blake3.New(32, nil)
	h.Write([]byte(patternType))
	h.Write([]byte{0})
	h.Write([]byte(normalize(snippet)))

	buf := make([]byte, len(block))
	if _, err := h.XOF().Read(buf); err != nil {
		return
	}
	for i, b := range buf {
		block[i] = float64(b)/127.5 - 1
	}
}

func bucket(s string, n int) int {
	sum := blake3.Sum256([]byte(s))
	return int(binary.LittleEndian.Uint64(sum[:8]) % uint64(n))
}

func indentWidth(line string) int {
	w := 0
	for _, r := range line {
		switch r {
		case ' ':
			w++
		case '\t':
			w += 4
		default:
			return w
		}
	}
	return w
}

func squash(x, k float64) float64 {
	if x <= 0 {
		return 0
	}
	return x / (x + k)
}

func scaleUnit(v []float64, weight float64) {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	if sum == 0 {
		return
	}
	f := weight / math.Sqrt(sum)
	for i := range v {
		v[i] *= f
	}
}
