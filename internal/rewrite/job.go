package rewrite

import (
	"fmt"
	"strings"

	"github.com/roach88/jobweave/internal/ir"
	"github.com/roach88/jobweave/internal/queryir"
)

// ProviderKind says how the job obtains one body parameter.
type ProviderKind string

const (
	ProvideComponent   ProviderKind = "component"
	ProvideBuffer      ProviderKind = "buffer"
	ProvideEntity      ProviderKind = "entity"
	ProvideQueryIndex  ProviderKind = "query_index"
	ProvideBatchIndex  ProviderKind = "batch_index"
	ProvideThreadIndex ProviderKind = "thread_index"

	// Per-batch bodies receive the batch itself and its position.
	ProvideBatch      ProviderKind = "batch"
	ProvideFirstIndex ProviderKind = "first_index"
)

// Reserved parameter names for index providers.
const (
	ParamQueryIndex  = "entityInQueryIndex"
	ParamBatchIndex  = "indexInBatch"
	ParamThreadIndex = "nativeThreadIndex"

	ParamBatchPosition = "batchIndex"
	ParamFirstIndex    = "firstIndexInQuery"
)

// ProviderBinding maps one body parameter onto a provider.
type ProviderBinding struct {
	Param    string       `json:"param"`
	Kind     ProviderKind `json:"kind"`
	Element  string       `json:"element,omitempty"`
	ReadOnly bool         `json:"read_only,omitempty"`
	// HandleField holds schedule-time state, RuntimeField per-batch state.
	// Either may be empty for providers that need none.
	HandleField  string `json:"handle_field,omitempty"`
	RuntimeField string `json:"runtime_field,omitempty"`

	param ir.Param
}

// JobRecord describes one synthesized job value type.
type JobRecord struct {
	// Name is the nested name, Type the full type name.
	Name    string `json:"name"`
	Type    string `json:"type"`
	System  string `json:"system"`
	Method  string `json:"method"`
	Ordinal int    `json:"ordinal"`
	Kind    string `json:"kind"`
	// Terminal is Schedule, ScheduleParallel or Run.
	Terminal string `json:"terminal"`
	Burst    bool   `json:"burst"`
	// Fields are the captured variables the body reads, in closure order.
	Fields         []string          `json:"fields"`
	ReadOnlyFields []string          `json:"read_only_fields,omitempty"`
	Providers      []ProviderBinding `json:"providers,omitempty"`
	Query          *queryir.Query    `json:"query,omitempty"`
	// Closure is the display class the body was bound to, if any.
	Closure          string `json:"closure,omitempty"`
	ClosureConverted bool   `json:"closure_converted,omitempty"`
	QueryField       string `json:"query_field,omitempty"`

	def *ir.TypeDef
}

// Def returns the synthesized type.
func (j *JobRecord) Def() *ir.TypeDef { return j.def }

// JobName returns the nested name of the job for chain ordinal n of
// method. A WithName literal is spliced in before the suffix.
func JobName(method, name string, n int) string {
	if name != "" {
		return fmt.Sprintf("%s_%s_LambdaJob%d", sanitize(method), sanitize(name), n)
	}
	return fmt.Sprintf("%s_LambdaJob%d", sanitize(method), n)
}

// methodTag names m for JobName. The first method of a name on sys keeps
// the bare name; each later overload appends its position among the
// same-named methods in declaration order.
func methodTag(sys *ir.TypeDef, m *ir.MethodDef) string {
	k := 0
	if sys != nil {
		for _, other := range sys.Methods {
			if other == m {
				break
			}
			if other.Name == m.Name {
				k++
			}
		}
	}
	if k == 0 {
		return m.Name
	}
	return fmt.Sprintf("%s_%d", m.Name, k)
}

// IsJobName reports whether a type name looks like a synthesized job.
func IsJobName(typ string) bool {
	short := typ
	if i := strings.LastIndexByte(short, '/'); i >= 0 {
		short = short[i+1:]
	}
	i := strings.LastIndex(short, "_LambdaJob")
	if i < 0 {
		return false
	}
	digits := short[i+len("_LambdaJob"):]
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
