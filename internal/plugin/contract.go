package plugin

import (
	"reflect"
	"sort"
)

// Contract is the per-kind method requirement set. Checks are structural:
// a required method must exist as a callable on the plugin value, extra
// methods are always allowed.
type Contract struct {
	Kind     Kind
	Required []string
	Optional []string
}

var contracts = map[Kind]Contract{
	KindLoader: {
		Kind:     KindLoader,
		Required: []string{"Load"},
		Optional: []string{"Chunk"},
	},
	KindEmbedder: {
		Kind:     KindEmbedder,
		Required: []string{"Embed", "EmbedQuery"},
		Optional: []string{"Dimensions"},
	},
	KindRetriever: {
		Kind:     KindRetriever,
		Required: []string{"Store", "Retrieve"},
		Optional: []string{"Delete"},
	},
	KindLLM: {
		Kind:     KindLLM,
		Required: []string{"Generate"},
		Optional: []string{"GenerateStream"},
	},
	KindReranker: {
		Kind:     KindReranker,
		Required: []string{"Rerank"},
		Optional: []string{"Score"},
	},
}

// ContractFor returns the contract of a kind. The second result is false for
// kinds outside the closed set.
func ContractFor(kind Kind) (Contract, bool) {
	c, ok := contracts[kind]
	return c, ok
}

// CheckContract reports which required methods are missing on the plugin
// value and which optional methods it exposes. Missing comes back sorted so
// error messages are deterministic.
func CheckContract(kind Kind, p any) (missing []string, optional []string) {
	contract, ok := contracts[kind]
	if !ok {
		return nil, nil
	}

	value := reflect.ValueOf(p)
	for _, name := range contract.Required {
		if !hasCallable(value, name) {
			missing = append(missing, name)
		}
	}
	for _, name := range contract.Optional {
		if hasCallable(value, name) {
			optional = append(optional, name)
		}
	}

	sort.Strings(missing)
	sort.Strings(optional)
	return missing, optional
}

func hasCallable(v reflect.Value, name string) bool {
	if !v.IsValid() {
		return false
	}
	m := v.MethodByName(name)
	return m.IsValid() && m.Kind() == reflect.Func
}
