package util

import (
	"fmt"
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/json"
)

// Map is a functional map: (a -> b) -> [a] -> [b].
func Map[T, U any](f func(T) U, s []T) []U {
	result := make([]U, len(s))
	for i, v := range s {
		result[i] = f(v)
	}
	return result
}

// Stringify renders a value as canonical JSON. Map keys are emitted in sorted order so the
// result can serve as an identity key.
func Stringify(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

// SortedKeys returns the keys of a string-keyed map in lexicographic order.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// JoinStrings formats a slice of stringers as a comma-separated list.
func JoinStrings[T fmt.Stringer](s []T) string {
	return strings.Join(Map(func(v T) string { return v.String() }, s), ",")
}
