package query

import (
	"errors"
	"strconv"
	"strings"
)

// ErrCyclicDependency matches any *CyclicDependencyError via errors.Is.
var ErrCyclicDependency = errors.New("dependency cycle detected")

// CyclicDependencyError reports a DependsOn cycle that prevents a critical
// path from being computed.
type CyclicDependencyError struct {
	Cycle []int64
}

func (e *CyclicDependencyError) Error() string {
	ids := make([]string, len(e.Cycle))
	for i, id := range e.Cycle {
		ids[i] = strconv.FormatInt(id, 10)
	}
	return "dependency cycle detected between findings " + strings.Join(ids, ", ")
}

func (e *CyclicDependencyError) Is(target error) bool {
	return target == ErrCyclicDependency
}
