package service

import (
	"fmt"
	"sort"

	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
)

// resolveStartOrder computes a dependency-respecting startup order for the
// registered services using Kahn's algorithm. Every dependency must name a
// registered service and the graph must be acyclic; violations are reported
// before anything starts. Ties are broken alphabetically so the order is
// deterministic.
func resolveStartOrder(services map[string]Service) ([]string, error) {
	// Validate edges first so unknown dependencies surface as such rather
	// than as a bogus cycle.
	for name, svc := range services {
		for _, dep := range svc.Dependencies() {
			if dep == name {
				return nil, fmt.Errorf("service %s depends on itself: %w",
					name, errors.ErrDependencyCycle)
			}
			if _, ok := services[dep]; !ok {
				return nil, fmt.Errorf("service %s requires %q: %w",
					name, dep, errors.ErrUnknownDependency)
			}
		}
	}

	inDegree := make(map[string]int, len(services))
	dependents := make(map[string][]string, len(services))
	for name, svc := range services {
		inDegree[name] += 0
		for _, dep := range svc.Dependencies() {
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var ready []string
	for name, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(services))
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		inserted := false
		for _, next := range dependents[name] {
			inDegree[next]--
			if inDegree[next] == 0 {
				ready = append(ready, next)
				inserted = true
			}
		}
		if inserted {
			sort.Strings(ready)
		}
	}

	if len(order) != len(services) {
		var stuck []string
		for name, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("services %v form a cycle: %w",
			stuck, errors.ErrDependencyCycle)
	}

	return order, nil
}

// reverse returns a reversed copy of order for shutdown sequencing
func reverse(order []string) []string {
	out := make([]string, len(order))
	for i, name := range order {
		out[len(order)-1-i] = name
	}
	return out
}
