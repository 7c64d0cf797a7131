package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
)

func depService(name string, deps ...string) Service {
	return NewBaseService(name, WithDependencies(deps...))
}

func indexOf(t *testing.T, order []string, name string) int {
	t.Helper()
	for i, n := range order {
		if n == name {
			return i
		}
	}
	t.Fatalf("service %s not in order %v", name, order)
	return -1
}

func TestResolveStartOrderRespectsDependencies(t *testing.T) {
	services := map[string]Service{
		"collector": depService("collector"),
		"store":     depService("store"),
		"processor": depService("processor", "collector", "store"),
		"apiserver": depService("apiserver", "processor", "store"),
	}

	order, err := resolveStartOrder(services)
	require.NoError(t, err)
	require.Len(t, order, 4)

	assert.Less(t, indexOf(t, order, "collector"), indexOf(t, order, "processor"))
	assert.Less(t, indexOf(t, order, "store"), indexOf(t, order, "processor"))
	assert.Less(t, indexOf(t, order, "processor"), indexOf(t, order, "apiserver"))
}

func TestResolveStartOrderIsDeterministic(t *testing.T) {
	services := map[string]Service{
		"c": depService("c"),
		"a": depService("a"),
		"b": depService("b"),
	}

	first, err := resolveStartOrder(services)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, first)

	for i := 0; i < 10; i++ {
		again, err := resolveStartOrder(services)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestResolveStartOrderDetectsCycle(t *testing.T) {
	services := map[string]Service{
		"a": depService("a", "b"),
		"b": depService("b", "c"),
		"c": depService("c", "a"),
	}

	_, err := resolveStartOrder(services)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrDependencyCycle)
}

func TestResolveStartOrderDetectsSelfDependency(t *testing.T) {
	services := map[string]Service{
		"a": depService("a", "a"),
	}

	_, err := resolveStartOrder(services)
	assert.ErrorIs(t, err, errors.ErrDependencyCycle)
}

func TestResolveStartOrderDetectsUnknownDependency(t *testing.T) {
	services := map[string]Service{
		"processor": depService("processor", "ghost"),
	}

	_, err := resolveStartOrder(services)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrUnknownDependency)
	assert.Contains(t, err.Error(), "ghost")
}

func TestReverse(t *testing.T) {
	assert.Equal(t, []string{"c", "b", "a"}, reverse([]string{"a", "b", "c"}))
	assert.Empty(t, reverse(nil))
}
