package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counter() prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Namespace: Namespace, Name: "things_total", Help: "Things."})
}

func TestRegister_ReusesExisting(t *testing.T) {
	reg := prometheus.NewRegistry()

	first, err := Register(reg, counter())
	require.NoError(t, err)
	second, err := Register(reg, counter())
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestRegister_NilRegistry(t *testing.T) {
	c := counter()
	got, err := Register(nil, c)
	require.NoError(t, err)
	assert.Same(t, c, got)
}

func TestRegister_Conflict(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := Register(reg, counter())
	require.NoError(t, err)

	// Same name, different help: inconsistent descriptor.
	clash := prometheus.NewGauge(prometheus.GaugeOpts{Namespace: Namespace, Name: "things_total", Help: "Other."})
	_, err = Register(reg, clash)
	assert.Error(t, err)
}
