package hook

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/menta2k/upscale-images/pkg/geometry"
)

func TestUpscaleComputesWhenUnset(t *testing.T) {
	got := Upscale(nil, Request{OrigW: 1000, OrigH: 500, DestW: 200, DestH: 200, Crop: true})
	require.NotNil(t, got)
	assert.Equal(t, [8]int{0, 0, 250, 0, 200, 200, 500, 500}, got.Values())
}

func TestUpscalePassThrough(t *testing.T) {
	prior := &geometry.Geometry{DstW: 1, DstH: 2, SrcW: 3, SrcH: 4}

	got := Upscale(prior, Request{OrigW: 800, OrigH: 600, DestH: 300})

	assert.Same(t, prior, got)
	assert.Equal(t, geometry.Geometry{DstW: 1, DstH: 2, SrcW: 3, SrcH: 4}, *got)
}

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Apply(Request{OrigW: 10, OrigH: 10, DestW: 5, DestH: 5}))
	assert.Equal(t, 0, r.Len())
}

func TestRegistryOrder(t *testing.T) {
	r := NewRegistry()
	var calls []string
	record := func(name string) Func {
		return func(current *geometry.Geometry, _ Request) *geometry.Geometry {
			calls = append(calls, name)
			return current
		}
	}

	r.Add("late", 20, record("late"))
	r.Add("first", 10, record("first"))
	r.Add("second", 10, record("second"))
	r.Add("early", 5, record("early"))

	assert.Equal(t, []string{"early", "first", "second", "late"}, r.Names())

	r.Apply(Request{})
	assert.Equal(t, []string{"early", "first", "second", "late"}, calls)
}

func TestRegistryFirstWriterWins(t *testing.T) {
	r := NewRegistry()
	other := &geometry.Geometry{DstW: 42, DstH: 42, SrcW: 42, SrcH: 42}
	r.Add("other", 5, func(*geometry.Geometry, Request) *geometry.Geometry { return other })
	Register(r)

	got := r.Apply(Request{OrigW: 800, OrigH: 600, DestW: 0, DestH: 300})
	assert.Same(t, other, got)
}

func TestRegistryUpscaleThenOthers(t *testing.T) {
	r := NewRegistry()
	Register(r)

	var seen *geometry.Geometry
	r.Add("observer", 20, func(current *geometry.Geometry, _ Request) *geometry.Geometry {
		seen = current
		return current
	})

	got := r.Apply(Request{OrigW: 800, OrigH: 600, DestH: 300})
	require.NotNil(t, got)
	assert.Same(t, got, seen)
	assert.Equal(t, [8]int{0, 0, 0, 0, 400, 300, 800, 600}, got.Values())
}

func TestRegistryAddReplacesAndRemove(t *testing.T) {
	r := NewRegistry()
	Register(r)
	Register(r)
	assert.Equal(t, 1, r.Len())

	assert.True(t, r.Remove("upscale"))
	assert.False(t, r.Remove("upscale"))
	assert.Nil(t, r.Apply(Request{OrigW: 10, OrigH: 10, DestW: 20, DestH: 20}))
}

func TestRegistryConcurrentApply(t *testing.T) {
	r := NewRegistry()
	Register(r)

	var wg sync.WaitGroup
	for i := 1; i <= 32; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			got := r.Apply(Request{OrigW: 100 * n, OrigH: 100 * n, DestW: 50, DestH: 50, Crop: true})
			assert.Equal(t, 50, got.DstW)
			assert.Equal(t, 50, got.DstH)
		}(i)
	}
	wg.Wait()
}
