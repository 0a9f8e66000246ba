package router

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNodeBufferFitReusesCapacityWhenSufficient(t *testing.T) {
	var buf NodeBuffer
	first := buf.Fit([]byte("hello"))
	assert.Equal(t, []byte("hello"), first)
	firstCap := cap(buf.data)

	second := buf.Fit([]byte("hi"))
	assert.Equal(t, []byte("hi"), second)
	assert.Equal(t, firstCap, cap(buf.data), "capacity should not shrink on a smaller payload")
}

func TestNodeBufferFitGrowsByReserveFactor(t *testing.T) {
	var buf NodeBuffer
	payload := make([]byte, 100)
	buf.Fit(payload)

	wantCap := int(math.Ceil(100 * (1 + reserveFactor)))
	assert.Equal(t, wantCap, cap(buf.data))
}

func TestNodeBufferReleaseDropsUnderlyingArray(t *testing.T) {
	var buf NodeBuffer
	buf.Fit([]byte("data"))
	buf.Release()
	assert.Nil(t, buf.data)
}
