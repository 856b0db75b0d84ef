package bufpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRentReturnsExactLength(t *testing.T) {
	p := New(65536)
	buf := p.Rent(100)
	assert.Len(t, buf, 100)
}

func TestRentAboveMaxClassFallsBackToBareAlloc(t *testing.T) {
	p := New(1024)
	buf := p.Rent(5000)
	assert.Len(t, buf, 5000)
}

func TestReturnWithClearZeroesBuffer(t *testing.T) {
	p := New(65536)
	buf := p.Rent(256)
	for i := range buf {
		buf[i] = 0xAA
	}
	p.Return(buf, true)

	again := p.Rent(256)
	for _, b := range again {
		assert.Zero(t, b)
	}
}

func TestMaxBufferSize(t *testing.T) {
	p := New(4096)
	assert.Equal(t, 4096, p.MaxBufferSize())
}
