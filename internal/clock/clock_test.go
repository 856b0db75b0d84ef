package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSystemUnixMilliNowAdvances(t *testing.T) {
	first := System{}.UnixMilliNow()
	time.Sleep(2 * time.Millisecond)
	second := System{}.UnixMilliNow()
	assert.Greater(t, second, first)
}
