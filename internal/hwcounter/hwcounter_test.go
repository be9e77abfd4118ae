package hwcounter_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/segmentcore/segmentcore/internal/hwcounter"
)

func TestCell_IncrAndRead(t *testing.T) {
	c := hwcounter.NewCell()
	c.IncrRead(10)
	c.IncrRead(5)
	c.IncrWrite(7)

	assert.Equal(t, int64(15), c.BytesRead())
	assert.Equal(t, int64(7), c.BytesWritten())
}

func TestCell_Reset(t *testing.T) {
	c := hwcounter.NewCell()
	c.IncrRead(10)
	c.Reset()

	assert.Zero(t, c.BytesRead())
	assert.Zero(t, c.BytesWritten())
}

func TestAccumulator_Merge(t *testing.T) {
	acc := hwcounter.NewAccumulator()

	c1 := hwcounter.NewCell()
	c1.IncrRead(100)
	acc.Merge(c1)

	c2 := hwcounter.NewCell()
	c2.IncrWrite(50)
	acc.Merge(c2)

	snap := acc.Snapshot()
	assert.Equal(t, int64(100), snap.BytesRead)
	assert.Equal(t, int64(50), snap.BytesWritten)
	assert.Equal(t, int64(2), snap.Operations)
}

func TestAccumulator_ConcurrentMerge(t *testing.T) {
	acc := hwcounter.NewAccumulator()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := hwcounter.NewCell()
			c.IncrRead(1)
			acc.Merge(c)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(100), acc.BytesRead())
	assert.Equal(t, int64(100), acc.Operations())
}
