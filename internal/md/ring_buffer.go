package md

import (
	"errors"

	"github.com/shopspring/decimal"
)

// RingBuffer keeps the last size values and their running sum.
type RingBuffer struct {
	values []decimal.Decimal
	size   int
	index  int
	filled bool
	sum    decimal.Decimal
}

func NewRingBuffer(size int) *RingBuffer {
	return &RingBuffer{
		values: make([]decimal.Decimal, size),
		size:   size,
		sum:    decimal.Zero,
	}
}

func (r *RingBuffer) Add(value decimal.Decimal) {
	if r.filled {
		r.sum = r.sum.Sub(r.values[r.index])
	}
	r.values[r.index] = value
	r.sum = r.sum.Add(value)
	r.index = (r.index + 1) % r.size
	if r.index == 0 {
		r.filled = true
	}
}

func (r *RingBuffer) Len() int {
	if r.filled {
		return r.size
	}
	return r.index
}

func (r *RingBuffer) Full() bool {
	return r.filled
}

func (r *RingBuffer) Values() []decimal.Decimal {
	length := r.Len()
	result := make([]decimal.Decimal, 0, length)
	if length == 0 {
		return result
	}
	if r.filled {
		result = append(result, r.values[r.index:]...)
	}
	result = append(result, r.values[:r.index]...)
	return result
}

// Mean returns the average of every value currently held.
func (r *RingBuffer) Mean() (decimal.Decimal, error) {
	if r.Len() == 0 {
		return decimal.Zero, errors.New("ring buffer is empty")
	}
	return r.sum.Div(decimal.NewFromInt(int64(r.Len()))), nil
}
