package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected [3]int
	}{
		{name: "Plain", input: "1.2.3", expected: [3]int{1, 2, 3}},
		{name: "V prefix", input: "v2.0.10", expected: [3]int{2, 0, 10}},
		{name: "Prerelease suffix", input: "v1.4.0-rc.1", expected: [3]int{1, 4, 0}},
		{name: "Build metadata", input: "1.0.0+abcdef", expected: [3]int{1, 0, 0}},
		{name: "Short", input: "v3.1", expected: [3]int{3, 1, 0}},
		{name: "Garbage", input: "dev", expected: [3]int{0, 0, 0}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, parse(tc.input))
		})
	}
}

func TestNewer(t *testing.T) {
	assert.True(t, newer([3]int{1, 0, 1}, [3]int{1, 0, 0}))
	assert.True(t, newer([3]int{2, 0, 0}, [3]int{1, 9, 9}))
	assert.False(t, newer([3]int{1, 0, 0}, [3]int{1, 0, 0}))
	assert.False(t, newer([3]int{1, 0, 0}, [3]int{1, 0, 1}))
}
