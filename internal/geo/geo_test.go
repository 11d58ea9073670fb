package geo

import (
	"testing"

	"github.com/chronoportal/server/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoordinates(t *testing.T) {
	tests := []struct {
		in      string
		want    core.Coordinates
		wantErr bool
	}{
		{"1,2", core.Coordinates{X: 1, Y: 2}, false},
		{" -3.5 , 0.25 ", core.Coordinates{X: -3.5, Y: 0.25}, false},
		{"1", core.Coordinates{}, true},
		{"1,2,3", core.Coordinates{}, true},
		{"a,2", core.Coordinates{}, true},
		{"1,b", core.Coordinates{}, true},
		{"NaN,1", core.Coordinates{}, true},
		{"1,Inf", core.Coordinates{}, true},
		{"+Inf,2", core.Coordinates{}, true},
		{"-inf,-inf", core.Coordinates{}, true},
		{"1e400,0", core.Coordinates{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCoordinates(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCoordinates)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPoint(t *testing.T) {
	p := Point(core.Coordinates{X: 4, Y: -2})
	xy, ok := p.XY()
	require.True(t, ok)
	assert.Equal(t, 4.0, xy.X)
	assert.Equal(t, -2.0, xy.Y)
}

func TestTrajectory(t *testing.T) {
	ls := Trajectory([]core.Coordinates{{X: 0, Y: 0}, {X: 3, Y: 4}, {X: 3, Y: 10}})
	assert.False(t, ls.IsEmpty())
	assert.Equal(t, 3, ls.Coordinates().Length())
	assert.InDelta(t, 11.0, ls.Length(), 1e-9)
}

func TestTrajectory_TooShort(t *testing.T) {
	assert.True(t, Trajectory(nil).IsEmpty())
	assert.True(t, Trajectory([]core.Coordinates{{X: 1, Y: 1}}).IsEmpty())
}
