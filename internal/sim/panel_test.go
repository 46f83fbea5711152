package sim

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/espresso-controller/internal/logic"
)

var _ logic.Panel = (*Panel)(nil)

func TestPanelCommands(t *testing.T) {
	tests := []struct {
		cmd  string
		want logic.Buttons
	}{
		{"power", logic.Buttons{Power: true}},
		{"pump on", logic.Buttons{Pump: true}},
		{"STEAM ON", logic.Buttons{Steam: true}},
		{"  ", logic.Buttons{}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.cmd, func(t *testing.T) {
			var p Panel
			require.NoError(t, p.Apply(tt.cmd))
			assert.Equal(t, tt.want, p.Buttons())
		})
	}
}

func TestPanelRejectsBadCommands(t *testing.T) {
	var p Panel
	for _, cmd := range []string{"grind", "pump", "steam maybe", "power now"} {
		assert.Error(t, p.Apply(cmd), cmd)
	}
	assert.Equal(t, logic.Buttons{}, p.Buttons())
}

func TestPanelPowerLatch(t *testing.T) {
	var p Panel
	require.NoError(t, p.Apply("power"))
	require.NoError(t, p.Apply("pump on"))
	p.ClearPowerLatch()
	assert.Equal(t, logic.Buttons{Pump: true}, p.Buttons())
}

func TestPanelReadCommands(t *testing.T) {
	var p Panel
	var bad []error
	input := "power\npump on\nbogus\npump off\nsteam on\n"

	require.NoError(t, p.ReadCommands(strings.NewReader(input), func(err error) {
		bad = append(bad, err)
	}))

	assert.Equal(t, logic.Buttons{Power: true, Steam: true}, p.Buttons())
	require.Len(t, bad, 1)
	assert.Contains(t, bad[0].Error(), "bogus")
}

func TestPanelLights(t *testing.T) {
	var p Panel
	p.SetPowerLight(true)
	p.SetSteamLight(true)
	power, pump, steam := p.Lights()
	assert.True(t, power)
	assert.False(t, pump)
	assert.True(t, steam)
}
