package log

import "testing"

func TestEnumStrings(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{DirectionIn.String(), "IN"},
		{DirectionOut.String(), "OUT"},
		{Direction(9).String(), "UNKNOWN"},

		{LayerTransport.String(), "TRANSPORT"},
		{LayerWire.String(), "WIRE"},
		{LayerGateway.String(), "GATEWAY"},
		{Layer(9).String(), "UNKNOWN"},

		{CategoryMessage.String(), "MESSAGE"},
		{CategoryState.String(), "STATE"},
		{CategoryError.String(), "ERROR"},
		{CategoryLiveness.String(), "LIVENESS"},
		{Category(9).String(), "UNKNOWN"},

		{StateEntityConnection.String(), "CONNECTION"},
		{StateEntityBatch.String(), "BATCH"},
		{StateEntity(9).String(), "UNKNOWN"},
	}

	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}

// The numeric values are part of the capture format.
func TestEnumWireValues(t *testing.T) {
	values := map[string][2]uint8{
		"DirectionOut":     {uint8(DirectionOut), 1},
		"LayerGateway":     {uint8(LayerGateway), 2},
		"CategoryLiveness": {uint8(CategoryLiveness), 3},
		"StateEntityBatch": {uint8(StateEntityBatch), 1},
	}
	for name, v := range values {
		if v[0] != v[1] {
			t.Errorf("%s = %d, want %d", name, v[0], v[1])
		}
	}
}
