package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type missingSignalTarget struct {
	Data interface{} `native:"custom_data"`
}

func (m *missingSignalTarget) SetMessage(message string) {}

type missingFieldTarget struct{}

func (m *missingFieldTarget) SetMessage(message string) {}
func (m *missingFieldTarget) OnGStreamerInitialized()   {}

type typedFieldTarget struct {
	Data int64 `native:"custom_data"`
}

func (m *typedFieldTarget) SetMessage(message string) {}
func (m *typedFieldTarget) OnGStreamerInitialized()   {}

type wrongSignatureTarget struct {
	Data interface{} `native:"custom_data"`
}

func (m *wrongSignatureTarget) SetMessage(code int)      {}
func (m *wrongSignatureTarget) OnGStreamerInitialized() {}

func TestResolveClass(t *testing.T) {
	class, err := ResolveClass(&mockTarget{})
	require.NoError(t, err)
	assert.Equal(t, "*bridge.mockTarget", class.Type.String())

	tests := []struct {
		name   string
		target interface{}
	}{
		{"nil", nil},
		{"not a pointer", missingFieldTarget{}},
		{"missing signal", &missingSignalTarget{}},
		{"missing field", &missingFieldTarget{}},
		{"typed field", &typedFieldTarget{}},
		{"wrong signature", &wrongSignatureTarget{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, err := ResolveClass(tt.target)
			assert.Error(t, err)
			assert.Nil(t, class)
		})
	}
}

func TestClass_Data(t *testing.T) {
	class, err := ResolveClass(&mockTarget{})
	require.NoError(t, err)

	target := &mockTarget{}
	data, err := class.Data(target)
	require.NoError(t, err)
	assert.Nil(t, data)

	state := &struct{ name string }{"component"}
	require.NoError(t, class.SetData(target, state))
	assert.Same(t, state, target.Data)

	data, err = class.Data(target)
	require.NoError(t, err)
	assert.Same(t, state, data)

	require.NoError(t, class.SetData(target, nil))
	assert.Nil(t, target.Data)

	_, err = class.Data(&missingSignalTarget{})
	assert.Error(t, err, "targets of another class are rejected")
	_, err = class.Data(nil)
	assert.Error(t, err)
}
