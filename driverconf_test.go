package raspa

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeParams lays out a fake module parameter directory.
func writeParams(t *testing.T, params map[string]string) *driverConfig {
	t.Helper()

	dir := t.TempDir()
	for name, val := range params {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(val), 0o644))
	}

	return &driverConfig{base: dir}
}

func defaultParams() map[string]string {
	return map[string]string{
		"audio_sampling_rate":   "48000",
		"audio_input_channels":  "2",
		"audio_output_channels": "8",
		"audio_buffer_size":     "64",
		"audio_format":          "1",
		"platform_type":         "2",
		"audio_ver_maj":         "0",
		"audio_ver_min":         "2",
	}
}

func TestDriverConfigReadsParams(t *testing.T) {
	conf := writeParams(t, defaultParams())

	rate, err := conf.sampleRate()
	require.NoError(t, err)
	assert.Equal(t, 48000, rate)

	in, err := conf.numInputChans()
	require.NoError(t, err)
	assert.Equal(t, 2, in)

	out, err := conf.numOutputChans()
	require.NoError(t, err)
	assert.Equal(t, 8, out)

	size, err := conf.bufferSize()
	require.NoError(t, err)
	assert.Equal(t, 64, size)

	format, err := conf.codecFormat()
	require.NoError(t, err)
	assert.Equal(t, codecInt24Lj, format)

	platform, err := conf.platformType()
	require.NoError(t, err)
	assert.Equal(t, platformSync, platform)
}

// Sysfs values come with a trailing newline.
func TestDriverConfigTrimsWhitespace(t *testing.T) {
	conf := writeParams(t, map[string]string{"audio_buffer_size": "128\n"})

	size, err := conf.bufferSize()
	require.NoError(t, err)
	assert.Equal(t, 128, size)
}

func TestDriverConfigMissingParam(t *testing.T) {
	conf := writeParams(t, map[string]string{})

	_, err := conf.sampleRate()
	assert.Error(t, err)
}

func TestDriverConfigGarbageParam(t *testing.T) {
	conf := writeParams(t, map[string]string{"audio_sampling_rate": "forty-eight"})

	_, err := conf.sampleRate()
	assert.Error(t, err)
}

func TestDriverConfigVersionCheck(t *testing.T) {
	ok := map[string]string{"audio_ver_maj": "0", "audio_ver_min": "2"}
	newer := map[string]string{"audio_ver_maj": "0", "audio_ver_min": "5"}
	wrongMaj := map[string]string{"audio_ver_maj": "1", "audio_ver_min": "2"}
	tooOld := map[string]string{"audio_ver_maj": "0", "audio_ver_min": "1"}

	assert.NoError(t, writeParams(t, ok).checkVersion())
	assert.NoError(t, writeParams(t, newer).checkVersion())

	for name, params := range map[string]map[string]string{
		"major mismatch": wrongMaj,
		"minor too old":  tooOld,
	} {
		err := writeParams(t, params).checkVersion()
		require.Error(t, err, name)

		var rerr *Error
		require.ErrorAs(t, err, &rerr, name)
		assert.Equal(t, EVersion, rerr.Code, name)
	}
}
