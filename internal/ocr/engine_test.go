package ocr

import (
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	opts := DefaultOptions()
	opts.DataPath = "/usr/share/tessdata"
	opts.Variables = map[string]string{"tessedit_char_whitelist": "ABC", "load_system_dawg": "0"}

	assert.Equal(t, []string{
		"stdin", "stdout", "-l", "eng", "--psm", "4",
		"--tessdata-dir", "/usr/share/tessdata",
		"-c", "load_system_dawg=0",
		"-c", "tessedit_char_whitelist=ABC",
	}, Args(opts))
}

func TestOptions_Validate(t *testing.T) {
	assert.NoError(t, DefaultOptions().Validate())

	bad := DefaultOptions()
	bad.Language = " "
	assert.Error(t, bad.Validate())

	bad = DefaultOptions()
	bad.PageSegMode = 42
	assert.Error(t, bad.Validate())
}

func TestNewFactory(t *testing.T) {
	f, err := NewFactory("")
	require.NoError(t, err)
	e, err := f()
	require.NoError(t, err)
	assert.IsType(t, &ExecEngine{}, e)

	_, err = NewFactory("paddle")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestExecEngine_MissingBinary(t *testing.T) {
	opts := DefaultOptions()
	opts.BinaryPath = "definitely-not-tesseract-binary"
	assert.Error(t, NewExecEngine().Configure(opts))
	assert.Error(t, Available(BackendExec, opts))
}

func TestExecEngine_ConfiguresWhenInstalled(t *testing.T) {
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed")
	}
	assert.NoError(t, Available(BackendExec, DefaultOptions()))
}
